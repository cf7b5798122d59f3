// Package lock keeps two batch runs from overlapping. The lock is a file holding
// the owner token and an expiry; a lock past its expiry belongs to a crashed
// holder and is taken over.
package lock

import (
	"os"
	"path/filepath"
	"time"

	"github.com/flexprice/billsync/internal/config"
	ierr "github.com/flexprice/billsync/internal/errors"
	"github.com/flexprice/billsync/internal/logger"
	"github.com/flexprice/billsync/internal/types"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultTTL = 2 * time.Hour

type lockFile struct {
	Token      string    `json:"token"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// FileLocker acquires and releases the run lock
type FileLocker struct {
	path   string
	ttl    time.Duration
	now    func() time.Time
	logger *logger.Logger
}

func NewFileLocker(cfg *config.Configuration, logger *logger.Logger) *FileLocker {
	ttl := cfg.Lock.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	path := cfg.Lock.Path
	if path == "" {
		path = filepath.Join(os.TempDir(), "billsync.lock")
	}
	return &FileLocker{
		path:   path,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

// TryLock returns the owner token and true when the lock was acquired. A held,
// unexpired lock returns false without error.
func (l *FileLocker) TryLock() (string, bool, error) {
	token := types.GenerateUUID()

	ok, err := l.create(token)
	if err != nil {
		return "", false, err
	}
	if ok {
		return token, true, nil
	}

	current, err := l.read()
	if err != nil && !os.IsNotExist(err) {
		// unreadable content: fall back to the file age
		info, statErr := os.Stat(l.path)
		if statErr != nil {
			return "", false, ierr.WithError(statErr).
				WithHintf("could not inspect lock file %s", l.path).
				Mark(ierr.ErrSystem)
		}
		current = &lockFile{ExpiresAt: info.ModTime().Add(l.ttl)}
	}
	if current != nil && l.now().Before(current.ExpiresAt) {
		l.logger.Infow("run lock is held",
			"path", l.path,
			"pid", current.PID,
			"expires_at", current.ExpiresAt)
		return "", false, nil
	}

	if current != nil {
		l.logger.Warnw("taking over stale run lock",
			"path", l.path,
			"pid", current.PID,
			"expired_at", current.ExpiresAt)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return "", false, ierr.WithError(err).
			WithHintf("could not remove stale lock file %s", l.path).
			Mark(ierr.ErrSystem)
	}

	// another process may win the race between remove and create
	ok, err = l.create(token)
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// Release removes the lock when it is still owned by token
func (l *FileLocker) Release(token string) error {
	if token == "" {
		return nil
	}
	current, err := l.read()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return ierr.WithError(err).
			WithHintf("could not read lock file %s", l.path).
			Mark(ierr.ErrSystem)
	}
	if current.Token != token {
		l.logger.Warnw("run lock was taken over, not releasing", "path", l.path)
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return ierr.WithError(err).
			WithHintf("could not remove lock file %s", l.path).
			Mark(ierr.ErrSystem)
	}
	return nil
}

func (l *FileLocker) create(token string) (bool, error) {
	if dir := filepath.Dir(l.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, ierr.WithError(err).
				WithHintf("could not create lock directory %s", dir).
				Mark(ierr.ErrSystem)
		}
	}

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, ierr.WithError(err).
			WithHintf("could not create lock file %s", l.path).
			Mark(ierr.ErrSystem)
	}
	defer f.Close()

	now := l.now()
	data, err := json.Marshal(lockFile{
		Token:      token,
		PID:        os.Getpid(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(l.ttl),
	})
	if err != nil {
		return false, ierr.WithError(err).Mark(ierr.ErrSystem)
	}
	if _, err := f.Write(data); err != nil {
		_ = os.Remove(l.path)
		return false, ierr.WithError(err).
			WithHintf("could not write lock file %s", l.path).
			Mark(ierr.ErrSystem)
	}
	return true, nil
}

func (l *FileLocker) read() (*lockFile, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	var lf lockFile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, err
	}
	return &lf, nil
}
