package lock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flexprice/billsync/internal/config"
	"github.com/flexprice/billsync/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T, ttl time.Duration) *FileLocker {
	cfg := config.GetDefaultConfig()
	cfg.Lock.Path = filepath.Join(t.TempDir(), "run", "billsync.lock")
	cfg.Lock.TTL = ttl
	return NewFileLocker(cfg, logger.NewNopLogger())
}

func TestTryLock_Exclusive(t *testing.T) {
	l := newTestLocker(t, time.Hour)

	token, ok, err := l.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, err = l.TryLock()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Release(token))
	_, err = os.Stat(l.path)
	assert.True(t, os.IsNotExist(err))

	_, ok, err = l.TryLock()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTryLock_TakesOverExpiredLock(t *testing.T) {
	l := newTestLocker(t, time.Minute)
	stale, ok, err := l.TryLock()
	require.NoError(t, err)
	require.True(t, ok)

	l.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	token, ok, err := l.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, stale, token)

	// the crashed holder coming back must not release the new owner's lock
	require.NoError(t, l.Release(stale))
	_, err = os.Stat(l.path)
	assert.NoError(t, err)

	require.NoError(t, l.Release(token))
}

func TestTryLock_UnreadableLockUsesFileAge(t *testing.T) {
	l := newTestLocker(t, time.Minute)
	require.NoError(t, os.MkdirAll(filepath.Dir(l.path), 0o755))
	require.NoError(t, os.WriteFile(l.path, []byte("garbage"), 0o644))

	_, ok, err := l.TryLock()
	require.NoError(t, err)
	assert.False(t, ok)

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(l.path, old, old))
	_, ok, err = l.TryLock()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRelease_MissingLock(t *testing.T) {
	l := newTestLocker(t, time.Minute)
	assert.NoError(t, l.Release("nothing"))
	assert.NoError(t, l.Release(""))
}
