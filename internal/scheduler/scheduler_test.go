package scheduler

import (
	"context"
	"testing"

	"github.com/flexprice/billsync/internal/config"
	ierr "github.com/flexprice/billsync/internal/errors"
	"github.com/flexprice/billsync/internal/logger"
	"github.com/flexprice/billsync/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSyncService struct {
	batches int
	err     error
}

func (f *fakeSyncService) SyncDeal(ctx context.Context, dealID string, opts service.SyncOptions) (*service.DealSyncResult, error) {
	return nil, nil
}

func (f *fakeSyncService) SyncAll(ctx context.Context, opts service.SyncOptions) (*service.BatchSummary, error) {
	f.batches++
	if f.err != nil {
		return nil, f.err
	}
	return &service.BatchSummary{RunID: "RUN", Deals: 3}, nil
}

type fakeLocker struct {
	held     bool
	released int
}

func (l *fakeLocker) TryLock() (string, bool, error) {
	if l.held {
		return "", false, nil
	}
	return "token", true, nil
}

func (l *fakeLocker) Release(token string) error {
	l.released++
	return nil
}

func newScheduler(t *testing.T, syncSvc *fakeSyncService, locker *fakeLocker) *Scheduler {
	s, err := New(config.GetDefaultConfig(), syncSvc, locker, logger.NewNopLogger())
	require.NoError(t, err)
	return s
}

func TestRunOnce(t *testing.T) {
	syncSvc := &fakeSyncService{}
	locker := &fakeLocker{}
	s := newScheduler(t, syncSvc, locker)

	summary, ran, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 3, summary.Deals)
	assert.Equal(t, 1, syncSvc.batches)
	assert.Equal(t, 1, locker.released)
}

func TestRunOnce_LockHeld(t *testing.T) {
	syncSvc := &fakeSyncService{}
	locker := &fakeLocker{held: true}
	s := newScheduler(t, syncSvc, locker)

	summary, ran, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Nil(t, summary)
	assert.Equal(t, 0, syncSvc.batches)
	assert.Equal(t, 0, locker.released)
}

func TestRunOnce_ReleasesOnError(t *testing.T) {
	syncSvc := &fakeSyncService{err: ierr.NewError("search failed").Mark(ierr.ErrHTTPClient)}
	locker := &fakeLocker{}
	s := newScheduler(t, syncSvc, locker)

	_, ran, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, locker.released)
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name     string
		cron     string
		timezone string
	}{
		{name: "bad cron", cron: "every six hours", timezone: "UTC"},
		{name: "bad timezone", cron: "0 */6 * * *", timezone: "Mars/Olympus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.GetDefaultConfig()
			cfg.Scheduler.Cron = tt.cron
			cfg.Scheduler.Timezone = tt.timezone

			_, err := New(cfg, &fakeSyncService{}, &fakeLocker{}, logger.NewNopLogger())
			require.Error(t, err)
			assert.True(t, ierr.IsValidation(err))
		})
	}
}

func TestStartStop(t *testing.T) {
	s := newScheduler(t, &fakeSyncService{}, &fakeLocker{})
	s.Start()
	require.NoError(t, s.Stop(context.Background()))
}
