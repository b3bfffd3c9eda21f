package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/billing_server/config"
)

type fakeJobs struct {
	sweeps    atomic.Int32
	rescans   atomic.Int32
	stale     atomic.Int32
	olderThan atomic.Int64
	err       error
}

func (f *fakeJobs) SweepExpired(ctx context.Context) (int64, error) {
	f.sweeps.Add(1)
	return 2, f.err
}

func (f *fakeJobs) RescanDue(ctx context.Context, limit int) (int, error) {
	f.rescans.Add(1)
	return 1, f.err
}

func (f *fakeJobs) ExpireStalePending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	f.stale.Add(1)
	f.olderThan.Store(int64(olderThan))
	return 0, f.err
}

func billingConfig() config.BillingConfig {
	return config.BillingConfig{
		ExpirySweepCron:     "*/10 * * * *",
		ReconcileRescanCron: "* * * * *",
		StalePendingCron:    "*/15 * * * *",
		StalePendingMinutes: 30,
	}
}

func TestNewService(t *testing.T) {
	jobs := &fakeJobs{}
	svc, err := NewService(jobs, jobs, jobs, billingConfig())
	require.NoError(t, err)
	assert.Equal(t, 3, svc.Entries())
}

func TestNewService_SkipsEmptySpec(t *testing.T) {
	cfg := billingConfig()
	cfg.StalePendingCron = ""

	svc, err := NewService(&fakeJobs{}, &fakeJobs{}, &fakeJobs{}, cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, svc.Entries())
}

func TestNewService_InvalidSpec(t *testing.T) {
	cfg := billingConfig()
	cfg.ReconcileRescanCron = "every minute please"

	_, err := NewService(&fakeJobs{}, &fakeJobs{}, &fakeJobs{}, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reconcile_rescan")
}

func TestService_RunNow(t *testing.T) {
	jobs := &fakeJobs{}
	svc, err := NewService(jobs, jobs, jobs, billingConfig())
	require.NoError(t, err)

	svc.RunNow(context.Background())

	assert.Equal(t, int32(1), jobs.sweeps.Load())
	assert.Equal(t, int32(1), jobs.rescans.Load())
	assert.Equal(t, int32(1), jobs.stale.Load())
	assert.Equal(t, int64(30*time.Minute), jobs.olderThan.Load())
}

func TestService_RunNow_ErrorsAreLogged(t *testing.T) {
	jobs := &fakeJobs{err: errors.New("db down")}
	svc, err := NewService(jobs, jobs, jobs, billingConfig())
	require.NoError(t, err)

	assert.NotPanics(t, func() { svc.RunNow(context.Background()) })
	assert.Equal(t, int32(1), jobs.stale.Load())
}

func TestService_NilJobs(t *testing.T) {
	svc, err := NewService(nil, nil, nil, billingConfig())
	require.NoError(t, err)

	assert.NotPanics(t, func() { svc.RunNow(context.Background()) })
}

func TestService_Schedules(t *testing.T) {
	cfg := billingConfig()
	cfg.ExpirySweepCron = "@every 1s"

	jobs := &fakeJobs{}
	svc, err := NewService(jobs, jobs, jobs, cfg)
	require.NoError(t, err)

	svc.Start()
	defer svc.Stop()

	assert.Eventually(t, func() bool {
		return jobs.sweeps.Load() > 0
	}, 3*time.Second, 50*time.Millisecond)
}
