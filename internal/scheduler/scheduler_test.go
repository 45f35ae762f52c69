package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watzon/targethook/internal/config"
	"github.com/watzon/targethook/internal/database"
	"github.com/watzon/targethook/internal/targeting"
)

func testStore(t *testing.T) *targeting.Store {
	t.Helper()

	db, err := database.Open(&config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "scheduler.db"),
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return targeting.NewStore(db)
}

func TestAddRejectsBadExpression(t *testing.T) {
	s := NewScheduler()
	err := s.Add("broken", "not a cron", func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestAddAfterStart(t *testing.T) {
	s := NewScheduler()
	s.Start(context.Background())
	defer s.Stop()

	err := s.Add("late", "@hourly", func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestStartRunsJobsImmediately(t *testing.T) {
	s := NewScheduler()

	ran := make(chan struct{}, 1)
	require.NoError(t, s.Add("ping", "@hourly", func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}))

	s.Start(context.Background())

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run on start")
	}

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestStartStopsWithContext(t *testing.T) {
	s := NewScheduler()
	var runs atomic.Int32
	require.NoError(t, s.Add("count", "@every 1h", func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("jobs did not stop after context cancel")
	}
	assert.LessOrEqual(t, runs.Load(), int32(1))
	s.Stop()
}

func TestRunAllReturnsFirstError(t *testing.T) {
	s := NewScheduler()
	boom := errors.New("boom")

	var second bool
	require.NoError(t, s.Add("fails", "@hourly", func(context.Context) error { return boom }))
	require.NoError(t, s.Add("ok", "@hourly", func(context.Context) error {
		second = true
		return nil
	}))

	err := s.RunAll(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.True(t, second, "later jobs still run")
}

func TestMaintenanceJobs(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	owner := targeting.NewOwnerID()

	id, err := store.UpsertHook(ctx, &targeting.Hook{Owner: owner, Slot: "s", Filter: targeting.ObjectAll, Uses: 1})
	require.NoError(t, err)
	require.NoError(t, store.SetMode(ctx, owner, id, targeting.BehaviorAppend))
	_, err = store.DeleteHook(ctx, id)
	require.NoError(t, err)

	s := NewScheduler()
	require.NoError(t, s.Add("refresh_stats", "@every 30s", RefreshStats(store)))
	require.NoError(t, s.Add("prune_modes", "@hourly", PruneModes(store)))
	require.NoError(t, s.RunAll(ctx))

	mode, err := store.GetMode(ctx, owner)
	require.NoError(t, err)
	assert.Nil(t, mode)
}
