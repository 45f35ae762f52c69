package scheduler

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/watzon/targethook/internal/metrics"
	"github.com/watzon/targethook/internal/targeting"
)

// RefreshStats publishes table counts and connection pool usage to the
// metrics gauges.
func RefreshStats(store *targeting.Store) JobFunc {
	return func(ctx context.Context) error {
		st, err := store.Stats(ctx)
		if err != nil {
			return err
		}
		metrics.UpdateStoreStats(st.Hooks, st.UnlimitedHooks, st.Targets, st.Modes)

		pool := store.DB().Stats()
		metrics.UpdateDBStats(pool.OpenConnections, pool.InUse)
		return nil
	}
}

// PruneModes clears capture-mode markers left behind by deleted hooks.
func PruneModes(store *targeting.Store) JobFunc {
	return func(ctx context.Context) error {
		n, err := store.PruneModes(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			log.Info().Int64("removed", n).Msg("Pruned orphaned capture modes")
		}
		return nil
	}
}
