package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watzon/targethook/internal/config"
	"github.com/watzon/targethook/internal/database"
	"github.com/watzon/targethook/internal/metrics"
	"github.com/watzon/targethook/internal/scheduler"
	"github.com/watzon/targethook/internal/targeting"
)

const pruneSchedule = "@hourly"

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve metrics and run maintenance for a database",
	Long: `Serve Prometheus metrics for a targeting database shared with a game server.

serve will:
  - Expose counters and gauges on metrics.path
  - Refresh table gauges on metrics.refresh_schedule
  - Prune capture-mode markers left by deleted hooks
  - Reload the logging section when the config file changes`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", config.DefaultMetricsPort, "Port to listen on")
	serveCmd.Flags().StringVar(&serveHost, "host", config.DefaultMetricsHost, "Host to bind to")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := appConfig
	if cmd.Flags().Changed("port") {
		cfg.Metrics.Port = servePort
	}
	if cmd.Flags().Changed("host") {
		cfg.Metrics.Host = serveHost
	}

	store, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.NewScheduler()
	if err := sched.Add("refresh_stats", cfg.Metrics.RefreshSchedule, scheduler.RefreshStats(store)); err != nil {
		return err
	}
	if err := sched.Add("prune_modes", pruneSchedule, scheduler.PruneModes(store)); err != nil {
		return err
	}
	sched.Start(ctx)
	defer sched.Stop()

	watchConfig()

	if !cfg.Metrics.Enabled {
		log.Info().Msg("Metrics endpoint disabled, running maintenance only")
		<-ctx.Done()
		return nil
	}

	srv := &http.Server{
		Addr:              cfg.Metrics.Address(),
		Handler:           serveMux(cfg.Metrics.Path, db, store),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("path", cfg.Metrics.Path).
			Str("db", db.Path()).
			Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func serveMux(metricsPath string, db *database.DB, store *targeting.Store) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		if _, err := store.Stats(r.Context()); err != nil {
			http.Error(w, "database unreadable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return withMiddleware(mux)
}

// watchConfig reapplies the logging section when the config file changes.
// Other sections need a restart.
func watchConfig() {
	if appViper == nil || appViper.ConfigFileUsed() == "" {
		return
	}

	appViper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := config.Decode(appViper)
		if err != nil {
			log.Error().Err(err).Str("file", e.Name).Msg("Ignoring invalid config change")
			return
		}
		setupLogging(&cfg.Logging)
		log.Info().
			Str("file", e.Name).
			Str("level", cfg.Logging.Level).
			Msg("Config reloaded")
	})
	appViper.WatchConfig()
}
