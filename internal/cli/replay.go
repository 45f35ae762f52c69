package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watzon/targethook/internal/config"
	"github.com/watzon/targethook/internal/database"
	"github.com/watzon/targethook/internal/replay"
	"github.com/watzon/targethook/internal/simhost"
	"github.com/watzon/targethook/internal/targeting"
)

var (
	replayUseConfigDB bool
	replayWatch       bool
	replayFormat      string
)

var errReplayFailed = errors.New("replay expectations failed")

var replayCmd = &cobra.Command{
	Use:   "replay <script>...",
	Short: "Run scripted targeting sessions",
	Long: `Run replay scripts against the targeting engine with simulated players.

Each script runs against its own scratch database unless --use-db is given,
in which case every script runs against the configured database in order.

Example script:
  name: two uses
  steps:
    - connect: {account: alice, region: crypt}
    - place: {entity: ghoul-1, region: crypt}
    - add_hook: {account: alice, slot: loot, filter: creature, uses: 2}
    - enter: {account: alice, slot: loot}
    - select: {account: alice, entity: ghoul-1}
    - expect: {account: alice, slot: loot, count: 1, uses: 1}

Use --watch to re-run a script whenever it is saved.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().BoolVar(&replayUseConfigDB, "use-db", false, "run against the configured database instead of a scratch one")
	replayCmd.Flags().BoolVarP(&replayWatch, "watch", "w", false, "re-run scripts when they change")
	replayCmd.Flags().StringVarP(&replayFormat, "format", "f", formatTable, "report format (table, json, yaml)")

	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	ecfg, err := engineConfig(&appConfig.Targeting)
	if err != nil {
		return err
	}

	var shared *targeting.Store
	if replayUseConfigDB {
		store, db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()
		shared = store
	}

	runOne := func(ctx context.Context, path string) error {
		return replayFile(ctx, cmd.OutOrStdout(), path, shared, ecfg)
	}

	var failed bool
	for _, path := range args {
		if err := runOne(cmd.Context(), path); err != nil {
			if !replayWatch {
				failed = true
			}
			log.Error().Err(err).Str("script", path).Msg("Replay failed")
		}
	}

	if !replayWatch {
		if failed {
			return errReplayFailed
		}
		return nil
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	watcher, err := newScriptWatcher(args, func(path string) {
		if err := runOne(ctx, path); err != nil {
			log.Error().Err(err).Str("script", path).Msg("Replay failed")
		}
	})
	if err != nil {
		return fmt.Errorf("watching scripts: %w", err)
	}
	watcher.Start(ctx)
	defer func() { _ = watcher.Stop() }()

	log.Info().Int("scripts", len(args)).Msg("Watching replay scripts, press Ctrl+C to stop")
	<-ctx.Done()
	return nil
}

// replayFile runs one script. A nil store gets a scratch database that is
// removed afterwards.
func replayFile(ctx context.Context, out io.Writer, path string, store *targeting.Store, ecfg *targeting.EngineConfig) error {
	sc, err := replay.LoadFile(path)
	if err != nil {
		return err
	}

	if store == nil {
		dir, err := os.MkdirTemp("", "targethook-replay-*")
		if err != nil {
			return fmt.Errorf("creating scratch directory: %w", err)
		}
		defer os.RemoveAll(dir)

		cfg := config.Default().Database
		cfg.Path = filepath.Join(dir, "replay.db")
		db, err := database.Open(&cfg)
		if err != nil {
			return fmt.Errorf("opening scratch database: %w", err)
		}
		defer db.Close()

		store = targeting.NewStore(db)
	}

	runner := replay.NewRunner(store, simhost.New(), ecfg)
	report, err := runner.Run(ctx, sc)
	if err != nil {
		return err
	}

	if err := printReport(out, report); err != nil {
		return err
	}
	if !report.OK() {
		return errReplayFailed
	}
	return nil
}

func printReport(w io.Writer, report *replay.Report) error {
	return render(w, replayFormat, report, func(w io.Writer) error {
		status := "PASS"
		if !report.OK() {
			status = "FAIL"
		}
		fmt.Fprintf(w, "%s\t%s\t%d steps\t%d checks\t%s\n",
			status, report.Name, report.Steps, report.Checks, report.Duration.Round(time.Microsecond))
		for _, f := range report.Failures {
			fmt.Fprintf(w, "  step %d\t%s\t%s\n", f.Step, f.Op, f.Message)
		}
		return nil
	})
}
