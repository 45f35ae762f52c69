package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watzon/targethook/internal/database/migrations"
	"github.com/watzon/targethook/internal/snapshot"
)

var (
	dbDumpOwner string
	dbDumpSlot  string
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database utilities",
	Long: `Database utilities for targethook.

Examples:
  targethook db migrate              Apply pending schema migrations
  targethook db status               Show applied migrations and row counts
  targethook db dump hooks.yaml.zst  Export hooks and targets
  targethook db dump s3://backups/targeting/hooks.json.zst
  targethook db load hooks.json      Import a previous dump`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Args:  cobra.NoArgs,
	RunE:  runDBMigrate,
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status and table counts",
	Args:  cobra.NoArgs,
	RunE:  runDBStatus,
}

var dbDumpCmd = &cobra.Command{
	Use:   "dump <file|s3-url>",
	Short: "Dump hooks and targets to file",
	Long: `Export hooks and captured targets to a JSON or YAML file.

The format follows the file extension (.json, .yaml, .yml). Append .zst to
compress the output with zstd. An s3://bucket/key destination uploads the
dump using the backup.s3 settings.`,
	Args: cobra.ExactArgs(1),
	RunE: runDBDump,
}

var dbLoadCmd = &cobra.Command{
	Use:   "load <file|s3-url>",
	Short: "Load hooks and targets from a dump",
	Long: `Import a file written by "db dump".

Hooks are upserted by (owner, slot). Targets are appended, so loading the
same dump twice duplicates them.`,
	Args: cobra.ExactArgs(1),
	RunE: runDBLoad,
}

func init() {
	dbDumpCmd.Flags().StringVar(&dbDumpOwner, "owner", "", "only dump this owner (UUID)")
	dbDumpCmd.Flags().StringVar(&dbDumpSlot, "slot", "", "only dump slots matching this glob")

	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbDumpCmd)
	dbCmd.AddCommand(dbLoadCmd)

	rootCmd.AddCommand(dbCmd)
}

func runDBMigrate(cmd *cobra.Command, args []string) error {
	// Open applies pending migrations.
	_, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := migrations.GetApplied(cmd.Context(), db.DB)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Database %s is up to date (%d migrations).\n", db.Path(), len(applied))
	return nil
}

func runDBStatus(cmd *cobra.Command, args []string) error {
	store, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := migrations.GetApplied(cmd.Context(), db.DB)
	if err != nil {
		return err
	}
	pending, err := migrations.Pending(cmd.Context(), db.DB)
	if err != nil {
		return err
	}
	stats, err := store.Stats(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Database: %s\n\n", db.Path())
	fmt.Fprintf(out, "Migrations: %d applied, %d pending\n", len(applied), len(pending))
	for _, m := range applied {
		fmt.Fprintf(out, "  %-32s %s\n", m.ID, m.AppliedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Hooks:   %d (%d unlimited)\n", stats.Hooks, stats.UnlimitedHooks)
	fmt.Fprintf(out, "Targets: %d\n", stats.Targets)
	fmt.Fprintf(out, "Modes:   %d\n", stats.Modes)
	fmt.Fprintf(out, "Owners:  %d\n", stats.Owners)

	return nil
}

func runDBDump(cmd *cobra.Command, args []string) error {
	path := args[0]
	if snapshot.IsRemote(path) {
		if _, err := snapshot.ParseLocation(path); err != nil {
			return err
		}
	} else if _, _, err := snapshot.FormatFromPath(path); err != nil {
		return err
	}

	owner, err := parseOwnerFlag(dbDumpOwner)
	if err != nil {
		return err
	}

	store, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	snap, err := snapshot.Capture(cmd.Context(), store, snapshot.Filter{
		Owner:       owner,
		SlotPattern: dbDumpSlot,
	})
	if err != nil {
		return err
	}

	if err := writeSnapshot(cmd.Context(), path, snap); err != nil {
		return fmt.Errorf("writing dump: %w", err)
	}

	log.Info().
		Str("file", path).
		Int("hooks", len(snap.Hooks)).
		Int("targets", len(snap.Targets)).
		Msg("Database dumped")

	fmt.Fprintf(cmd.OutOrStdout(), "Dumped %d hooks and %d targets to %s\n", len(snap.Hooks), len(snap.Targets), path)
	return nil
}

func runDBLoad(cmd *cobra.Command, args []string) error {
	snap, err := readSnapshot(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	store, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := snapshot.Restore(cmd.Context(), store, snap)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d hooks and %d targets from %s\n", res.Hooks, res.Targets, args[0])
	return nil
}

func writeSnapshot(ctx context.Context, path string, snap *snapshot.Snapshot) error {
	if !snapshot.IsRemote(path) {
		return snapshot.WriteFile(path, snap)
	}

	loc, err := snapshot.ParseLocation(path)
	if err != nil {
		return err
	}
	remote, err := snapshot.NewS3Store(ctx, appConfig.Backup.S3)
	if err != nil {
		return err
	}
	return remote.Put(ctx, loc, snap)
}

func readSnapshot(ctx context.Context, path string) (*snapshot.Snapshot, error) {
	if !snapshot.IsRemote(path) {
		return snapshot.ReadFile(path)
	}

	loc, err := snapshot.ParseLocation(path)
	if err != nil {
		return nil, err
	}
	remote, err := snapshot.NewS3Store(ctx, appConfig.Backup.S3)
	if err != nil {
		return nil, err
	}
	return remote.Get(ctx, loc)
}
