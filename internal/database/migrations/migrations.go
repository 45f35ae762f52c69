// Package migrations owns the targeting schema. Each file under sql/ is one
// schema step named NNN_description.sql; the file name without its extension
// is the step id recorded in the _targethook_versions table once applied.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

//go:embed sql/*.sql
var sqlFS embed.FS

const versionTable = "_targethook_versions"

// AppliedMigration is one row of the version table.
type AppliedMigration struct {
	ID        string
	AppliedAt time.Time
}

type step struct {
	id  string
	sql string
}

// Run brings db up to the embedded schema. Steps already listed in the
// version table are skipped; every other step runs in its own transaction
// together with its version row.
func Run(ctx context.Context, db *sql.DB) error {
	pending, err := pendingSteps(ctx, db)
	if err != nil {
		return err
	}

	for _, s := range pending {
		if err := apply(ctx, db, s); err != nil {
			return fmt.Errorf("applying migration %s: %w", s.id, err)
		}
		log.Info().Str("migration", s.id).Msg("Applied migration")
	}

	return nil
}

// Pending returns the ids of embedded steps db has not applied yet.
func Pending(ctx context.Context, db *sql.DB) ([]string, error) {
	pending, err := pendingSteps(ctx, db)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(pending))
	for i, s := range pending {
		ids[i] = s.id
	}
	return ids, nil
}

// GetApplied lists the version table in step order.
func GetApplied(ctx context.Context, db *sql.DB) ([]AppliedMigration, error) {
	if err := ensureVersionTable(ctx, db); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id, applied_at FROM `+versionTable+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", versionTable, err)
	}
	defer rows.Close()

	var out []AppliedMigration
	for rows.Next() {
		var (
			m         AppliedMigration
			appliedAt string
		)
		if err := rows.Scan(&m.ID, &appliedAt); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", versionTable, err)
		}
		m.AppliedAt, _ = time.Parse(time.RFC3339, appliedAt)
		out = append(out, m)
	}

	return out, rows.Err()
}

// Available returns the ids of every embedded step in apply order.
func Available() ([]string, error) {
	steps, err := embeddedSteps()
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.id
	}
	return ids, nil
}

func ensureVersionTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+versionTable+` (
			id TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating %s: %w", versionTable, err)
	}
	return nil
}

func pendingSteps(ctx context.Context, db *sql.DB) ([]step, error) {
	applied, err := GetApplied(ctx, db)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(applied))
	for _, m := range applied {
		done[m.ID] = true
	}

	steps, err := embeddedSteps()
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(steps, func(s step) bool { return done[s.id] }), nil
}

func embeddedSteps() ([]step, error) {
	names, err := fs.Glob(sqlFS, "sql/*.sql")
	if err != nil {
		return nil, fmt.Errorf("listing embedded schema: %w", err)
	}
	slices.Sort(names)

	steps := make([]step, 0, len(names))
	for _, name := range names {
		content, err := fs.ReadFile(sqlFS, name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		steps = append(steps, step{
			id:  strings.TrimSuffix(path.Base(name), ".sql"),
			sql: string(content),
		})
	}
	return steps, nil
}

func apply(ctx context.Context, db *sql.DB, s step) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range splitStatements(s.sql) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing %q: %w", truncate(stmt, 100), err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO `+versionTable+` (id, applied_at) VALUES (?, ?)`,
		s.id, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("recording version: %w", err)
	}

	return tx.Commit()
}

// splitStatements cuts a schema file on semicolons outside quotes. Whole-line
// "--" comments are dropped; empty statements are skipped.
func splitStatements(content string) []string {
	var (
		statements []string
		current    strings.Builder
		quote      rune
	)

	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for _, line := range strings.Split(content, "\n") {
		if quote == 0 && strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}

		for _, ch := range line {
			switch {
			case quote == 0 && (ch == '\'' || ch == '"'):
				quote = ch
			case ch == quote:
				quote = 0
			case quote == 0 && ch == ';':
				flush()
				continue
			}
			current.WriteRune(ch)
		}
		current.WriteRune('\n')
	}
	flush()

	return statements
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
