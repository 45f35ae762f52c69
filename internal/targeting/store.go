package targeting

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/gobwas/glob"

	"github.com/watzon/targethook/internal/database"
)

// Store handles database operations for hooks, captured targets and capture
// modes. Reads of missing keys return empty results rather than errors.
type Store struct {
	db *database.DB
	q  querier
}

// querier is satisfied by both *database.DB and *database.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewStore creates a new targeting store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db, q: db}
}

// InTx runs fn with a Store bound to one transaction. Everything fn does is
// rolled back if it returns an error.
func (s *Store) InTx(ctx context.Context, fn func(*Store) error) error {
	return s.db.Transaction(ctx, func(tx *database.Tx) error {
		return fn(&Store{db: s.db, q: tx})
	})
}

// DB returns the underlying database.
func (s *Store) DB() *database.DB {
	return s.db
}

type scanner interface {
	Scan(dest ...any) error
}

const hookColumns = `hook_id, owner_ref, slot_name, object_type_filter, uses_remaining, callback, created_at, updated_at`

const targetColumns = `target_id, owner_ref, slot_name, entity_ref, region_ref, pos_x, pos_y, pos_z, created_at`

// UpsertHook creates the hook for (Owner, Slot) or replaces its filter, uses
// and callback. The existing hook_id is kept on update. hook.ID is set to the
// stored id.
func (s *Store) UpsertHook(ctx context.Context, hook *Hook) (int64, error) {
	now := database.Now()

	query := `
		INSERT INTO targeting_hooks (owner_ref, slot_name, object_type_filter, uses_remaining, callback, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_ref, slot_name) DO UPDATE SET
			object_type_filter = excluded.object_type_filter,
			uses_remaining = excluded.uses_remaining,
			callback = excluded.callback,
			updated_at = excluded.updated_at
		RETURNING hook_id
	`

	var id int64
	err := s.q.QueryRowContext(ctx, query,
		string(hook.Owner),
		hook.Slot,
		int(hook.Filter),
		hook.Uses,
		hook.Callback,
		now,
		now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting hook: %w", database.ClassifyError(err))
	}

	hook.ID = id
	return id, nil
}

// GetHook returns the hook with the given id, or nil if none exists.
func (s *Store) GetHook(ctx context.Context, hookID int64) (*Hook, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+hookColumns+` FROM targeting_hooks WHERE hook_id = ?`, hookID)
	return s.hookOrNil(row)
}

// GetHookBySlot returns the hook for (owner, slot), or nil if none exists.
func (s *Store) GetHookBySlot(ctx context.Context, owner OwnerID, slot string) (*Hook, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+hookColumns+` FROM targeting_hooks WHERE owner_ref = ? AND slot_name = ?`,
		string(owner), slot)
	return s.hookOrNil(row)
}

func (s *Store) hookOrNil(row *sql.Row) (*Hook, error) {
	hook, err := scanHook(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting hook: %w", err)
	}
	return hook, nil
}

// SetUses persists a new remaining-use count.
func (s *Store) SetUses(ctx context.Context, hookID int64, uses int) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE targeting_hooks SET uses_remaining = ?, updated_at = ? WHERE hook_id = ?`,
		uses, database.Now(), hookID)
	if err != nil {
		return fmt.Errorf("updating hook uses: %w", database.ClassifyError(err))
	}
	return nil
}

// DeleteHook removes a hook row and reports whether one was removed.
// Captured targets are left in place.
func (s *Store) DeleteHook(ctx context.Context, hookID int64) (bool, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM targeting_hooks WHERE hook_id = ?`, hookID)
	if err != nil {
		return false, fmt.Errorf("deleting hook: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting hook: %w", err)
	}
	return n > 0, nil
}

// HookFilter narrows ListHooks. SlotPattern is a glob ("loot*", "quest.?").
type HookFilter struct {
	Owner       OwnerID
	SlotPattern string
}

// ListHooks returns hooks matching filter ordered by hook_id.
func (s *Store) ListHooks(ctx context.Context, filter HookFilter) ([]*Hook, error) {
	match, err := compileSlotPattern(filter.SlotPattern)
	if err != nil {
		return nil, err
	}

	query, args := database.NewSelect(hookColumns, "targeting_hooks").
		WhereIf(filter.Owner != "", "owner_ref = ?", string(filter.Owner)).
		OrderBy("hook_id").
		Build()

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying hooks: %w", err)
	}
	defer rows.Close()

	var hooks []*Hook
	for rows.Next() {
		hook, err := scanHook(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning hook row: %w", err)
		}
		if match(hook.Slot) {
			hooks = append(hooks, hook)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating hook rows: %w", err)
	}

	return hooks, nil
}

// InsertTarget appends a captured selection. target.ID is set to the new id.
func (s *Store) InsertTarget(ctx context.Context, target *Target) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO targeting_targets (owner_ref, slot_name, entity_ref, region_ref, pos_x, pos_y, pos_z, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(target.Owner),
		target.Slot,
		string(target.Entity),
		string(target.Region),
		target.Position.X,
		target.Position.Y,
		target.Position.Z,
		database.Now(),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting target: %w", database.ClassifyError(err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading target id: %w", err)
	}
	target.ID = id
	return id, nil
}

// CountTargets returns the number of captured selections for (owner, slot).
func (s *Store) CountTargets(ctx context.Context, owner OwnerID, slot string) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM targeting_targets WHERE owner_ref = ? AND slot_name = ?`,
		string(owner), slot).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting targets: %w", err)
	}
	return n, nil
}

// TargetAt returns the selection at the 0-based index in capture order. Out
// of range indexes yield the zero Target (invalid entity, zero position).
func (s *Store) TargetAt(ctx context.Context, owner OwnerID, slot string, index int) (Target, error) {
	if index < 0 {
		return Target{}, nil
	}

	row := s.q.QueryRowContext(ctx, `
		SELECT `+targetColumns+` FROM targeting_targets
		WHERE owner_ref = ? AND slot_name = ?
		ORDER BY target_id
		LIMIT 1 OFFSET ?
	`, string(owner), slot, index)

	t, err := scanTarget(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Target{}, nil
		}
		return Target{}, fmt.Errorf("getting target: %w", err)
	}
	return *t, nil
}

// Targets returns the captured selections for (owner, slot) in capture order.
// Each range over the sequence runs a fresh query.
func (s *Store) Targets(ctx context.Context, owner OwnerID, slot string) iter.Seq2[Target, error] {
	return func(yield func(Target, error) bool) {
		rows, err := s.q.QueryContext(ctx, `
			SELECT `+targetColumns+` FROM targeting_targets
			WHERE owner_ref = ? AND slot_name = ?
			ORDER BY target_id
		`, string(owner), slot)
		if err != nil {
			yield(Target{}, fmt.Errorf("querying targets: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			t, err := scanTarget(rows)
			if err != nil {
				yield(Target{}, fmt.Errorf("scanning target row: %w", err))
				return
			}
			if !yield(*t, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(Target{}, fmt.Errorf("iterating target rows: %w", err))
		}
	}
}

// FindTargetByEntity returns the earliest captured selection of entity in
// (owner, slot), or nil.
func (s *Store) FindTargetByEntity(ctx context.Context, owner OwnerID, slot string, entity EntityRef) (*Target, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+targetColumns+` FROM targeting_targets
		WHERE owner_ref = ? AND slot_name = ? AND entity_ref = ?
		ORDER BY target_id
		LIMIT 1
	`, string(owner), slot, string(entity))

	t, err := scanTarget(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding target: %w", err)
	}
	return t, nil
}

// DeleteTarget removes one captured selection by id.
func (s *Store) DeleteTarget(ctx context.Context, targetID int64) (bool, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM targeting_targets WHERE target_id = ?`, targetID)
	if err != nil {
		return false, fmt.Errorf("deleting target: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting target: %w", err)
	}
	return n > 0, nil
}

// ClearTargets removes every captured selection for (owner, slot) and
// returns how many were removed.
func (s *Store) ClearTargets(ctx context.Context, owner OwnerID, slot string) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM targeting_targets WHERE owner_ref = ? AND slot_name = ?`,
		string(owner), slot)
	if err != nil {
		return 0, fmt.Errorf("clearing targets: %w", err)
	}
	return res.RowsAffected()
}

// TargetFilter narrows ListTargets.
type TargetFilter struct {
	Owner       OwnerID
	SlotPattern string
	Limit       int
}

// ListTargets returns captured selections across slots ordered by target_id.
func (s *Store) ListTargets(ctx context.Context, filter TargetFilter) ([]Target, error) {
	match, err := compileSlotPattern(filter.SlotPattern)
	if err != nil {
		return nil, err
	}

	q := database.NewSelect(targetColumns, "targeting_targets").
		WhereIf(filter.Owner != "", "owner_ref = ?", string(filter.Owner)).
		OrderBy("target_id")
	if filter.SlotPattern == "" {
		// Slot globs are matched in Go, so the limit can only be pushed
		// down when every row is kept.
		q.Limit(filter.Limit)
	}
	query, args := q.Build()

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying targets: %w", err)
	}
	defer rows.Close()

	var targets []Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning target row: %w", err)
		}
		if !match(t.Slot) {
			continue
		}
		targets = append(targets, *t)
		if filter.Limit > 0 && len(targets) >= filter.Limit {
			break
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating target rows: %w", err)
	}

	return targets, nil
}

// SetMode records that owner's next selection feeds hookID with behavior.
func (s *Store) SetMode(ctx context.Context, owner OwnerID, hookID int64, behavior Behavior) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO targeting_modes (owner_ref, hook_id, behavior, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (owner_ref) DO UPDATE SET
			hook_id = excluded.hook_id,
			behavior = excluded.behavior,
			updated_at = excluded.updated_at
	`, string(owner), hookID, string(behavior), database.Now())
	if err != nil {
		return fmt.Errorf("setting mode: %w", database.ClassifyError(err))
	}
	return nil
}

// GetMode returns owner's capture-mode marker, or nil.
func (s *Store) GetMode(ctx context.Context, owner OwnerID) (*Mode, error) {
	var m Mode
	var ownerRef, behavior, updatedAt string
	err := s.q.QueryRowContext(ctx,
		`SELECT owner_ref, hook_id, behavior, updated_at FROM targeting_modes WHERE owner_ref = ?`,
		string(owner)).Scan(&ownerRef, &m.HookID, &behavior, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting mode: %w", err)
	}
	m.Owner = OwnerID(ownerRef)
	m.Behavior = Behavior(behavior)
	m.UpdatedAt = database.ParseTime(updatedAt)
	return &m, nil
}

// ClearMode removes owner's marker if it still points at hookID. A hookID of
// 0 clears the marker unconditionally.
func (s *Store) ClearMode(ctx context.Context, owner OwnerID, hookID int64) error {
	query := `DELETE FROM targeting_modes WHERE owner_ref = ?`
	args := []any{string(owner)}
	if hookID != 0 {
		query += ` AND hook_id = ?`
		args = append(args, hookID)
	}
	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("clearing mode: %w", err)
	}
	return nil
}

// PruneModes removes capture-mode markers whose hook no longer exists and
// returns how many were removed.
func (s *Store) PruneModes(ctx context.Context) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		DELETE FROM targeting_modes
		WHERE hook_id NOT IN (SELECT hook_id FROM targeting_hooks)
	`)
	if err != nil {
		return 0, fmt.Errorf("pruning modes: %w", err)
	}
	return res.RowsAffected()
}

// Stats holds aggregate counts across the targeting tables.
type Stats struct {
	Hooks          int `json:"hooks"`
	UnlimitedHooks int `json:"unlimited_hooks"`
	Targets        int `json:"targets"`
	Modes          int `json:"modes"`
	Owners         int `json:"owners"`
}

// Stats returns aggregate counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.q.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM targeting_hooks),
			(SELECT COUNT(*) FROM targeting_hooks WHERE uses_remaining = -1),
			(SELECT COUNT(*) FROM targeting_targets),
			(SELECT COUNT(*) FROM targeting_modes),
			(SELECT COUNT(DISTINCT owner_ref) FROM (
				SELECT owner_ref FROM targeting_hooks
				UNION SELECT owner_ref FROM targeting_targets
			))
	`).Scan(&st.Hooks, &st.UnlimitedHooks, &st.Targets, &st.Modes, &st.Owners)
	if err != nil {
		return Stats{}, fmt.Errorf("reading stats: %w", err)
	}
	return st, nil
}

func scanHook(row scanner) (*Hook, error) {
	var hook Hook
	var owner, createdAt, updatedAt string
	var filter int

	err := row.Scan(
		&hook.ID,
		&owner,
		&hook.Slot,
		&filter,
		&hook.Uses,
		&hook.Callback,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	hook.Owner = OwnerID(owner)
	hook.Filter = ObjectType(filter)
	hook.CreatedAt = database.ParseTime(createdAt)
	hook.UpdatedAt = database.ParseTime(updatedAt)

	return &hook, nil
}

func scanTarget(row scanner) (*Target, error) {
	var t Target
	var owner, entity, region, createdAt string

	err := row.Scan(
		&t.ID,
		&owner,
		&t.Slot,
		&entity,
		&region,
		&t.Position.X,
		&t.Position.Y,
		&t.Position.Z,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	t.Owner = OwnerID(owner)
	t.Entity = EntityRef(entity)
	t.Region = EntityRef(region)
	t.CreatedAt = database.ParseTime(createdAt)

	return &t, nil
}

func compileSlotPattern(pattern string) (func(string) bool, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || pattern == "*" {
		return func(string) bool { return true }, nil
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling slot pattern %q: %w", pattern, err)
	}
	return g.Match, nil
}
