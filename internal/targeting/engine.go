package targeting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/targethook/internal/metrics"
)

// Termination reasons reported to logs and metrics.
const (
	reasonExhausted = "exhausted"
	reasonInvalid   = "invalid_selection"
	reasonDeleted   = "deleted"
)

// EngineConfig holds defaults applied by AddHook.
type EngineConfig struct {
	// DefaultUses applies when AddHookParams.Uses is 0 (default 1).
	DefaultUses int
	// DefaultFilter applies when AddHookParams.Filter is 0 (default ObjectAll).
	DefaultFilter ObjectType
	// MaxSlotLength bounds slot names (default 64).
	MaxSlotLength int
}

// Engine drives hooks through their lifecycle: creation, capture-mode entry,
// selection handling and termination with callback dispatch.
//
// All state lives in the Store. The Engine only keeps per-owner locks, so a
// process restart loses nothing but in-flight calls.
type Engine struct {
	store *Store
	host  Host
	cfg   EngineConfig
	locks *ownerLocks
}

// NewEngine creates a lifecycle engine over store, dispatching to host.
func NewEngine(store *Store, host Host, cfg *EngineConfig) *Engine {
	c := EngineConfig{}
	if cfg != nil {
		c = *cfg
	}
	if c.DefaultUses == 0 {
		c.DefaultUses = 1
	}
	if c.DefaultFilter == 0 {
		c.DefaultFilter = ObjectAll
	}
	if c.MaxSlotLength <= 0 {
		c.MaxSlotLength = 64
	}

	return &Engine{
		store: store,
		host:  host,
		cfg:   c,
		locks: newOwnerLocks(),
	}
}

// Store returns the engine's store for read access.
func (e *Engine) Store() *Store {
	return e.store
}

// AddHook creates or replaces the hook for (Owner, Slot) and returns its id.
// It does not place the owner into capture mode.
func (e *Engine) AddHook(ctx context.Context, p AddHookParams) (int64, error) {
	if p.Owner == "" {
		return 0, ErrInvalidOwner
	}
	if p.Slot == "" || len(p.Slot) > e.cfg.MaxSlotLength {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSlot, p.Slot)
	}

	uses := p.Uses
	if uses == 0 {
		uses = e.cfg.DefaultUses
	}
	if uses < UsesUnlimited {
		return 0, fmt.Errorf("%w: %d", ErrInvalidUses, uses)
	}

	filter := p.Filter
	if filter == 0 {
		filter = e.cfg.DefaultFilter
	}
	if filter < 0 || filter&^ObjectAll != 0 {
		return 0, fmt.Errorf("%w: mask %d", ErrInvalidFilter, int(filter))
	}

	unlock := e.locks.lock(p.Owner)
	defer unlock()

	hook := &Hook{
		Owner:    p.Owner,
		Slot:     p.Slot,
		Filter:   filter,
		Uses:     uses,
		Callback: p.Callback,
	}

	id, err := e.store.UpsertHook(ctx, hook)
	if err != nil {
		return 0, err
	}

	metrics.RecordHookAdded()

	log.Debug().
		Int64("hook_id", id).
		Str("owner", string(p.Owner)).
		Str("slot", p.Slot).
		Str("filter", filter.String()).
		Int("uses", uses).
		Str("callback", p.Callback).
		Msg("Hook registered")

	return id, nil
}

// EnterTargetingMode places the hook's owner into capture mode. The next
// selection the owner produces is handled with behavior. Missing hooks and
// owners that are not connected are no-ops.
func (e *Engine) EnterTargetingMode(ctx context.Context, hookID int64, behavior Behavior) error {
	behavior, err := normalizeBehavior(behavior)
	if err != nil {
		return err
	}

	hook, err := e.store.GetHook(ctx, hookID)
	if err != nil {
		return err
	}
	if hook == nil {
		log.Debug().Int64("hook_id", hookID).Msg("Enter targeting mode: no such hook")
		metrics.RecordModeEntered(string(behavior), "missing_hook")
		return nil
	}

	unlock := e.locks.lock(hook.Owner)
	defer unlock()

	// Reload under the lock; a concurrent selection may have terminated it.
	hook, err = e.store.GetHook(ctx, hookID)
	if err != nil {
		return err
	}
	if hook == nil {
		metrics.RecordModeEntered(string(behavior), "missing_hook")
		return nil
	}

	return e.enter(ctx, hook, behavior)
}

// EnterTargetingModeForSlot is EnterTargetingMode addressed by (owner, slot).
func (e *Engine) EnterTargetingModeForSlot(ctx context.Context, owner OwnerID, slot string, behavior Behavior) error {
	behavior, err := normalizeBehavior(behavior)
	if err != nil {
		return err
	}

	unlock := e.locks.lock(owner)
	defer unlock()

	hook, err := e.store.GetHookBySlot(ctx, owner, slot)
	if err != nil {
		return err
	}
	if hook == nil {
		log.Debug().Str("owner", string(owner)).Str("slot", slot).Msg("Enter targeting mode: no such hook")
		metrics.RecordModeEntered(string(behavior), "missing_hook")
		return nil
	}

	return e.enter(ctx, hook, behavior)
}

func (e *Engine) enter(ctx context.Context, hook *Hook, behavior Behavior) error {
	session, ok := e.host.Session(ctx, hook.Owner)
	if !ok {
		log.Debug().
			Int64("hook_id", hook.ID).
			Str("owner", string(hook.Owner)).
			Msg("Enter targeting mode: owner not connected")
		metrics.RecordModeEntered(string(behavior), "offline")
		return nil
	}

	if err := e.store.SetMode(ctx, hook.Owner, hook.ID, behavior); err != nil {
		return err
	}

	if err := session.EnterTargetingMode(hook.Filter); err != nil {
		log.Warn().
			Err(err).
			Int64("hook_id", hook.ID).
			Str("owner", string(hook.Owner)).
			Msg("Host refused targeting mode")
		metrics.RecordModeEntered(string(behavior), "host_error")
		return e.store.ClearMode(ctx, hook.Owner, hook.ID)
	}

	metrics.RecordModeEntered(string(behavior), "ok")

	log.Debug().
		Int64("hook_id", hook.ID).
		Str("owner", string(hook.Owner)).
		Str("slot", hook.Slot).
		Str("behavior", string(behavior)).
		Msg("Entered targeting mode")

	return nil
}

// OnSelectionProduced handles the host's "selection produced" event for
// owner. It reports false without side effects when the owner has no active
// hook or is no longer connected.
//
// A selection with neither an entity nor a position terminates the hook.
// Otherwise the selection is appended to or removed from the slot's captured
// list, then the hook is re-armed or, once its uses run out, terminated.
func (e *Engine) OnSelectionProduced(ctx context.Context, owner OwnerID) (bool, error) {
	unlock := e.locks.lock(owner)
	defer unlock()

	mode, err := e.store.GetMode(ctx, owner)
	if err != nil {
		return false, err
	}
	if mode == nil {
		return false, nil
	}

	hook, err := e.store.GetHook(ctx, mode.HookID)
	if err != nil {
		return false, err
	}
	if hook == nil {
		log.Debug().
			Int64("hook_id", mode.HookID).
			Str("owner", string(owner)).
			Msg("Selection for deleted hook, clearing mode")
		return false, e.store.ClearMode(ctx, owner, mode.HookID)
	}

	session, ok := e.host.Session(ctx, owner)
	if !ok {
		log.Debug().Str("owner", string(owner)).Msg("Selection from owner that is not connected")
		return false, nil
	}

	sel := session.Selection()

	if !sel.Valid() {
		metrics.RecordSelection(string(mode.Behavior), "invalid")
		return true, e.terminate(ctx, hook, reasonInvalid)
	}

	var outcome string
	switch mode.Behavior {
	case BehaviorDelete:
		outcome, err = e.removeSelection(ctx, hook, sel)
	default:
		outcome, err = e.appendSelection(ctx, hook, session, sel)
	}
	if err != nil {
		return false, err
	}
	metrics.RecordSelection(string(mode.Behavior), outcome)

	if hook.Unlimited() {
		return true, e.rearm(ctx, hook, session)
	}

	remaining := hook.Uses - 1
	if remaining <= 0 {
		return true, e.terminate(ctx, hook, reasonExhausted)
	}

	if err := e.store.SetUses(ctx, hook.ID, remaining); err != nil {
		return false, err
	}
	hook.Uses = remaining

	return true, e.rearm(ctx, hook, session)
}

func (e *Engine) appendSelection(ctx context.Context, hook *Hook, session Session, sel Selection) (string, error) {
	region := session.Region()
	if sel.Entity.Valid() {
		region = e.host.RegionOf(ctx, sel.Entity)
	}

	target := &Target{
		Owner:    hook.Owner,
		Slot:     hook.Slot,
		Entity:   sel.Entity,
		Region:   region,
		Position: sel.Position,
	}
	if _, err := e.store.InsertTarget(ctx, target); err != nil {
		return "", err
	}

	log.Debug().
		Int64("hook_id", hook.ID).
		Int64("target_id", target.ID).
		Str("owner", string(hook.Owner)).
		Str("slot", hook.Slot).
		Str("entity", string(sel.Entity)).
		Str("position", sel.Position.String()).
		Msg("Selection captured")

	return "appended", nil
}

// removeSelection deletes one captured row matching the selected entity. When
// the same entity was captured more than once, the earliest row goes.
func (e *Engine) removeSelection(ctx context.Context, hook *Hook, sel Selection) (string, error) {
	logger := log.With().
		Int64("hook_id", hook.ID).
		Str("owner", string(hook.Owner)).
		Str("slot", hook.Slot).
		Str("entity", string(sel.Entity)).
		Logger()

	if !sel.Entity.Valid() {
		logger.Debug().Msg("Delete selection has no entity, nothing to remove")
		return "delete_no_entity", nil
	}

	if e.host.RegionOf(ctx, sel.Entity) == sel.Entity {
		logger.Info().Msg("Region targets cannot be removed individually")
		return "delete_region_rejected", nil
	}

	target, err := e.store.FindTargetByEntity(ctx, hook.Owner, hook.Slot, sel.Entity)
	if err != nil {
		return "", err
	}
	if target == nil {
		logger.Debug().Msg("Entity not captured in slot, nothing to remove")
		return "delete_missing", nil
	}

	if _, err := e.store.DeleteTarget(ctx, target.ID); err != nil {
		return "", err
	}

	logger.Debug().Int64("target_id", target.ID).Msg("Selection removed")
	return "deleted", nil
}

func (e *Engine) rearm(ctx context.Context, hook *Hook, session Session) error {
	if err := session.EnterTargetingMode(hook.Filter); err != nil {
		log.Warn().
			Err(err).
			Int64("hook_id", hook.ID).
			Str("owner", string(hook.Owner)).
			Msg("Host refused to re-arm targeting mode")
		return e.store.ClearMode(ctx, hook.Owner, hook.ID)
	}
	return nil
}

// DeleteHook removes a hook, clears the owner's capture mode if it points at
// the hook, and dispatches the hook's callback. Captured targets are kept.
// Deleting a missing hook is a no-op.
func (e *Engine) DeleteHook(ctx context.Context, hookID int64) error {
	hook, err := e.store.GetHook(ctx, hookID)
	if err != nil {
		return err
	}
	if hook == nil {
		log.Debug().Int64("hook_id", hookID).Msg("Delete hook: no such hook")
		return nil
	}

	unlock := e.locks.lock(hook.Owner)
	defer unlock()

	// Reload under the lock; an AddHook upsert may have replaced the callback
	// or a selection may have terminated the hook while we waited.
	hook, err = e.store.GetHook(ctx, hookID)
	if err != nil {
		return err
	}
	if hook == nil {
		return nil
	}

	return e.terminate(ctx, hook, reasonDeleted)
}

// DeleteHookBySlot is DeleteHook addressed by (owner, slot).
func (e *Engine) DeleteHookBySlot(ctx context.Context, owner OwnerID, slot string) error {
	unlock := e.locks.lock(owner)
	defer unlock()

	hook, err := e.store.GetHookBySlot(ctx, owner, slot)
	if err != nil {
		return err
	}
	if hook == nil {
		return nil
	}

	return e.terminate(ctx, hook, reasonDeleted)
}

// terminate is the only path that deletes hooks and fires callbacks. The row
// delete and the mode clear commit together, and the callback runs only if
// this call removed the row, so it fires exactly once.
func (e *Engine) terminate(ctx context.Context, hook *Hook, reason string) error {
	var removed bool
	err := e.store.InTx(ctx, func(tx *Store) error {
		var err error
		if removed, err = tx.DeleteHook(ctx, hook.ID); err != nil {
			return err
		}
		return tx.ClearMode(ctx, hook.Owner, hook.ID)
	})
	if err != nil {
		return err
	}

	if !removed {
		return nil
	}

	metrics.RecordTermination(reason)

	log.Debug().
		Int64("hook_id", hook.ID).
		Str("owner", string(hook.Owner)).
		Str("slot", hook.Slot).
		Str("reason", reason).
		Msg("Hook terminated")

	e.dispatch(ctx, hook)

	return nil
}

func (e *Engine) dispatch(ctx context.Context, hook *Hook) {
	if hook.Callback == "" {
		return
	}

	start := time.Now()
	err := e.host.RunCallback(ctx, hook.Callback, hook.Owner)
	duration := time.Since(start)

	if err != nil {
		metrics.RecordCallback("error", duration)
		log.Error().
			Err(err).
			Int64("hook_id", hook.ID).
			Str("owner", string(hook.Owner)).
			Str("callback", hook.Callback).
			Msg("Callback failed")
		return
	}

	metrics.RecordCallback("ok", duration)

	log.Debug().
		Int64("hook_id", hook.ID).
		Str("owner", string(hook.Owner)).
		Str("callback", hook.Callback).
		Dur("duration", duration).
		Msg("Callback dispatched")
}

func normalizeBehavior(b Behavior) (Behavior, error) {
	if b == "" {
		return BehaviorAppend, nil
	}
	if !b.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidBehavior, string(b))
	}
	return b, nil
}
