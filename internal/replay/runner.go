package replay

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/targethook/internal/simhost"
	"github.com/watzon/targethook/internal/targeting"
)

// Failure is one unmet expectation.
type Failure struct {
	Step    int    `json:"step" yaml:"step"`
	Op      string `json:"op" yaml:"op"`
	Message string `json:"message" yaml:"message"`
}

// Report summarizes a run.
type Report struct {
	Name     string        `json:"name" yaml:"name"`
	Steps    int           `json:"steps" yaml:"steps"`
	Checks   int           `json:"checks" yaml:"checks"`
	Failures []Failure     `json:"failures,omitempty" yaml:"failures,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// OK reports whether every expectation held.
func (r *Report) OK() bool {
	return len(r.Failures) == 0
}

// Runner executes scripts against one engine and host. State carries over
// between runs, so a fresh Runner per script is usual.
type Runner struct {
	engine *targeting.Engine
	store  *targeting.Store
	host   *simhost.Host
}

// NewRunner creates a runner over store using host for player sessions.
func NewRunner(store *targeting.Store, host *simhost.Host, cfg *targeting.EngineConfig) *Runner {
	return &Runner{
		engine: targeting.NewEngine(store, host, cfg),
		store:  store,
		host:   host,
	}
}

// Host returns the runner's simulated host.
func (r *Runner) Host() *simhost.Host {
	return r.host
}

// Run executes every step of sc. Expectation failures are collected in the
// report; any other error aborts the run.
func (r *Runner) Run(ctx context.Context, sc *Script) (*Report, error) {
	start := time.Now()
	report := &Report{Name: sc.Name}

	for i := range sc.Steps {
		step := &sc.Steps[i]
		n := i + 1

		if err := ctx.Err(); err != nil {
			return report, err
		}

		failures, checks, err := r.exec(ctx, step)
		if err != nil {
			return report, fmt.Errorf("step %d (%s): %w", n, step.Op(), err)
		}

		report.Steps++
		report.Checks += checks
		for _, msg := range failures {
			report.Failures = append(report.Failures, Failure{Step: n, Op: step.Op(), Message: msg})
		}
	}

	report.Duration = time.Since(start)

	log.Debug().
		Str("script", sc.Name).
		Int("steps", report.Steps).
		Int("checks", report.Checks).
		Int("failures", len(report.Failures)).
		Dur("duration", report.Duration).
		Msg("Replay finished")

	return report, nil
}

func (r *Runner) exec(ctx context.Context, step *Step) ([]string, int, error) {
	switch {
	case step.Connect != nil:
		r.host.Connect(step.Connect.Account, targeting.EntityRef(step.Connect.Region))
		return nil, 0, nil

	case step.Disconnect != nil:
		r.host.Disconnect(step.Disconnect.Account)
		return nil, 0, nil

	case step.Place != nil:
		r.host.Place(targeting.EntityRef(step.Place.Entity), targeting.EntityRef(step.Place.Region))
		return nil, 0, nil

	case step.AddHook != nil:
		return nil, 0, r.addHook(ctx, step.AddHook)

	case step.Enter != nil:
		behavior, err := targeting.ParseBehavior(step.Enter.Behavior)
		if err != nil {
			return nil, 0, err
		}
		owner := r.host.Owner(step.Enter.Account)
		return nil, 0, r.engine.EnterTargetingModeForSlot(ctx, owner, step.Enter.Slot, behavior)

	case step.Select != nil:
		return r.selectTarget(ctx, step.Select)

	case step.DeleteHook != nil:
		owner := r.host.Owner(step.DeleteHook.Account)
		return nil, 0, r.engine.DeleteHookBySlot(ctx, owner, step.DeleteHook.Slot)

	case step.Clear != nil:
		owner := r.host.Owner(step.Clear.Account)
		_, err := r.store.ClearTargets(ctx, owner, step.Clear.Slot)
		return nil, 0, err

	case step.Expect != nil:
		return r.expect(ctx, step.Expect)
	}

	return nil, 0, ErrInvalidScript
}

func (r *Runner) addHook(ctx context.Context, s *AddHookStep) error {
	var filter targeting.ObjectType
	if s.Filter != "" {
		f, err := targeting.ParseObjectType(s.Filter)
		if err != nil {
			return err
		}
		filter = f
	}

	_, err := r.engine.AddHook(ctx, targeting.AddHookParams{
		Owner:    r.host.Owner(s.Account),
		Slot:     s.Slot,
		Filter:   filter,
		Callback: s.Callback,
		Uses:     s.Uses,
	})
	return err
}

func (r *Runner) selectTarget(ctx context.Context, s *SelectStep) ([]string, int, error) {
	session, ok := r.host.Lookup(s.Account)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", simhost.ErrNotConnected, s.Account)
	}

	var pos targeting.Vector
	entity := targeting.EntityRef(s.Entity)
	if s.Position != nil {
		pos = *s.Position
	}
	if s.Cancel {
		entity, pos = "", targeting.Vector{}
	}
	session.Select(entity, pos)

	handled, err := r.engine.OnSelectionProduced(ctx, session.Owner())
	if err != nil {
		return nil, 0, err
	}

	if s.Handled == nil {
		return nil, 0, nil
	}
	if handled != *s.Handled {
		return []string{fmt.Sprintf("handled = %t, want %t", handled, *s.Handled)}, 1, nil
	}
	return nil, 1, nil
}

func (r *Runner) expect(ctx context.Context, e *ExpectStep) ([]string, int, error) {
	owner := r.host.Owner(e.Account)

	var (
		failures []string
		checks   int
	)
	fail := func(format string, args ...any) {
		failures = append(failures, fmt.Sprintf(format, args...))
	}

	if e.Count != nil {
		checks++
		n, err := r.store.CountTargets(ctx, owner, e.Slot)
		if err != nil {
			return nil, 0, err
		}
		if n != *e.Count {
			fail("%s/%s: count = %d, want %d", e.Account, e.Slot, n, *e.Count)
		}
	}

	if e.Hook != nil || e.Uses != nil {
		hook, err := r.store.GetHookBySlot(ctx, owner, e.Slot)
		if err != nil {
			return nil, 0, err
		}
		if e.Hook != nil {
			checks++
			if (hook != nil) != *e.Hook {
				fail("%s/%s: hook present = %t, want %t", e.Account, e.Slot, hook != nil, *e.Hook)
			}
		}
		if e.Uses != nil {
			checks++
			switch {
			case hook == nil:
				fail("%s/%s: uses = <no hook>, want %d", e.Account, e.Slot, *e.Uses)
			case hook.Uses != *e.Uses:
				fail("%s/%s: uses = %d, want %d", e.Account, e.Slot, hook.Uses, *e.Uses)
			}
		}
	}

	if e.Armed != nil {
		checks++
		mode, err := r.store.GetMode(ctx, owner)
		if err != nil {
			return nil, 0, err
		}
		if (mode != nil) != *e.Armed {
			fail("%s: armed = %t, want %t", e.Account, mode != nil, *e.Armed)
		}
	}

	if e.Entities != nil {
		checks++
		var got []string
		for t, err := range r.store.Targets(ctx, owner, e.Slot) {
			if err != nil {
				return nil, 0, err
			}
			got = append(got, string(t.Entity))
		}
		if !slices.Equal(got, e.Entities) {
			fail("%s/%s: entities = %v, want %v", e.Account, e.Slot, got, e.Entities)
		}
	}

	if e.Callbacks != nil {
		checks++
		n := r.host.InvocationCount(e.Callback, owner)
		if n != *e.Callbacks {
			fail("%s: callbacks(%q) = %d, want %d", e.Account, e.Callback, n, *e.Callbacks)
		}
	}

	return failures, checks, nil
}
