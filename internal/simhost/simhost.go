// Package simhost is an in-memory game host for driving the targeting engine
// outside a game server: replay scripts, the CLI and tests.
//
// Players are addressed by account name. Each account maps to one stable
// OwnerID; every Connect creates a new Session object for it, the way a game
// server recreates the player object on reconnect.
package simhost

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/watzon/targethook/internal/targeting"
)

var (
	ErrNotConnected = errors.New("player not connected")
	ErrRefused      = errors.New("targeting mode refused")
)

// CallbackFunc is a registered completion routine.
type CallbackFunc func(ctx context.Context, owner targeting.OwnerID) error

// Invocation records one callback dispatch.
type Invocation struct {
	Callback string
	Owner    targeting.OwnerID
	Err      error
}

// Host implements targeting.Host in memory.
type Host struct {
	mu          sync.RWMutex
	owners      map[string]targeting.OwnerID // account -> owner
	sessions    map[targeting.OwnerID]*Session
	regions     map[targeting.EntityRef]targeting.EntityRef
	callbacks   map[string]CallbackFunc
	invocations []Invocation
	strict      bool
}

// Option configures a Host.
type Option func(*Host)

// WithStrictCallbacks makes dispatch of unregistered callbacks an error
// instead of a logged no-op.
func WithStrictCallbacks() Option {
	return func(h *Host) {
		h.strict = true
	}
}

// New creates an empty host.
func New(opts ...Option) *Host {
	h := &Host{
		owners:    make(map[string]targeting.OwnerID),
		sessions:  make(map[targeting.OwnerID]*Session),
		regions:   make(map[targeting.EntityRef]targeting.EntityRef),
		callbacks: make(map[string]CallbackFunc),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Owner returns the stable owner reference for account, allocating one on
// first use.
func (h *Host) Owner(account string) targeting.OwnerID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ownerLocked(account)
}

func (h *Host) ownerLocked(account string) targeting.OwnerID {
	owner, ok := h.owners[account]
	if !ok {
		owner = targeting.NewOwnerID()
		h.owners[account] = owner
	}
	return owner
}

// Adopt binds account to an existing owner reference, for hosts restored
// from durable state.
func (h *Host) Adopt(account string, owner targeting.OwnerID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.owners[account] = owner
}

// Connect creates a new live session for account in region, replacing any
// previous session object.
func (h *Host) Connect(account string, region targeting.EntityRef) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()

	owner := h.ownerLocked(account)
	s := &Session{
		account: account,
		owner:   owner,
		region:  region,
	}
	h.sessions[owner] = s

	if region.Valid() {
		h.regions[region] = region
	}

	log.Debug().Str("account", account).Str("owner", string(owner)).Msg("Player connected")
	return s
}

// Disconnect drops account's live session. Durable state is untouched.
func (h *Host) Disconnect(account string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if owner, ok := h.owners[account]; ok {
		delete(h.sessions, owner)
		log.Debug().Str("account", account).Str("owner", string(owner)).Msg("Player disconnected")
	}
}

// Lookup returns account's live session.
func (h *Host) Lookup(account string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	owner, ok := h.owners[account]
	if !ok {
		return nil, false
	}
	s, ok := h.sessions[owner]
	return s, ok
}

// Place records that entity is located in region. Regions are placed in
// themselves automatically.
func (h *Host) Place(entity, region targeting.EntityRef) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.regions[entity] = region
	if region.Valid() {
		h.regions[region] = region
	}
}

// Register binds a callback name to fn.
func (h *Host) Register(callback string, fn CallbackFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callbacks[callback] = fn
}

// Invocations returns a copy of the callback dispatch log.
func (h *Host) Invocations() []Invocation {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Invocation, len(h.invocations))
	copy(out, h.invocations)
	return out
}

// InvocationCount returns how many times callback was dispatched for owner.
// An empty callback counts every dispatch for owner.
func (h *Host) InvocationCount(callback string, owner targeting.OwnerID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, inv := range h.invocations {
		if inv.Owner == owner && (callback == "" || inv.Callback == callback) {
			n++
		}
	}
	return n
}

// Accounts returns connected account names, sorted.
func (h *Host) Accounts() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var names []string
	for _, s := range h.sessions {
		names = append(names, s.account)
	}
	sort.Strings(names)
	return names
}

// Session implements targeting.Host.
func (h *Host) Session(_ context.Context, owner targeting.OwnerID) (targeting.Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.sessions[owner]
	if !ok {
		return nil, false
	}
	return s, true
}

// RegionOf implements targeting.Host.
func (h *Host) RegionOf(_ context.Context, entity targeting.EntityRef) targeting.EntityRef {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.regions[entity]
}

// RunCallback implements targeting.Host.
func (h *Host) RunCallback(ctx context.Context, callback string, owner targeting.OwnerID) error {
	h.mu.RLock()
	fn, ok := h.callbacks[callback]
	strict := h.strict
	h.mu.RUnlock()

	var err error
	switch {
	case ok:
		err = fn(ctx, owner)
	case strict:
		err = fmt.Errorf("callback %q not registered", callback)
	default:
		log.Info().Str("callback", callback).Str("owner", string(owner)).Msg("Callback dispatched")
	}

	h.mu.Lock()
	h.invocations = append(h.invocations, Invocation{Callback: callback, Owner: owner, Err: err})
	h.mu.Unlock()

	return err
}

// Session is a simulated live player.
type Session struct {
	mu        sync.Mutex
	account   string
	owner     targeting.OwnerID
	region    targeting.EntityRef
	selection targeting.Selection
	armed     bool
	filter    targeting.ObjectType
	arms      int
	refuse    bool
}

func (s *Session) Account() string { return s.account }

// Owner implements targeting.Session.
func (s *Session) Owner() targeting.OwnerID { return s.owner }

// Region implements targeting.Session.
func (s *Session) Region() targeting.EntityRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.region
}

// Move changes the region the player is in.
func (s *Session) Move(region targeting.EntityRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.region = region
}

// Selection implements targeting.Session.
func (s *Session) Selection() targeting.Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection
}

// EnterTargetingMode implements targeting.Session.
func (s *Session) EnterTargetingMode(filter targeting.ObjectType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refuse {
		return ErrRefused
	}
	s.armed = true
	s.filter = filter
	s.arms++
	return nil
}

// Refuse makes subsequent EnterTargetingMode calls fail.
func (s *Session) Refuse(refuse bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refuse = refuse
}

// Select records the capture payload and leaves capture mode. The caller
// then reports the event to the engine.
func (s *Session) Select(entity targeting.EntityRef, position targeting.Vector) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.selection = targeting.Selection{Entity: entity, Position: position}
	s.armed = false
}

// Armed reports whether the session is in capture mode and with which filter.
func (s *Session) Armed() (bool, targeting.ObjectType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed, s.filter
}

// Arms returns how many times capture mode was entered.
func (s *Session) Arms() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arms
}

var (
	_ targeting.Host    = (*Host)(nil)
	_ targeting.Session = (*Session)(nil)
)
