package targeting

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/watzon/targethook/internal/config"
	"github.com/watzon/targethook/internal/database"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "targeting.db"),
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}

	db, err := database.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewStore(db)
}

type fakeSession struct {
	mu        sync.Mutex
	owner     OwnerID
	region    EntityRef
	selection Selection
	filter    ObjectType
	arms      int
	refuse    bool
}

func (s *fakeSession) Owner() OwnerID { return s.owner }

func (s *fakeSession) Region() EntityRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.region
}

func (s *fakeSession) Selection() Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection
}

func (s *fakeSession) EnterTargetingMode(filter ObjectType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refuse {
		return errors.New("refused")
	}
	s.filter = filter
	s.arms++
	return nil
}

func (s *fakeSession) selectEntity(e EntityRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = Selection{Entity: e}
}

func (s *fakeSession) selectPosition(v Vector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = Selection{Position: v}
}

func (s *fakeSession) cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = Selection{}
}

func (s *fakeSession) armCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arms
}

type fakeHost struct {
	mu          sync.Mutex
	sessions    map[OwnerID]*fakeSession
	regions     map[EntityRef]EntityRef
	calls       []string
	callbackErr error
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		sessions: make(map[OwnerID]*fakeSession),
		regions:  make(map[EntityRef]EntityRef),
	}
}

func (h *fakeHost) connect(owner OwnerID, region EntityRef) *fakeSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := &fakeSession{owner: owner, region: region}
	h.sessions[owner] = s
	h.regions[region] = region
	return s
}

func (h *fakeHost) disconnect(owner OwnerID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, owner)
}

func (h *fakeHost) place(entity, region EntityRef) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.regions[entity] = region
	h.regions[region] = region
}

func (h *fakeHost) callCount(callback string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.calls {
		if c == callback {
			n++
		}
	}
	return n
}

func (h *fakeHost) Session(_ context.Context, owner OwnerID) (Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[owner]
	if !ok {
		return nil, false
	}
	return s, true
}

func (h *fakeHost) RegionOf(_ context.Context, entity EntityRef) EntityRef {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.regions[entity]
}

func (h *fakeHost) RunCallback(_ context.Context, callback string, _ OwnerID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, callback)
	return h.callbackErr
}

func collectTargets(t *testing.T, s *Store, owner OwnerID, slot string) []Target {
	t.Helper()

	var out []Target
	for target, err := range s.Targets(context.Background(), owner, slot) {
		require.NoError(t, err)
		out = append(out, target)
	}
	return out
}
