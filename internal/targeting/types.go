// Package targeting implements the targeting hook registry: durable per-owner,
// per-slot capture hooks, the captured selection lists they fill, and the
// lifecycle engine that drives both from host selection events.
package targeting

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidOwner    = errors.New("owner reference is required")
	ErrInvalidSlot     = errors.New("slot name is invalid")
	ErrInvalidUses     = errors.New("uses must be -1 (unlimited) or positive")
	ErrInvalidBehavior = errors.New("behavior must be append or delete")
	ErrInvalidFilter   = errors.New("unknown object type")
)

// OwnerID is a stable reference to a capturing player. It survives the
// player's in-memory object being destroyed and recreated across reconnects.
type OwnerID string

// NewOwnerID returns a fresh random owner reference.
func NewOwnerID() OwnerID {
	return OwnerID(uuid.NewString())
}

// ParseOwnerID validates s as a UUID and returns it in canonical form.
func ParseOwnerID(s string) (OwnerID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("parsing owner %q: %w", s, err)
	}
	return OwnerID(id.String()), nil
}

func (o OwnerID) String() string { return string(o) }

// EntityRef is a stable reference to a world object. The empty string is the
// invalid reference.
type EntityRef string

func (e EntityRef) Valid() bool { return e != "" }

// ObjectType is a bitmask of selectable world object categories.
type ObjectType int

const (
	ObjectCreature     ObjectType = 1
	ObjectItem         ObjectType = 2
	ObjectTrigger      ObjectType = 4
	ObjectDoor         ObjectType = 8
	ObjectAreaOfEffect ObjectType = 16
	ObjectWaypoint     ObjectType = 32
	ObjectPlaceable    ObjectType = 64
	ObjectStore        ObjectType = 128
	ObjectEncounter    ObjectType = 256
	ObjectTile         ObjectType = 512
	ObjectAll          ObjectType = 32767
)

var objectTypeNames = []struct {
	name string
	typ  ObjectType
}{
	{"creature", ObjectCreature},
	{"item", ObjectItem},
	{"trigger", ObjectTrigger},
	{"door", ObjectDoor},
	{"aoe", ObjectAreaOfEffect},
	{"waypoint", ObjectWaypoint},
	{"placeable", ObjectPlaceable},
	{"store", ObjectStore},
	{"encounter", ObjectEncounter},
	{"tile", ObjectTile},
}

// ParseObjectType parses a "|" or "," separated list of category names, "all",
// or a decimal mask.
func ParseObjectType(s string) (ObjectType, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "all" {
		return ObjectAll, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 || ObjectType(n)&^ObjectAll != 0 {
			return 0, fmt.Errorf("%w: mask %d", ErrInvalidFilter, n)
		}
		return ObjectType(n), nil
	}

	var mask ObjectType
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' }) {
		part = strings.TrimSpace(part)
		if part == "all" {
			return ObjectAll, nil
		}
		found := false
		for _, n := range objectTypeNames {
			if n.name == part {
				mask |= n.typ
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("%w: %q", ErrInvalidFilter, part)
		}
	}
	return mask, nil
}

// Has reports whether every bit of other is set in t.
func (t ObjectType) Has(other ObjectType) bool {
	return t&other == other
}

func (t ObjectType) String() string {
	if t == ObjectAll {
		return "all"
	}
	var names []string
	rest := t
	for _, n := range objectTypeNames {
		if t&n.typ != 0 {
			names = append(names, n.name)
			rest &^= n.typ
		}
	}
	if rest != 0 || len(names) == 0 {
		return strconv.Itoa(int(t))
	}
	return strings.Join(names, "|")
}

// Vector is a 3D world position.
type Vector struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// IsZero reports whether v is exactly the origin, which hosts use as the
// "no position" sentinel.
func (v Vector) IsZero() bool {
	return v.X == 0 && v.Y == 0 && v.Z == 0
}

func (v Vector) String() string {
	return fmt.Sprintf("(%g, %g, %g)", v.X, v.Y, v.Z)
}

// Behavior is the policy applied to a valid selection.
type Behavior string

const (
	BehaviorAppend Behavior = "append"
	BehaviorDelete Behavior = "delete"
)

func ParseBehavior(s string) (Behavior, error) {
	switch b := Behavior(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return BehaviorAppend, nil
	case BehaviorAppend, BehaviorDelete:
		return b, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidBehavior, s)
	}
}

func (b Behavior) Valid() bool {
	return b == BehaviorAppend || b == BehaviorDelete
}

// UsesUnlimited marks a hook that never exhausts on valid selections.
const UsesUnlimited = -1

// Hook governs one capture session for one (owner, slot) pair.
type Hook struct {
	ID        int64      `json:"hook_id" yaml:"hook_id"`
	Owner     OwnerID    `json:"owner" yaml:"owner"`
	Slot      string     `json:"slot" yaml:"slot"`
	Filter    ObjectType `json:"object_type_filter" yaml:"object_type_filter"`
	Uses      int        `json:"uses_remaining" yaml:"uses_remaining"`
	Callback  string     `json:"callback,omitempty" yaml:"callback,omitempty"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" yaml:"updated_at"`
}

// Unlimited reports whether the hook self-loops on valid selections.
func (h *Hook) Unlimited() bool {
	return h.Uses == UsesUnlimited
}

// Target is one captured selection. Targets are never modified after capture.
type Target struct {
	ID        int64     `json:"target_id" yaml:"target_id"`
	Owner     OwnerID   `json:"owner" yaml:"owner"`
	Slot      string    `json:"slot" yaml:"slot"`
	Entity    EntityRef `json:"entity,omitempty" yaml:"entity,omitempty"`
	Region    EntityRef `json:"region,omitempty" yaml:"region,omitempty"`
	Position  Vector    `json:"position" yaml:"position"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Selection is the raw payload a host reports when capture completes.
type Selection struct {
	Entity   EntityRef
	Position Vector
}

// Valid reports whether the selection names an entity or a position. A
// selection with neither is how hosts report a cancelled capture.
func (s Selection) Valid() bool {
	return s.Entity.Valid() || !s.Position.IsZero()
}

// Mode is an owner's capture-mode marker.
type Mode struct {
	Owner     OwnerID   `json:"owner" yaml:"owner"`
	HookID    int64     `json:"hook_id" yaml:"hook_id"`
	Behavior  Behavior  `json:"behavior" yaml:"behavior"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// AddHookParams holds input for AddHook. Zero Filter selects the configured
// default filter and zero Uses the configured default count.
type AddHookParams struct {
	Owner    OwnerID
	Slot     string
	Filter   ObjectType
	Callback string
	Uses     int
}
