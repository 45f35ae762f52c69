// Package replay runs scripted player sessions against the targeting engine
// with an in-memory host. Scripts are YAML (JSON works too) and describe
// connects, hook registration, selections and expectations on the result.
package replay

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/watzon/targethook/internal/targeting"
)

var ErrInvalidScript = errors.New("invalid replay script")

// Script is a named sequence of steps.
type Script struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Steps       []Step `yaml:"steps"`
}

// Step holds exactly one operation.
type Step struct {
	Connect    *ConnectStep `yaml:"connect,omitempty"`
	Disconnect *AccountStep `yaml:"disconnect,omitempty"`
	Place      *PlaceStep   `yaml:"place,omitempty"`
	AddHook    *AddHookStep `yaml:"add_hook,omitempty"`
	Enter      *EnterStep   `yaml:"enter,omitempty"`
	Select     *SelectStep  `yaml:"select,omitempty"`
	DeleteHook *SlotStep    `yaml:"delete_hook,omitempty"`
	Clear      *SlotStep    `yaml:"clear,omitempty"`
	Expect     *ExpectStep  `yaml:"expect,omitempty"`
}

type AccountStep struct {
	Account string `yaml:"account"`
}

type ConnectStep struct {
	Account string `yaml:"account"`
	Region  string `yaml:"region"`
}

type PlaceStep struct {
	Entity string `yaml:"entity"`
	Region string `yaml:"region"`
}

type AddHookStep struct {
	Account  string `yaml:"account"`
	Slot     string `yaml:"slot"`
	Filter   string `yaml:"filter,omitempty"`
	Callback string `yaml:"callback,omitempty"`
	Uses     int    `yaml:"uses,omitempty"`
}

type EnterStep struct {
	Account  string `yaml:"account"`
	Slot     string `yaml:"slot"`
	Behavior string `yaml:"behavior,omitempty"`
}

// SelectStep sets the player's capture payload and reports the selection
// event. With neither Entity nor Position (or with Cancel) the selection is
// invalid.
type SelectStep struct {
	Account  string            `yaml:"account"`
	Entity   string            `yaml:"entity,omitempty"`
	Position *targeting.Vector `yaml:"position,omitempty"`
	Cancel   bool              `yaml:"cancel,omitempty"`
	Handled  *bool             `yaml:"handled,omitempty"`
}

type SlotStep struct {
	Account string `yaml:"account"`
	Slot    string `yaml:"slot"`
}

// ExpectStep asserts state. Unset fields are not checked.
type ExpectStep struct {
	Account   string   `yaml:"account"`
	Slot      string   `yaml:"slot,omitempty"`
	Count     *int     `yaml:"count,omitempty"`
	Uses      *int     `yaml:"uses,omitempty"`
	Hook      *bool    `yaml:"hook,omitempty"`
	Armed     *bool    `yaml:"armed,omitempty"`
	Entities  []string `yaml:"entities,omitempty"`
	Callback  string   `yaml:"callback,omitempty"`
	Callbacks *int     `yaml:"callbacks,omitempty"`
}

// Op names the step's operation.
func (s *Step) Op() string {
	switch {
	case s.Connect != nil:
		return "connect"
	case s.Disconnect != nil:
		return "disconnect"
	case s.Place != nil:
		return "place"
	case s.AddHook != nil:
		return "add_hook"
	case s.Enter != nil:
		return "enter"
	case s.Select != nil:
		return "select"
	case s.DeleteHook != nil:
		return "delete_hook"
	case s.Clear != nil:
		return "clear"
	case s.Expect != nil:
		return "expect"
	default:
		return ""
	}
}

func (s *Step) set() int {
	n := 0
	for _, ok := range []bool{
		s.Connect != nil,
		s.Disconnect != nil,
		s.Place != nil,
		s.AddHook != nil,
		s.Enter != nil,
		s.Select != nil,
		s.DeleteHook != nil,
		s.Clear != nil,
		s.Expect != nil,
	} {
		if ok {
			n++
		}
	}
	return n
}

// Validate checks that every step names one operation on an account.
func (sc *Script) Validate() error {
	if len(sc.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidScript)
	}
	for i := range sc.Steps {
		step := &sc.Steps[i]
		if n := step.set(); n != 1 {
			return fmt.Errorf("%w: step %d has %d operations, want 1", ErrInvalidScript, i+1, n)
		}
		if step.Place != nil {
			if step.Place.Entity == "" || step.Place.Region == "" {
				return fmt.Errorf("%w: step %d: place needs entity and region", ErrInvalidScript, i+1)
			}
			continue
		}
		if stepAccount(step) == "" {
			return fmt.Errorf("%w: step %d: %s needs an account", ErrInvalidScript, i+1, step.Op())
		}
	}
	return nil
}

func stepAccount(s *Step) string {
	switch {
	case s.Connect != nil:
		return s.Connect.Account
	case s.Disconnect != nil:
		return s.Disconnect.Account
	case s.AddHook != nil:
		return s.AddHook.Account
	case s.Enter != nil:
		return s.Enter.Account
	case s.Select != nil:
		return s.Select.Account
	case s.DeleteHook != nil:
		return s.DeleteHook.Account
	case s.Clear != nil:
		return s.Clear.Account
	case s.Expect != nil:
		return s.Expect.Account
	}
	return ""
}

// Parse decodes and validates a script.
func Parse(data []byte) (*Script, error) {
	var sc Script
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScript, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// LoadFile reads and parses a script file.
func LoadFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if sc.Name == "" {
		sc.Name = path
	}
	return sc, nil
}
