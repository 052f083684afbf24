// internal/engine/action.go
package engine

import (
	"github.com/Corphon/GamebookRuntime/internal/models"
	"github.com/Corphon/GamebookRuntime/internal/rules"
)

// Action is a verb/noun pair on one page instance. It fires at most once.
type Action struct {
	spec   models.Action
	page   *Page
	active bool
}

// Behavior is one of an action's behaviors as returned by resolution.
type Behavior struct {
	models.Behavior
	Index     int
	IsDefault bool

	action *Action
}

// NewAction wraps a serialized action. The action starts active.
func NewAction(spec models.Action) *Action {
	return &Action{spec: spec, active: true}
}

func (a *Action) Name() string   { return a.spec.Name }
func (a *Action) VerbID() string { return a.spec.Verb }
func (a *Action) NounID() string { return a.spec.Noun }
func (a *Action) IsActive() bool { return a.active }

// Disable makes the action inactive for the rest of the page visit.
func (a *Action) Disable() {
	a.active = false
}

// IsActionFor reports whether this active action handles verbID, and nounID
// when it is non-empty.
func (a *Action) IsActionFor(verbID, nounID string) bool {
	if !a.active {
		return false
	}
	if nounID == "" {
		return a.spec.Verb == verbID
	}
	return a.spec.Verb == verbID && a.spec.Noun == nounID
}

// Behaviors returns the action's behaviors in declaration order.
func (a *Action) Behaviors() []*Behavior {
	out := make([]*Behavior, len(a.spec.Behaviors))
	for i := range a.spec.Behaviors {
		out[i] = a.behavior(i)
	}
	return out
}

func (a *Action) behavior(i int) *Behavior {
	return &Behavior{
		Behavior:  a.spec.Behaviors[i],
		Index:     i,
		IsDefault: i == len(a.spec.Behaviors)-1,
		action:    a,
	}
}

// ValidBehavior returns the first behavior whose condition currently holds,
// or nil when the action does nothing right now. It only reads flags.
func (a *Action) ValidBehavior(flags rules.FlagReader) (*Behavior, error) {
	idx, err := rules.Resolve(a.spec.Behaviors, flags)
	if err != nil || idx < 0 {
		return nil, err
	}
	return a.behavior(idx), nil
}

// Action returns the action the behavior belongs to.
func (b *Behavior) Action() *Action {
	return b.action
}
