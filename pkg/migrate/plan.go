package migrate

import (
	"errors"
	"fmt"
	"sync"
)

// Action is the disposition applied to every usage of the old value.
type Action int

const (
	// Remove deletes the reference (traits are dropped, grammatical-info
	// is cleared).
	Remove Action = iota
	// ReplaceWith rewrites the reference to the plan's NewValue.
	ReplaceWith
)

func (a Action) String() string {
	if a == ReplaceWith {
		return "replace"
	}
	return "remove"
}

// State is the lifecycle of a plan. Scope and values may only change while
// Planned; a plan handed to a run is frozen.
type State int

const (
	Planned State = iota
	DryRunning
	Executing
	Completed
	PartiallyFailed
	Aborted
)

func (s State) String() string {
	switch s {
	case Planned:
		return "planned"
	case DryRunning:
		return "dry-run"
	case Executing:
		return "executing"
	case Completed:
		return "completed"
	case PartiallyFailed:
		return "partially-failed"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

// ErrPlanFrozen is returned when mutating a plan that has left Planned.
var ErrPlanFrozen = errors.New("plan is frozen once a run starts")

// Plan names one migration: which (rangeID, oldValue) to resolve and how.
type Plan struct {
	mu       sync.Mutex
	state    State
	rangeID  string
	oldValue string
	action   Action
	newValue string
}

// NewPlan creates a plan in the Planned state.
func NewPlan(rangeID, oldValue string, action Action, newValue string) *Plan {
	return &Plan{rangeID: rangeID, oldValue: oldValue, action: action, newValue: newValue}
}

// SetScope changes the plan's target. Only legal while Planned.
func (p *Plan) SetScope(rangeID, oldValue string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Planned {
		return ErrPlanFrozen
	}
	p.rangeID, p.oldValue = rangeID, oldValue
	return nil
}

// SetAction changes the disposition. Only legal while Planned.
func (p *Plan) SetAction(action Action, newValue string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Planned {
		return ErrPlanFrozen
	}
	p.action, p.newValue = action, newValue
	return nil
}

// State returns the plan's current lifecycle state.
func (p *Plan) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// RangeID returns the plan's target range.
func (p *Plan) RangeID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rangeID
}

// OldValue returns the value being resolved.
func (p *Plan) OldValue() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.oldValue
}

// begin transitions Planned → DryRunning or Executing, freezing the plan.
func (p *Plan) begin(execute bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Planned {
		return fmt.Errorf("cannot start a run from state %s", p.state)
	}
	if execute {
		p.state = Executing
	} else {
		p.state = DryRunning
	}
	return nil
}

// finish records the terminal state of a run.
func (p *Plan) finish(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// target returns the frozen run parameters.
func (p *Plan) target() (rangeID, oldValue string, action Action, newValue string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rangeID, p.oldValue, p.action, p.newValue
}
