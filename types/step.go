package types

import (
	"fmt"
	"time"
)

// Step actions.
const (
	ActionCreate = "create"
	ActionSkip   = "skip"
	ActionDelete = "delete"
)

// Step is one planned operation on a stack resource.
type Step struct {
	Action   string    `json:"action"`
	Kind     Kind      `json:"kind"`
	Name     string    `json:"name"`
	Reason   string    `json:"reason"`
	Resource *Resource `json:"resource,omitempty"` // set for skip and delete
}

// Validate ensures the step has required fields.
func (s *Step) Validate() error {
	if s.Action == "" {
		return fmt.Errorf("step action cannot be empty")
	}
	if s.Kind == "" {
		return fmt.Errorf("step kind cannot be empty")
	}
	if s.Name == "" {
		return fmt.Errorf("step name cannot be empty")
	}
	if s.Action == ActionDelete && s.Resource == nil {
		return fmt.Errorf("delete step for %s has no resource", s.Kind)
	}
	return nil
}

// IsDestructive checks if the step removes a resource.
func (s *Step) IsDestructive() bool {
	return s.Action == ActionDelete
}

// Plan is an ordered list of steps for one stack.
type Plan struct {
	Stack     string    `json:"stack"`
	Region    string    `json:"region"`
	Steps     []Step    `json:"steps"`
	CreatedAt time.Time `json:"created_at"`
}

// Creates returns the number of create steps.
func (p *Plan) Creates() int {
	return p.count(ActionCreate)
}

// Skips returns the number of skip steps.
func (p *Plan) Skips() int {
	return p.count(ActionSkip)
}

// Deletes returns the number of delete steps.
func (p *Plan) Deletes() int {
	return p.count(ActionDelete)
}

func (p *Plan) count(action string) int {
	n := 0
	for _, s := range p.Steps {
		if s.Action == action {
			n++
		}
	}
	return n
}

// IsNoop reports whether the plan changes nothing.
func (p *Plan) IsNoop() bool {
	return p.Creates() == 0 && p.Deletes() == 0
}
