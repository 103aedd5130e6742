// Package planner diffs the declared stack against recorded state and
// produces the ordered step list that apply and destroy execute.
package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/yairfalse/perusta/config"
	"github.com/yairfalse/perusta/providers"
	"github.com/yairfalse/perusta/state"
	"github.com/yairfalse/perusta/types"
)

// Planner builds plans from desired stack config and recorded state
type Planner struct {
	store       *state.Store
	provisioner providers.StackProvisioner
}

// New creates a planner
func New(store *state.Store, provisioner providers.StackProvisioner) *Planner {
	return &Planner{store: store, provisioner: provisioner}
}

// stackKinds returns the kinds this stack needs, in provision order
func stackKinds(stack *config.Stack) []types.Kind {
	var kinds []types.Kind
	for _, kind := range types.ProvisionOrder {
		switch kind {
		case types.KindSiteArtifact:
			if stack.Web.TemplateS3 == nil {
				continue
			}
		case types.KindDNSRecord:
			if stack.DNS == nil {
				continue
			}
		}
		kinds = append(kinds, kind)
	}
	return kinds
}

// PlanApply builds the create/skip plan for a stack
func (p *Planner) PlanApply(ctx context.Context, stack *config.Stack) (*types.Plan, error) {
	plan := &types.Plan{
		Stack:     stack.Name,
		Region:    stack.Region,
		CreatedAt: time.Now(),
	}

	for _, kind := range stackKinds(stack) {
		step, err := p.planKind(ctx, stack, kind)
		if err != nil {
			return nil, err
		}
		plan.Steps = append(plan.Steps, step)
	}

	return plan, nil
}

// planKind decides create vs skip for one resource kind
func (p *Planner) planKind(ctx context.Context, stack *config.Stack, kind types.Kind) (types.Step, error) {
	name := resourceName(stack, kind)

	recorded, ok := p.store.Get(stack.Name, kind)
	if !ok {
		return types.Step{
			Action: types.ActionCreate,
			Kind:   kind,
			Name:   name,
			Reason: "not in state",
		}, nil
	}

	exists, err := p.provisioner.Exists(ctx, recorded)
	if err != nil {
		return types.Step{}, fmt.Errorf("failed to check %s %s: %w", kind, recorded.Name, err)
	}
	if !exists {
		return types.Step{
			Action: types.ActionCreate,
			Kind:   kind,
			Name:   name,
			Reason: "recorded but missing in cloud",
		}, nil
	}

	return types.Step{
		Action:   types.ActionSkip,
		Kind:     kind,
		Name:     recorded.Name,
		Reason:   "already provisioned",
		Resource: recorded,
	}, nil
}

// PlanDestroy builds the reverse-order delete plan from recorded state
func (p *Planner) PlanDestroy(ctx context.Context, stack *config.Stack) (*types.Plan, error) {
	plan := &types.Plan{
		Stack:     stack.Name,
		Region:    stack.Region,
		CreatedAt: time.Now(),
	}

	recorded := p.store.ListStack(stack.Name)

	// Teardown runs the provision chain backwards
	for i := len(recorded) - 1; i >= 0; i-- {
		resource := recorded[i]

		exists, err := p.provisioner.Exists(ctx, &resource)
		if err != nil {
			return nil, fmt.Errorf("failed to check %s %s: %w", resource.Kind, resource.Name, err)
		}
		if !exists {
			plan.Steps = append(plan.Steps, types.Step{
				Action:   types.ActionSkip,
				Kind:     resource.Kind,
				Name:     resource.Name,
				Reason:   "already gone",
				Resource: &resource,
			})
			continue
		}

		plan.Steps = append(plan.Steps, types.Step{
			Action:   types.ActionDelete,
			Kind:     resource.Kind,
			Name:     resource.Name,
			Reason:   "stack destroy",
			Resource: &resource,
		})
	}

	return plan, nil
}

// resourceName derives the display name a create step will use
func resourceName(stack *config.Stack, kind types.Kind) string {
	switch kind {
	case types.KindRole:
		return stack.ResourceName("role")
	case types.KindPolicyAttachment:
		return stack.ResourceName("agent-policy")
	case types.KindInstanceProfile:
		return stack.ResourceName("profile")
	case types.KindLogGroup:
		return stack.Logging.Group
	case types.KindSecurityGroup:
		return stack.ResourceName("sg")
	case types.KindSiteArtifact:
		return stack.ResourceName("site-artifact")
	case types.KindInstance:
		return stack.ResourceName("web")
	case types.KindDNSRecord:
		if stack.DNS != nil {
			return stack.DNS.RecordName
		}
		return stack.ResourceName("record")
	default:
		return stack.ResourceName(string(kind))
	}
}
