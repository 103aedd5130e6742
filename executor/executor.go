// Package executor walks a plan step by step against a provisioner,
// recording every transition in state and the WAL.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/yairfalse/perusta/config"
	"github.com/yairfalse/perusta/providers"
	"github.com/yairfalse/perusta/state"
	"github.com/yairfalse/perusta/types"
	"github.com/yairfalse/perusta/wal"
)

// Engine executes plans against a cloud provisioner
type Engine struct {
	provisioner providers.StackProvisioner
	store       *state.Store
	wal         *wal.WAL
	options     Options
	logger      zerolog.Logger
}

// NewEngine creates an executor engine
func NewEngine(
	provisioner providers.StackProvisioner,
	store *state.Store,
	walInstance *wal.WAL,
	options Options,
	logger zerolog.Logger,
) *Engine {
	if options.Timeout == 0 {
		options.Timeout = 15 * time.Minute
	}
	return &Engine{
		provisioner: provisioner,
		store:       store,
		wal:         walInstance,
		options:     options,
		logger:      logger.With().Str("component", "executor").Logger(),
	}
}

// Apply executes an apply plan in order, rolling back this run's
// creations on failure when configured
func (e *Engine) Apply(ctx context.Context, stack *config.Stack, plan *types.Plan) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.options.Timeout)
	defer cancel()

	result := newResult(plan)

	if !e.options.DryRun {
		if err := e.wal.Append(wal.EntryPlanned, plan.Stack, "", plan); err != nil {
			return nil, fmt.Errorf("failed to log plan: %w", err)
		}
	}

	// Resources created or confirmed this run, handed to later steps
	created := make(providers.Created)
	var thisRun []*types.Resource

	for _, step := range plan.Steps {
		if step.Action == types.ActionSkip {
			e.recordSkip(result, step)
			if step.Resource != nil {
				created[step.Kind] = step.Resource
			}
			continue
		}

		stepResult := e.applyStep(ctx, stack, step, created)
		result.Results = append(result.Results, stepResult)

		if stepResult.Status == StatusSuccess {
			result.SuccessfulCount++
			thisRun = append(thisRun, created[step.Kind])
			continue
		}
		if stepResult.Status == StatusSkipped {
			result.SkippedCount++
			continue
		}

		result.FailedCount++
		if e.options.ContinueOnFailure {
			continue
		}

		if e.options.RollbackOnFailure {
			e.rollback(ctx, plan.Stack, thisRun, result)
		}
		break
	}

	finishResult(result)
	return result, nil
}

// applyStep creates one resource and records it
func (e *Engine) applyStep(ctx context.Context, stack *config.Stack, step types.Step, created providers.Created) StepResult {
	stepResult := StepResult{
		Step:      step,
		StartTime: time.Now(),
	}

	e.logger.Info().
		Str("kind", string(step.Kind)).
		Str("name", step.Name).
		Str("reason", step.Reason).
		Msg("creating resource")

	if e.options.DryRun {
		stepResult.Status = StatusSkipped
		finishStep(&stepResult)
		return stepResult
	}

	if err := e.wal.Append(wal.EntryCreating, stack.Name, step.Name, step); err != nil {
		return failStep(stepResult, err)
	}

	resource, err := e.provisioner.Create(ctx, stack, step.Kind, created)
	if err != nil {
		e.logger.Error().Err(err).
			Str("kind", string(step.Kind)).
			Str("name", step.Name).
			Msg("create failed")
		_ = e.wal.AppendError(wal.EntryFailed, stack.Name, step.Name, step, err)
		return failStep(stepResult, err)
	}

	if err := e.store.Record(resource); err != nil {
		return failStep(stepResult, fmt.Errorf("created %s but failed to record state: %w", resource.ID, err))
	}
	if err := e.wal.Append(wal.EntryCreated, stack.Name, resource.ID, resource); err != nil {
		return failStep(stepResult, err)
	}

	created[step.Kind] = resource
	stepResult.Status = StatusSuccess
	stepResult.ResourceID = resource.ID
	finishStep(&stepResult)
	return stepResult
}

// Destroy executes a destroy plan
func (e *Engine) Destroy(ctx context.Context, plan *types.Plan) (*Result, error) {
	if plan.Deletes() > 0 && !e.options.AllowDestructive {
		return nil, fmt.Errorf("plan deletes %d resources but destructive operations are not allowed", plan.Deletes())
	}

	ctx, cancel := context.WithTimeout(ctx, e.options.Timeout)
	defer cancel()

	result := newResult(plan)

	if !e.options.DryRun {
		if err := e.wal.Append(wal.EntryPlanned, plan.Stack, "", plan); err != nil {
			return nil, fmt.Errorf("failed to log plan: %w", err)
		}
	}

	for _, step := range plan.Steps {
		if step.Action == types.ActionSkip {
			e.recordSkip(result, step)
			// Recorded but already gone, drop it from state
			if step.Resource != nil && !e.options.DryRun {
				if err := e.store.Remove(step.Resource.Stack, step.Kind); err != nil {
					e.logger.Warn().Err(err).Str("kind", string(step.Kind)).Msg("failed to drop stale state entry")
				}
			}
			continue
		}

		stepResult := e.destroyStep(ctx, plan.Stack, step)
		result.Results = append(result.Results, stepResult)

		if stepResult.Status == StatusSuccess {
			result.SuccessfulCount++
			continue
		}
		if stepResult.Status == StatusSkipped {
			result.SkippedCount++
			continue
		}

		result.FailedCount++
		if !e.options.ContinueOnFailure {
			break
		}
	}

	finishResult(result)
	return result, nil
}

// destroyStep deletes one resource and drops its state record
func (e *Engine) destroyStep(ctx context.Context, stackName string, step types.Step) StepResult {
	stepResult := StepResult{
		Step:      step,
		StartTime: time.Now(),
	}

	if step.Resource == nil {
		return failStep(stepResult, fmt.Errorf("delete step for %s has no resource", step.Kind))
	}

	e.logger.Info().
		Str("kind", string(step.Kind)).
		Str("name", step.Name).
		Str("id", step.Resource.ID).
		Msg("deleting resource")

	if e.options.DryRun {
		stepResult.Status = StatusSkipped
		finishStep(&stepResult)
		return stepResult
	}

	if err := e.wal.Append(wal.EntryDeleting, stackName, step.Resource.ID, step); err != nil {
		return failStep(stepResult, err)
	}

	if err := e.provisioner.Delete(ctx, step.Resource); err != nil {
		e.logger.Error().Err(err).
			Str("kind", string(step.Kind)).
			Str("id", step.Resource.ID).
			Msg("delete failed")
		_ = e.wal.AppendError(wal.EntryFailed, stackName, step.Resource.ID, step, err)
		return failStep(stepResult, err)
	}

	if err := e.store.Remove(step.Resource.Stack, step.Kind); err != nil {
		return failStep(stepResult, fmt.Errorf("deleted %s but failed to update state: %w", step.Resource.ID, err))
	}
	if err := e.wal.Append(wal.EntryDeleted, stackName, step.Resource.ID, step.Resource); err != nil {
		return failStep(stepResult, err)
	}

	stepResult.Status = StatusSuccess
	stepResult.ResourceID = step.Resource.ID
	finishStep(&stepResult)
	return stepResult
}

func (e *Engine) recordSkip(result *Result, step types.Step) {
	result.SkippedCount++
	result.Results = append(result.Results, StepResult{
		Step:      step,
		Status:    StatusSkipped,
		StartTime: time.Now(),
		EndTime:   time.Now(),
	})
	if !e.options.DryRun {
		_ = e.wal.Append(wal.EntrySkipped, result.Stack, step.Name, step)
	}
}

func newResult(plan *types.Plan) *Result {
	return &Result{
		Stack:      plan.Stack,
		StartTime:  time.Now(),
		TotalSteps: len(plan.Steps),
		Results:    make([]StepResult, 0, len(plan.Steps)),
	}
}

func finishResult(result *Result) {
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
}

func finishStep(stepResult *StepResult) {
	stepResult.EndTime = time.Now()
	stepResult.Duration = stepResult.EndTime.Sub(stepResult.StartTime)
}

func failStep(stepResult StepResult, err error) StepResult {
	stepResult.Status = StatusFailed
	stepResult.Error = err.Error()
	finishStep(&stepResult)
	return stepResult
}
