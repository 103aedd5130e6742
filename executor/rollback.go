package executor

import (
	"context"

	"github.com/yairfalse/perusta/types"
	"github.com/yairfalse/perusta/wal"
)

// rollback deletes the resources this run created, newest first.
// Resources confirmed from earlier runs are left alone.
func (e *Engine) rollback(ctx context.Context, stackName string, thisRun []*types.Resource, result *Result) {
	if len(thisRun) == 0 {
		return
	}

	e.logger.Warn().
		Int("resources", len(thisRun)).
		Msg("rolling back this run's creations")

	for i := len(thisRun) - 1; i >= 0; i-- {
		resource := thisRun[i]

		if err := e.provisioner.Delete(ctx, resource); err != nil {
			e.logger.Error().Err(err).
				Str("kind", string(resource.Kind)).
				Str("id", resource.ID).
				Msg("rollback delete failed, resource left in place")
			_ = e.wal.AppendError(wal.EntryFailed, stackName, resource.ID, resource, err)
			continue
		}

		if err := e.store.Remove(resource.Stack, resource.Kind); err != nil {
			e.logger.Warn().Err(err).Str("id", resource.ID).Msg("failed to drop rolled-back state entry")
		}
		_ = e.wal.Append(wal.EntryRolledBack, stackName, resource.ID, resource)

		result.RolledBackCount++
		if markRolledBack(result, resource.ID) {
			result.SuccessfulCount--
		}
	}

	result.RolledBack = true
}

// markRolledBack flips the recorded step result for a resource
func markRolledBack(result *Result, resourceID string) bool {
	for i := range result.Results {
		if result.Results[i].ResourceID == resourceID {
			result.Results[i].Status = StatusRolledBack
			return true
		}
	}
	return false
}
