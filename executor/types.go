package executor

import (
	"time"

	"github.com/yairfalse/perusta/types"
)

// StepStatus tracks the status of a single plan step
type StepStatus string

const (
	StatusSuccess    StepStatus = "success"
	StatusFailed     StepStatus = "failed"
	StatusSkipped    StepStatus = "skipped"
	StatusRolledBack StepStatus = "rolled_back"
)

// StepResult contains the outcome of executing one plan step
type StepResult struct {
	Step       types.Step    `json:"step"`
	Status     StepStatus    `json:"status"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
	ResourceID string        `json:"resource_id,omitempty"`
}

// Result contains the outcome of executing a whole plan
type Result struct {
	Stack           string        `json:"stack"`
	StartTime       time.Time     `json:"start_time"`
	EndTime         time.Time     `json:"end_time"`
	Duration        time.Duration `json:"duration"`
	TotalSteps      int           `json:"total_steps"`
	SuccessfulCount int           `json:"successful_count"`
	FailedCount     int           `json:"failed_count"`
	SkippedCount    int           `json:"skipped_count"`
	RolledBackCount int           `json:"rolled_back_count"`
	Results         []StepResult  `json:"results"`
	RolledBack      bool          `json:"rolled_back"`
}

// Failed reports whether any step failed
func (r *Result) Failed() bool {
	return r.FailedCount > 0
}

// Options configure executor behavior
type Options struct {
	DryRun            bool          `json:"dry_run"`
	Timeout           time.Duration `json:"timeout"`
	AllowDestructive  bool          `json:"allow_destructive"`
	ContinueOnFailure bool          `json:"continue_on_failure"`
	RollbackOnFailure bool          `json:"rollback_on_failure"`
}
