// Package policy gates plans behind Rego rules before anything
// touches the cloud.
package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/perusta/config"
	"github.com/yairfalse/perusta/telemetry"
	"github.com/yairfalse/perusta/types"
)

// Engine evaluates Rego policies against a plan before execution
type Engine struct {
	logger  *telemetry.Logger
	tracer  trace.Tracer
	queries map[string]rego.PreparedEvalQuery
}

// Input is the document handed to every policy evaluation
type Input struct {
	Stack     StackInput   `json:"stack"`
	Steps     []types.Step `json:"steps"`
	Timestamp time.Time    `json:"timestamp"`
}

// StackInput is the policy-visible view of the stack config
type StackInput struct {
	Name          string            `json:"name"`
	Region        string            `json:"region"`
	InstanceType  string            `json:"instance_type"`
	SSHCIDR       string            `json:"ssh_cidr"`
	HTTPPort      int32             `json:"http_port"`
	RetentionDays int32             `json:"retention_days"`
	Tags          map[string]string `json:"tags"`
}

// Denial is one policy violation
type Denial struct {
	Policy  string `json:"policy"`
	Message string `json:"message"`
}

// CheckResult aggregates all policy evaluations for a plan
type CheckResult struct {
	Allowed bool     `json:"allowed"`
	Denials []Denial `json:"denials,omitempty"`
}

// NewEngine creates a policy engine
func NewEngine() *Engine {
	return &Engine{
		logger:  telemetry.NewLogger("policy-engine"),
		tracer:  otel.Tracer("policy-engine"),
		queries: make(map[string]rego.PreparedEvalQuery),
	}
}

// LoadPolicy compiles a Rego policy and registers it by name
func (e *Engine) LoadPolicy(ctx context.Context, name string, regoCode string) error {
	ctx, span := e.tracer.Start(ctx, "policy_engine.load_policy",
		trace.WithAttributes(attribute.String("policy.name", name)))
	defer span.End()

	query := rego.New(
		rego.Query("data.perusta.deny"),
		rego.Module(name, regoCode),
	)

	prepared, err := query.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to compile policy %s: %w", name, err)
	}

	e.queries[name] = prepared

	e.logger.WithContext(ctx).Info().
		Str("policy_name", name).
		Msg("policy loaded")

	return nil
}

// LoadBuiltin registers the default guardrail policy
func (e *Engine) LoadBuiltin(ctx context.Context) error {
	return e.LoadPolicy(ctx, "builtin.rego", builtinPolicy)
}

// LoadDir loads every .rego file under dir
func (e *Engine) LoadDir(ctx context.Context, dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("policy path does not exist: %s", dir)
	}

	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !strings.HasSuffix(path, ".rego") {
			return nil
		}

		source, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read policy %s: %w", path, err)
		}
		return e.LoadPolicy(ctx, filepath.Base(path), string(source))
	})
}

// Check evaluates all loaded policies against the plan
func (e *Engine) Check(ctx context.Context, stack *config.Stack, plan *types.Plan) (*CheckResult, error) {
	ctx, span := e.tracer.Start(ctx, "policy_engine.check",
		trace.WithAttributes(
			attribute.String("stack", stack.Name),
			attribute.Int("steps", len(plan.Steps))))
	defer span.End()

	input := buildInput(stack, plan)
	result := &CheckResult{Allowed: true}

	for policyName, query := range e.queries {
		messages, err := e.evaluatePolicy(ctx, query, input)
		if err != nil {
			return nil, fmt.Errorf("policy %s evaluation failed: %w", policyName, err)
		}

		for _, message := range messages {
			result.Allowed = false
			result.Denials = append(result.Denials, Denial{
				Policy:  policyName,
				Message: message,
			})
		}
	}

	e.logger.WithContext(ctx).Info().
		Str("stack", stack.Name).
		Bool("allowed", result.Allowed).
		Int("denials", len(result.Denials)).
		Msg("policy check complete")

	return result, nil
}

// evaluatePolicy runs one prepared query and collects deny messages
func (e *Engine) evaluatePolicy(ctx context.Context, query rego.PreparedEvalQuery, input Input) ([]string, error) {
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var messages []string
	for _, res := range results {
		for _, expr := range res.Expressions {
			values, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, value := range values {
				if message, ok := value.(string); ok {
					messages = append(messages, message)
				}
			}
		}
	}
	return messages, nil
}

func buildInput(stack *config.Stack, plan *types.Plan) Input {
	return Input{
		Stack: StackInput{
			Name:          stack.Name,
			Region:        stack.Region,
			InstanceType:  stack.Instance.Type,
			SSHCIDR:       stack.Network.SSHCIDR,
			HTTPPort:      stack.Network.HTTPPort,
			RetentionDays: stack.Logging.RetentionDays,
			Tags:          stack.Tags,
		},
		Steps:     plan.Steps,
		Timestamp: time.Now(),
	}
}
