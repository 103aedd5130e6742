package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yairfalse/perusta/executor"
	"github.com/yairfalse/perusta/policy"
	"github.com/yairfalse/perusta/types"
)

func TestPrintPlan(t *testing.T) {
	plan := &types.Plan{
		Stack:  "webstack",
		Region: "us-east-1",
		Steps: []types.Step{
			{Action: types.ActionCreate, Kind: types.KindRole, Name: "webstack-role", Reason: "not in state"},
			{Action: types.ActionSkip, Kind: types.KindLogGroup, Name: "csye6225", Reason: "already provisioned"},
		},
		CreatedAt: time.Now(),
	}

	var buf bytes.Buffer
	printPlan(&buf, plan)

	out := buf.String()
	assert.Contains(t, out, "webstack-role")
	assert.Contains(t, out, "not in state")
	assert.Contains(t, out, "1 to create, 0 to delete, 1 unchanged")
}

func TestPrintResult(t *testing.T) {
	result := &executor.Result{
		Stack:           "webstack",
		SuccessfulCount: 1,
		FailedCount:     1,
		Duration:        3 * time.Second,
		Results: []executor.StepResult{
			{
				Step:       types.Step{Kind: types.KindRole, Name: "webstack-role"},
				Status:     executor.StatusSuccess,
				ResourceID: "role-arn",
			},
			{
				Step:   types.Step{Kind: types.KindInstance, Name: "webstack-web"},
				Status: executor.StatusFailed,
				Error:  "capacity exceeded",
			},
		},
	}

	var buf bytes.Buffer
	printResult(&buf, result)

	out := buf.String()
	assert.Contains(t, out, "capacity exceeded")
	assert.Contains(t, out, "1 succeeded, 1 failed")
}

func TestPrintDenials(t *testing.T) {
	check := &policy.CheckResult{
		Allowed: false,
		Denials: []policy.Denial{
			{Policy: "builtin.rego", Message: "log retention must be at least 1 day"},
		},
	}

	var buf bytes.Buffer
	printDenials(&buf, check)

	assert.Contains(t, buf.String(), "builtin.rego")
	assert.Contains(t, buf.String(), "retention")
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"yes", "yes\n", true},
		{"yes uppercase", "YES\n", true},
		{"no", "no\n", false},
		{"y is not enough", "y\n", false},
		{"empty", "\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got := confirm(strings.NewReader(tt.input), &out, "Proceed?")
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "Proceed?")
		})
	}
}
