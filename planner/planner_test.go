package planner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/perusta/config"
	"github.com/yairfalse/perusta/providers"
	"github.com/yairfalse/perusta/state"
	"github.com/yairfalse/perusta/types"
)

// fakeProvisioner answers Exists from a fixed set of keys
type fakeProvisioner struct {
	existing map[string]bool
}

func (f *fakeProvisioner) Create(_ context.Context, _ *config.Stack, _ types.Kind, _ providers.Created) (*types.Resource, error) {
	return nil, nil
}

func (f *fakeProvisioner) Delete(_ context.Context, _ *types.Resource) error { return nil }

func (f *fakeProvisioner) Exists(_ context.Context, resource *types.Resource) (bool, error) {
	return f.existing[resource.Key()], nil
}

func (f *fakeProvisioner) Status(_ context.Context, _ *types.Resource) (string, error) {
	return "ok", nil
}

func (f *fakeProvisioner) Name() string      { return "fake" }
func (f *fakeProvisioner) Region() string    { return "us-east-1" }
func (f *fakeProvisioner) AccountID() string { return "111122223333" }

func testStack() *config.Stack {
	return &config.Stack{
		Version: "v1",
		Name:    "webstack",
		Region:  "us-east-1",
		Instance: config.Instance{
			Type: "t2.micro",
			AMI:  "ami-0123456789abcdef0",
		},
		Logging: config.Logging{
			Group:         "csye6225",
			RetentionDays: 7,
			Streams: []config.StreamSpec{
				{FilePath: "/var/log/nginx/access.log", StreamName: "access.log"},
			},
		},
		Web: config.Web{
			TemplateURL: "https://www.tooplate.com/zip-templates/2137_barista_cafe.zip",
			DocRoot:     "/usr/share/nginx/html",
		},
		Network: config.Network{
			SSHCIDR:  "0.0.0.0/0",
			HTTPPort: 80,
		},
	}
}

func openStore(t *testing.T) *state.Store {
	t.Helper()
	store, err := state.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func recordResource(t *testing.T, store *state.Store, stack string, kind types.Kind, name string) *types.Resource {
	t.Helper()
	resource := &types.Resource{
		Kind:      kind,
		ID:        name + "-id",
		Name:      name,
		Stack:     stack,
		Region:    "us-east-1",
		Status:    "active",
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.Record(resource))
	return resource
}

func TestPlanApplyFreshStack(t *testing.T) {
	store := openStore(t)
	planner := New(store, &fakeProvisioner{existing: map[string]bool{}})

	plan, err := planner.PlanApply(context.Background(), testStack())
	require.NoError(t, err)

	// No S3 artifact and no DNS in the base stack
	assert.Len(t, plan.Steps, 6)
	assert.Equal(t, 6, plan.Creates())
	assert.Equal(t, 0, plan.Skips())

	assert.Equal(t, types.KindRole, plan.Steps[0].Kind)
	assert.Equal(t, types.KindInstance, plan.Steps[len(plan.Steps)-1].Kind)
	for _, step := range plan.Steps {
		assert.Equal(t, "not in state", step.Reason)
	}
}

func TestPlanApplyOptionalKinds(t *testing.T) {
	stack := testStack()
	stack.Web.TemplateURL = ""
	stack.Web.TemplateS3 = &config.S3Ref{Bucket: "site-bucket", Key: "site.zip"}
	stack.DNS = &config.DNS{ZoneID: "Z123", RecordName: "web.example.com", TTL: 60}

	store := openStore(t)
	planner := New(store, &fakeProvisioner{existing: map[string]bool{}})

	plan, err := planner.PlanApply(context.Background(), stack)
	require.NoError(t, err)

	assert.Len(t, plan.Steps, 8)
	kinds := make([]types.Kind, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		kinds = append(kinds, step.Kind)
	}
	assert.Contains(t, kinds, types.KindSiteArtifact)
	assert.Equal(t, types.KindDNSRecord, kinds[len(kinds)-1])
}

func TestPlanApplySkipsProvisioned(t *testing.T) {
	stack := testStack()
	store := openStore(t)

	role := recordResource(t, store, stack.Name, types.KindRole, "webstack-role")
	planner := New(store, &fakeProvisioner{existing: map[string]bool{role.Key(): true}})

	plan, err := planner.PlanApply(context.Background(), stack)
	require.NoError(t, err)

	assert.Equal(t, types.ActionSkip, plan.Steps[0].Action)
	assert.Equal(t, "already provisioned", plan.Steps[0].Reason)
	require.NotNil(t, plan.Steps[0].Resource)
	assert.Equal(t, role.ID, plan.Steps[0].Resource.ID)
	assert.Equal(t, 5, plan.Creates())
}

func TestPlanApplyRecreatesMissing(t *testing.T) {
	stack := testStack()
	store := openStore(t)

	// Recorded but gone from the cloud
	recordResource(t, store, stack.Name, types.KindLogGroup, "csye6225")
	planner := New(store, &fakeProvisioner{existing: map[string]bool{}})

	plan, err := planner.PlanApply(context.Background(), stack)
	require.NoError(t, err)

	var logStep *types.Step
	for i := range plan.Steps {
		if plan.Steps[i].Kind == types.KindLogGroup {
			logStep = &plan.Steps[i]
		}
	}
	require.NotNil(t, logStep)
	assert.Equal(t, types.ActionCreate, logStep.Action)
	assert.Equal(t, "recorded but missing in cloud", logStep.Reason)
}

func TestPlanDestroyReverseOrder(t *testing.T) {
	stack := testStack()
	store := openStore(t)

	role := recordResource(t, store, stack.Name, types.KindRole, "webstack-role")
	group := recordResource(t, store, stack.Name, types.KindSecurityGroup, "webstack-sg")
	instance := recordResource(t, store, stack.Name, types.KindInstance, "webstack-web")

	existing := map[string]bool{
		role.Key():     true,
		group.Key():    true,
		instance.Key(): true,
	}
	planner := New(store, &fakeProvisioner{existing: existing})

	plan, err := planner.PlanDestroy(context.Background(), stack)
	require.NoError(t, err)

	require.Len(t, plan.Steps, 3)
	assert.Equal(t, types.KindInstance, plan.Steps[0].Kind)
	assert.Equal(t, types.KindSecurityGroup, plan.Steps[1].Kind)
	assert.Equal(t, types.KindRole, plan.Steps[2].Kind)
	assert.Equal(t, 3, plan.Deletes())
}

func TestPlanDestroySkipsGone(t *testing.T) {
	stack := testStack()
	store := openStore(t)

	recordResource(t, store, stack.Name, types.KindRole, "webstack-role")
	planner := New(store, &fakeProvisioner{existing: map[string]bool{}})

	plan, err := planner.PlanDestroy(context.Background(), stack)
	require.NoError(t, err)

	require.Len(t, plan.Steps, 1)
	assert.Equal(t, types.ActionSkip, plan.Steps[0].Action)
	assert.Equal(t, "already gone", plan.Steps[0].Reason)
}

func TestPlanDestroyEmptyState(t *testing.T) {
	store := openStore(t)
	planner := New(store, &fakeProvisioner{existing: map[string]bool{}})

	plan, err := planner.PlanDestroy(context.Background(), testStack())
	require.NoError(t, err)
	assert.True(t, plan.IsNoop())
}
