package worker

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/ahrav/go-charstates/internal/activity"
	"github.com/ahrav/go-charstates/internal/domain"
	"github.com/ahrav/go-charstates/internal/llm/fake"
	"github.com/ahrav/go-charstates/internal/orchestrator"
	"github.com/ahrav/go-charstates/internal/retry"
	"github.com/ahrav/go-charstates/internal/workflow"
	baseactivity "github.com/ahrav/go-charstates/pkg/activity"
)

func TestRegisterAllRunsWorkflowByName(t *testing.T) {
	policy, err := retry.NewPolicy(retry.DefaultConfig())
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	runner, err := orchestrator.NewTaskRunner(&fake.Extractor{}, &fake.Evaluator{}, policy, orchestrator.WithLogger(logger))
	require.NoError(t, err)
	acts := activity.NewActivities(baseactivity.NewBase(nil, logger), runner, nil)

	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()
	RegisterAll(env, acts)

	env.ExecuteWorkflow(WorkflowName, workflow.ExtractionRequest{Range: domain.ItemRange{Start: 1, End: 2}})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var res domain.RunResult
	require.NoError(t, env.GetWorkflowResult(&res))
	assert.Equal(t, []domain.ItemIndex{1, 2}, res.AcceptedIndices())
	assert.Empty(t, res.Failed)
}
