package castellan_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan-ai/castellan"
	"github.com/castellan-ai/castellan/capability"
	"github.com/castellan-ai/castellan/internal/executor"
	"github.com/castellan-ai/castellan/internal/logging"
	"github.com/castellan-ai/castellan/internal/planner"
	"github.com/castellan-ai/castellan/internal/synthesizer"
	"github.com/castellan-ai/castellan/internal/tracesink"
	"github.com/castellan-ai/castellan/internal/validator"
)

// scriptedClient replays a fixed sequence of completion replies: first the
// planner call, then the synthesizer call.
type scriptedClient struct {
	replies []string
	calls   int
}

func (c *scriptedClient) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxOutputTokens int) (string, error) {
	if c.calls >= len(c.replies) {
		return "", fmt.Errorf("unexpected completion call %d", c.calls)
	}
	reply := c.replies[c.calls]
	c.calls++
	return reply, nil
}

type scriptedAgent struct {
	name string
	ops  map[string]castellan.AgentOperation
}

func (a *scriptedAgent) Name() string                                    { return a.name }
func (a *scriptedAgent) Operations() map[string]castellan.AgentOperation { return a.ops }

func commitsAgent(t *testing.T) castellan.Agent {
	t.Helper()
	return &scriptedAgent{
		name: "SourceControl",
		ops: map[string]castellan.AgentOperation{
			"ListCommits": func(ctx context.Context, args map[string]any) (*castellan.AgentResult, error) {
				require.Equal(t, "acme/api", args["repo"])
				require.Equal(t, "main", args["branch"])
				return &castellan.AgentResult{
					Payload: map[string]any{"commits": []map[string]any{
						{"sha": "abc123", "message": "fix pagination", "author": "Dev One"},
						{"sha": "def456", "message": "bump deps", "author": "Dev Two"},
					}},
					Warnings: []string{"branch protection disabled"},
				}, nil
			},
		},
	}
}

func newRuntime(t *testing.T, client castellan.CompletionClient, sink castellan.TraceSink, agents ...castellan.Agent) *castellan.Castellan {
	t.Helper()
	registry := capability.Default()

	v, err := validator.New(registry)
	require.NoError(t, err)
	exec, err := executor.New(agents)
	require.NoError(t, err)

	options := []castellan.Option{
		castellan.WithPlanner(planner.New(client, registry)),
		castellan.WithValidator(v),
		castellan.WithExecutor(exec),
		castellan.WithSynthesizer(synthesizer.New(client)),
		castellan.WithLogger(logging.Nop{}),
	}
	if sink != nil {
		options = append(options, castellan.WithTraceSink(sink))
	}

	runtime, err := castellan.New(options...)
	require.NoError(t, err)
	t.Cleanup(func() { runtime.Close() })
	return runtime
}

const planReply = `[{"step_id": 1, "provider": "SourceControl", "operation": "ListCommits", "args": {"repo": "acme/api", "branch": "main", "limit": 2, "verbose": true}}]`

const synthesisReply = `{"final_result": {"kind": "text", "content": {"text": "Two commits on main: abc123 and def456."}}, "warnings": []}`

func TestExecuteEndToEnd(t *testing.T) {
	client := &scriptedClient{replies: []string{planReply, synthesisReply}}
	sink := tracesink.NewMemorySink()
	runtime := newRuntime(t, client, sink, commitsAgent(t))

	response, err := runtime.Execute(context.Background(), castellan.TaskRequest{
		Task: "list the two most recent commits on main in acme/api",
	})
	require.NoError(t, err)
	require.NotNil(t, response)
	assert.NotEmpty(t, response.RequestID)

	// The validated plan dropped the undeclared "verbose" argument.
	require.Len(t, response.Plan, 1)
	assert.NotContains(t, response.Plan[0].Args, "verbose")
	assert.Equal(t, 2, response.Plan[0].Args["limit"])

	require.Len(t, response.Trace, 1)
	assert.Contains(t, response.Trace[0].ResponseSummary, "abc123")
	assert.Equal(t, []string{"branch protection disabled"}, response.Trace[0].Warnings)
	assert.Contains(t, response.Warnings, "branch protection disabled")

	assert.Equal(t, castellan.FinalResultText, response.FinalResult.Kind)
	assert.Contains(t, response.FinalResult.Content["text"], "abc123")

	// Response was persisted under its request ID.
	stored, err := sink.Load(context.Background(), response.RequestID)
	require.NoError(t, err)
	assert.Equal(t, response.Task, stored.Task)

	assert.Equal(t, 2, client.calls)
}

func TestExecuteValidationFailure(t *testing.T) {
	badPlan := `[{"step_id": 1, "provider": "Mainframe", "operation": "Reboot", "args": {}}]`
	client := &scriptedClient{replies: []string{badPlan}}
	runtime := newRuntime(t, client, nil, commitsAgent(t))

	_, err := runtime.Execute(context.Background(), castellan.TaskRequest{Task: "reboot the mainframe"})
	require.Error(t, err)
	assert.True(t, castellan.IsCode(err, castellan.ErrCodePlanValidation))
	// The synthesizer was never consulted.
	assert.Equal(t, 1, client.calls)
}

func TestExecuteFailFastKeepsPartialTrace(t *testing.T) {
	threeStepPlan := `[
		{"step_id": 1, "provider": "SourceControl", "operation": "ListCommits", "args": {"repo": "acme/api", "branch": "main"}},
		{"step_id": 2, "provider": "IssueTracker", "operation": "GetIssue", "args": {"issue_key": "PLAT-42"}},
		{"step_id": 3, "provider": "SourceControl", "operation": "ListCommits", "args": {"repo": "acme/api", "branch": "main"}}
	]`
	client := &scriptedClient{replies: []string{threeStepPlan}}

	failingTracker := &scriptedAgent{
		name: "IssueTracker",
		ops: map[string]castellan.AgentOperation{
			"GetIssue": func(ctx context.Context, args map[string]any) (*castellan.AgentResult, error) {
				return nil, castellan.NewAgentError("IssueTracker", "GetIssue", "issue not found", nil)
			},
		},
	}
	runtime := newRuntime(t, client, nil, commitsAgent(t), failingTracker)

	_, err := runtime.Execute(context.Background(), castellan.TaskRequest{Task: "commits then issue then commits"})
	require.Error(t, err)
	assert.True(t, castellan.IsCode(err, castellan.ErrCodeTaskExecution))

	// Step 3 never ran: the error carries the failed step's entry.
	var runtimeErr *castellan.Error
	require.True(t, errors.As(err, &runtimeErr))
	require.NotNil(t, runtimeErr.Entry)
	assert.Equal(t, 2, runtimeErr.Entry.StepID)
	assert.Contains(t, runtimeErr.Entry.ResponseSummary, "issue not found")
}

type failingSink struct{}

func (failingSink) Save(ctx context.Context, response *castellan.TaskResponse) error {
	return errors.New("disk full")
}

func TestExecuteSinkFailureIsSwallowed(t *testing.T) {
	client := &scriptedClient{replies: []string{planReply, synthesisReply}}
	runtime := newRuntime(t, client, failingSink{}, commitsAgent(t))

	response, err := runtime.Execute(context.Background(), castellan.TaskRequest{Task: "list commits"})
	require.NoError(t, err)
	require.NotNil(t, response)
	assert.Equal(t, castellan.FinalResultText, response.FinalResult.Kind)
}

func TestNewRequiresComponents(t *testing.T) {
	_, err := castellan.New()
	require.Error(t, err)
	assert.True(t, castellan.IsCode(err, castellan.ErrCodeConfiguration))
}

func TestAsyncStatusWhileStepRunning(t *testing.T) {
	client := &scriptedClient{replies: []string{planReply, synthesisReply}}

	stepStarted := make(chan struct{})
	releaseStep := make(chan struct{})
	slowAgent := &scriptedAgent{
		name: "SourceControl",
		ops: map[string]castellan.AgentOperation{
			"ListCommits": func(ctx context.Context, args map[string]any) (*castellan.AgentResult, error) {
				close(stepStarted)
				<-releaseStep
				return &castellan.AgentResult{Payload: map[string]any{"commits": []string{"abc123"}}}, nil
			},
		},
	}
	runtime := newRuntime(t, client, nil, slowAgent)

	id, err := runtime.ExecuteAsync(context.Background(), castellan.TaskRequest{Task: "list commits"})
	require.NoError(t, err)

	<-stepStarted
	// The run is mid-execution; status reads must be safe against the state
	// machine's concurrent writes.
	for i := 0; i < 100; i++ {
		status, err := runtime.GetAsyncStatus(id)
		require.NoError(t, err)
		assert.False(t, status.IsComplete)
		_, err = runtime.GetAsyncResult(id)
		assert.Error(t, err)
	}
	status, err := runtime.GetAsyncStatus(id)
	require.NoError(t, err)
	assert.Equal(t, castellan.StateExecution, status.CurrentState)

	close(releaseStep)
	deadline := time.Now().Add(5 * time.Second)
	for {
		status, err := runtime.GetAsyncStatus(id)
		require.NoError(t, err)
		if status.IsComplete {
			break
		}
		require.False(t, status.HasError, "run failed: %s", status.ErrorMessage)
		if time.Now().After(deadline) {
			t.Fatal("async run did not complete in time")
		}
		time.Sleep(5 * time.Millisecond)
	}

	response, err := runtime.GetAsyncResult(id)
	require.NoError(t, err)
	assert.NotNil(t, response)
	require.NoError(t, runtime.ReleaseAsync(id))
}

func TestExecuteAsyncLifecycle(t *testing.T) {
	client := &scriptedClient{replies: []string{planReply, synthesisReply}}
	runtime := newRuntime(t, client, nil, commitsAgent(t))

	id, err := runtime.ExecuteAsync(context.Background(), castellan.TaskRequest{Task: "list commits"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	deadline := time.Now().Add(5 * time.Second)
	for {
		status, err := runtime.GetAsyncStatus(id)
		require.NoError(t, err)
		if status.IsComplete {
			break
		}
		require.False(t, status.HasError, "run failed: %s", status.ErrorMessage)
		if time.Now().After(deadline) {
			t.Fatal("async run did not complete in time")
		}
		time.Sleep(10 * time.Millisecond)
	}

	response, err := runtime.GetAsyncResult(id)
	require.NoError(t, err)
	assert.Equal(t, castellan.FinalResultText, response.FinalResult.Kind)

	require.NoError(t, runtime.ReleaseAsync(id))
	_, err = runtime.GetAsyncStatus(id)
	assert.Error(t, err)
}
