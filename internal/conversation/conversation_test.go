package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/auto-analyzer/internal/agents"
	"github.com/jonathan/auto-analyzer/internal/llm"
	"github.com/jonathan/auto-analyzer/internal/sandbox"
)

// scriptedClient returns canned replies in order and records what it was sent.
type scriptedClient struct {
	replies  []string
	err      error
	calls    int
	systems  []string
	lastSeen []llm.Message
	closed   bool
}

func (c *scriptedClient) Chat(_ context.Context, system string, history []llm.Message) (string, error) {
	c.systems = append(c.systems, system)
	c.lastSeen = append([]llm.Message(nil), history...)
	if c.err != nil {
		return "", c.err
	}
	if c.calls >= len(c.replies) {
		return "still working", nil
	}
	reply := c.replies[c.calls]
	c.calls++
	return reply, nil
}

func (c *scriptedClient) Close() error {
	c.closed = true
	return nil
}

type fakeExecutor struct {
	runs   [][]sandbox.CodeBlock
	result sandbox.Result
}

func (e *fakeExecutor) Run(_ context.Context, blocks []sandbox.CodeBlock) sandbox.Result {
	e.runs = append(e.runs, blocks)
	return e.result
}

func factoryFor(client llm.Client) ClientFactory {
	return func(context.Context, llm.Settings) (llm.Client, error) { return client, nil }
}

var engineer = agents.Definition{
	Name:          "Data_Engineer",
	Stage:         agents.StageClean,
	SystemMessage: "You clean data.",
}

func TestExchange_ExecutesCodeThenTerminates(t *testing.T) {
	client := &scriptedClient{replies: []string{
		"```python\nprint('cleaning')\n```",
		"Saved cleaned_data.csv. TERMINATE",
	}}
	exec := &fakeExecutor{result: sandbox.Result{ExitCode: 0, Output: "cleaning\n", Ran: 1}}
	runner := NewRunner(factoryFor(client), exec, Options{DefaultAutoReply: "continue"})

	transcript, err := runner.Exchange(context.Background(), engineer, "clean data.csv")
	require.NoError(t, err)

	assert.Equal(t, ReasonTerminated, transcript.Reason)
	assert.Equal(t, 2, transcript.Replies())
	assert.Equal(t, 1, transcript.Executions)
	require.Len(t, exec.runs, 1)
	assert.Equal(t, "print('cleaning')", exec.runs[0][0].Code)

	require.Len(t, transcript.Messages, 4)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "clean data.csv"}, transcript.Messages[0])
	assert.Equal(t, "exitcode: 0 (execution succeeded)\nCode output: cleaning\n", transcript.Messages[2].Content)
	assert.Equal(t, "Saved cleaned_data.csv. TERMINATE", transcript.LastReply())

	assert.Equal(t, []string{"You clean data.", "You clean data."}, client.systems)
	assert.True(t, client.closed)
}

func TestExchange_StopsAtAutoReplyLimit(t *testing.T) {
	client := &scriptedClient{}
	exec := &fakeExecutor{}
	runner := NewRunner(factoryFor(client), exec, Options{MaxAutoReplies: 2, DefaultAutoReply: "continue"})

	transcript, err := runner.Exchange(context.Background(), engineer, "task")
	require.NoError(t, err)

	assert.Equal(t, ReasonMaxAutoReplies, transcript.Reason)
	// task, reply, auto, reply, auto, reply
	assert.Len(t, transcript.Messages, 6)
	assert.Equal(t, 3, transcript.Replies())
	assert.Empty(t, exec.runs)
	assert.Equal(t, "continue", transcript.Messages[2].Content)
}

func TestExchange_DefaultLimit(t *testing.T) {
	client := &scriptedClient{}
	runner := NewRunner(factoryFor(client), &fakeExecutor{}, Options{})

	transcript, err := runner.Exchange(context.Background(), engineer, "task")
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxAutoReplies+1, transcript.Replies())
	assert.NotEmpty(t, transcript.Messages[2].Content, "default auto reply comes from the embedded prompts")
}

func TestExchange_TerminateEndsBeforeExecution(t *testing.T) {
	client := &scriptedClient{replies: []string{"```sh\nmkdir visuals\n```\nTERMINATE"}}
	exec := &fakeExecutor{}
	runner := NewRunner(factoryFor(client), exec, Options{})

	transcript, err := runner.Exchange(context.Background(), engineer, "task")
	require.NoError(t, err)

	assert.Equal(t, ReasonTerminated, transcript.Reason)
	assert.Empty(t, exec.runs, "code sent with TERMINATE is not executed")
	assert.Equal(t, 0, transcript.Executions)
	assert.Equal(t, 1, transcript.Replies())
	assert.Len(t, transcript.Messages, 2)
}

func TestExchange_FailedExecutionIsFedBack(t *testing.T) {
	client := &scriptedClient{replies: []string{
		"```python\nraise SystemExit(1)\n```",
		"Fixed it. TERMINATE",
	}}
	exec := &fakeExecutor{result: sandbox.Result{ExitCode: 1, Output: "Traceback\n", Ran: 1}}
	runner := NewRunner(factoryFor(client), exec, Options{})

	transcript, err := runner.Exchange(context.Background(), engineer, "task")
	require.NoError(t, err)

	assert.Contains(t, transcript.Messages[2].Content, "exitcode: 1 (execution failed)")
	assert.Contains(t, client.lastSeen[len(client.lastSeen)-1].Content, "Traceback")
}

func TestExchange_ClientError(t *testing.T) {
	boom := errors.New("quota exceeded")
	client := &scriptedClient{err: boom}
	runner := NewRunner(factoryFor(client), &fakeExecutor{}, Options{})

	transcript, err := runner.Exchange(context.Background(), engineer, "task")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "Data_Engineer")
	require.NotNil(t, transcript)
	assert.Len(t, transcript.Messages, 1)
}

func TestExchange_FactoryError(t *testing.T) {
	factory := func(context.Context, llm.Settings) (llm.Client, error) {
		return nil, errors.New("no key")
	}
	runner := NewRunner(factory, &fakeExecutor{}, Options{})

	transcript, err := runner.Exchange(context.Background(), engineer, "task")
	assert.Nil(t, transcript)
	assert.ErrorContains(t, err, "no key")
}

func TestExchange_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := &scriptedClient{}
	runner := NewRunner(factoryFor(client), &fakeExecutor{}, Options{})

	_, err := runner.Exchange(ctx, engineer, "task")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, client.calls)
}

func TestIsTermination(t *testing.T) {
	assert.True(t, IsTermination("All done.\nTERMINATE"))
	assert.True(t, IsTermination("TERMINATE"))
	assert.False(t, IsTermination("terminate"))
	assert.False(t, IsTermination(""))
}
