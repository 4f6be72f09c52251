package bridge_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adrianliechti/wingman-gateway/pkg/agent"
	"github.com/adrianliechti/wingman-gateway/pkg/backend/scripted"
	"github.com/adrianliechti/wingman-gateway/pkg/bridge"
	"github.com/adrianliechti/wingman-gateway/pkg/thread"
	"github.com/adrianliechti/wingman-gateway/pkg/tool"
	"github.com/adrianliechti/wingman-gateway/pkg/tool/currency"
)

func rateTool() tool.Tool {
	return tool.Tool{
		Name:     "get_currency_exchange",
		Policy:   tool.PolicyFallback,
		Fallback: currency.Snapshot.String(),

		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "", errors.New("alphavantage returned status 500")
		},
	}
}

func currencyScript() []scripted.Response {
	return []scripted.Response{
		{Message: agent.Message{ToolCalls: []agent.ToolCall{{ID: "c1", Name: "get_currency_exchange", Args: "{}"}}}},
		{Message: agent.Message{Content: "One US dollar is about 1366.77 Korean won."}},
	}
}

func newBridge(t *testing.T, backend agent.Backend, store thread.Store) *bridge.Bridge {
	t.Helper()

	registry, err := tool.NewRegistry([]tool.Tool{rateTool()})
	require.NoError(t, err)

	if store == nil {
		store = thread.NewMemoryStore()
	}

	b, err := bridge.New(bridge.Config{
		Agent: &agent.Agent{
			Backend: backend,
			Tools:   registry,
		},

		Threads: thread.NewResolver(store),
		Models:  []string{"default-model", "other-model"},
	})
	require.NoError(t, err)

	return b
}

func userRequest(text, threadID string) bridge.Request {
	return bridge.Request{
		Messages: []agent.Message{{Role: agent.RoleUser, Content: text}},
		ThreadID: threadID,
	}
}

func drain(t *testing.T, s *bridge.Stream) (string, error) {
	t.Helper()

	var sb strings.Builder

	for s.Next() {
		chunk := s.Current()

		require.Len(t, chunk.Choices, 1)
		assert.Equal(t, "chat.completion.chunk", chunk.Object)

		sb.WriteString(chunk.Choices[0].Delta.Content)
	}

	return sb.String(), s.Err()
}

func TestCompleteSyncReturnsLastAssistantMessage(t *testing.T) {
	b := newBridge(t, scripted.New(currencyScript()...), nil)

	completion, err := b.CompleteSync(context.Background(), userRequest("USD to KRW?", ""))
	require.NoError(t, err)

	assert.Equal(t, "chat.completion", completion.Object)
	assert.Equal(t, "default-model", completion.Model)
	assert.NotEmpty(t, completion.ID)
	require.Len(t, completion.Choices, 1)
	assert.Equal(t, "assistant", completion.Choices[0].Message.Role)
	assert.Equal(t, "stop", completion.Choices[0].FinishReason)

	last := completion.Messages[len(completion.Messages)-1]

	assert.Equal(t, agent.RoleAssistant, last.Role)
	assert.Equal(t, last.Content, completion.Content())

	require.Len(t, completion.Messages, 4)
	assert.Equal(t, agent.RoleTool, completion.Messages[2].Role)
	assert.Contains(t, completion.Messages[2].Content, "1366.77000000")
}

func TestStreamConcatenationEqualsSync(t *testing.T) {
	syncBridge := newBridge(t, scripted.New(currencyScript()...), nil)

	completion, err := syncBridge.CompleteSync(context.Background(), userRequest("USD to KRW?", ""))
	require.NoError(t, err)

	streamBridge := newBridge(t, scripted.New(currencyScript()...), nil)

	stream, err := streamBridge.CompleteStream(context.Background(), userRequest("USD to KRW?", ""))
	require.NoError(t, err)
	defer stream.Close()

	text, err := drain(t, stream)
	require.NoError(t, err)

	assert.Equal(t, completion.Content(), text)
}

func TestStreamCarriesNoToolTraffic(t *testing.T) {
	b := newBridge(t, scripted.New(currencyScript()...), nil)

	stream, err := b.CompleteStream(context.Background(), userRequest("USD to KRW?", ""))
	require.NoError(t, err)
	defer stream.Close()

	text, err := drain(t, stream)
	require.NoError(t, err)

	assert.NotContains(t, text, "United States Dollar (USD) =")
	assert.NotContains(t, text, "get_currency_exchange")
}

func TestThreadContinuity(t *testing.T) {
	backend := scripted.New(
		scripted.Response{Message: agent.Message{Content: "Nice to meet you, Kim."}},
		scripted.Response{Message: agent.Message{Content: "Your name is Kim."}},
	)

	b := newBridge(t, backend, nil)

	_, err := b.CompleteSync(context.Background(), userRequest("My name is Kim.", "t1"))
	require.NoError(t, err)

	_, err = b.CompleteSync(context.Background(), userRequest("What is my name?", "t1"))
	require.NoError(t, err)

	requests := backend.Requests()
	require.Len(t, requests, 2)

	second := requests[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, "My name is Kim.", second[0].Content)
	assert.Equal(t, "Nice to meet you, Kim.", second[1].Content)
	assert.Equal(t, "What is my name?", second[2].Content)
}

func TestThreadIsolation(t *testing.T) {
	backend := scripted.Echo()
	b := newBridge(t, backend, nil)

	_, err := b.CompleteSync(context.Background(), userRequest("secret for a", "a"))
	require.NoError(t, err)

	_, err = b.CompleteSync(context.Background(), userRequest("hello from b", "b"))
	require.NoError(t, err)

	_, err = b.CompleteSync(context.Background(), userRequest("no thread", ""))
	require.NoError(t, err)

	requests := backend.Requests()
	require.Len(t, requests, 3)

	assert.Len(t, requests[1].Messages, 1)
	assert.Len(t, requests[2].Messages, 1)
}

func TestReplayEquivalence(t *testing.T) {
	store := thread.NewMemoryStore()

	threaded := scripted.Echo()
	b := newBridge(t, threaded, store)

	_, err := b.CompleteSync(context.Background(), userRequest("first", "t1"))
	require.NoError(t, err)

	_, err = b.CompleteSync(context.Background(), userRequest("second", "t1"))
	require.NoError(t, err)

	history, err := store.Load(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, history, 4)

	replayed := scripted.Echo()
	rb := newBridge(t, replayed, nil)

	_, err = rb.CompleteSync(context.Background(), bridge.Request{
		Messages: append(history[:2:2], agent.Message{Role: agent.RoleUser, Content: "second"}),
	})
	require.NoError(t, err)

	assert.Equal(t, threaded.Requests()[1].Messages, replayed.Requests()[0].Messages)
}

func TestValidationFailsBeforeInference(t *testing.T) {
	backend := scripted.Echo()
	b := newBridge(t, backend, nil)

	_, err := b.CompleteSync(context.Background(), bridge.Request{})

	var validationErr *bridge.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "messages", validationErr.Field)

	_, err = b.CompleteStream(context.Background(), bridge.Request{})
	require.ErrorAs(t, err, &validationErr)

	_, err = b.CompleteSync(context.Background(), bridge.Request{
		Messages: []agent.Message{{Role: agent.RoleUser, Content: "hi"}},
		Model:    "unknown-model",
	})
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "model", validationErr.Field)

	assert.Zero(t, backend.Calls())
}

func TestModelSelection(t *testing.T) {
	b := newBridge(t, scripted.Echo(), nil)

	completion, err := b.CompleteSync(context.Background(), bridge.Request{
		Messages: []agent.Message{{Role: agent.RoleUser, Content: "hi"}},
		Model:    "other-model",
	})
	require.NoError(t, err)

	assert.Equal(t, "other-model", completion.Model)
	assert.Equal(t, []string{"default-model", "other-model"}, b.Models())
}

func TestInferenceErrorCommitsNothing(t *testing.T) {
	store := thread.NewMemoryStore()

	b := newBridge(t, scripted.New(scripted.Response{Err: errors.New("backend unreachable")}), store)

	_, err := b.CompleteSync(context.Background(), userRequest("hi", "t1"))

	var inferenceErr *bridge.InferenceError
	require.ErrorAs(t, err, &inferenceErr)

	history, _ := store.Load(context.Background(), "t1")
	assert.Empty(t, history)
}

func TestBackendTimeoutCommitsNothing(t *testing.T) {
	store := thread.NewMemoryStore()
	never := make(chan struct{})

	registry, err := tool.NewRegistry([]tool.Tool{rateTool()})
	require.NoError(t, err)

	b, err := bridge.New(bridge.Config{
		Agent: &agent.Agent{
			Backend: scripted.New(scripted.Response{Message: agent.Message{Content: "too late"}, Wait: never}),
			Tools:   registry,
			Timeout: 20 * time.Millisecond,
		},

		Threads: thread.NewResolver(store),
		Models:  []string{"default-model"},
	})
	require.NoError(t, err)

	_, err = b.CompleteSync(context.Background(), userRequest("hi", "t1"))

	var inferenceErr *bridge.InferenceError
	require.ErrorAs(t, err, &inferenceErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	history, _ := store.Load(context.Background(), "t1")
	assert.Empty(t, history)
}

func TestStreamIncludesToolRoundText(t *testing.T) {
	script := func() []scripted.Response {
		return []scripted.Response{
			{Message: agent.Message{Content: "Let me check. ", ToolCalls: []agent.ToolCall{{ID: "c1", Name: "get_currency_exchange", Args: "{}"}}}},
			{Message: agent.Message{Content: "About 1366.77 won."}},
		}
	}

	completion, err := newBridge(t, scripted.New(script()...), nil).CompleteSync(context.Background(), userRequest("USD to KRW?", ""))
	require.NoError(t, err)

	assert.Equal(t, "About 1366.77 won.", completion.Content())

	stream, err := newBridge(t, scripted.New(script()...), nil).CompleteStream(context.Background(), userRequest("USD to KRW?", ""))
	require.NoError(t, err)
	defer stream.Close()

	text, err := drain(t, stream)
	require.NoError(t, err)

	assert.Equal(t, "Let me check. About 1366.77 won.", text)
}

func TestStreamBackendFailureEndsWithError(t *testing.T) {
	b := newBridge(t, scripted.New(scripted.Response{Err: errors.New("backend unreachable")}), nil)

	stream, err := b.CompleteStream(context.Background(), userRequest("hi", ""))
	require.NoError(t, err)
	defer stream.Close()

	text, err := drain(t, stream)

	assert.Empty(t, text)

	var inferenceErr *bridge.InferenceError
	assert.ErrorAs(t, err, &inferenceErr)
}

func TestCancelledStreamCommitsNothing(t *testing.T) {
	store := thread.NewMemoryStore()
	release := make(chan struct{})

	backend := scripted.New(scripted.Response{Message: agent.Message{Content: "too late"}, Wait: release})
	b := newBridge(t, backend, store)

	ctx, cancel := context.WithCancel(context.Background())

	stream, err := b.CompleteStream(ctx, userRequest("hi", "t1"))
	require.NoError(t, err)

	cancel()

	_, err = drain(t, stream)
	assert.Error(t, err)

	require.NoError(t, stream.Close())
	close(release)

	history, _ := store.Load(context.Background(), "t1")
	assert.Empty(t, history)
}

func TestConcurrentTurnsOnOneThreadAreSerialized(t *testing.T) {
	store := thread.NewMemoryStore()
	release := make(chan struct{})

	backend := scripted.New(
		scripted.Response{Message: agent.Message{Content: "first answer"}, Wait: release},
		scripted.Response{Message: agent.Message{Content: "second answer"}},
	)

	b := newBridge(t, backend, store)

	done := make(chan error, 1)

	go func() {
		_, err := b.CompleteSync(context.Background(), userRequest("first", "t1"))
		done <- err
	}()

	require.Eventually(t, func() bool { return backend.Calls() == 1 }, time.Second, 5*time.Millisecond)

	second := make(chan error, 1)

	go func() {
		_, err := b.CompleteSync(context.Background(), userRequest("second", "t1"))
		second <- err
	}()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, backend.Calls())

	close(release)

	require.NoError(t, <-done)
	require.NoError(t, <-second)

	requests := backend.Requests()
	require.Len(t, requests, 2)
	assert.Len(t, requests[1].Messages, 3)
}

func TestNewRequiresBackendAndModels(t *testing.T) {
	_, err := bridge.New(bridge.Config{Models: []string{"m"}})
	assert.Error(t, err)

	_, err = bridge.New(bridge.Config{Agent: &agent.Agent{Backend: scripted.Echo()}})
	assert.Error(t, err)
}
