package bridge

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adrianliechti/wingman-gateway/pkg/agent"
	"github.com/adrianliechti/wingman-gateway/pkg/thread"
)

const (
	defaultStreamBuffer = 16
	commitTimeout       = 10 * time.Second
)

// Bridge turns chat-completion requests into agent runs over a thread and
// normalizes the outcome into OpenAI shaped results.
type Bridge struct {
	agent   *agent.Agent
	threads *thread.Resolver

	models []string

	logger *slog.Logger
	buffer int

	now func() time.Time
}

type Config struct {
	Agent   *agent.Agent
	Threads *thread.Resolver

	// Models lists the recognized model names; the first one is the default.
	Models []string

	Logger *slog.Logger

	StreamBuffer int
}

func New(cfg Config) (*Bridge, error) {
	if cfg.Agent == nil || cfg.Agent.Backend == nil {
		return nil, errors.New("bridge: agent backend is required")
	}

	if len(cfg.Models) == 0 {
		return nil, errors.New("bridge: at least one model is required")
	}

	threads := cfg.Threads

	if threads == nil {
		threads = thread.NewResolver(nil)
	}

	logger := cfg.Logger

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	buffer := cfg.StreamBuffer

	if buffer <= 0 {
		buffer = defaultStreamBuffer
	}

	return &Bridge{
		agent:   cfg.Agent,
		threads: threads,

		models: slices.Clone(cfg.Models),

		logger: logger,
		buffer: buffer,

		now: time.Now,
	}, nil
}

type Request struct {
	Messages []agent.Message

	Model    string
	ThreadID string
}

func (b *Bridge) Models() []string {
	return slices.Clone(b.models)
}

// CompleteSync runs the agent to its final answer. The result carries the
// final assistant text and the full message sequence.
func (b *Bridge) CompleteSync(ctx context.Context, req Request) (*Completion, error) {
	model, err := b.validate(req)

	if err != nil {
		return nil, err
	}

	start := b.now()

	messages, final, err := b.run(ctx, req, model, nil)

	if err != nil {
		b.logger.Error("completion failed", slog.String("thread_id", req.ThreadID), slog.String("model", model), slog.Any("error", err))
		return nil, err
	}

	b.logger.Info("completion finished",
		slog.String("thread_id", req.ThreadID),
		slog.String("model", model),
		slog.Int("messages", len(messages)),
		slog.Duration("duration", b.now().Sub(start)),
	)

	return &Completion{
		ID:      uuid.NewString(),
		Object:  "chat.completion",
		Created: b.now().Unix(),
		Model:   model,

		Choices: []Choice{
			{
				Index: 0,
				Message: ResponseMessage{
					Role:    string(agent.RoleAssistant),
					Content: final.Content,
				},
				FinishReason: "stop",
			},
		},

		Messages: messages,
	}, nil
}

// CompleteStream starts the agent in the background and hands its assistant
// text out chunk by chunk. Validation errors are returned before anything
// is started.
//
// Text the backend produces in a round that ends in tool calls is streamed
// as it arrives, while CompleteSync reports only the final message. The
// concatenated stream equals the sync content only when tool rounds carry
// no text.
func (b *Bridge) CompleteStream(ctx context.Context, req Request) (*Stream, error) {
	model, err := b.validate(req)

	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)

	ch := make(chan Chunk, b.buffer)

	s := &Stream{
		ch:     ch,
		cancel: cancel,
	}

	id := uuid.NewString()
	created := b.now().Unix()

	go func() {
		defer close(ch)
		defer cancel()

		_, _, err := b.run(ctx, req, model, func(text string) bool {
			chunk := Chunk{
				ID:      id,
				Object:  "chat.completion.chunk",
				Created: created,
				Model:   model,

				Choices: []ChunkChoice{
					{
						Index: 0,
						Delta: ChunkDelta{Content: text},
					},
				},
			}

			select {
			case ch <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		})

		if err != nil {
			b.logger.Warn("stream ended early", slog.String("thread_id", req.ThreadID), slog.String("model", model), slog.Any("error", err))
		}

		s.err = err
	}()

	return s, nil
}

func (b *Bridge) validate(req Request) (string, error) {
	if len(req.Messages) == 0 {
		return "", &ValidationError{Field: "messages", Reason: "at least one message is required"}
	}

	if err := agent.Validate(req.Messages); err != nil {
		return "", &ValidationError{Field: "messages", Reason: err.Error()}
	}

	model := strings.TrimSpace(req.Model)

	if model == "" {
		return b.models[0], nil
	}

	if !slices.Contains(b.models, model) {
		return "", &ValidationError{Field: "model", Reason: "unknown model " + model}
	}

	return model, nil
}

// run executes one turn while holding the thread's turn slot. The turn is
// committed to the thread only once a final assistant message exists.
func (b *Bridge) run(ctx context.Context, req Request, model string, delta func(string) bool) ([]agent.Message, *agent.Message, error) {
	release, err := b.threads.Acquire(ctx, req.ThreadID)

	if err != nil {
		return nil, nil, &InferenceError{Err: err}
	}

	defer release()

	history := b.threads.Load(ctx, req.ThreadID)
	input := slices.Concat(history, agent.CloneMessages(req.Messages))

	var produced []agent.Message

	for event, err := range b.agent.Run(ctx, model, input) {
		if err != nil {
			return nil, nil, &InferenceError{Err: err}
		}

		if event.Delta != "" && delta != nil {
			if !delta(event.Delta) {
				if err := ctx.Err(); err != nil {
					return nil, nil, err
				}

				return nil, nil, ErrStreamClosed
			}
		}

		if event.Message != nil {
			produced = append(produced, *event.Message)
		}
	}

	if len(produced) == 0 {
		return nil, nil, &InferenceError{Err: agent.ErrNoAssistantMessage}
	}

	final := produced[len(produced)-1]

	if final.Role != agent.RoleAssistant || len(final.ToolCalls) > 0 {
		return nil, nil, &InferenceError{Err: agent.ErrNoAssistantMessage}
	}

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()

	_ = b.threads.Append(commitCtx, req.ThreadID, slices.Concat(agent.CloneMessages(req.Messages), produced))

	return slices.Concat(input, produced), &final, nil
}
