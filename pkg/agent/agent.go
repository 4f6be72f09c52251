package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/adrianliechti/wingman-gateway/pkg/tool"
)

var errYieldStopped = errors.New("yield stopped")

type Agent struct {
	Backend Backend
	Tools   *tool.Registry

	Instructions string

	// InstructionsFunc, when set, renders the instructions at the start of
	// every run and takes precedence over Instructions.
	InstructionsFunc func() (string, error)

	// MaxRounds bounds the number of inference rounds per run; 0 means no limit.
	MaxRounds int

	// Timeout bounds every single inference round; 0 means no limit.
	Timeout time.Duration

	Logger *slog.Logger
}

func (a *Agent) instructions() (string, error) {
	if a.InstructionsFunc == nil {
		return a.Instructions, nil
	}

	return a.InstructionsFunc()
}

func (a *Agent) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}

	return a.Logger
}

// Run drives the loop for one turn: infer, execute the requested tools one
// after another in declared order, infer again, until the backend answers
// without tool calls.
func (a *Agent) Run(ctx context.Context, model string, messages []Message) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		working := CloneMessages(messages)
		tools := a.Tools.Tools()

		logger := a.logger().With(slog.String("model", model))

		instructions, err := a.instructions()

		if err != nil {
			yield(Event{}, fmt.Errorf("render instructions: %w", err))
			return
		}

		for round := 1; ; round++ {
			if a.MaxRounds > 0 && round > a.MaxRounds {
				logger.Error("tool loop exceeded maximum rounds", slog.Int("max_rounds", a.MaxRounds))
				yield(Event{}, fmt.Errorf("%w (%d)", ErrMaxRoundsExceeded, a.MaxRounds))
				return
			}

			logger.Debug("inference round", slog.Int("round", round), slog.Int("messages", len(working)))

			msg, err := a.complete(ctx, model, instructions, working, tools, yield)

			if err != nil {
				if !errors.Is(err, errYieldStopped) {
					yield(Event{}, err)
				}

				return
			}

			working = append(working, *msg)

			if !yield(Event{Message: msg}, nil) {
				return
			}

			if len(msg.ToolCalls) == 0 {
				logger.Debug("run finished", slog.Int("rounds", round))
				return
			}

			for _, call := range msg.ToolCalls {
				if err := ctx.Err(); err != nil {
					yield(Event{}, err)
					return
				}

				logger.Info("invoking tool", slog.String("tool", call.Name), slog.String("call_id", call.ID))

				result := a.Tools.Invoke(ctx, tool.Call{
					ID:   call.ID,
					Name: call.Name,
					Args: call.Args,
				})

				toolMsg := &Message{
					Role:    RoleTool,
					Content: result.Content,

					ToolCallID: call.ID,
				}

				working = append(working, *toolMsg)

				if !yield(Event{Message: toolMsg, ToolResult: &result}, nil) {
					return
				}
			}
		}
	}
}

func (a *Agent) complete(ctx context.Context, model, instructions string, messages []Message, tools []tool.Tool, yield func(Event, error) bool) (*Message, error) {
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	req := Request{
		Model:        model,
		Instructions: instructions,

		Messages: slices.Clone(messages),
		Tools:    tools,
	}

	msg, err := a.Backend.Complete(ctx, req, func(text string) error {
		if text == "" {
			return nil
		}

		if !yield(Event{Delta: text}, nil) {
			return errYieldStopped
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	if msg == nil {
		return nil, ErrNoAssistantMessage
	}

	result := *msg
	result.Role = RoleAssistant
	result.ToolCalls = slices.Clone(msg.ToolCalls)

	for i := range result.ToolCalls {
		if result.ToolCalls[i].ID == "" {
			result.ToolCalls[i].ID = "call_" + uuid.NewString()
		}
	}

	return &result, nil
}
