package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var (
	ErrUnknownTool = errors.New("unknown tool")
	ErrInvalidTool = errors.New("invalid tool")
)

// ExecutionError is the failure of a single tool call. It never aborts a
// request: the registry turns it into a Result according to the tool policy.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

type Call struct {
	ID   string
	Name string
	Args string
}

type Result struct {
	ID   string
	Name string

	Content string

	IsError  bool
	Fallback bool

	Err error
}

// Registry is the fixed, deployment-wide set of tools available to the agent.
type Registry struct {
	tools []Tool
	index map[string]int

	timeout time.Duration
	logger  *slog.Logger
}

type Option func(*Registry)

// WithTimeout bounds every single tool call. A timeout resolves to the
// tool's policy like any other upstream failure.
func WithTimeout(timeout time.Duration) Option {
	return func(r *Registry) {
		r.timeout = timeout
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

func NewRegistry(tools []Tool, options ...Option) (*Registry, error) {
	r := &Registry{
		index: make(map[string]int, len(tools)),

		logger: slog.New(slog.DiscardHandler),
	}

	for _, option := range options {
		option(r)
	}

	for _, t := range tools {
		if strings.TrimSpace(t.Name) == "" {
			return nil, fmt.Errorf("%w: empty name", ErrInvalidTool)
		}

		if t.Execute == nil {
			return nil, fmt.Errorf("%w: %s has no handler", ErrInvalidTool, t.Name)
		}

		if _, ok := r.index[t.Name]; ok {
			return nil, fmt.Errorf("%w: duplicate name %s", ErrInvalidTool, t.Name)
		}

		r.index[t.Name] = len(r.tools)
		r.tools = append(r.tools, t)
	}

	return r, nil
}

func (r *Registry) Tools() []Tool {
	if r == nil {
		return nil
	}

	return append([]Tool(nil), r.tools...)
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	if r == nil {
		return Tool{}, false
	}

	i, ok := r.index[name]

	if !ok {
		return Tool{}, false
	}

	return r.tools[i], true
}

// Invoke runs one tool call and always yields a result that can be handed
// back to the model.
func (r *Registry) Invoke(ctx context.Context, call Call) Result {
	if r == nil {
		r = &Registry{logger: slog.New(slog.DiscardHandler)}
	}

	result := Result{
		ID:   call.ID,
		Name: call.Name,
	}

	t, ok := r.Lookup(call.Name)

	if !ok {
		return r.fail(result, PolicyPropagate, "", &ExecutionError{Tool: call.Name, Err: ErrUnknownTool})
	}

	args := make(map[string]any)

	if !t.IgnoreArgs && strings.TrimSpace(call.Args) != "" {
		if err := json.Unmarshal([]byte(call.Args), &args); err != nil {
			err = fmt.Errorf("failed to parse arguments: %w", err)
			return r.fail(result, t.Policy, t.Fallback, &ExecutionError{Tool: t.Name, Err: err})
		}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()

	content, err := t.Execute(ctx, args)

	if err != nil {
		return r.fail(result, t.Policy, t.Fallback, &ExecutionError{Tool: t.Name, Err: err})
	}

	r.logger.Debug("tool call finished",
		slog.String("tool", t.Name),
		slog.String("call_id", call.ID),
		slog.Duration("duration", time.Since(start)),
	)

	result.Content = content

	return result
}

func (r *Registry) fail(result Result, policy Policy, fallback string, err error) Result {
	result.Err = err

	if policy == PolicyFallback {
		r.logger.Warn("tool failed, using fallback value",
			slog.String("tool", result.Name),
			slog.String("call_id", result.ID),
			slog.Any("error", err),
		)

		result.Content = fallback
		result.Fallback = true

		return result
	}

	r.logger.Warn("tool failed",
		slog.String("tool", result.Name),
		slog.String("call_id", result.ID),
		slog.Any("error", err),
	)

	result.Content = "error: " + err.Error()
	result.IsError = true

	return result
}
