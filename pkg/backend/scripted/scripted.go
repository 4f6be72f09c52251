package scripted

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/adrianliechti/wingman-gateway/pkg/agent"
)

var (
	_ agent.Backend = (*Backend)(nil)
)

// Response configures one inference round in a scripted sequence.
type Response struct {
	Message agent.Message
	Err     error

	// Chunks overrides how the content is split into deltas. By default the
	// content is streamed word by word.
	Chunks []string

	// Wait blocks the round until the channel is closed or the context ends.
	Wait <-chan struct{}
}

// Backend is a deterministic backend for tests and local runs. Rounds are
// served in order; an optional Func takes over once the script is exhausted.
type Backend struct {
	mu        sync.Mutex
	index     int
	responses []Response
	requests  []agent.Request

	Func func(req agent.Request) (agent.Message, error)
}

func New(responses ...Response) *Backend {
	return &Backend{
		responses: append([]Response(nil), responses...),
	}
}

// Echo answers every round with the content of the last user message.
func Echo() *Backend {
	return &Backend{
		Func: func(req agent.Request) (agent.Message, error) {
			for i := len(req.Messages) - 1; i >= 0; i-- {
				if req.Messages[i].Role == agent.RoleUser {
					return agent.Message{Role: agent.RoleAssistant, Content: req.Messages[i].Content}, nil
				}
			}

			return agent.Message{Role: agent.RoleAssistant}, nil
		},
	}
}

func (b *Backend) Complete(ctx context.Context, req agent.Request, delta agent.Delta) (*agent.Message, error) {
	b.mu.Lock()

	req.Messages = agent.CloneMessages(req.Messages)
	b.requests = append(b.requests, req)

	var current Response

	switch {
	case b.index < len(b.responses):
		current = b.responses[b.index]
		b.index++

	case b.Func != nil:
		msg, err := b.Func(req)
		current = Response{Message: msg, Err: err}

	default:
		b.mu.Unlock()
		return nil, fmt.Errorf("script exhausted at step %d", b.index+1)
	}

	b.mu.Unlock()

	if current.Wait != nil {
		select {
		case <-current.Wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if current.Err != nil {
		return nil, current.Err
	}

	chunks := current.Chunks

	if chunks == nil {
		chunks = split(current.Message.Content)
	}

	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if delta != nil {
			if err := delta(chunk); err != nil {
				return nil, err
			}
		}
	}

	msg := current.Message
	msg.Role = agent.RoleAssistant
	msg.ToolCalls = append([]agent.ToolCall(nil), current.Message.ToolCalls...)

	return &msg, nil
}

// Requests returns a copy of every request the backend received.
func (b *Backend) Requests() []agent.Request {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]agent.Request(nil), b.requests...)
}

func (b *Backend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.requests)
}

// split cuts text into word-sized chunks that concatenate back to the input.
func split(text string) []string {
	var chunks []string

	for text != "" {
		i := strings.IndexByte(text, ' ')

		if i < 0 {
			chunks = append(chunks, text)
			break
		}

		chunks = append(chunks, text[:i+1])
		text = text[i+1:]
	}

	return chunks
}
