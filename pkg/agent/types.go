package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/adrianliechti/wingman-gateway/pkg/tool"
)

type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

func (r MessageRole) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}

	return false
}

type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`

	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type ToolCall struct {
	ID string `json:"id"`

	Name string `json:"name"`
	Args string `json:"arguments"`
}

func CloneMessages(messages []Message) []Message {
	if messages == nil {
		return nil
	}

	result := make([]Message, len(messages))

	for i, m := range messages {
		result[i] = m

		if m.ToolCalls != nil {
			result[i].ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
		}
	}

	return result
}

// Validate checks that every tool message answers a tool call issued by an
// earlier assistant message.
func Validate(messages []Message) error {
	calls := make(map[string]bool)

	for i, m := range messages {
		if !m.Role.Valid() {
			return fmt.Errorf("message %d: invalid role %q", i, m.Role)
		}

		for _, c := range m.ToolCalls {
			if m.Role != RoleAssistant {
				return fmt.Errorf("message %d: only assistant messages may carry tool calls", i)
			}

			calls[c.ID] = true
		}

		if m.Role == RoleTool {
			if m.ToolCallID == "" {
				return fmt.Errorf("message %d: tool message without tool_call_id", i)
			}

			if !calls[m.ToolCallID] {
				return fmt.Errorf("message %d: tool message references unknown tool call %q", i, m.ToolCallID)
			}
		}
	}

	return nil
}

// Request is one inference round handed to a backend.
type Request struct {
	Model        string
	Instructions string

	Messages []Message
	Tools    []tool.Tool
}

// Delta receives assistant text as soon as the backend produces it.
// Returning an error aborts the round.
type Delta func(text string) error

// Backend performs inference. It streams assistant text through delta and
// returns the complete assistant message, including any tool calls.
type Backend interface {
	Complete(ctx context.Context, req Request, delta Delta) (*Message, error)
}

// Event is one step of an agent run: a text fragment, or a message that
// became part of the turn.
type Event struct {
	Delta string

	Message    *Message
	ToolResult *tool.Result
}

var (
	ErrNoAssistantMessage = errors.New("backend returned no assistant message")
	ErrMaxRoundsExceeded  = errors.New("tool loop exceeded maximum rounds")
)
