package thread

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adrianliechti/wingman-gateway/pkg/agent"
)

func TestWindowUnlimited(t *testing.T) {
	messages := []agent.Message{user("a"), assistant("b")}

	assert.Equal(t, messages, Window(messages, 0))
}

func TestWindowKeepsRecent(t *testing.T) {
	text := strings.Repeat("x", 40)

	messages := []agent.Message{user(text), assistant(text), user(text), assistant(text)}

	kept := Window(messages, 25)

	require.Len(t, kept, 2)
	assert.Equal(t, agent.RoleUser, kept[0].Role)
}

func TestWindowNeverStartsWithToolResult(t *testing.T) {
	text := strings.Repeat("x", 40)

	messages := []agent.Message{
		user(text),
		{Role: agent.RoleAssistant, ToolCalls: []agent.ToolCall{{ID: "c1", Name: "get_currency_exchange", Args: "{}"}}},
		{Role: agent.RoleTool, ToolCallID: "c1", Content: text},
		assistant("done"),
	}

	kept := Window(messages, 12)

	require.NotEmpty(t, kept)
	assert.NotEqual(t, agent.RoleTool, kept[0].Role)

	assert.NoError(t, agent.Validate(kept))
}
