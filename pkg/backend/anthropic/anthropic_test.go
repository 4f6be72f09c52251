package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adrianliechti/wingman-gateway/pkg/agent"
	"github.com/adrianliechti/wingman-gateway/pkg/tool"
)

func TestFormatMessages(t *testing.T) {
	system, messages := formatMessages("be brief", []agent.Message{
		{Role: agent.RoleSystem, Content: "answer in korean"},
		{Role: agent.RoleUser, Content: "USD to KRW?"},
		{Role: agent.RoleAssistant, ToolCalls: []agent.ToolCall{{ID: "tu_1", Name: "get_currency_exchange"}}},
		{Role: agent.RoleTool, ToolCallID: "tu_1", Content: "1 USD = 1366.77 KRW"},
	})

	assert.Equal(t, "be brief\n\nanswer in korean", system)

	require.Len(t, messages, 3)

	assert.Equal(t, anthropic.MessageParamRoleUser, messages[0].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, messages[1].Role)
	assert.Equal(t, anthropic.MessageParamRoleUser, messages[2].Role)

	use := messages[1].Content[0].OfToolUse

	require.NotNil(t, use)
	assert.Equal(t, "tu_1", use.ID)
	assert.Equal(t, json.RawMessage("{}"), use.Input)

	result := messages[2].Content[0].OfToolResult

	require.NotNil(t, result)
	assert.Equal(t, "tu_1", result.ToolUseID)
}

func TestFormatTools(t *testing.T) {
	tools := formatTools([]tool.Tool{{
		Name:        "tavily_search",
		Description: "Search the web using tavily.",
		Schema: &tool.Schema{
			Type:     "object",
			Required: []string{"search_phrase"},
			Properties: map[string]*tool.Schema{
				"search_phrase": {Type: "string"},
			},
		},
	}})

	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)

	assert.Equal(t, []string{"search_phrase"}, tools[0].OfTool.InputSchema.Required)
}

func TestParseMessage(t *testing.T) {
	var msg anthropic.Message

	data := `{
		"id": "msg_1",
		"type": "message",
		"role": "assistant",
		"model": "claude-test",
		"content": [
			{"type": "text", "text": "Checking the rate."},
			{"type": "tool_use", "id": "tu_1", "name": "get_currency_exchange", "input": {}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 10, "output_tokens": 5}
	}`

	require.NoError(t, json.Unmarshal([]byte(data), &msg))

	result := parseMessage(&msg)

	assert.Equal(t, "Checking the rate.", result.Content)

	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "tu_1", result.ToolCalls[0].ID)
	assert.Equal(t, "{}", result.ToolCalls[0].Args)
}

func TestComplete(t *testing.T) {
	events := [][2]string{
		{"message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-test","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":10,"output_tokens":1}}}`},
		{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" world"}}`},
		{"content_block_stop", `{"type":"content_block_stop","index":0}`},
		{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":2}}`},
		{"message_stop", `{"type":"message_stop"}`},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")

		for _, e := range events {
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e[0], e[1])
		}
	}))
	defer srv.Close()

	backend := New("test-key", option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))

	var deltas []string

	msg, err := backend.Complete(context.Background(), agent.Request{
		Model:    "claude-test",
		Messages: []agent.Message{{Role: agent.RoleUser, Content: "hi"}},
	}, func(text string) error {
		deltas = append(deltas, text)
		return nil
	})

	require.NoError(t, err)

	assert.Equal(t, "Hello world", msg.Content)
	assert.Equal(t, "Hello world", strings.Join(deltas, ""))
}
