package anthropic

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/adrianliechti/wingman-gateway/pkg/agent"
	"github.com/adrianliechti/wingman-gateway/pkg/tool"
)

const defaultMaxTokens = 4096

var (
	_ agent.Backend = (*Backend)(nil)
)

// Backend runs inference through the Anthropic Messages API.
type Backend struct {
	client anthropic.Client
}

func New(token string, options ...option.RequestOption) *Backend {
	opts := append([]option.RequestOption{option.WithAPIKey(token)}, options...)

	return &Backend{
		client: anthropic.NewClient(opts...),
	}
}

func (b *Backend) Complete(ctx context.Context, req agent.Request, delta agent.Delta) (*agent.Message, error) {
	system, messages := formatMessages(req.Instructions, req.Messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: defaultMaxTokens,
	}

	if system != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: system},
		}
	}

	if len(req.Tools) > 0 {
		params.Tools = formatTools(req.Tools)
	}

	stream := b.client.Messages.NewStreaming(ctx, params)

	defer stream.Close()

	message := anthropic.Message{}

	for stream.Next() {
		event := stream.Current()

		if err := message.Accumulate(event); err != nil {
			return nil, err
		}

		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch d := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta != nil {
					if err := delta(d.Text); err != nil {
						return nil, err
					}
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		return nil, err
	}

	return parseMessage(&message), nil
}

func formatTools(tools []tool.Tool) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))

	for _, t := range tools {
		params := t.Parameters()

		properties, _ := params["properties"].(map[string]any)

		if properties == nil {
			properties = map[string]any{}
		}

		var required []string

		if t.Schema != nil {
			required = t.Schema.Required
		}

		result = append(result, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: properties,
					Required:   required,
				},
			},
		})
	}

	return result
}

// formatMessages splits system messages off into the system prompt. Tool
// results travel as user messages carrying tool_result blocks.
func formatMessages(instructions string, messages []agent.Message) (string, []anthropic.MessageParam) {
	var system []string

	if instructions != "" {
		system = append(system, instructions)
	}

	result := make([]anthropic.MessageParam, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case agent.RoleSystem:
			system = append(system, m.Content)

		case agent.RoleUser:
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewTextBlock(m.Content),
			))

		case agent.RoleTool:
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false),
			))

		case agent.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion

			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}

			for _, tc := range m.ToolCalls {
				input := json.RawMessage(tc.Args)

				if strings.TrimSpace(tc.Args) == "" {
					input = json.RawMessage("{}")
				}

				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ID,
						Name:  tc.Name,
						Input: input,
					},
				})
			}

			if len(blocks) > 0 {
				result = append(result, anthropic.NewAssistantMessage(blocks...))
			}
		}
	}

	return strings.Join(system, "\n\n"), result
}

func parseMessage(resp *anthropic.Message) *agent.Message {
	msg := &agent.Message{
		Role: agent.RoleAssistant,
	}

	var text strings.Builder

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)

		case "tool_use":
			tu := block.AsToolUse()

			msg.ToolCalls = append(msg.ToolCalls, agent.ToolCall{
				ID:   tu.ID,
				Name: tu.Name,
				Args: string(tu.Input),
			})
		}
	}

	msg.Content = text.String()

	return msg
}
