package openai

import (
	"context"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"

	"github.com/adrianliechti/wingman-gateway/pkg/agent"
	"github.com/adrianliechti/wingman-gateway/pkg/tool"
)

var (
	_ agent.Backend = (*Backend)(nil)
)

// Backend runs inference through the OpenAI Responses API or any server
// compatible with it.
type Backend struct {
	client openai.Client
}

func New(url, token string, options ...option.RequestOption) *Backend {
	if token == "" {
		token = "-"
	}

	opts := []option.RequestOption{
		option.WithAPIKey(token),
	}

	if url != "" {
		opts = append(opts, option.WithBaseURL(url))
	}

	opts = append(opts, options...)

	return &Backend{
		client: openai.NewClient(opts...),
	}
}

func (b *Backend) Complete(ctx context.Context, req agent.Request, delta agent.Delta) (*agent.Message, error) {
	params := responses.ResponseNewParams{
		Model:      req.Model,
		Input:      responses.ResponseNewParamsInputUnion{OfInputItemList: formatInput(req.Messages)},
		Tools:      formatTools(req.Tools),
		Truncation: responses.ResponseNewParamsTruncationAuto,
	}

	if req.Instructions != "" {
		params.Instructions = openai.String(req.Instructions)
	}

	stream := b.client.Responses.NewStreaming(ctx, params)

	defer stream.Close()

	var text strings.Builder
	var toolCalls []agent.ToolCall

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "response.output_text.delta":
			text.WriteString(event.Delta)

			if delta != nil {
				if err := delta(event.Delta); err != nil {
					return nil, err
				}
			}

		case "response.output_item.done":
			if event.Item.Type == "function_call" {
				call := event.Item.AsFunctionCall()

				toolCalls = append(toolCalls, agent.ToolCall{
					ID:   call.CallID,
					Name: call.Name,
					Args: call.Arguments,
				})
			}
		}
	}

	if err := stream.Err(); err != nil {
		return nil, err
	}

	return &agent.Message{
		Role:    agent.RoleAssistant,
		Content: text.String(),

		ToolCalls: toolCalls,
	}, nil
}

func formatTools(tools []tool.Tool) []responses.ToolUnionParam {
	var result []responses.ToolUnionParam

	for _, t := range tools {
		param := responses.ToolParamOfFunction(t.Name, t.Parameters(), false)

		if t.Description != "" && param.OfFunction != nil {
			param.OfFunction.Description = openai.String(t.Description)
		}

		result = append(result, param)
	}

	return result
}

func formatInput(messages []agent.Message) []responses.ResponseInputItemUnionParam {
	var result []responses.ResponseInputItemUnionParam

	for _, m := range messages {
		switch m.Role {
		case agent.RoleSystem:
			result = append(result, textMessage(responses.EasyInputMessageRoleSystem, m.Content))

		case agent.RoleUser:
			result = append(result, textMessage(responses.EasyInputMessageRoleUser, m.Content))

		case agent.RoleAssistant:
			if m.Content != "" {
				result = append(result, textMessage(responses.EasyInputMessageRoleAssistant, m.Content))
			}

			for _, tc := range m.ToolCalls {
				result = append(result, responses.ResponseInputItemUnionParam{
					OfFunctionCall: &responses.ResponseFunctionToolCallParam{
						CallID:    tc.ID,
						Name:      tc.Name,
						Arguments: tc.Args,
					},
				})
			}

		case agent.RoleTool:
			result = append(result, responses.ResponseInputItemUnionParam{
				OfFunctionCallOutput: &responses.ResponseInputItemFunctionCallOutputParam{
					CallID: m.ToolCallID,
					Output: responses.ResponseInputItemFunctionCallOutputOutputUnionParam{
						OfString: openai.String(m.Content),
					},
				},
			})
		}
	}

	return result
}

func textMessage(role responses.EasyInputMessageRole, content string) responses.ResponseInputItemUnionParam {
	return responses.ResponseInputItemUnionParam{
		OfMessage: &responses.EasyInputMessageParam{
			Role:    role,
			Content: responses.EasyInputMessageContentUnionParam{OfString: openai.String(content)},
		},
	}
}
