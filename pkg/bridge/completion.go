package bridge

import (
	"github.com/adrianliechti/wingman-gateway/pkg/agent"
)

// Completion is the synchronous result, shaped as an OpenAI chat.completion.
// Messages carries the full sequence of the conversation including tool
// turns and is not part of the wire payload.
type Completion struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`

	Choices []Choice `json:"choices"`

	Messages []agent.Message `json:"-"`
}

type Choice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

type ResponseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *Completion) Content() string {
	if c == nil || len(c.Choices) == 0 {
		return ""
	}

	return c.Choices[0].Message.Content
}

// Chunk is one streamed delta, shaped as an OpenAI chat.completion.chunk.
type Chunk struct {
	ID      string `json:"id,omitempty"`
	Object  string `json:"object,omitempty"`
	Created int64  `json:"created,omitempty"`
	Model   string `json:"model,omitempty"`

	Choices []ChunkChoice `json:"choices"`
}

type ChunkChoice struct {
	Index int        `json:"index"`
	Delta ChunkDelta `json:"delta"`
}

type ChunkDelta struct {
	Content string `json:"content"`
}
