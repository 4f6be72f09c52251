package thread

import (
	"github.com/adrianliechti/wingman-gateway/pkg/agent"
)

// Window keeps the most recent messages that fit into roughly maxTokens.
// The cut never lands on a tool message, so a kept tool result always has
// its assistant tool call.
func Window(messages []agent.Message, maxTokens int64) []agent.Message {
	if maxTokens <= 0 || len(messages) < 2 {
		return messages
	}

	var accumulated int64

	cutIdx := 0

	for i := len(messages) - 1; i >= 0; i-- {
		accumulated += estimateTokens(messages[i])

		if accumulated > maxTokens {
			cutIdx = i + 1
			break
		}
	}

	cutIdx = adjustCutPoint(messages, cutIdx)

	if cutIdx <= 0 {
		return messages
	}

	return messages[cutIdx:]
}

func adjustCutPoint(messages []agent.Message, idx int) int {
	for i := idx; i < len(messages); i++ {
		if messages[i].Role == agent.RoleTool {
			continue
		}

		return i
	}

	return len(messages)
}

func estimateTokens(m agent.Message) int64 {
	n := len(m.Content)

	for _, c := range m.ToolCalls {
		n += len(c.Name) + len(c.Args)
	}

	return int64(n / 4)
}
