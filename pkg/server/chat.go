package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/adrianliechti/wingman-gateway/pkg/agent"
	"github.com/adrianliechti/wingman-gateway/pkg/bridge"
)

const (
	headerThreadID = "X-IBM-THREAD-ID"

	maxRequestBody = 8 << 20
)

type ChatCompletionRequest struct {
	Model    string        `json:"model,omitempty"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`

	ExtraBody *ExtraBody `json:"extra_body,omitempty"`
}

type ExtraBody struct {
	ThreadID string `json:"thread_id,omitempty"`
}

type ChatMessage struct {
	Role    string      `json:"role"`
	Content ChatContent `json:"content"`

	ToolCalls  []ChatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

// ChatContent accepts both a plain string and the array of content parts
// OpenAI clients send. Only text parts are kept.
type ChatContent string

func (c *ChatContent) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}

	if data[0] == '"' {
		var text string

		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}

		*c = ChatContent(text)
		return nil
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}

	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("content must be a string or an array of parts: %w", err)
	}

	var texts []string

	for _, p := range parts {
		if p.Type == "text" || p.Type == "" {
			texts = append(texts, p.Text)
		}
	}

	*c = ChatContent(strings.Join(texts, "\n"))
	return nil
}

type ChatToolCall struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	Function ChatFunctionCall `json:"function"`
}

type ChatFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// threadID resolves the effective thread: the body wins over the header.
func (req *ChatCompletionRequest) threadID(r *http.Request) string {
	if req.ExtraBody != nil && req.ExtraBody.ThreadID != "" {
		return req.ExtraBody.ThreadID
	}

	return r.Header.Get(headerThreadID)
}

func (req *ChatCompletionRequest) messages() []agent.Message {
	result := make([]agent.Message, 0, len(req.Messages))

	for _, m := range req.Messages {
		msg := agent.Message{
			Role:       agent.MessageRole(m.Role),
			Content:    string(m.Content),
			ToolCallID: m.ToolCallID,
		}

		for _, c := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, agent.ToolCall{
				ID:   c.ID,
				Name: c.Function.Name,
				Args: c.Function.Arguments,
			})
		}

		result = append(result, msg)
	}

	return result
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req ChatCompletionRequest

	body := http.MaxBytesReader(w, r.Body, maxRequestBody)

	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: "+err.Error())
		return
	}

	threadID := req.threadID(r)
	setThreadID(r.Context(), threadID)

	breq := bridge.Request{
		Messages: req.messages(),

		Model:    req.Model,
		ThreadID: threadID,
	}

	if req.Stream {
		s.streamCompletion(w, r, breq)
		return
	}

	completion, err := s.bridge.CompleteSync(r.Context(), breq)

	if err != nil {
		s.writeBridgeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, completion)
}

func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, req bridge.Request) {
	stream, err := s.bridge.CompleteStream(r.Context(), req)

	if err != nil {
		s.writeBridgeError(w, err)
		return
	}

	defer stream.Close()

	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	w.WriteHeader(http.StatusOK)
	rc.Flush()

	for stream.Next() {
		data, err := json.Marshal(stream.Current())

		if err != nil {
			s.logger.Error("failed to encode chunk", slog.Any("error", err))
			return
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return
		}

		rc.Flush()
	}

	if err := stream.Err(); err != nil {
		return
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	rc.Flush()
}

func (s *Server) writeBridgeError(w http.ResponseWriter, err error) {
	var validationErr *bridge.ValidationError

	if errors.As(err, &validationErr) {
		writeError(w, http.StatusBadRequest, "invalid_request_error", validationErr.Error())
		return
	}

	var inferenceErr *bridge.InferenceError

	if errors.As(err, &inferenceErr) {
		writeError(w, http.StatusBadGateway, "api_error", inferenceErr.Error())
		return
	}

	s.logger.Error("unexpected completion error", slog.Any("error", err))
	writeError(w, http.StatusInternalServerError, "api_error", "internal error")
}
