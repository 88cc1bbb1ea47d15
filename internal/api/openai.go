package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/agent"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/llm"
)

// ChatCompletionRequest is the OpenAI-compatible request format. Only
// the last user message is used: every cycle starts fresh.
type ChatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

// ChatCompletionResponse is the OpenAI-compatible response format.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice represents a completion choice.
type Choice struct {
	Index        int         `json:"index"`
	Message      llm.Message `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// Usage represents token usage summed over every model call in the cycle.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if s.loop == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "agent not configured")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"object": "list",
		"data": []map[string]any{
			{
				"id":       s.loop.Model(),
				"object":   "model",
				"created":  time.Now().Unix(),
				"owned_by": "weekend-wizard",
			},
		},
	}, s.logger)
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if s.loop == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "agent not configured")
		return
	}
	var req ChatCompletionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Stream {
		s.errorResponse(w, http.StatusBadRequest, "streaming is not supported")
		return
	}
	message := lastUserMessage(req.Messages)
	if message == "" {
		s.errorResponse(w, http.StatusBadRequest, "a user message is required")
		return
	}

	res := s.loop.Run(r.Context(), message)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChatCompletionResponse{
		ID:      "chatcmpl-" + res.CycleID,
		Object:  "chat.completion",
		Created: res.StartedAt.Unix(),
		Model:   res.Model,
		Choices: []Choice{
			{
				Index:        0,
				Message:      llm.Message{Role: llm.RoleAssistant, Content: res.Answer},
				FinishReason: finishReason(res.Outcome),
			},
		},
		Usage: Usage{
			PromptTokens:     res.InputTokens,
			CompletionTokens: res.OutputTokens,
			TotalTokens:      res.InputTokens + res.OutputTokens,
		},
	}, s.logger)
}

func lastUserMessage(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			if text := strings.TrimSpace(messages[i].Content); text != "" {
				return text
			}
		}
	}
	return ""
}

// finishReason maps a cycle outcome onto OpenAI's vocabulary: "stop" for
// a model-written answer, "length" when the step budget ended it.
func finishReason(o agent.Outcome) string {
	switch o {
	case agent.OutcomeFinal, agent.OutcomeForcedFinal:
		return "stop"
	case agent.OutcomeExhausted:
		return "length"
	default:
		return "error"
	}
}
