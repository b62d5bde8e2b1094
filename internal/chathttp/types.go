package chathttp

import (
	"encoding/json"
	"strings"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/llm"
)

// PublicRequest is the body of POST /api/public/chat.
type PublicRequest struct {
	Prompt      string        `json:"prompt"`
	ChatHistory []llm.Message `json:"chatHistory,omitempty"`
}

// AdminRequest is the body of POST /api/admin/chat.
type AdminRequest struct {
	Prompt string `json:"prompt"`
}

// ChatResponse is a successful reply. Remaining counts the messages left in
// the current window after this one.
type ChatResponse struct {
	Reply     string `json:"reply"`
	Remaining int    `json:"remaining"`
	ResetAt   int64  `json:"resetAt"`
}

// RateLimitedResponse is served with 429 once the window is used up.
type RateLimitedResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	ResetAt   int64  `json:"resetAt"`
	Remaining int    `json:"remaining"`
}

// ErrorResponse is every other failure.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// StatusResponse reports whether the admin model is configured.
type StatusResponse struct {
	Success bool `json:"success"`
	Gemini  bool `json:"gemini"`
}

// InfoResponse is a success flag with a human-readable note.
type InfoResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// wireRequest is the lenient decoding target: prompt may be any JSON value
// and malformed history entries are dropped instead of failing the request.
type wireRequest struct {
	Prompt      json.RawMessage   `json:"prompt"`
	ChatHistory []json.RawMessage `json:"chatHistory"`
}

// prompt returns the prompt when it is a non-blank JSON string
func (w wireRequest) prompt() (string, bool) {
	if len(w.Prompt) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(w.Prompt, &s); err != nil {
		return "", false
	}
	return s, strings.TrimSpace(s) != ""
}

func (w wireRequest) history() []llm.Message {
	out := make([]llm.Message, 0, len(w.ChatHistory))
	for _, raw := range w.ChatHistory {
		var m llm.Message
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out
}
