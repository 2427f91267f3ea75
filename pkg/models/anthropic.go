package models

import "lightapi/router/pkg/routererr"

// AnthropicMessage is one turn of an Anthropic-style conversation.
type AnthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AnthropicMessagesRequest is the payload of POST /v1/messages.
type AnthropicMessagesRequest struct {
	Model     string             `json:"model"`
	Messages  []AnthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
	System    *string            `json:"system,omitempty"`
	Stream    *bool              `json:"stream,omitempty"`
}

// Validate checks the required fields. Anthropic requires max_tokens.
func (r *AnthropicMessagesRequest) Validate() error {
	if r.Model == "" {
		return routererr.New(routererr.KindJSON, "missing field: model")
	}
	if r.Messages == nil {
		return routererr.New(routererr.KindJSON, "missing field: messages")
	}
	if r.MaxTokens <= 0 {
		return routererr.New(routererr.KindJSON, "missing field: max_tokens")
	}
	return nil
}

// StreamRequested reports whether the client asked for an SSE response.
func (r *AnthropicMessagesRequest) StreamRequested() bool {
	return r.Stream != nil && *r.Stream
}
