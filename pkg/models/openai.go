// Package models defines the OpenAI-compatible and Anthropic request
// payloads the router understands, plus the model-name rewriting applied
// before forwarding.
//
// The typed structs exist for validation and stream detection only; bodies
// are rewritten through raw JSON so that fields the router does not model
// pass through to the upstream unchanged.
package models

import (
	"encoding/json"

	"lightapi/router/pkg/routererr"
)

// Message is one turn of an OpenAI-style conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest is the payload of POST /v1/chat/completions.
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      *bool     `json:"stream,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

// Validate checks the required fields.
func (r *ChatCompletionRequest) Validate() error {
	if r.Model == "" {
		return routererr.New(routererr.KindJSON, "missing field: model")
	}
	if r.Messages == nil {
		return routererr.New(routererr.KindJSON, "missing field: messages")
	}
	return nil
}

// StreamRequested reports whether the client asked for an SSE response.
func (r *ChatCompletionRequest) StreamRequested() bool {
	return r.Stream != nil && *r.Stream
}

// CompletionRequest is the payload of POST /v1/completions. Prompt may be a
// string or an array of strings.
type CompletionRequest struct {
	Model  string          `json:"model"`
	Prompt json.RawMessage `json:"prompt"`
	Stream *bool           `json:"stream,omitempty"`
}

// Validate checks the required fields.
func (r *CompletionRequest) Validate() error {
	if r.Model == "" {
		return routererr.New(routererr.KindJSON, "missing field: model")
	}
	if len(r.Prompt) == 0 {
		return routererr.New(routererr.KindJSON, "missing field: prompt")
	}
	return nil
}

// StreamRequested reports whether the client asked for an SSE response.
func (r *CompletionRequest) StreamRequested() bool {
	return r.Stream != nil && *r.Stream
}

// EmbeddingRequest is the payload of POST /v1/embeddings. Input may be a
// string or an array.
type EmbeddingRequest struct {
	Model string          `json:"model"`
	Input json.RawMessage `json:"input"`
}

// Validate checks the required fields.
func (r *EmbeddingRequest) Validate() error {
	if r.Model == "" {
		return routererr.New(routererr.KindJSON, "missing field: model")
	}
	if len(r.Input) == 0 {
		return routererr.New(routererr.KindJSON, "missing field: input")
	}
	return nil
}
