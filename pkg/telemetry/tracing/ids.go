// Package tracing provides request correlation helpers: unique request IDs,
// provider-tag derivation, and small latency utilities used in log fields.
package tracing

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewRequestID returns a 32-character lowercase hex token, unique within the
// process across its lifetime.
func NewRequestID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// ElapsedMS returns the milliseconds elapsed since start, for log fields.
func ElapsedMS(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}

// Provider derives the short provider tag from an upstream base URL. The tag
// is used only for logging, metrics, and alert grouping.
func Provider(baseURL string) string {
	switch {
	case strings.Contains(baseURL, "dashscope.aliyuncs.com"), strings.Contains(baseURL, "qwen.ai"):
		return "qwen"
	case strings.Contains(baseURL, "openai.com"):
		return "openai"
	case strings.Contains(baseURL, "anthropic.com"):
		return "anthropic"
	case strings.Contains(baseURL, "cohere.com"):
		return "cohere"
	case strings.Contains(baseURL, "generativelanguage.googleapis.com"):
		return "gemini"
	case strings.Contains(baseURL, "localhost"), strings.Contains(baseURL, "127.0.0.1"):
		return "ollama"
	default:
		return "unknown"
	}
}

// AnonymizeKey masks an API key for logging, keeping at most the first four
// and last two characters.
func AnonymizeKey(key string) string {
	if key == "" {
		return "unknown"
	}
	prefixLen := len(key)
	if prefixLen > 4 {
		prefixLen = 4
	}
	suffixLen := len(key) - prefixLen
	if suffixLen > 2 {
		suffixLen = 2
	}
	return key[:prefixLen] + "***" + key[len(key)-suffixLen:]
}
