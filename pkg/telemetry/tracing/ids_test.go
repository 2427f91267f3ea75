package tracing

import (
	"testing"
	"time"
)

func TestNewRequestID(t *testing.T) {
	first := NewRequestID()
	second := NewRequestID()

	if first == second {
		t.Error("request IDs must be unique")
	}
	if len(first) != 32 {
		t.Errorf("expected 32 hex chars, got %d", len(first))
	}
	for _, c := range first {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			t.Errorf("non-hex character %q in request ID", c)
		}
	}
}

func TestProvider(t *testing.T) {
	tests := []struct {
		baseURL string
		want    string
	}{
		{"https://dashscope.aliyuncs.com/api/v1", "qwen"},
		{"https://portal.qwen.ai", "qwen"},
		{"https://api.openai.com/v1", "openai"},
		{"https://api.anthropic.com/v1", "anthropic"},
		{"https://api.cohere.com/v1", "cohere"},
		{"https://generativelanguage.googleapis.com/v1", "gemini"},
		{"http://localhost:11434", "ollama"},
		{"https://custom-provider.example", "unknown"},
	}
	for _, tt := range tests {
		if got := Provider(tt.baseURL); got != tt.want {
			t.Errorf("Provider(%q) = %q, want %q", tt.baseURL, got, tt.want)
		}
	}
}

func TestAnonymizeKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", "unknown"},
		{"ab", "ab***"},
		{"abcd", "abcd***"},
		{"abcdef", "abcd***ef"},
		{"sk-verylongsecretkey", "sk-v***ey"},
	}
	for _, tt := range tests {
		if got := AnonymizeKey(tt.key); got != tt.want {
			t.Errorf("AnonymizeKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestElapsedMS(t *testing.T) {
	start := time.Now().Add(-10 * time.Millisecond)
	elapsed := ElapsedMS(start)
	if elapsed < 10 {
		t.Errorf("expected at least 10ms, got %f", elapsed)
	}
	if elapsed > 10_000 {
		t.Errorf("implausible elapsed time %f", elapsed)
	}
}
