package transport

import (
	"strings"
	"testing"
)

// ============================================================================
// Request serialization
// ============================================================================

func TestBuildRequest_WithBody(t *testing.T) {
	headers := map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer token123",
	}
	body := []byte(`{"key":"value"}`)

	request := string(BuildRequest("POST", "/api/test", "example.com", headers, body))

	for _, want := range []string{
		"POST /api/test HTTP/1.1\r\n",
		"Host: example.com\r\n",
		"Connection: keep-alive\r\n",
		"Content-Type: application/json\r\n",
		"Authorization: Bearer token123\r\n",
		"Content-Length: 15\r\n",
		`{"key":"value"}`,
	} {
		if !strings.Contains(request, want) {
			t.Errorf("request missing %q:\n%s", want, request)
		}
	}
}

func TestBuildRequest_WithoutBody(t *testing.T) {
	request := string(BuildRequest("GET", "/api/test", "example.com", nil, nil))

	if !strings.Contains(request, "GET /api/test HTTP/1.1\r\n") {
		t.Errorf("bad request line:\n%s", request)
	}
	if strings.Contains(request, "Content-Length") {
		t.Error("bodyless request must not carry Content-Length")
	}
	if !strings.HasSuffix(request, "\r\n\r\n") {
		t.Error("request must end with the header terminator")
	}
}

func TestBuildRequest_EmptyBodyStillFramed(t *testing.T) {
	request := string(BuildRequest("POST", "/x", "example.com", nil, []byte{}))
	if !strings.Contains(request, "Content-Length: 0\r\n") {
		t.Error("empty-but-present body needs Content-Length: 0")
	}
}

func TestBuildRequest_DeterministicHeaderOrder(t *testing.T) {
	headers := map[string]string{"B-Header": "2", "A-Header": "1", "C-Header": "3"}
	first := BuildRequest("GET", "/", "h", headers, nil)
	second := BuildRequest("GET", "/", "h", headers, nil)
	if string(first) != string(second) {
		t.Error("serialization must be deterministic")
	}
	text := string(first)
	if strings.Index(text, "A-Header") > strings.Index(text, "B-Header") {
		t.Error("headers must be written in sorted order")
	}
}

// ============================================================================
// Response head parsing
// ============================================================================

func TestParseResponseHead_Valid(t *testing.T) {
	raw := []byte("HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: 11\r\n\r\n{\"ok\":true}")

	head, bodyStart, err := ParseResponseHead(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if head.Status != 200 || head.Reason != "OK" {
		t.Errorf("unexpected status line %d %q", head.Status, head.Reason)
	}
	if head.Get("content-type") != "application/json" {
		t.Errorf("header lookup failed: %q", head.Get("content-type"))
	}
	if length, ok := head.ContentLength(); !ok || length != 11 {
		t.Errorf("content length: %d, %v", length, ok)
	}
	if string(raw[bodyStart:]) != `{"ok":true}` {
		t.Errorf("wrong body offset %d", bodyStart)
	}
}

func TestParseResponseHead_NoTerminator(t *testing.T) {
	if _, _, err := ParseResponseHead([]byte("HTTP/1.1 200 OK\r\nContent-Type: text/plain")); err == nil {
		t.Error("missing terminator must error")
	}
}

func TestParseResponseHead_BadStatusLine(t *testing.T) {
	if _, _, err := ParseResponseHead([]byte("garbage\r\n\r\n")); err == nil {
		t.Error("malformed status line must error")
	}
	if _, _, err := ParseResponseHead([]byte("HTTP/1.1 abc OK\r\n\r\n")); err == nil {
		t.Error("non-numeric status must error")
	}
}

func TestParseResponseHead_NoReason(t *testing.T) {
	head, _, err := ParseResponseHead([]byte("HTTP/1.1 204\r\n\r\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if head.Status != 204 || head.Reason != "" {
		t.Errorf("unexpected head %+v", head)
	}
}

func TestContentLength_Invalid(t *testing.T) {
	head := &ResponseHead{Headers: []Header{{Name: "Content-Length", Value: "abc"}}}
	if _, ok := head.ContentLength(); ok {
		t.Error("unparseable content length must report absent")
	}
}

// ============================================================================
// Hop-by-hop classification
// ============================================================================

func TestIsHopByHop(t *testing.T) {
	for _, name := range []string{"Connection", "keep-alive", "Transfer-Encoding", "TE", "Upgrade"} {
		if !IsHopByHop(name) {
			t.Errorf("%s should be hop-by-hop", name)
		}
	}
	for _, name := range []string{"Content-Type", "Authorization", "Cache-Control"} {
		if IsHopByHop(name) {
			t.Errorf("%s should not be hop-by-hop", name)
		}
	}
}
