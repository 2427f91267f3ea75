// Package proxy implements the inbound side of the router: the raw
// HTTP/1.1 request parser, the forward-plan builder, the per-connection
// pipeline, and the listening acceptor.
package proxy

import (
	"bytes"
	"os"
	"strconv"
	"strings"

	"lightapi/router/pkg/routererr"
)

// EnvDefaultAPIKey supplies the bearer token used upstream when the client
// sends no Authorization header.
const EnvDefaultAPIKey = "DEFAULT_API_KEY"

// defaultAPIKeyPlaceholder is forwarded when neither the client nor the
// environment provides a key; upstreams reject it, which surfaces the
// misconfiguration instead of hiding it.
const defaultAPIKeyPlaceholder = "sk-light-api-router-default-key-unset"

var requestHeaderTerminator = []byte("\r\n\r\n")

// ParsedRequest is one fully received client request.
type ParsedRequest struct {
	Method  string
	Target  string
	Version string

	// Headers maps lowercased names to verbatim values.
	Headers map[string]string

	Body []byte

	// RequestID is the process-unique correlation token for this request.
	RequestID string

	// ClientAddr is the textual peer address.
	ClientAddr string

	// APIKey is the bearer token extracted from Authorization, or the
	// default key.
	APIKey string
}

// RoutePath returns the request target with any query string stripped.
func (r *ParsedRequest) RoutePath() string {
	if i := strings.IndexByte(r.Target, '?'); i >= 0 {
		return r.Target[:i]
	}
	return r.Target
}

// Header returns the value for a lowercased header name.
func (r *ParsedRequest) Header(name string) string {
	return r.Headers[name]
}

// HasBody reports whether the request carried any body bytes.
func (r *ParsedRequest) HasBody() bool {
	return len(r.Body) > 0
}

// ParseRequest parses one complete HTTP/1.1 request out of raw. Headers must
// be fully received and the body bounded by Content-Length.
func ParseRequest(raw []byte) (*ParsedRequest, error) {
	headerEnd := bytes.Index(raw, requestHeaderTerminator)
	if headerEnd < 0 {
		return nil, routererr.New(routererr.KindBadRequest, "malformed HTTP request")
	}

	headerBlock := string(raw[:headerEnd])
	lines := strings.Split(headerBlock, "\r\n")

	requestLine := strings.Fields(lines[0])
	if len(requestLine) < 3 {
		return nil, routererr.New(routererr.KindBadRequest, "invalid request line")
	}

	headers := make(map[string]string, len(lines))
	for _, line := range lines[1:] {
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}

	body := raw[headerEnd+len(requestHeaderTerminator):]

	return &ParsedRequest{
		Method:  requestLine[0],
		Target:  requestLine[1],
		Version: requestLine[2],
		Headers: headers,
		Body:    body,
	}, nil
}

// ExtractContentLength scans a raw header block for Content-Length.
func ExtractContentLength(headerBlock string) (int, bool) {
	for _, line := range strings.Split(headerBlock, "\r\n") {
		name, value, found := strings.Cut(line, ":")
		if !found || !strings.EqualFold(strings.TrimSpace(name), "content-length") {
			continue
		}
		length, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || length < 0 {
			return 0, false
		}
		return length, true
	}
	return 0, false
}

// ResolveDefaultAPIKey returns the configured fallback bearer token.
func ResolveDefaultAPIKey() string {
	if key := os.Getenv(EnvDefaultAPIKey); key != "" {
		return key
	}
	return defaultAPIKeyPlaceholder
}

// ExtractClientAPIKey pulls the client's key out of the Authorization
// header. "Bearer <token>" (scheme case-insensitive) yields the token; any
// other non-empty value is used verbatim; absence yields the default key.
func ExtractClientAPIKey(headers map[string]string, defaultKey string) string {
	raw, ok := headers["authorization"]
	if !ok {
		return defaultKey
	}
	token := parseAuthorizationHeader(raw)
	if token == "" {
		return defaultKey
	}
	return token
}

func parseAuthorizationHeader(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	fields := strings.Fields(trimmed)
	if len(fields) >= 2 && strings.EqualFold(fields[0], "bearer") {
		return fields[1]
	}
	if len(fields) == 1 && strings.EqualFold(fields[0], "bearer") {
		return ""
	}
	return trimmed
}
