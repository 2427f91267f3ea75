package transport

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"lightapi/router/pkg/routererr"
)

// headerTerminator separates the head of an HTTP/1.1 message from its body.
var headerTerminator = []byte("\r\n\r\n")

// Header is one response header with its original casing preserved.
type Header struct {
	Name  string
	Value string
}

// ResponseHead is the parsed status line and headers of an upstream
// response.
type ResponseHead struct {
	Status  int
	Reason  string
	Headers []Header
}

// Get returns the first header value matching name case-insensitively, or
// the empty string.
func (h *ResponseHead) Get(name string) string {
	for _, header := range h.Headers {
		if strings.EqualFold(header.Name, name) {
			return header.Value
		}
	}
	return ""
}

// ContentLength returns the declared body length, if present and valid.
func (h *ResponseHead) ContentLength() (int, bool) {
	raw := h.Get("Content-Length")
	if raw == "" {
		return 0, false
	}
	length, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || length < 0 {
		return 0, false
	}
	return length, true
}

// hopByHopHeaders must not be relayed between the upstream and the client.
var hopByHopHeaders = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-connection":    {},
	"transfer-encoding":   {},
	"te":                  {},
	"trailer":             {},
	"upgrade":             {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
}

// IsHopByHop reports whether a header is hop-by-hop.
func IsHopByHop(name string) bool {
	_, ok := hopByHopHeaders[strings.ToLower(name)]
	return ok
}

// BuildRequest serializes an HTTP/1.1 request for an upstream connection.
// The proxy always requests keep-alive; Content-Length is emitted whenever
// a body is supplied. Header keys are written in sorted order so serialized
// requests are deterministic.
func BuildRequest(method, pathAndQuery, host string, headers map[string]string, body []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s HTTP/1.1\r\n", method, pathAndQuery)
	fmt.Fprintf(&buf, "Host: %s\r\n", host)
	buf.WriteString("Connection: keep-alive\r\n")

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&buf, "%s: %s\r\n", name, headers[name])
	}

	if body != nil {
		fmt.Fprintf(&buf, "Content-Length: %d\r\n", len(body))
		buf.WriteString("\r\n")
		buf.Write(body)
	} else {
		buf.WriteString("\r\n")
	}
	return buf.Bytes()
}

// ParseResponseHead parses the status line and headers out of data. The
// second return value is the body start offset. An error is returned when
// the header terminator has not been received yet or the head is malformed.
func ParseResponseHead(data []byte) (*ResponseHead, int, error) {
	headerEnd := bytes.Index(data, headerTerminator)
	if headerEnd < 0 {
		return nil, 0, routererr.New(routererr.KindUpstream, "invalid HTTP response: no header terminator")
	}

	lines := strings.Split(string(data[:headerEnd]), "\r\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, 0, routererr.New(routererr.KindUpstream, "empty HTTP response")
	}

	statusLine := strings.SplitN(lines[0], " ", 3)
	if len(statusLine) < 2 || !strings.HasPrefix(statusLine[0], "HTTP/") {
		return nil, 0, routererr.New(routererr.KindUpstream, "invalid status line")
	}
	status, err := strconv.Atoi(statusLine[1])
	if err != nil {
		return nil, 0, routererr.New(routererr.KindUpstream, "invalid status code")
	}
	reason := ""
	if len(statusLine) == 3 {
		reason = statusLine[2]
	}

	head := &ResponseHead{Status: status, Reason: reason}
	for _, line := range lines[1:] {
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		head.Headers = append(head.Headers, Header{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
	}

	return head, headerEnd + len(headerTerminator), nil
}
