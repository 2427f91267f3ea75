package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"lightapi/router/pkg/routererr"
	"lightapi/router/pkg/transport"
)

// statusReason maps the status codes the router emits to reason phrases.
func statusReason(status int) string {
	switch status {
	case 200:
		return "OK"
	case 400:
		return "BAD REQUEST"
	case 404:
		return "NOT FOUND"
	case 429:
		return "TOO MANY REQUESTS"
	case 500:
		return "INTERNAL SERVER ERROR"
	case 502:
		return "BAD GATEWAY"
	default:
		return "OK"
	}
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
}

// BuildErrorResponse serializes an error response with the standard JSON
// envelope.
func BuildErrorResponse(status int, message string) []byte {
	return BuildErrorResponseWithHeaders(status, message, nil)
}

// BuildErrorResponseWithHeaders serializes an error response with extra
// headers (for Retry-After).
func BuildErrorResponseWithHeaders(status int, message string, extraHeaders [][2]string) []byte {
	body, err := json.Marshal(errorEnvelope{Error: errorBody{Message: message}})
	if err != nil {
		body = []byte(`{"error":{"message":"internal error"}}`)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\nContent-Type: application/json\r\nContent-Length: %d\r\n", status, statusReason(status), len(body))
	for _, header := range extraHeaders {
		fmt.Fprintf(&buf, "%s: %s\r\n", header[0], header[1])
	}
	buf.WriteString("\r\n")
	buf.Write(body)
	return buf.Bytes()
}

// MapErrorToResponse converts a router error into the HTTP status and
// serialized response to send the client.
func MapErrorToResponse(err error) (int, []byte) {
	status := statusForError(err)
	return status, BuildErrorResponse(status, err.Error())
}

func statusForError(err error) int {
	switch routererr.KindOf(err) {
	case routererr.KindBadRequest, routererr.KindJSON:
		return 400
	case routererr.KindURL, routererr.KindTLS, routererr.KindUpstream:
		return 502
	default:
		return 500
	}
}

// WriteSuccess writes a 200 response with the given content type and body.
func WriteSuccess(w io.Writer, contentType string, payload []byte) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.1 200 OK\r\nContent-Type: %s\r\nContent-Length: %d\r\n\r\n", contentType, len(payload))
	buf.Write(payload)
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteUpstreamResponse relays a buffered upstream response to the client,
// dropping hop-by-hop headers and re-deriving Content-Length from the
// relayed body.
func WriteUpstreamResponse(w io.Writer, resp *transport.Response) error {
	reason := resp.Reason
	if reason == "" {
		reason = statusReason(resp.Status)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", resp.Status, reason)
	for _, header := range resp.Headers {
		if transport.IsHopByHop(header.Name) || strings.EqualFold(header.Name, "content-length") {
			continue
		}
		fmt.Fprintf(&buf, "%s: %s\r\n", header.Name, header.Value)
	}
	fmt.Fprintf(&buf, "Content-Length: %d\r\nConnection: close\r\n\r\n", len(resp.Body))
	buf.Write(resp.Body)

	_, err := w.Write(buf.Bytes())
	return err
}
