package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/url"
	"syscall"

	"lightapi/router/pkg/routererr"
)

// readChunkSize is the unit upstream responses are read in on the JSON path.
const readChunkSize = 4096

// Response is a fully buffered upstream response.
type Response struct {
	Status  int
	Reason  string
	Headers []Header
	Body    []byte
}

// Client executes forward plans against upstreams through the connection
// pool.
type Client struct {
	pool   *Pool
	logger *slog.Logger
}

// NewClient creates a client over pool.
func NewClient(pool *Pool) *Client {
	return &Client{
		pool:   pool,
		logger: slog.Default().With("component", "transport"),
	}
}

// parseTarget splits a raw absolute URL into its destination key and the
// path-with-query sent on the request line.
func parseTarget(rawURL string) (ConnKey, string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ConnKey{}, "", routererr.Wrap(routererr.KindURL, "invalid upstream URL", err)
	}
	key, err := KeyFromURL(parsed)
	if err != nil {
		return ConnKey{}, "", err
	}
	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	if parsed.RawQuery != "" {
		path += "?" + parsed.RawQuery
	}
	return key, path, nil
}

// Do sends one request and reads the complete response.
//
// End-of-body is determined by Content-Length; responses without one are
// read until EOF and their connection is closed rather than pooled, since a
// connection without definite framing cannot be reused.
func (c *Client) Do(ctx context.Context, rawURL, method string, headers map[string]string, body []byte) (*Response, error) {
	key, pathAndQuery, err := parseTarget(rawURL)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("forwarding request",
		"method", method,
		"path", pathAndQuery,
		"destination", key.String(),
	)

	conn, err := c.pool.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}

	request := BuildRequest(method, pathAndQuery, key.Host, headers, body)
	response, reusable, err := exchange(conn, request)
	if err != nil {
		c.pool.Recycle(key, conn)
		return nil, err
	}
	if reusable {
		c.pool.Release(key, conn)
	} else {
		c.pool.Recycle(key, conn)
	}
	return response, nil
}

// exchange writes the serialized request and reads one response. The second
// return value reports whether the connection's framing allows reuse.
func exchange(conn net.Conn, request []byte) (*Response, bool, error) {
	if _, err := conn.Write(request); err != nil {
		return nil, false, routererr.Wrap(routererr.KindUpstream, "upstream write failed", err)
	}

	var (
		data      []byte
		head      *ResponseHead
		bodyStart int
		chunk     = make([]byte, readChunkSize)
	)

	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			data = append(data, chunk[:n]...)
		}

		if head == nil {
			if bytes.Contains(data, headerTerminator) {
				parsed, start, parseErr := ParseResponseHead(data)
				if parseErr != nil {
					return nil, false, parseErr
				}
				head = parsed
				bodyStart = start
			} else if err == nil && len(data) > maxResponseHeadBytes {
				return nil, false, routererr.New(routererr.KindUpstream, "upstream response head too large")
			}
		}

		if head != nil {
			if length, ok := head.ContentLength(); ok {
				if len(data)-bodyStart >= length {
					body := data[bodyStart : bodyStart+length]
					return &Response{Status: head.Status, Reason: head.Reason, Headers: head.Headers, Body: body}, true, nil
				}
			} else if err != nil && errors.Is(err, io.EOF) {
				// No Content-Length: body runs to EOF, connection is spent.
				return &Response{Status: head.Status, Reason: head.Reason, Headers: head.Headers, Body: data[bodyStart:]}, false, nil
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, false, routererr.New(routererr.KindUpstream, "upstream closed connection mid-response")
			}
			return nil, false, routererr.Wrap(routererr.KindUpstream, "upstream read failed", err)
		}
	}
}

// maxResponseHeadBytes caps how much is buffered while waiting for the
// upstream header terminator.
const maxResponseHeadBytes = 64 * 1024

// IsClientDisconnect classifies write/read errors that mean the peer went
// away rather than a fault of ours.
func IsClientDisconnect(err error) bool {
	return errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
}
