package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"lightapi/router/pkg/config"
	"lightapi/router/pkg/routererr"
)

// heartbeatMessage is an SSE comment; clients ignore it, intermediaries see
// traffic and keep the connection open.
var heartbeatMessage = []byte(": heartbeat\r\n\r\n")

// StreamOptions bounds the SSE copy loop.
type StreamOptions struct {
	BufferSize        int
	HeartbeatInterval time.Duration
}

// StreamOptionsFrom converts resolved stream settings into options.
func StreamOptionsFrom(cfg config.StreamConfig) StreamOptions {
	return StreamOptions{
		BufferSize:        cfg.BufferSize,
		HeartbeatInterval: time.Duration(cfg.HeartbeatIntervalSecs) * time.Second,
	}
}

func (o StreamOptions) withDefaults() StreamOptions {
	if o.BufferSize <= 0 {
		o.BufferSize = config.DefaultStreamBufferSize
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = config.DefaultHeartbeatIntervalSecs * time.Second
	}
	return o
}

// Stream sends the request upstream and relays the SSE response to the
// client connection.
//
// The copy loop preserves upstream byte order exactly, only inserting
// heartbeat comments when the upstream stays silent for a full heartbeat
// interval. Each client write completes before the next upstream read is
// issued, so peak buffering is bounded by BufferSize. A client disconnect
// stops the relay silently; the upstream connection is then closed rather
// than pooled.
func (c *Client) Stream(ctx context.Context, client net.Conn, rawURL, method string, headers map[string]string, body []byte, opts StreamOptions) error {
	opts = opts.withDefaults()

	key, pathAndQuery, err := parseTarget(rawURL)
	if err != nil {
		return err
	}

	conn, err := c.pool.Acquire(ctx, key)
	if err != nil {
		return err
	}

	err = c.streamOnConnection(conn, client, key, pathAndQuery, method, headers, body, opts)
	// A drained SSE stream ends at upstream EOF, so the connection is spent
	// either way; never hand it back to the pool.
	c.pool.Recycle(key, conn)
	return err
}

func (c *Client) streamOnConnection(conn *PooledConn, client net.Conn, key ConnKey, pathAndQuery, method string, headers map[string]string, body []byte, opts StreamOptions) error {
	request := BuildRequest(method, pathAndQuery, key.Host, headers, body)
	if _, err := conn.Write(request); err != nil {
		return routererr.Wrap(routererr.KindUpstream, "upstream write failed", err)
	}

	head, leftover, err := readResponseHead(conn)
	if err != nil {
		return err
	}

	if err := writeStreamHead(client, head); err != nil {
		if IsClientDisconnect(err) {
			c.logger.Warn("client disconnected before stream start")
			return nil
		}
		return routererr.Wrap(routererr.KindIO, "client write failed", err)
	}
	if len(leftover) > 0 {
		if err := writeToClient(client, leftover); err != nil {
			if IsClientDisconnect(err) {
				return nil
			}
			return err
		}
	}

	return c.copyWithHeartbeat(conn, client, opts)
}

// readResponseHead reads from the upstream until the header terminator and
// returns the parsed head plus any body bytes already received.
func readResponseHead(conn net.Conn) (*ResponseHead, []byte, error) {
	var data []byte
	chunk := make([]byte, readChunkSize)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			data = append(data, chunk[:n]...)
			if bytes.Contains(data, headerTerminator) {
				head, bodyStart, parseErr := ParseResponseHead(data)
				if parseErr != nil {
					return nil, nil, parseErr
				}
				return head, data[bodyStart:], nil
			}
			if len(data) > maxResponseHeadBytes {
				return nil, nil, routererr.New(routererr.KindUpstream, "upstream response head too large")
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, nil, routererr.New(routererr.KindUpstream, "upstream closed connection before response head")
			}
			return nil, nil, routererr.Wrap(routererr.KindUpstream, "upstream read failed", err)
		}
	}
}

// writeStreamHead relays the upstream status line and headers, dropping
// hop-by-hop headers and pinning the streaming-friendly set.
func writeStreamHead(client net.Conn, head *ResponseHead) error {
	var buf bytes.Buffer
	reason := head.Reason
	if reason == "" {
		reason = "OK"
	}
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", head.Status, reason)

	seen := map[string]bool{}
	for _, header := range head.Headers {
		if IsHopByHop(header.Name) {
			continue
		}
		fmt.Fprintf(&buf, "%s: %s\r\n", header.Name, header.Value)
		seen[normalizeHeaderName(header.Name)] = true
	}
	buf.WriteString("Connection: keep-alive\r\n")
	if !seen["cache-control"] {
		buf.WriteString("Cache-Control: no-cache\r\n")
	}
	if !seen["x-accel-buffering"] {
		buf.WriteString("X-Accel-Buffering: no\r\n")
	}
	buf.WriteString("\r\n")

	_, err := client.Write(buf.Bytes())
	return err
}

func normalizeHeaderName(name string) string {
	return string(bytes.ToLower([]byte(name)))
}

type readResult struct {
	n   int
	err error
}

// copyWithHeartbeat runs the bounded copy loop, racing the upstream read
// against the heartbeat timer. A dedicated reader goroutine owns the buffer
// and performs at most one read ahead of the last completed client write,
// so a fired heartbeat never consumes unread upstream bytes.
func (c *Client) copyWithHeartbeat(upstream *PooledConn, client net.Conn, opts StreamOptions) error {
	buffer := make([]byte, opts.BufferSize)
	reads := make(chan readResult, 1)
	resume := make(chan struct{})
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			n, err := upstream.Read(buffer)
			reads <- readResult{n: n, err: err}
			if err != nil {
				return
			}
			select {
			case <-resume:
			case <-done:
				return
			}
		}
	}()

	timer := time.NewTimer(opts.HeartbeatInterval)
	defer timer.Stop()

	for {
		select {
		case result := <-reads:
			if result.n > 0 {
				if err := writeToClient(client, buffer[:result.n]); err != nil {
					if IsClientDisconnect(err) {
						c.logger.Warn("client disconnected during streaming")
						return nil
					}
					return err
				}
				resetTimer(timer, opts.HeartbeatInterval)
			}
			if result.err != nil {
				if errors.Is(result.err, io.EOF) {
					c.logger.Debug("upstream closed connection, finishing stream")
					return nil
				}
				if IsClientDisconnect(result.err) {
					c.logger.Warn("upstream connection lost during streaming")
					return nil
				}
				return routererr.Wrap(routererr.KindUpstream, "upstream read failed", result.err)
			}
			resume <- struct{}{}

		case <-timer.C:
			if err := writeToClient(client, heartbeatMessage); err != nil {
				if IsClientDisconnect(err) {
					c.logger.Warn("client disconnected while sending heartbeat")
					return nil
				}
				return err
			}
			timer.Reset(opts.HeartbeatInterval)
		}
	}
}

func writeToClient(client net.Conn, data []byte) error {
	if _, err := client.Write(data); err != nil {
		if IsClientDisconnect(err) {
			return err
		}
		return routererr.Wrap(routererr.KindIO, "client write failed", err)
	}
	return nil
}

func resetTimer(timer *time.Timer, interval time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(interval)
}
