package transport

import (
	"bytes"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"lightapi/router/pkg/routererr"
)

// collector drains one end of a pipe into a buffer so the writer never
// blocks, and exposes the accumulated bytes.
type collector struct {
	mu   sync.Mutex
	data []byte
	done chan struct{}
}

func collect(conn net.Conn) *collector {
	c := &collector{done: make(chan struct{})}
	go func() {
		defer close(c.done)
		chunk := make([]byte, 1024)
		for {
			n, err := conn.Read(chunk)
			if n > 0 {
				c.mu.Lock()
				c.data = append(c.data, chunk[:n]...)
				c.mu.Unlock()
			}
			if err != nil {
				return
			}
		}
	}()
	return c
}

func (c *collector) bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.data...)
}

const sseHead = "HTTP/1.1 200 OK\r\nContent-Type: text/event-stream\r\n\r\n"

func TestStream_RelaysEventsInOrderWithHeartbeat(t *testing.T) {
	firstEvent := "data: {\"x\":1}\n\n"
	finalEvent := "data: [DONE]\n\n"

	client, _, pool := newTestClient(func(conn net.Conn) {
		if _, err := readOneRequest(conn); err != nil {
			return
		}
		conn.Write([]byte(sseHead))
		conn.Write([]byte(firstEvent))
		// Stay silent past two heartbeat intervals.
		time.Sleep(130 * time.Millisecond)
		conn.Write([]byte(finalEvent))
		conn.Close()
	})

	clientEnd, observerEnd := net.Pipe()
	observed := collect(observerEnd)

	err := client.Stream(context.Background(), clientEnd, "http://upstream.test/v1/chat/completions", "POST",
		map[string]string{"Content-Type": "application/json"}, []byte(`{"stream":true}`),
		StreamOptions{BufferSize: 1024, HeartbeatInterval: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	clientEnd.Close()
	<-observed.done

	output := string(observed.bytes())

	// The relayed head keeps the upstream content type and pins the
	// streaming headers.
	headEnd := strings.Index(output, "\r\n\r\n")
	if headEnd < 0 {
		t.Fatalf("no response head in output: %q", output)
	}
	head := output[:headEnd]
	for _, want := range []string{
		"HTTP/1.1 200 OK",
		"Content-Type: text/event-stream",
		"Cache-Control: no-cache",
		"X-Accel-Buffering: no",
	} {
		if !strings.Contains(head, want) {
			t.Errorf("head missing %q:\n%s", want, head)
		}
	}

	body := output[headEnd+4:]
	firstIndex := strings.Index(body, firstEvent)
	heartbeatIndex := strings.Index(body, ": heartbeat\r\n\r\n")
	finalIndex := strings.Index(body, finalEvent)

	if firstIndex < 0 || finalIndex < 0 {
		t.Fatalf("events missing from output: %q", body)
	}
	if heartbeatIndex < 0 {
		t.Fatal("expected a heartbeat during the upstream pause")
	}
	if !(firstIndex < heartbeatIndex && heartbeatIndex < finalIndex) {
		t.Errorf("ordering violated: first=%d heartbeat=%d final=%d", firstIndex, heartbeatIndex, finalIndex)
	}

	// Stripping heartbeats leaves exactly the upstream bytes, in order.
	payload := strings.ReplaceAll(body, ": heartbeat\r\n\r\n", "")
	if payload != firstEvent+finalEvent {
		t.Errorf("non-heartbeat bytes differ from upstream payload:\n%q", payload)
	}

	if pool.Live(testKey2()) != 0 {
		t.Error("drained stream connection must not stay pooled")
	}
}

func TestStream_NoHeartbeatWhenUpstreamIsFast(t *testing.T) {
	client, _, _ := newTestClient(func(conn net.Conn) {
		readOneRequest(conn)
		conn.Write([]byte(sseHead))
		conn.Write([]byte("data: fast\n\n"))
		conn.Close()
	})

	clientEnd, observerEnd := net.Pipe()
	observed := collect(observerEnd)

	err := client.Stream(context.Background(), clientEnd, "http://upstream.test/v1/chat/completions", "POST",
		nil, []byte(`{}`), StreamOptions{BufferSize: 1024, HeartbeatInterval: time.Second})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	clientEnd.Close()
	<-observed.done

	if bytes.Contains(observed.bytes(), []byte(": heartbeat")) {
		t.Error("no heartbeat expected when the upstream stays active")
	}
}

func TestStream_ClientDisconnectIsSilent(t *testing.T) {
	upstreamClosed := make(chan struct{})
	client, _, pool := newTestClient(func(conn net.Conn) {
		readOneRequest(conn)
		conn.Write([]byte(sseHead))
		conn.Write([]byte("data: {\"x\":1}\n\n"))
		// Block until the router drops the upstream connection.
		buf := make([]byte, 1)
		conn.Read(buf)
		close(upstreamClosed)
	})

	clientEnd, observerEnd := net.Pipe()
	// Read the head plus first event, then hang up.
	go func() {
		buf := make([]byte, 4096)
		observerEnd.Read(buf)
		observerEnd.Close()
	}()

	err := client.Stream(context.Background(), clientEnd, "http://upstream.test/v1/chat/completions", "POST",
		nil, []byte(`{}`), StreamOptions{BufferSize: 1024, HeartbeatInterval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("client disconnect must be silent, got %v", err)
	}

	select {
	case <-upstreamClosed:
	case <-time.After(2 * time.Second):
		t.Error("upstream connection was not dropped after the client left")
	}
	if pool.Live(testKey2()) != 0 {
		t.Error("upstream connection must be recycled, not pooled")
	}
}

func TestStream_UpstreamFailureBeforeHead(t *testing.T) {
	client, _, _ := newTestClient(func(conn net.Conn) {
		readOneRequest(conn)
		conn.Close()
	})

	clientEnd, observerEnd := net.Pipe()
	collect(observerEnd)

	err := client.Stream(context.Background(), clientEnd, "http://upstream.test/v1/chat/completions", "POST",
		nil, []byte(`{}`), StreamOptions{})
	if err == nil {
		t.Fatal("expected an upstream error")
	}
	if !routererr.IsKind(err, routererr.KindUpstream) {
		t.Errorf("expected Upstream, got %v", err)
	}
	clientEnd.Close()
}
