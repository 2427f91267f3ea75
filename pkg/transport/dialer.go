// Package transport implements the upstream side of the router: a dialer
// capability for TCP/TLS connections, a keep-alive connection pool keyed by
// destination, a minimal HTTP/1.1 wire codec, and the JSON and SSE forward
// paths.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"lightapi/router/pkg/routererr"
)

// ConnKey identifies one upstream destination. Pools are partitioned by
// key, so failures on one destination never affect another.
type ConnKey struct {
	Scheme string
	Host   string
	Port   int
}

// KeyFromURL derives the destination key from an absolute upstream URL.
func KeyFromURL(u *url.URL) (ConnKey, error) {
	scheme := u.Scheme
	if scheme != "http" && scheme != "https" {
		return ConnKey{}, routererr.Newf(routererr.KindURL, "unsupported scheme: %s", scheme)
	}
	host := u.Hostname()
	if host == "" {
		return ConnKey{}, routererr.New(routererr.KindURL, "invalid URL: missing host")
	}
	port := 80
	if scheme == "https" {
		port = 443
	}
	if raw := u.Port(); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return ConnKey{}, routererr.Newf(routererr.KindURL, "invalid port: %s", raw)
		}
		port = parsed
	}
	return ConnKey{Scheme: scheme, Host: host, Port: port}, nil
}

// String renders the key for log fields.
func (k ConnKey) String() string {
	return fmt.Sprintf("%s://%s:%d", k.Scheme, k.Host, k.Port)
}

// Dialer is the capability interface for opening upstream streams. Tests
// substitute in-memory implementations.
type Dialer interface {
	// DialContext opens a stream to the destination, performing the TLS
	// handshake when the scheme is https.
	DialContext(ctx context.Context, key ConnKey) (net.Conn, error)
}

// NetDialer is the production Dialer: plain TCP for http, TLS with SNI and
// the system root set for https.
type NetDialer struct {
	// Timeout bounds connection establishment. Zero means no timeout.
	Timeout time.Duration

	// TLSConfig overrides the TLS client configuration. The ServerName is
	// always set from the destination host.
	TLSConfig *tls.Config
}

// DialContext implements Dialer.
func (d *NetDialer) DialContext(ctx context.Context, key ConnKey) (net.Conn, error) {
	netDialer := net.Dialer{Timeout: d.Timeout}
	addr := net.JoinHostPort(key.Host, strconv.Itoa(key.Port))

	conn, err := netDialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, routererr.Wrap(routererr.KindUpstream, "connect to "+addr+" failed", err)
	}
	if key.Scheme != "https" {
		return conn, nil
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if d.TLSConfig != nil {
		tlsConfig = d.TLSConfig.Clone()
	}
	tlsConfig.ServerName = key.Host

	tlsConn := tls.Client(conn, tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, routererr.Wrap(routererr.KindTLS, "TLS handshake with "+key.Host+" failed", err)
	}
	return tlsConn, nil
}
