package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"strconv"
	"time"

	"lightapi/router/pkg/clock"
	"lightapi/router/pkg/config"
	"lightapi/router/pkg/ratelimit"
	"lightapi/router/pkg/telemetry/alerting"
	"lightapi/router/pkg/telemetry/metrics"
	"lightapi/router/pkg/telemetry/tracing"
	"lightapi/router/pkg/transport"
)

const (
	// maxHeaderBytes caps how many bytes a client may send before the
	// header terminator.
	maxHeaderBytes = 64 * 1024

	// readChunkSize is the unit client requests are read in.
	readChunkSize = 4096
)

// Handler runs the per-connection pipeline: read, parse, rate-limit,
// forward, respond. One Handler serves all connections; each connection is
// handled by exactly one goroutine.
type Handler struct {
	Paths   config.Paths
	Cache   *config.Cache
	Limiter *ratelimit.Limiter
	Metrics metrics.Recorder

	// Exposition renders /metrics; usually the same *metrics.Registry as
	// Metrics.
	Exposition interface {
		Gather() ([]byte, error)
	}

	Client  *transport.Client
	Tracker *alerting.Tracker
	Sink    alerting.ErrorSink
	Clock   clock.Clock
	Logger  *slog.Logger
}

// modelsSample is the static response of GET /v1/models.
var modelsSample = []byte(`{"object": "list", "data": [{"id": "qwen3-coder-plus", "object": "model", "created": 1677610602, "owned_by": "organization-owner"}]}`)

// healthPayload is the document served on GET /health.
type healthPayload struct {
	Status      string            `json:"status"`
	Message     string            `json:"message"`
	RateLimiter healthRateLimiter `json:"rateLimiter"`
}

type healthRateLimiter struct {
	ActiveBuckets int            `json:"activeBuckets"`
	Routes        map[string]int `json:"routes"`
}

// HandleConnection serves one client connection: a single request, a single
// response, then close.
func (h *Handler) HandleConnection(conn net.Conn) {
	defer conn.Close()

	guard := metrics.NewConnectionGuard(h.Metrics)
	defer guard.Close()

	requestID := tracing.NewRequestID()
	start := h.Clock.Now()
	clientAddr := ""
	if addr := conn.RemoteAddr(); addr != nil {
		clientAddr = addr.String()
	}

	logger := h.Logger.With(
		"request_id", requestID,
		"client_ip", clientAddr,
	)
	logger.Debug("new connection")

	raw, err := readRequest(conn)
	if err != nil {
		logger.Warn("failed to read request", "error", err)
		return
	}
	if len(raw) == 0 {
		return
	}

	req, err := ParseRequest(raw)
	if err != nil {
		status, response := MapErrorToResponse(err)
		conn.Write(response)
		h.finish(logger, "/unknown", "UNKNOWN", status, start)
		return
	}
	req.RequestID = requestID
	req.ClientAddr = clientAddr

	routePath := req.RoutePath()
	logger = logger.With("method", req.Method, "route", routePath)

	switch {
	case req.Method == "GET" && routePath == "/health":
		h.handleHealth(conn)
		logger.Info("health check completed")
		h.finish(logger, routePath, req.Method, 200, start)

	case req.Method == "GET" && routePath == "/metrics":
		status := h.handleMetrics(conn)
		h.finish(logger, routePath, req.Method, status, start)

	case req.Method == "GET" && routePath == "/v1/models":
		WriteSuccess(conn, "application/json", modelsSample)
		logger.Info("models list retrieved")
		h.finish(logger, routePath, req.Method, 200, start)

	case req.Method == "POST" && isForwardRoute(routePath):
		h.handleForward(logger, conn, req, routePath, start)

	default:
		logger.Warn("route not found")
		conn.Write(BuildErrorResponse(404, "Not Found"))
		h.finish(logger, routePath, req.Method, 404, start)
	}
}

// handleForward runs the config load, rate limit, plan and forward steps of
// a proxied POST route.
func (h *Handler) handleForward(logger *slog.Logger, conn net.Conn, req *ParsedRequest, routePath string, start time.Time) {
	cfg, err := h.Cache.Load(h.Paths)
	if err != nil {
		status, response := MapErrorToResponse(err)
		conn.Write(response)
		if h.Sink != nil {
			h.Sink.CaptureError(err, map[string]any{
				"request_id": req.RequestID,
				"route":      routePath,
			})
		}
		h.finish(logger, routePath, req.Method, status, start)
		return
	}

	defaultAPIKey := ResolveDefaultAPIKey()
	req.APIKey = ExtractClientAPIKey(req.Headers, defaultAPIKey)

	if settings, limited := ratelimit.Resolve(routePath, cfg); limited {
		decision := h.Limiter.Check(routePath, req.APIKey, settings)
		if !decision.Allowed {
			logger.Warn("rate limit exceeded",
				"client", tracing.AnonymizeKey(req.APIKey),
				"retry_after", decision.RetryAfterSeconds,
			)
			conn.Write(BuildErrorResponseWithHeaders(429, "Rate limit exceeded", [][2]string{
				{"Retry-After", strconv.Itoa(decision.RetryAfterSeconds)},
			}))
			h.finish(logger, routePath, req.Method, 429, start)
			return
		}
	}

	err = h.handleRoute(context.Background(), routePath, req, conn, cfg, defaultAPIKey)
	if err != nil {
		status, response := MapErrorToResponse(err)
		conn.Write(response)
		h.finish(logger, routePath, req.Method, status, start)
		return
	}

	logger.Info("request completed",
		"provider", tracing.Provider(cfg.BaseURL),
	)
	h.finish(logger, routePath, req.Method, 200, start)
}

// handleHealth serves the health document with a live limiter snapshot.
func (h *Handler) handleHealth(conn net.Conn) {
	snapshot := h.Limiter.Snapshot()
	h.Metrics.SetRateLimiterBuckets(snapshot.ActiveBuckets)

	payload := healthPayload{
		Status:  "ok",
		Message: "Light API Router running",
		RateLimiter: healthRateLimiter{
			ActiveBuckets: snapshot.ActiveBuckets,
			Routes:        snapshot.Routes,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	WriteSuccess(conn, "application/json", body)
}

// handleMetrics serves the Prometheus text exposition.
func (h *Handler) handleMetrics(conn net.Conn) int {
	snapshot := h.Limiter.Snapshot()
	h.Metrics.SetRateLimiterBuckets(snapshot.ActiveBuckets)

	if h.Exposition == nil {
		conn.Write(BuildErrorResponse(500, "Failed to get metrics"))
		return 500
	}
	output, err := h.Exposition.Gather()
	if err != nil {
		h.Logger.Warn("failed to gather metrics", "error", err)
		conn.Write(BuildErrorResponse(500, "Failed to get metrics"))
		return 500
	}
	WriteSuccess(conn, "text/plain; version=0.0.4", output)
	return 200
}

// finish records the request outcome in metrics and logs.
func (h *Handler) finish(logger *slog.Logger, route, method string, status int, start time.Time) {
	latency := h.Clock.Since(start).Seconds()
	h.Metrics.ObserveRequestLatency(route, latency)
	h.Metrics.RecordRequest(route, method, status)
	logger.Debug("request finished",
		"status_code", status,
		"latency_ms", latency*1000,
	)
}

// readRequest reads one complete request: headers through the terminator,
// then exactly Content-Length body bytes. A missing Content-Length on any
// method means no body.
func readRequest(conn net.Conn) ([]byte, error) {
	var data []byte
	chunk := make([]byte, readChunkSize)

	headerEnd := -1
	contentLength := 0
	for {
		if headerEnd < 0 {
			if i := bytes.Index(data, requestHeaderTerminator); i >= 0 {
				headerEnd = i + len(requestHeaderTerminator)
				if length, ok := ExtractContentLength(string(data[:i])); ok {
					contentLength = length
				}
			} else if len(data) > maxHeaderBytes {
				// The parser will answer 400 on the truncated block.
				return data, nil
			}
		}
		if headerEnd >= 0 && len(data) >= headerEnd+contentLength {
			return data[:headerEnd+contentLength], nil
		}

		n, err := conn.Read(chunk)
		if n > 0 {
			data = append(data, chunk[:n]...)
			continue
		}
		if err != nil {
			// EOF before the request completed: hand back what arrived so
			// partial requests surface as 400 rather than vanishing.
			return data, nil
		}
	}
}
