package proxy

import (
	"context"
	"encoding/json"
	"net"

	"lightapi/router/pkg/config"
	"lightapi/router/pkg/models"
	"lightapi/router/pkg/routererr"
	"lightapi/router/pkg/telemetry/tracing"
	"lightapi/router/pkg/transport"
)

// jsonPayload is implemented by the typed request models.
type jsonPayload interface {
	Validate() error
}

// streamable payloads can ask for an SSE response.
type streamable interface {
	StreamRequested() bool
}

// forwardRoute describes how one POST route is forwarded.
type forwardRoute struct {
	newPayload func() jsonPayload
	multipart  bool
}

// forwardRoutes is the table of proxied POST routes.
var forwardRoutes = map[string]forwardRoute{
	"/v1/chat/completions": {newPayload: func() jsonPayload { return &models.ChatCompletionRequest{} }},
	"/v1/completions":      {newPayload: func() jsonPayload { return &models.CompletionRequest{} }},
	"/v1/embeddings":       {newPayload: func() jsonPayload { return &models.EmbeddingRequest{} }},
	"/v1/messages":         {newPayload: func() jsonPayload { return &models.AnthropicMessagesRequest{} }},

	"/v1/audio/transcriptions": {multipart: true},
	"/v1/audio/translations":   {multipart: true},
}

// isForwardRoute reports whether path is a proxied POST route.
func isForwardRoute(path string) bool {
	_, ok := forwardRoutes[path]
	return ok
}

// handleRoute forwards one request according to the route table and accounts
// for any failure in metrics, the failure tracker, and the error sink.
func (h *Handler) handleRoute(ctx context.Context, routePath string, req *ParsedRequest, conn net.Conn, cfg *config.ApiConfig, defaultAPIKey string) error {
	route, ok := forwardRoutes[routePath]
	if !ok {
		return routererr.New(routererr.KindBadRequest, "unsupported route")
	}

	var err error
	if route.multipart {
		err = h.forwardMultipart(ctx, routePath, req, conn, cfg, defaultAPIKey)
	} else {
		err = h.forwardJSON(ctx, routePath, route, req, conn, cfg, defaultAPIKey)
	}

	if err != nil {
		kind := routererr.KindOf(err)
		h.Metrics.RecordUpstreamError(kind.String())

		provider := tracing.Provider(cfg.BaseURL)
		if kind == routererr.KindUpstream || kind == routererr.KindTLS {
			h.Tracker.TrackUpstreamFailure(provider, err)
		}
		if h.Sink != nil {
			h.Sink.CaptureError(err, map[string]any{
				"request_id": req.RequestID,
				"route":      routePath,
				"client":     tracing.AnonymizeKey(req.APIKey),
				"provider":   provider,
			})
		}
	}
	return err
}

// forwardJSON handles the JSON routes, including the streaming variants.
func (h *Handler) forwardJSON(ctx context.Context, routePath string, route forwardRoute, req *ParsedRequest, conn net.Conn, cfg *config.ApiConfig, defaultAPIKey string) error {
	if !req.HasBody() {
		return routererr.New(routererr.KindBadRequest, "empty request body")
	}

	payload := route.newPayload()
	if err := json.Unmarshal(req.Body, payload); err != nil {
		return routererr.Wrap(routererr.KindJSON, "invalid JSON body", err)
	}
	if err := payload.Validate(); err != nil {
		return err
	}

	body, err := models.RewriteModel(req.Body, cfg.ModelMapping)
	if err != nil {
		return err
	}

	streamRequested := false
	if s, ok := payload.(streamable); ok {
		streamRequested = s.StreamRequested()
	}

	plan := PrepareForwardPlan(routePath, req, cfg, defaultAPIKey, "application/json", streamRequested)

	if plan.IsStream {
		h.Logger.Debug("starting streaming request to upstream",
			"request_id", req.RequestID,
			"provider", plan.Provider,
		)
		return h.Client.Stream(ctx, conn, plan.FullURL(), plan.Method, plan.Headers, body, transport.StreamOptionsFrom(plan.StreamConfig))
	}

	response, err := h.Client.Do(ctx, plan.FullURL(), plan.Method, plan.Headers, body)
	if err != nil {
		return err
	}
	if err := WriteUpstreamResponse(conn, response); err != nil {
		// The upstream cycle succeeded; a client write failure here means
		// the client is gone.
		if !transport.IsClientDisconnect(err) {
			return routererr.Wrap(routererr.KindIO, "client write failed", err)
		}
		h.Logger.Warn("client disconnected before response write", "request_id", req.RequestID)
	}
	return nil
}

// forwardMultipart handles the audio routes: the body passes through
// untouched except for the model form field.
func (h *Handler) forwardMultipart(ctx context.Context, routePath string, req *ParsedRequest, conn net.Conn, cfg *config.ApiConfig, defaultAPIKey string) error {
	if !req.HasBody() {
		return routererr.New(routererr.KindBadRequest, "empty request body")
	}
	contentType := req.Header("content-type")
	if contentType == "" {
		return routererr.New(routererr.KindBadRequest, "missing Content-Type header")
	}

	body := models.RewriteMultipartModel(req.Body, cfg.ModelMapping)
	plan := PrepareForwardPlan(routePath, req, cfg, defaultAPIKey, contentType, false)

	response, err := h.Client.Do(ctx, plan.FullURL(), plan.Method, plan.Headers, body)
	if err != nil {
		return err
	}
	if err := WriteUpstreamResponse(conn, response); err != nil {
		if !transport.IsClientDisconnect(err) {
			return routererr.Wrap(routererr.KindIO, "client write failed", err)
		}
		h.Logger.Warn("client disconnected before response write", "request_id", req.RequestID)
	}
	return nil
}
