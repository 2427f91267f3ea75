package proxy

import (
	"strings"

	"lightapi/router/pkg/config"
	"lightapi/router/pkg/telemetry/tracing"
)

// ForwardPlan is everything needed to execute one upstream request.
type ForwardPlan struct {
	Method  string
	BaseURL string
	Path    string

	// Headers carry canonical casing for the wire.
	Headers map[string]string

	IsStream    bool
	IsMultipart bool

	StreamConfig config.StreamConfig

	// Provider tags logs, metrics and alerts.
	Provider string
}

// FullURL joins the normalized base URL with the upstream path.
func (p *ForwardPlan) FullURL() string {
	return joinBaseAndPath(p.BaseURL, p.Path)
}

// PrepareForwardPlan builds the plan for a route from the parsed request and
// the active configuration.
//
// streamRequested is the client body's stream flag; the plan streams only
// when the endpoint also declares streamSupport.
func PrepareForwardPlan(routePath string, req *ParsedRequest, cfg *config.ApiConfig, defaultAPIKey, contentType string, streamRequested bool) *ForwardPlan {
	endpoint := cfg.Endpoint(routePath)

	method := endpoint.Method
	if method == "" {
		method = req.Method
	}
	method = strings.ToUpper(method)

	return &ForwardPlan{
		Method:       method,
		BaseURL:      cfg.NormalizedBaseURL(),
		Path:         computeUpstreamPath(req.Target, endpoint),
		Headers:      buildUpstreamHeaders(cfg, endpoint, req.Headers, defaultAPIKey, contentType),
		IsStream:     endpoint.StreamSupport && streamRequested,
		IsMultipart:  endpoint.RequiresMultipart,
		StreamConfig: cfg.ResolveStreamConfig(routePath),
		Provider:     tracing.Provider(cfg.BaseURL),
	}
}

// computeUpstreamPath applies the endpoint's path override and merges the
// client's query string into it.
func computeUpstreamPath(requestTarget string, endpoint config.EndpointConfig) string {
	if endpoint.UpstreamPath == "" {
		if strings.HasPrefix(requestTarget, "/") {
			return requestTarget
		}
		return "/" + requestTarget
	}

	path := endpoint.UpstreamPath
	if !strings.HasPrefix(path, "/") && !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		path = "/" + path
	}

	queryIndex := strings.IndexByte(requestTarget, '?')
	if queryIndex < 0 {
		return path
	}
	query := requestTarget[queryIndex+1:]

	if strings.ContainsRune(path, '?') {
		if query != "" {
			if !strings.HasSuffix(path, "?") && !strings.HasSuffix(path, "&") {
				path += "&"
			}
			path += query
		}
		return path
	}
	return path + "?" + query
}

func joinBaseAndPath(base, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if base == "" {
		return path
	}
	switch {
	case path == "":
		return base
	case strings.HasPrefix(path, "/"):
		return base + path
	default:
		return base + "/" + path
	}
}

// passThroughHeaders are copied from the client when present, overwriting
// any configured value of the same name.
var passThroughHeaders = []struct {
	clientKey string
	canonical string
}{
	{"authorization", "Authorization"},
	{"accept", "Accept"},
	{"user-agent", "User-Agent"},
	{"x-request-id", "x-request-id"},
	{"anthropic-version", "anthropic-version"},
}

// buildUpstreamHeaders layers the transformer headers, the endpoint
// headers, the content type, and the preserved client subset. Overwrites
// are case-insensitive on the header name; the last writer's casing wins.
func buildUpstreamHeaders(cfg *config.ApiConfig, endpoint config.EndpointConfig, clientHeaders map[string]string, defaultAPIKey, contentType string) map[string]string {
	headers := make(map[string]string, len(cfg.Headers)+len(endpoint.Headers)+4)

	for name, value := range cfg.Headers {
		setHeader(headers, name, value)
	}
	for name, value := range endpoint.Headers {
		setHeader(headers, name, value)
	}
	if contentType != "" {
		setHeader(headers, "Content-Type", contentType)
	}

	for _, pass := range passThroughHeaders {
		if value, ok := clientHeaders[pass.clientKey]; ok {
			setHeader(headers, pass.canonical, value)
		}
	}

	if !hasHeader(headers, "authorization") {
		setHeader(headers, "Authorization", "Bearer "+defaultAPIKey)
	}

	return headers
}

// setHeader overwrites any existing entry whose name matches
// case-insensitively, keeping the new casing.
func setHeader(headers map[string]string, name, value string) {
	for existing := range headers {
		if strings.EqualFold(existing, name) {
			delete(headers, existing)
		}
	}
	headers[name] = value
}

func hasHeader(headers map[string]string, name string) bool {
	for existing := range headers {
		if strings.EqualFold(existing, name) {
			return true
		}
	}
	return false
}
