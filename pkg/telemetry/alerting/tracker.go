// Package alerting tracks repeated upstream failures per provider and emits
// throttled alert events through an ErrorSink.
package alerting

import (
	"log/slog"
	"sync"
	"time"

	"lightapi/router/pkg/clock"
)

const (
	// failureThreshold is the failure count that triggers an alert.
	failureThreshold = 5

	// failureWindow is the rolling window failures are counted in.
	failureWindow = 5 * time.Minute

	// alertThrottle caps alerting to one event per provider per interval
	// once the threshold has been crossed.
	alertThrottle = time.Minute
)

// ErrorSink receives error events. The production sink logs through slog;
// deployments can substitute an external reporting sink.
type ErrorSink interface {
	// CaptureError records a single request-scoped error with its context.
	CaptureError(err error, fields map[string]any)

	// Alert signals that a provider has crossed the repeated-failure
	// threshold.
	Alert(provider string, err error, count int)
}

// LogSink is the default ErrorSink backed by slog.
type LogSink struct {
	Logger *slog.Logger
}

func (s *LogSink) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// CaptureError logs the error with its request context fields.
func (s *LogSink) CaptureError(err error, fields map[string]any) {
	attrs := make([]any, 0, 2+2*len(fields))
	attrs = append(attrs, "error", err)
	for key, value := range fields {
		attrs = append(attrs, key, value)
	}
	s.logger().Error("request error", attrs...)
}

// Alert logs a repeated-failure alert.
func (s *LogSink) Alert(provider string, err error, count int) {
	s.logger().Error("ALERT: repeated upstream failures detected",
		"provider", provider,
		"error", err,
		"failures", count,
		"window_secs", int(failureWindow.Seconds()),
	)
}

// Tracker counts upstream failures per provider tag and decides when to
// alert. Entries outside the window are reset lazily on access and expired
// by ExpireStale.
type Tracker struct {
	clock clock.Clock
	sink  ErrorSink

	mu        sync.Mutex
	providers map[string]*failureInfo
}

type failureInfo struct {
	count        int
	firstFailure time.Time
	lastAlerted  time.Time
	alerted      bool
}

// NewTracker creates a Tracker reporting through sink.
func NewTracker(clk clock.Clock, sink ErrorSink) *Tracker {
	if clk == nil {
		clk = clock.System
	}
	return &Tracker{
		clock:     clk,
		sink:      sink,
		providers: make(map[string]*failureInfo),
	}
}

// TrackUpstreamFailure registers one transport-level failure for provider
// and emits an alert when the threshold is crossed (subject to throttling).
func (t *Tracker) TrackUpstreamFailure(provider string, err error) {
	now := t.clock.Now()

	t.mu.Lock()
	info, ok := t.providers[provider]
	if !ok {
		info = &failureInfo{firstFailure: now}
		t.providers[provider] = info
	}
	shouldAlert, count := info.registerFailure(now)
	t.expireStaleLocked(now)
	t.mu.Unlock()

	if shouldAlert && t.sink != nil {
		t.sink.Alert(provider, err, count)
	}
}

// registerFailure updates the window state and reports whether an alert is
// due. Caller holds the tracker lock.
func (f *failureInfo) registerFailure(now time.Time) (bool, int) {
	if now.Sub(f.firstFailure) > failureWindow {
		f.count = 1
		f.firstFailure = now
		f.alerted = false
		return false, f.count
	}

	f.count++
	if f.count >= failureThreshold {
		if !f.alerted || now.Sub(f.lastAlerted) > alertThrottle {
			f.alerted = true
			f.lastAlerted = now
			return true, f.count
		}
	}
	return false, f.count
}

// ExpireStale drops trackers whose window started more than twice the
// failure window ago.
func (t *Tracker) ExpireStale() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expireStaleLocked(t.clock.Now())
}

func (t *Tracker) expireStaleLocked(now time.Time) {
	cutoff := now.Add(-2 * failureWindow)
	for provider, info := range t.providers {
		if info.firstFailure.Before(cutoff) {
			delete(t.providers, provider)
		}
	}
}

// Len returns the number of tracked providers.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.providers)
}
