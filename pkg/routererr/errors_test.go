package routererr

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestError_Display(t *testing.T) {
	err := New(KindURL, "invalid url")
	if err.Error() != "invalid url" {
		t.Errorf("unexpected message: %q", err.Error())
	}

	wrapped := Wrap(KindConfigRead, "cannot read config", io.ErrUnexpectedEOF)
	want := "cannot read config: unexpected EOF"
	if wrapped.Error() != want {
		t.Errorf("expected %q, got %q", want, wrapped.Error())
	}
}

func TestWrap_NilCause(t *testing.T) {
	if Wrap(KindIO, "anything", nil) != nil {
		t.Error("wrapping nil should yield nil")
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(KindUpstream, "upstream exchange failed", cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{New(KindBadRequest, "bad"), KindBadRequest},
		{Wrap(KindTLS, "handshake", errors.New("x509")), KindTLS},
		{fmt.Errorf("wrapping: %w", New(KindJSON, "parse")), KindJSON},
		{errors.New("plain"), KindIO},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestIsKind(t *testing.T) {
	err := New(KindConfigParse, "bad json")
	if !IsKind(err, KindConfigParse) {
		t.Error("expected IsKind to match")
	}
	if IsKind(err, KindConfigRead) {
		t.Error("expected IsKind to reject other kinds")
	}
	if IsKind(errors.New("plain"), KindIO) {
		t.Error("plain errors carry no kind")
	}
}

func TestKind_MetricsLabels(t *testing.T) {
	labels := map[Kind]string{
		KindURL:         "url_error",
		KindIO:          "io_error",
		KindConfigRead:  "config_read_error",
		KindConfigParse: "config_parse_error",
		KindJSON:        "json_error",
		KindUpstream:    "upstream_error",
		KindTLS:         "tls_error",
		KindBadRequest:  "bad_request",
	}
	for kind, want := range labels {
		if kind.String() != want {
			t.Errorf("Kind(%d).String() = %q, want %q", kind, kind.String(), want)
		}
	}
}
