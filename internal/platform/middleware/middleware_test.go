package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func ok(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func TestRequestID_GeneratesNew(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	var rid string
	err := RequestID()(func(c echo.Context) error {
		rid, _ = c.Get("request_id").(string)
		return ok(c)
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rid == "" || rec.Header().Get(RequestIDHeader) != rid {
		t.Errorf("expected generated id echoed in header, got %q / %q", rid, rec.Header().Get(RequestIDHeader))
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "my-custom-id")
	rec := httptest.NewRecorder()

	if err := RequestID()(ok)(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(RequestIDHeader) != "my-custom-id" {
		t.Errorf("expected my-custom-id, got %s", rec.Header().Get(RequestIDHeader))
	}
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLogger_LogsRequest(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/queues/ER", nil), rec)
	c.Set("request_id", "req-1")

	if err := Logger(zerolog.New(&buf))(ok)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := logLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d", len(lines))
	}
	if lines[0]["level"] != "info" || lines[0]["request_id"] != "req-1" || lines[0]["status"] != float64(200) {
		t.Errorf("unexpected log line %v", lines[0])
	}
}

func TestLogger_HandlesErrorOnce(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/api/v1/encounters", nil), rec)

	err := Logger(zerolog.New(&buf))(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "stale")
	})(c)
	if err != nil {
		t.Fatalf("logger should have handled the error, got %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 written, got %d", rec.Code)
	}
	lines := logLines(t, &buf)
	if len(lines) != 1 || lines[0]["level"] != "warn" || lines[0]["status"] != float64(409) {
		t.Errorf("unexpected log %v", lines)
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/panic", nil), httptest.NewRecorder())

	err := Recovery(zerolog.New(&buf))(func(c echo.Context) error { panic("test panic") })(c)
	httpErr, isHTTP := err.(*echo.HTTPError)
	if !isHTTP || httpErr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 HTTPError, got %v", err)
	}
	if !strings.Contains(buf.String(), "test panic") {
		t.Error("expected panic to be logged")
	}
}

func TestRecovery_PassesThrough(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ok", nil), httptest.NewRecorder())
	if err := Recovery(zerolog.Nop())(ok)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSecurityHeaders(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	if err := SecurityHeaders()(ok)(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
		"Referrer-Policy":        "no-referrer",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestRequestTimeout(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/queues/ER", nil), httptest.NewRecorder())

	err := RequestTimeout(10 * time.Millisecond)(func(c echo.Context) error {
		<-c.Request().Context().Done()
		return c.Request().Context().Err()
	})(c)
	httpErr, isHTTP := err.(*echo.HTTPError)
	if !isHTTP || httpErr.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %v", err)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/ws/queues", nil), httptest.NewRecorder())
	err = RequestTimeout(time.Millisecond)(func(c echo.Context) error {
		if _, has := c.Request().Context().Deadline(); has {
			t.Error("websocket requests should not get a deadline")
		}
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequestTimeout_PassesOtherErrors(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	err := RequestTimeout(time.Second)(func(c echo.Context) error { return context.Canceled })(c)
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRateLimit(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})(ok)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		if err := h(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)); err != nil {
			t.Fatalf("request %d: unexpected error: %v", i+1, err)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "1" {
			t.Errorf("request %d: missing limit header", i+1)
		}
	}

	rec := httptest.NewRecorder()
	err := h(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec))
	httpErr, isHTTP := err.(*echo.HTTPError)
	if !isHTTP || httpErr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.RemoteAddr = "10.0.0.9:1234"
	if err := h(e.NewContext(other, httptest.NewRecorder())); err != nil {
		t.Errorf("other clients have their own bucket, got %v", err)
	}
}

func TestTokenBucket_Refills(t *testing.T) {
	b := newTokenBucket(10, 1)
	now := time.Now()
	if allowed, _ := b.take(now); !allowed {
		t.Fatal("expected first token")
	}
	if allowed, _ := b.take(now); allowed {
		t.Fatal("expected bucket empty")
	}
	if allowed, _ := b.take(now.Add(200 * time.Millisecond)); !allowed {
		t.Fatal("expected refill after 200ms at 10/s")
	}
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"1M", 1 << 20},
		{"512K", 512 << 10},
		{"64KB", 64 << 10},
		{"1G", 1 << 30},
		{"1024", 1024},
		{"", 1 << 20},
		{"invalid", 1 << 20},
	}
	for _, tt := range tests {
		if got := parseLimit(tt.input); got != tt.want {
			t.Errorf("parseLimit(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestBodyLimit(t *testing.T) {
	e := echo.New()
	read := func(c echo.Context) error {
		_, err := io.ReadAll(c.Request().Body)
		return err
	}

	small := httptest.NewRequest(http.MethodPost, "/api/v1/encounters", strings.NewReader(`{"kind":"er_case"}`))
	if err := BodyLimit("1K")(read)(e.NewContext(small, httptest.NewRecorder())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	big := httptest.NewRequest(http.MethodPost, "/api/v1/encounters", strings.NewReader(strings.Repeat("x", 2048)))
	err := BodyLimit("1K")(read)(e.NewContext(big, httptest.NewRecorder()))
	httpErr, isHTTP := err.(*echo.HTTPError)
	if !isHTTP || httpErr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %v", err)
	}

	chunked := httptest.NewRequest(http.MethodPost, "/api/v1/encounters", strings.NewReader(strings.Repeat("x", 2048)))
	chunked.ContentLength = -1
	err = BodyLimit("1K")(read)(e.NewContext(chunked, httptest.NewRecorder()))
	httpErr, isHTTP = err.(*echo.HTTPError)
	if !isHTTP || httpErr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 without Content-Length, got %v", err)
	}
}
