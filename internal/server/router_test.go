package server

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

func TestRouterForwardsToProxyHandler(t *testing.T) {
	app, recorder := newTestApp(t, 5000)

	resp, err := app.Test(httptest.NewRequest("GET", "http://shell.local/main.js?v=1", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 204 status, got %d (body=%s)", resp.StatusCode, string(body))
	}
	if recorder.lastPath != "/main.js" {
		t.Fatalf("expected proxy to see /main.js, got %s", recorder.lastPath)
	}
	if reqID := resp.Header.Get("X-Request-ID"); reqID == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
	if recorder.lastRequestID != resp.Header.Get("X-Request-ID") {
		t.Fatalf("request id mismatch: %s vs %s", recorder.lastRequestID, resp.Header.Get("X-Request-ID"))
	}
}

func TestRouterLeavesDiagnosticsToLaterRoutes(t *testing.T) {
	app, recorder := newTestApp(t, 5000)
	app.Get("/-/ping", func(c fiber.Ctx) error {
		return c.SendString("pong")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "http://shell.local/-/ping", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "pong" {
		t.Fatalf("expected diagnostics route, got %d %s", resp.StatusCode, string(body))
	}
	if recorder.calls != 0 {
		t.Fatalf("proxy handler must not see diagnostics requests")
	}
}

func TestNewAppValidatesOptions(t *testing.T) {
	if _, err := NewApp(AppOptions{}); err == nil {
		t.Fatalf("expected error without logger")
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	if _, err := NewApp(AppOptions{Logger: logger, Proxy: &proxyRecorder{}}); err == nil {
		t.Fatalf("expected error for invalid port")
	}
}

func newTestApp(t *testing.T, port int) (*fiber.App, *proxyRecorder) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	recorder := &proxyRecorder{}
	app, err := NewApp(AppOptions{
		Logger:     logger,
		Proxy:      recorder,
		ListenPort: port,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return app, recorder
}

type proxyRecorder struct {
	calls         int
	lastPath      string
	lastRequestID string
}

func (p *proxyRecorder) Handle(c fiber.Ctx) error {
	p.calls++
	p.lastPath = c.Path()
	p.lastRequestID = RequestID(c)
	return c.SendStatus(fiber.StatusNoContent)
}
