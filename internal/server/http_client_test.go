package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/any-hub/shellcache/internal/config"
)

func TestNewUpstreamClientUsesConfigTimeout(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{
			UpstreamTimeout: config.Duration(45 * time.Second),
		},
	}

	client := NewUpstreamClient(cfg)
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
}

func TestNewUpstreamClientWithoutTimeout(t *testing.T) {
	client := NewUpstreamClient(&config.Config{})
	if client.Timeout != 0 {
		t.Fatalf("expected no overall timeout, got %s", client.Timeout)
	}
	if client.Transport == nil {
		t.Fatalf("expected shared transport clone")
	}
}

func TestCopyResponseHeadersSkipsHopByHop(t *testing.T) {
	src := http.Header{}
	src.Add("Connection", "keep-alive")
	src.Add("Keep-Alive", "timeout=5")
	src.Add("Content-Length", "12")
	src.Add("X-Test-Header", "1")
	src.Add("x-test-header", "2")

	dst := http.Header{}
	CopyResponseHeaders(dst, src)

	if _, exists := dst["Connection"]; exists {
		t.Fatalf("connection header should not be copied")
	}
	if _, exists := dst["Keep-Alive"]; exists {
		t.Fatalf("keep-alive header should not be copied")
	}

	if dst.Get("Content-Length") != "" {
		t.Fatalf("content-length should be recomputed for buffered bodies")
	}

	got := dst.Values("X-Test-Header")
	if len(got) != 2 {
		t.Fatalf("expected 2 values, got %v", got)
	}
}

func TestCopyRequestHeadersDropsConnectionScopedFields(t *testing.T) {
	src := http.Header{}
	src.Set("Host", "shell.local")
	src.Set("Accept-Encoding", "br")
	src.Set("Proxy-Authorization", "Basic x")
	src.Set("Accept", "text/html")
	src.Set("If-None-Match", `"abc"`)

	dst := http.Header{}
	CopyRequestHeaders(dst, src)

	for _, key := range []string{"Host", "Accept-Encoding", "Proxy-Authorization"} {
		if dst.Get(key) != "" {
			t.Fatalf("%s should not be forwarded", key)
		}
	}
	if dst.Get("Accept") != "text/html" || dst.Get("If-None-Match") != `"abc"` {
		t.Fatalf("end-to-end headers should be forwarded, got %v", dst)
	}
}

func TestNewUpstreamClientUsesPrivateTransport(t *testing.T) {
	a := NewUpstreamClient(nil)
	b := NewUpstreamClient(nil)
	if a.Transport == b.Transport {
		t.Fatalf("each client should own its transport")
	}
	transport, ok := a.Transport.(*http.Transport)
	if !ok || transport.MaxIdleConnsPerHost != maxIdleConnsPerOrigin {
		t.Fatalf("unexpected transport: %#v", a.Transport)
	}
}
