package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/server"
)

// ErrNotOK 表示批量下载中某个响应的状态码不在 2xx 范围。
var ErrNotOK = errors.New("response status is not ok")

// Request 是被拦截请求在网络层的最小描述。
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// FetchOptions 控制单次回源行为。
type FetchOptions struct {
	// Reload 对应 cache: 'reload'，强制上游重新验证，忽略任何中间缓存。
	Reload bool
}

// Fetcher 执行一次网络请求并返回完整响应。只有网络层失败才返回 error，
// 非 2xx 响应照常返回，由调用方根据 OK() 决定是否缓存。
type Fetcher interface {
	Fetch(ctx context.Context, req *Request, opts FetchOptions) (*cache.Response, error)
}

// HTTPFetcher 基于共享 http.Client 回源。
type HTTPFetcher struct {
	client *http.Client
	now    func() time.Time
}

// NewHTTPFetcher 使用给定 client 构造 Fetcher；client 为空时退回 http.DefaultClient。
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client, now: time.Now}
}

// Fetch 发送请求并把响应正文完整读入内存。
func (f *HTTPFetcher) Fetch(ctx context.Context, req *Request, opts FetchOptions) (*cache.Response, error) {
	if req == nil {
		return nil, errors.New("request required")
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	started := f.now()
	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, err
	}
	server.CopyRequestHeaders(httpReq.Header, req.Header)
	if opts.Reload {
		httpReq.Header.Del("If-None-Match")
		httpReq.Header.Del("If-Modified-Since")
		httpReq.Header.Set("Cache-Control", "no-cache")
		httpReq.Header.Set("Pragma", "no-cache")
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		observeFetch(method, resultNetworkError, started)
		return nil, fmt.Errorf("%s %s: %w", method, req.URL, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		observeFetch(method, resultNetworkError, started)
		return nil, fmt.Errorf("read body %s: %w", req.URL, err)
	}

	header := http.Header{}
	server.CopyResponseHeaders(header, resp.Header)

	out := &cache.Response{
		URL:    req.URL,
		Status: resp.StatusCode,
		Header: header,
		Body:   payload,
	}
	if out.OK() {
		observeFetch(method, resultOK, started)
	} else {
		observeFetch(method, resultNotOK, started)
	}
	return out, nil
}
