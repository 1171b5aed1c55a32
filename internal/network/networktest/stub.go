// Package networktest 提供测试用的内存 Fetcher，行为与 network.HTTPFetcher 一致：
// 网络失败返回 error，未知 URL 返回 404。
package networktest

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/network"
)

// ErrUnreachable 是模拟的网络层失败。
var ErrUnreachable = errors.New("network unreachable")

// Fetcher 以 URL → 正文的映射模拟上游，并记录每个 URL 的请求次数。
type Fetcher struct {
	mu      sync.Mutex
	bodies  map[string]string
	failing map[string]bool
	offline bool
	calls   map[string]int
	reloads map[string]int
}

// New 返回一个没有任何资源的 Fetcher。
func New() *Fetcher {
	return &Fetcher{
		bodies:  make(map[string]string),
		failing: make(map[string]bool),
		calls:   make(map[string]int),
		reloads: make(map[string]int),
	}
}

// Serve 设置 URL 的响应正文。
func (f *Fetcher) Serve(url, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[url] = body
	delete(f.failing, url)
}

// Fail 让指定 URL 以网络错误失败。
func (f *Fetcher) Fail(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[url] = true
}

// SetOffline 让所有请求以网络错误失败。
func (f *Fetcher) SetOffline(offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = offline
}

// Calls 返回 URL 被请求的次数。
func (f *Fetcher) Calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

// Reloads 返回 URL 以 reload 语义被请求的次数。
func (f *Fetcher) Reloads(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reloads[url]
}

// Total 返回全部请求次数。
func (f *Fetcher) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// Reset 清零请求计数。
func (f *Fetcher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = make(map[string]int)
	f.reloads = make(map[string]int)
}

// Fetch 实现 network.Fetcher。
func (f *Fetcher) Fetch(ctx context.Context, req *network.Request, opts network.FetchOptions) (*cache.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.URL]++
	if opts.Reload {
		f.reloads[req.URL]++
	}
	if f.offline || f.failing[req.URL] {
		return nil, ErrUnreachable
	}
	body, ok := f.bodies[req.URL]
	if !ok {
		return &cache.Response{URL: req.URL, Status: http.StatusNotFound, Body: []byte("not found")}, nil
	}
	return &cache.Response{
		URL:    req.URL,
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/plain"}},
		Body:   []byte(body),
	}, nil
}
