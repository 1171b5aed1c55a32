package server

import (
	"net"
	"net/http"
	"net/textproto"
	"time"

	"github.com/any-hub/shellcache/internal/config"
)

// 回源只面对一个 Origin，空闲连接按批量预取的并发度预留。
const maxIdleConnsPerOrigin = 16

func newUpstreamTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          maxIdleConnsPerOrigin * 2,
		MaxIdleConnsPerHost:   maxIdleConnsPerOrigin,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
}

// NewUpstreamClient 返回回源与远程构建产物下载共用的 http.Client。
// UpstreamTimeout 为 0 时不设整体超时，单个挂起的请求只阻塞它自己。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	var timeout time.Duration
	if cfg != nil && cfg.Global.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.Global.UpstreamTimeout.DurationValue()
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: newUpstreamTransport(),
	}
}

// hopByHopHeaders 定义 RFC 7230 中禁止代理转发的头部。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {}, // 非标准字段，但部分代理仍使用
}

// requestOnlyHeaders 由 http.Client 按实际连接重新生成，不从客户端请求透传。
// Accept-Encoding 交给 Transport 处理，缓存中保存的始终是解压后的正文。
var requestOnlyHeaders = map[string]struct{}{
	"Host":            {},
	"Accept-Encoding": {},
	"Content-Length":  {},
}

// 响应正文整体读入内存后重新发送，长度由发送方重新计算。
var bufferedResponseHeaders = map[string]struct{}{
	"Content-Length": {},
}

// CopyRequestHeaders 复制被拦截请求的头部用于回源。
func CopyRequestHeaders(dst, src http.Header) {
	copyHeadersExcept(dst, src, requestOnlyHeaders)
}

// CopyResponseHeaders 复制上游响应头，结果可以随正文一起写入缓存。
func CopyResponseHeaders(dst, src http.Header) {
	copyHeadersExcept(dst, src, bufferedResponseHeaders)
}

// copyHeadersExcept 将 src 中允许透传的头复制到 dst，自动忽略 hop-by-hop 字段与 skip 中的字段。
func copyHeadersExcept(dst, src http.Header, skip map[string]struct{}) {
	for key, values := range src {
		if isHopByHopHeader(key) {
			continue
		}
		if _, ok := skip[textproto.CanonicalMIMEHeaderKey(key)]; ok {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

func isHopByHopHeader(key string) bool {
	_, ok := hopByHopHeaders[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}

// IsHopByHopHeader reports whether the header should be stripped by proxies.
func IsHopByHopHeader(key string) bool {
	return isHopByHopHeader(key)
}
