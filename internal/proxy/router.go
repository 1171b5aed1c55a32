package proxy

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/manifest"
	"github.com/any-hub/shellcache/internal/network"
)

// Strategy 表示请求的服务方式。
type Strategy string

const (
	// StrategyPassthrough 不拦截，直接交给网络。
	StrategyPassthrough Strategy = "passthrough"
	// StrategyOnlineFirst 先回源，失败时退回缓存，只用于根文档。
	StrategyOnlineFirst Strategy = "online-first"
	// StrategyCacheFirst 命中即返回，未命中回源并在 2xx 时写入缓存。
	StrategyCacheFirst Strategy = "cache-first"
)

// Decision 是 Classify 的结果。CacheURL 为缓存条目的规范 URL，
// 带版本参数的请求与不带版本参数的请求共享同一条目。
type Decision struct {
	Strategy Strategy
	Key      string
	CacheURL string
}

// Result 是一次路由后的响应与来源信息。
type Result struct {
	Response *cache.Response
	Decision Decision
	CacheHit bool
}

// RouterOptions 描述一个代际的路由依赖。
type RouterOptions struct {
	Manifest     manifest.Manifest
	Keyer        manifest.Keyer
	Store        cache.Store
	ContentCache string
	Fetcher      network.Fetcher
	Logger       *logrus.Entry
}

// Router 拦截受 Manifest 管理的 GET 请求，本身不修改 Manifest。
type Router struct {
	manifest manifest.Manifest
	keyer    manifest.Keyer
	store    cache.Store
	content  string
	fetcher  network.Fetcher
	logger   *logrus.Entry
}

// NewRouter 构造 Router。
func NewRouter(opts RouterOptions) (*Router, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.ContentCache == "" {
		return nil, errors.New("content cache name is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Router{
		manifest: opts.Manifest,
		keyer:    opts.Keyer,
		store:    opts.Store,
		content:  opts.ContentCache,
		fetcher:  opts.Fetcher,
		logger:   logger,
	}, nil
}

// Classify 决定请求的服务方式：非 GET、无法推导 key 或 key 不在 Manifest 中的请求
// 一律不拦截；根 key 走 online-first，其余走 cache-first。
func (r *Router) Classify(method, rawURL string) Decision {
	if method != http.MethodGet {
		return Decision{Strategy: StrategyPassthrough}
	}
	key, ok := r.keyer.RequestKey(rawURL)
	if !ok || !r.manifest.Has(key) {
		return Decision{Strategy: StrategyPassthrough, Key: key}
	}
	decision := Decision{Key: key, CacheURL: r.keyer.URL(key)}
	if key == manifest.RootKey {
		decision.Strategy = StrategyOnlineFirst
	} else {
		decision.Strategy = StrategyCacheFirst
	}
	return decision
}

// Serve 按 Classify 的结果执行对应策略。
func (r *Router) Serve(ctx context.Context, req *network.Request) (*Result, error) {
	decision := r.Classify(req.Method, req.URL)
	switch decision.Strategy {
	case StrategyOnlineFirst:
		return r.onlineFirst(ctx, req, decision)
	case StrategyCacheFirst:
		return r.cacheFirst(ctx, req, decision)
	default:
		return Passthrough(ctx, r.fetcher, req)
	}
}

// Passthrough 原样回源，不读写任何缓存。
func Passthrough(ctx context.Context, f network.Fetcher, req *network.Request) (*Result, error) {
	decision := Decision{Strategy: StrategyPassthrough}
	resp, err := f.Fetch(ctx, req, network.FetchOptions{})
	if err != nil {
		RouterRequests.WithLabelValues(string(StrategyPassthrough), outcomeError).Inc()
		return nil, err
	}
	RouterRequests.WithLabelValues(string(StrategyPassthrough), outcomeNetwork).Inc()
	return &Result{Response: resp, Decision: decision}, nil
}
