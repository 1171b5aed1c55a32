package proxy

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/logging"
	"github.com/any-hub/shellcache/internal/network"
)

// clientScopedHeaders 让上游返回只对发起请求的客户端有意义的响应（206、304），
// 结果要写入共享缓存的回源请求不携带这些头部。
var clientScopedHeaders = []string{
	"Range",
	"If-Range",
	"If-Match",
	"If-None-Match",
	"If-Modified-Since",
	"If-Unmodified-Since",
}

// sharedRequest 返回去掉 clientScopedHeaders 的请求副本。
func sharedRequest(req *network.Request) *network.Request {
	shared := *req
	shared.Header = req.Header.Clone()
	for _, key := range clientScopedHeaders {
		shared.Header.Del(key)
	}
	return &shared
}

// partialOrEmpty 表示响应不是完整文档，任何策略都不写入缓存。
func partialOrEmpty(resp *cache.Response) bool {
	return resp.Status == http.StatusPartialContent || resp.Status == http.StatusNotModified
}

// onlineFirst 总是先回源；成功后覆盖缓存中的副本（不论状态码，206/304 除外），
// 网络失败时退回已缓存的副本，没有副本则返回原始网络错误。
func (r *Router) onlineFirst(ctx context.Context, req *network.Request, decision Decision) (*Result, error) {
	fields := logging.RequestFields(decision.Key, string(decision.Strategy), false)

	resp, fetchErr := r.fetcher.Fetch(ctx, sharedRequest(req), network.FetchOptions{})
	if fetchErr == nil {
		if content, err := r.store.Open(ctx, r.content); err != nil {
			r.logger.WithError(err).WithFields(fields).Warn("cache_open_failed")
		} else if !partialOrEmpty(resp) {
			r.remember(ctx, content, decision, resp)
		}
		RouterRequests.WithLabelValues(string(decision.Strategy), outcomeNetwork).Inc()
		return &Result{Response: resp, Decision: decision}, nil
	}

	cached, err := r.matchContent(ctx, decision.CacheURL)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			r.logger.WithError(err).WithFields(fields).Warn("cache_match_failed")
		}
		RouterRequests.WithLabelValues(string(decision.Strategy), outcomeError).Inc()
		return nil, fetchErr
	}
	RouterRequests.WithLabelValues(string(decision.Strategy), outcomeFallback).Inc()
	r.logger.WithError(fetchErr).WithFields(logging.RequestFields(decision.Key, string(decision.Strategy), true)).
		Info("serving cached root while offline")
	return &Result{Response: cached, Decision: decision, CacheHit: true}, nil
}

func (r *Router) matchContent(ctx context.Context, url string) (*cache.Response, error) {
	content, err := r.store.Open(ctx, r.content)
	if err != nil {
		return nil, err
	}
	return content.Match(ctx, url)
}

// cacheFirst 命中直接返回且不做重新验证；未命中时回源，只有 2xx 响应写入缓存。
func (r *Router) cacheFirst(ctx context.Context, req *network.Request, decision Decision) (*Result, error) {
	content, err := r.store.Open(ctx, r.content)
	if err != nil {
		r.logger.WithError(err).WithFields(logging.RequestFields(decision.Key, string(decision.Strategy), false)).
			Warn("cache_open_failed")
		return r.fetchUncached(ctx, req, decision)
	}

	cached, err := content.Match(ctx, decision.CacheURL)
	switch {
	case err == nil:
		RouterRequests.WithLabelValues(string(decision.Strategy), outcomeHit).Inc()
		return &Result{Response: cached, Decision: decision, CacheHit: true}, nil
	case errors.Is(err, cache.ErrNotFound):
		// miss, continue
	default:
		r.logger.WithError(err).WithFields(logging.RequestFields(decision.Key, string(decision.Strategy), false)).
			Warn("cache_match_failed")
	}

	resp, err := r.fetcher.Fetch(ctx, sharedRequest(req), network.FetchOptions{})
	if err != nil {
		RouterRequests.WithLabelValues(string(decision.Strategy), outcomeError).Inc()
		return nil, err
	}
	if resp.OK() && !partialOrEmpty(resp) {
		r.remember(ctx, content, decision, resp)
	}
	RouterRequests.WithLabelValues(string(decision.Strategy), outcomeMiss).Inc()
	return &Result{Response: resp, Decision: decision}, nil
}

func (r *Router) fetchUncached(ctx context.Context, req *network.Request, decision Decision) (*Result, error) {
	resp, err := r.fetcher.Fetch(ctx, req, network.FetchOptions{})
	if err != nil {
		RouterRequests.WithLabelValues(string(decision.Strategy), outcomeError).Inc()
		return nil, err
	}
	RouterRequests.WithLabelValues(string(decision.Strategy), outcomeMiss).Inc()
	return &Result{Response: resp, Decision: decision}, nil
}

// remember 写入响应副本（Set-Cookie 等由 Put 去除）；失败只记录日志，不影响本次响应。
func (r *Router) remember(ctx context.Context, content cache.Cache, decision Decision, resp *cache.Response) {
	if err := content.Put(ctx, decision.CacheURL, resp); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"resource_key": decision.Key,
			"strategy":     decision.Strategy,
		}).Warn("cache_put_failed")
	}
}
