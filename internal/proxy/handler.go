package proxy

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/logging"
	"github.com/any-hub/shellcache/internal/network"
	"github.com/any-hub/shellcache/internal/server"
)

// Dispatcher 把请求交给当前控制客户端的 worker；没有 worker 时直接回源。
type Dispatcher interface {
	Dispatch(ctx context.Context, req *network.Request) (*Result, error)
}

// Handler 是 Fiber 与 Dispatcher 之间的适配层，负责请求转换与响应回写。
type Handler struct {
	dispatcher Dispatcher
	origin     string
	logger     *logrus.Logger
}

// NewHandler 构造 Handler，origin 用于把监听端口上的路径还原成部署 URL。
func NewHandler(dispatcher Dispatcher, origin string, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{
		dispatcher: dispatcher,
		origin:     strings.TrimRight(origin, "/"),
		logger:     logger,
	}
}

// Handle 将请求交给 Dispatcher，并把结果写回客户端；回源失败时返回 502。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req := &network.Request{
		Method: c.Method(),
		URL:    h.origin + c.OriginalURL(),
		Header: fiberHeadersAsHTTP(c),
	}
	if body := c.Body(); len(body) > 0 {
		req.Body = append([]byte(nil), body...)
	}

	result, err := h.dispatcher.Dispatch(ctx, req)
	if err != nil {
		h.logResult(req, nil, requestID, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}

	resp := result.Response
	copyResponseHeaders(c, resp.Header)
	c.Set("X-Shell-Cache-Strategy", string(result.Decision.Strategy))
	c.Set("X-Shell-Cache-Hit", strconv.FormatBool(result.CacheHit))
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.Status)

	h.logResult(req, result, requestID, started, nil)
	if req.Method == http.MethodHead {
		return nil
	}
	return c.Send(resp.Body)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(req *network.Request, result *Result, requestID string, started time.Time, err error) {
	fields := logrus.Fields{}
	if result != nil {
		fields = logging.RequestFields(result.Decision.Key, string(result.Decision.Strategy), result.CacheHit)
		fields["status"] = result.Response.Status
	}
	fields["action"] = "proxy"
	fields["method"] = req.Method
	fields["url"] = req.URL
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		if errors.Is(err, context.Canceled) {
			h.logger.WithFields(fields).Info("proxy_abandoned")
			return
		}
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

// copyResponseHeaders 保留多值头部（如 Set-Cookie），Content-Length 由 fiber 按正文重新计算。
func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) || http.CanonicalHeaderKey(key) == "Content-Length" {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
}
