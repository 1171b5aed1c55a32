package routes

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	platformerrors "github.com/jmgilman/go/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/control"
	"github.com/any-hub/shellcache/internal/server"
	"github.com/any-hub/shellcache/internal/worker"
)

// Runtime 是诊断与控制接口依赖的运行时能力，由 worker.Supervisor 实现。
type Runtime interface {
	Status() worker.Status
	Message(ctx context.Context, raw string) (*control.Outcome, error)
	Redeploy(ctx context.Context) (*worker.DeployResult, error)
}

// RegisterDiagnosticsRoutes 暴露 /-/status、/-/control、/-/deploy 与 /-/metrics。
func RegisterDiagnosticsRoutes(app *fiber.App, runtime Runtime, logger *logrus.Logger) {
	if app == nil || runtime == nil {
		return
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(runtime.Status())
	})

	app.Post("/-/control", func(c fiber.Ctx) error {
		raw := parseControlMessage(c)
		outcome, err := runtime.Message(requestContext(c), raw)
		fields := logrus.Fields{
			"action":     "control",
			"message":    raw,
			"request_id": server.RequestID(c),
		}
		if err != nil {
			logger.WithFields(fields).WithError(err).Warn("control_failed")
			return writePlatformError(c, classifyControlError(err))
		}
		fields["fetched"] = outcome.Fetched
		logger.WithFields(fields).Info("control_complete")
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Post("/-/deploy", func(c fiber.Ctx) error {
		result, err := runtime.Redeploy(requestContext(c))
		fields := logrus.Fields{
			"action":     "deploy",
			"request_id": server.RequestID(c),
		}
		if err != nil {
			logger.WithFields(fields).WithError(err).Warn("deploy_failed")
			return writePlatformError(c, platformErrorOr(err, platformerrors.CodeExecutionFailed, "deployment failed"))
		}
		fields["deployment"] = result.Deployment
		fields["skipped"] = result.Skipped
		fields["activated"] = result.Activated
		logger.WithFields(fields).Info("deploy_complete")
		return c.JSON(result)
	})

	app.Get("/-/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

// parseControlMessage 支持 JSON {"message": "..."}、纯文本正文与 ?message= 三种写法。
func parseControlMessage(c fiber.Ctx) string {
	if q := c.Query("message"); q != "" {
		return q
	}
	body := strings.TrimSpace(string(c.Body()))
	if strings.HasPrefix(body, "{") {
		var payload struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(body), &payload); err == nil {
			return payload.Message
		}
	}
	return strings.Trim(body, `"`)
}

func classifyControlError(err error) error {
	switch {
	case errors.Is(err, control.ErrUnknownMessage):
		return platformerrors.Wrap(err, platformerrors.CodeInvalidInput, "unknown control message")
	case errors.Is(err, control.ErrNoActiveWorker):
		return platformerrors.Wrap(err, platformerrors.CodeConflict, "no active worker")
	default:
		return platformErrorOr(err, platformerrors.CodeExecutionFailed, "control message failed")
	}
}

// platformErrorOr 保留已有错误码，未分类的错误使用 code 包装。
func platformErrorOr(err error, code platformerrors.ErrorCode, message string) error {
	if platformerrors.GetCode(err) != platformerrors.CodeUnknown {
		return err
	}
	return platformerrors.Wrap(err, code, message)
}

func writePlatformError(c fiber.Ctx, err error) error {
	return c.Status(statusForCode(platformerrors.GetCode(err))).JSON(platformerrors.ToJSON(err))
}

func statusForCode(code platformerrors.ErrorCode) int {
	switch code {
	case platformerrors.CodeInvalidInput:
		return fiber.StatusBadRequest
	case platformerrors.CodeConflict:
		return fiber.StatusConflict
	default:
		return fiber.StatusBadGateway
	}
}

func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
