// Package control 处理宿主页面发来的控制消息：立即激活等待中的 worker，
// 以及把 Manifest 中尚未缓存的资源一次性补齐以便离线使用。
package control

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/lifecycle"
	"github.com/any-hub/shellcache/internal/logging"
	"github.com/any-hub/shellcache/internal/network"
)

// Message 是控制消息类型。
type Message string

const (
	// MessageActivateNow 请求立即取代仍在等待的 worker，页面随后自行刷新。
	MessageActivateNow Message = "activate-now"
	// MessagePrefetchAll 请求下载 Manifest 中所有尚未缓存的资源。
	MessagePrefetchAll Message = "prefetch-all"
)

var (
	// ErrUnknownMessage 表示消息类型无法识别。
	ErrUnknownMessage = errors.New("unknown control message")
	// ErrNoActiveWorker 表示当前没有已激活的代际可以处理 prefetch。
	ErrNoActiveWorker = errors.New("no active worker")
)

// ParseMessage 将原始字符串转换为 Message。
func ParseMessage(raw string) (Message, error) {
	switch msg := Message(strings.TrimSpace(raw)); msg {
	case MessageActivateNow, MessagePrefetchAll:
		return msg, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMessage, raw)
	}
}

// Runtime 是消息处理依赖的宿主运行时能力。
type Runtime interface {
	// SkipWaiting 让等待中的代际立即激活；没有等待代际时为空操作。
	SkipWaiting(ctx context.Context) error
	// Active 返回当前控制客户端的代际，可能为 nil。
	Active() *lifecycle.Controller
}

// Outcome 描述一次消息处理的结果，控制端点据此记录日志。
type Outcome struct {
	Message Message `json:"message"`
	Fetched int     `json:"fetched"`
}

// Channel 把控制消息分派到运行时或 prefetch 逻辑。
type Channel struct {
	runtime Runtime
	logger  *logrus.Entry
}

// New 构造 Channel。
func New(runtime Runtime, logger *logrus.Logger) *Channel {
	return &Channel{runtime: runtime, logger: logging.Component(logger, "control")}
}

// Handle 处理一条控制消息。prefetch-all 为全有或全无：批次中任一资源失败则整体失败。
func (ch *Channel) Handle(ctx context.Context, msg Message) (*Outcome, error) {
	outcome := &Outcome{Message: msg}
	var err error
	switch msg {
	case MessageActivateNow:
		err = ch.runtime.SkipWaiting(ctx)
	case MessagePrefetchAll:
		active := ch.runtime.Active()
		if active == nil {
			err = ErrNoActiveWorker
			break
		}
		outcome.Fetched, err = Prefetch(ctx, active)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownMessage, msg)
	}

	fields := logrus.Fields{"message": msg, "fetched": outcome.Fetched}
	if err != nil {
		Messages.WithLabelValues(string(msg), resultFailed).Inc()
		ch.logger.WithError(err).WithFields(fields).Warn("control_message_failed")
		return outcome, err
	}
	Messages.WithLabelValues(string(msg), resultOK).Inc()
	ch.logger.WithFields(fields).Info("control_message_handled")
	return outcome, nil
}

// Prefetch 计算 Manifest 中 content 尚未包含的 key，并作为一个批次下载写入 content。
// 已缓存的条目不会被重新请求。
func Prefetch(ctx context.Context, c *lifecycle.Controller) (int, error) {
	content, err := c.Store().Open(ctx, c.Names().Content)
	if err != nil {
		return 0, err
	}
	present, err := cache.KeySet(ctx, content)
	if err != nil {
		return 0, err
	}

	keyer := c.Keyer()
	cached := make(map[string]struct{}, len(present))
	for url := range present {
		if key, ok := keyer.EntryKey(url); ok {
			cached[key] = struct{}{}
		}
	}

	var missing []string
	for _, key := range c.Bundle().Manifest.Keys() {
		if _, ok := cached[key]; !ok {
			missing = append(missing, keyer.URL(key))
		}
	}
	n, err := network.AddAll(ctx, c.Fetcher(), content, missing, network.FetchOptions{})
	if err != nil {
		return 0, err
	}
	Prefetched.Add(float64(n))
	return n, nil
}
