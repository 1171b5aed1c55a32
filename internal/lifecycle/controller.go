package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/logging"
	"github.com/any-hub/shellcache/internal/manifest"
	"github.com/any-hub/shellcache/internal/network"
)

// State 表示代际所处的生命周期阶段。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateServed     State = "served"
	StateRedundant  State = "redundant"
)

// Names 汇总三个托管缓存的名称以及 Manifest 记录在 manifest-record 中的 key。
type Names struct {
	Content   string
	Temp      string
	Record    string
	RecordKey string
}

// Clients 是宿主运行时提供的客户端接管能力。
type Clients interface {
	Claim(c *Controller)
}

// Options 描述构造 Controller 所需的全部依赖。
type Options struct {
	Generation string
	Bundle     *manifest.Bundle
	Keyer      manifest.Keyer
	Names      Names
	Store      cache.Store
	Fetcher    network.Fetcher
	Clients    Clients
	Logger     *logrus.Logger
}

// Controller 持有一个代际的 Manifest 与缓存依赖，驱动 install/activate。
type Controller struct {
	generation string
	bundle     *manifest.Bundle
	keyer      manifest.Keyer
	names      Names
	store      cache.Store
	fetcher    network.Fetcher
	clients    Clients
	logger     *logrus.Entry
	now        func() time.Time

	// state 只由 install/activate 写入，诊断接口会并发读取。
	state atomic.Value
}

// New 校验依赖并返回处于 parsed 状态的 Controller。
func New(opts Options) (*Controller, error) {
	if opts.Bundle == nil {
		return nil, errors.New("bundle is required")
	}
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Names.Content == "" || opts.Names.Temp == "" || opts.Names.Record == "" || opts.Names.RecordKey == "" {
		return nil, errors.New("cache names are required")
	}
	c := &Controller{
		generation: opts.Generation,
		bundle:     opts.Bundle,
		keyer:      opts.Keyer,
		names:      opts.Names,
		store:      opts.Store,
		fetcher:    opts.Fetcher,
		clients:    opts.Clients,
		logger:     logging.Component(opts.Logger, "lifecycle"),
		now:        time.Now,
	}
	c.state.Store(StateParsed)
	return c, nil
}

func (c *Controller) Generation() string { return c.generation }
func (c *Controller) Bundle() *manifest.Bundle { return c.bundle }
func (c *Controller) Keyer() manifest.Keyer { return c.keyer }
func (c *Controller) Names() Names { return c.names }
func (c *Controller) Store() cache.Store { return c.store }
func (c *Controller) Fetcher() network.Fetcher { return c.fetcher }
func (c *Controller) State() State { return c.state.Load().(State) }

// Retire 把被新部署取代、不会再激活的代际标记为 redundant。
func (c *Controller) Retire() {
	c.state.Store(StateRedundant)
}

// Install 清空 temp 后把 Core Set 全部以 reload 语义回源写入 temp。
// 任一资源失败则整个 install 失败，temp 中不留下本批次的任何条目。
func (c *Controller) Install(ctx context.Context) error {
	if state := c.State(); state != StateParsed {
		return fmt.Errorf("install requires state %s, got %s", StateParsed, state)
	}
	c.state.Store(StateInstalling)
	started := c.now()
	log := c.logger.WithFields(logging.LifecycleFields(c.generation, c.bundle.ShortID(), "install"))

	fail := func(err error, code platformerrors.ErrorCode, stage string) error {
		c.state.Store(StateRedundant)
		InstallTotal.WithLabelValues(resultFailed).Inc()
		wrapped := stageError(err, code, "install failed", stage, c.generation)
		log.WithError(err).WithField("stage", stage).Error("install_failed")
		return wrapped
	}

	if _, err := c.store.Delete(ctx, c.names.Temp); err != nil {
		return fail(err, platformerrors.CodeExecutionFailed, "reset_temp")
	}
	temp, err := c.store.Open(ctx, c.names.Temp)
	if err != nil {
		return fail(err, platformerrors.CodeExecutionFailed, "open_temp")
	}

	urls := make([]string, 0, len(c.bundle.CoreSet))
	for _, key := range c.bundle.CoreSet {
		urls = append(urls, c.keyer.URL(key))
	}
	n, err := network.AddAll(ctx, c.fetcher, temp, urls, network.FetchOptions{Reload: true})
	if err != nil {
		return fail(err, platformerrors.CodeNetwork, "fetch_core_set")
	}

	c.state.Store(StateInstalled)
	InstallTotal.WithLabelValues(resultOK).Inc()
	log.WithFields(logrus.Fields{
		"core_set":   n,
		"elapsed_ms": c.now().Sub(started).Milliseconds(),
	}).Info("install_complete")
	return nil
}

// Activate 依据 manifest-record 中上一份 Manifest 整理 content 缓存，随后接管客户端。
// 任意一步失败都会删除 content、temp 与 manifest-record，代际进入 redundant。
func (c *Controller) Activate(ctx context.Context) (*ActivationReport, error) {
	if state := c.State(); state != StateInstalled {
		return nil, fmt.Errorf("activate requires state %s, got %s", StateInstalled, state)
	}
	c.state.Store(StateActivating)
	started := c.now()
	report := &ActivationReport{
		Generation: c.generation,
		Deployment: c.bundle.ID,
		StartedAt:  started,
	}
	log := c.logger.WithFields(logging.LifecycleFields(c.generation, c.bundle.ShortID(), "activate"))

	stage, err := c.reconcile(ctx, report)
	report.Elapsed = c.now().Sub(started)
	if err != nil {
		report.Failed = true
		c.state.Store(StateRedundant)
		ActivationTotal.WithLabelValues(string(report.Mode), resultFailed).Inc()
		log.WithError(err).WithField("stage", stage).Error("activation_failed")
		c.teardown(context.WithoutCancel(ctx), log)
		return report, stageError(err, platformerrors.CodeExecutionFailed, "activation failed", stage, c.generation)
	}

	c.state.Store(StateServed)
	ActivationTotal.WithLabelValues(string(report.Mode), resultOK).Inc()
	StaleDeleted.Add(float64(report.Deleted))
	log.WithFields(report.Fields()).Info("activation_complete")

	if c.clients != nil {
		c.clients.Claim(c)
	}
	return report, nil
}

// reconcile 执行 activate 的缓存整理步骤，返回失败时所处的阶段。
func (c *Controller) reconcile(ctx context.Context, report *ActivationReport) (string, error) {
	content, err := c.store.Open(ctx, c.names.Content)
	if err != nil {
		return "open_content", err
	}
	temp, err := c.store.Open(ctx, c.names.Temp)
	if err != nil {
		return "open_temp", err
	}
	record, err := c.store.Open(ctx, c.names.Record)
	if err != nil {
		return "open_record", err
	}

	prev, err := c.readPrevious(ctx, record)
	if err != nil {
		return "read_manifest", err
	}

	if prev == nil {
		report.Mode = ModeCold
		if _, err := c.store.Delete(ctx, c.names.Content); err != nil {
			return "reset_content", err
		}
		if content, err = c.store.Open(ctx, c.names.Content); err != nil {
			return "reset_content", err
		}
	} else {
		report.Mode = ModeIncremental
		if err := c.prune(ctx, content, prev, report); err != nil {
			return "prune_content", err
		}
	}

	installed, err := cache.CopyAll(ctx, temp, content)
	if err != nil {
		return "copy_temp", err
	}
	report.Installed = installed

	if _, err := c.store.Delete(ctx, c.names.Temp); err != nil {
		return "delete_temp", err
	}
	if err := c.persist(ctx, record); err != nil {
		return "persist_manifest", err
	}
	return "", nil
}

// prune 删除 content 中失效的条目：key 不在新 Manifest 中，或新旧指纹不同。
func (c *Controller) prune(ctx context.Context, content cache.Cache, prev manifest.Manifest, report *ActivationReport) error {
	urls, err := content.Keys(ctx)
	if err != nil {
		return err
	}
	next := c.bundle.Manifest
	for _, url := range urls {
		key, ok := c.keyer.EntryKey(url)
		if ok && !manifest.Stale(prev, next, key) {
			report.Retained++
			continue
		}
		if _, err := content.Delete(ctx, url); err != nil {
			return fmt.Errorf("delete %s: %w", url, err)
		}
		report.Deleted++
		if !ok {
			key = url
		}
		report.DeletedKeys = append(report.DeletedKeys, key)
	}
	return nil
}

// readPrevious 读取上一份 Manifest；不存在时返回 nil。
func (c *Controller) readPrevious(ctx context.Context, record cache.Cache) (manifest.Manifest, error) {
	resp, err := record.Match(ctx, c.names.RecordKey)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return manifest.Parse(resp.Body)
}

func (c *Controller) persist(ctx context.Context, record cache.Cache) error {
	encoded, err := c.bundle.Manifest.Encode()
	if err != nil {
		return err
	}
	return record.Put(ctx, c.names.RecordKey, &cache.Response{
		URL:    c.names.RecordKey,
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   encoded,
	})
}

// teardown 删除全部托管缓存，之后客户端只能直连网络，直到下一次激活成功。
func (c *Controller) teardown(ctx context.Context, log *logrus.Entry) {
	TeardownTotal.Inc()
	for _, name := range []string{c.names.Content, c.names.Temp, c.names.Record} {
		if _, err := c.store.Delete(ctx, name); err != nil {
			log.WithError(err).WithField("cache", name).Error("teardown_delete_failed")
		}
	}
	log.Warn("managed caches discarded")
}

func stageError(err error, code platformerrors.ErrorCode, message, stage, generation string) error {
	wrapped := platformerrors.Wrap(err, code, message)
	return platformerrors.WithContextMap(wrapped, map[string]interface{}{
		"stage":      stage,
		"generation": generation,
	})
}
