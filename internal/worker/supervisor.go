package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/control"
	"github.com/any-hub/shellcache/internal/lifecycle"
	"github.com/any-hub/shellcache/internal/logging"
	"github.com/any-hub/shellcache/internal/manifest"
	"github.com/any-hub/shellcache/internal/network"
	"github.com/any-hub/shellcache/internal/proxy"
)

// LoadFunc 读取最新一次部署的构建产物。
type LoadFunc func(ctx context.Context) (*manifest.Bundle, error)

// Options 描述 Supervisor 的依赖与行为开关。
type Options struct {
	Store   cache.Store
	Fetcher network.Fetcher
	Keyer   manifest.Keyer
	Names   lifecycle.Names
	Load    LoadFunc
	Logger  *logrus.Logger

	// SkipWaitingOnInstall 为 true 时 install 成功后立即激活，
	// 否则新代际等待 activate-now 消息（首次部署除外）。
	SkipWaitingOnInstall bool
}

// generation 是已接管客户端的代际及其请求路由。
type generation struct {
	controller *lifecycle.Controller
	router     *proxy.Router
}

// Supervisor 管理 worker 代际并向 HTTP 层提供 Dispatch。
type Supervisor struct {
	opts    Options
	logger  *logrus.Logger
	channel *control.Channel

	// lifecycleMu 串行化 install/activate。
	lifecycleMu sync.Mutex

	mu         sync.RWMutex
	active     *generation
	waiting    *lifecycle.Controller
	lastReport *lifecycle.ActivationReport
	lastError  string
}

// DeployResult 描述一次部署请求的处理结果。
type DeployResult struct {
	Generation string                      `json:"generation,omitempty"`
	Deployment string                      `json:"deployment"`
	Skipped    bool                        `json:"skipped"`
	Activated  bool                        `json:"activated"`
	Report     *lifecycle.ActivationReport `json:"report,omitempty"`
}

// New 构造 Supervisor，初始没有任何代际，所有请求直接回源。
func New(opts Options) (*Supervisor, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Supervisor{opts: opts, logger: logger}
	s.channel = control.New(s, logger)
	return s, nil
}

// Redeploy 通过 LoadFunc 读取最新构建产物并部署。
func (s *Supervisor) Redeploy(ctx context.Context) (*DeployResult, error) {
	if s.opts.Load == nil {
		return nil, errors.New("no deployment source configured")
	}
	bundle, err := s.opts.Load(ctx)
	if err != nil {
		DeploymentsTotal.WithLabelValues(deployLoadFailed).Inc()
		s.recordError(err)
		return nil, err
	}
	return s.Deploy(ctx, bundle)
}

// Deploy 为 bundle 创建新代际并投递 install 事件；与当前或等待中代际相同的部署被忽略。
// install 成功后，若允许 skip-waiting 或尚无激活代际，则立即投递 activate 事件。
func (s *Supervisor) Deploy(ctx context.Context, bundle *manifest.Bundle) (*DeployResult, error) {
	if bundle == nil {
		return nil, errors.New("bundle is required")
	}
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	result := &DeployResult{Deployment: bundle.ID}
	if s.isKnownDeployment(bundle.ID) {
		result.Skipped = true
		DeploymentsTotal.WithLabelValues(deploySkipped).Inc()
		s.logger.WithFields(logging.LifecycleFields("", bundle.ShortID(), "deploy")).Info("deployment unchanged, skipped")
		return result, nil
	}

	c, err := lifecycle.New(lifecycle.Options{
		Generation: uuid.NewString(),
		Bundle:     bundle,
		Keyer:      s.opts.Keyer,
		Names:      s.opts.Names,
		Store:      s.opts.Store,
		Fetcher:    s.opts.Fetcher,
		Clients:    s,
		Logger:     s.logger,
	})
	if err != nil {
		return nil, err
	}
	result.Generation = c.Generation()

	if err := s.handleInstall(ctx, c); err != nil {
		DeploymentsTotal.WithLabelValues(deployInstallFailed).Inc()
		return result, err
	}

	s.mu.RLock()
	hasActive := s.active != nil
	s.mu.RUnlock()
	if !s.opts.SkipWaitingOnInstall && hasActive {
		DeploymentsTotal.WithLabelValues(deployWaiting).Inc()
		return result, nil
	}

	report, err := s.handleActivate(ctx)
	result.Report = report
	if err != nil {
		DeploymentsTotal.WithLabelValues(deployActivationFailed).Inc()
		return result, err
	}
	result.Activated = true
	DeploymentsTotal.WithLabelValues(deployActivated).Inc()
	return result, nil
}

// SkipWaiting 立即激活等待中的代际；没有等待代际时为空操作。
func (s *Supervisor) SkipWaiting(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.RLock()
	waiting := s.waiting
	s.mu.RUnlock()
	if waiting == nil {
		return nil
	}
	_, err := s.handleActivate(ctx)
	return err
}

// handleInstall 处理 install 事件；成功后新代际成为等待代际，取代旧的等待代际。
func (s *Supervisor) handleInstall(ctx context.Context, c *lifecycle.Controller) error {
	s.mu.Lock()
	if s.waiting != nil {
		s.waiting.Retire()
		s.waiting = nil
	}
	s.mu.Unlock()

	if err := c.Install(ctx); err != nil {
		s.recordError(err)
		return err
	}

	s.mu.Lock()
	s.waiting = c
	s.mu.Unlock()
	return nil
}

// handleActivate 处理 activate 事件。激活失败时托管缓存已被清空，
// 旧代际一并退役，之后请求直接回源，直到下一次激活成功。
func (s *Supervisor) handleActivate(ctx context.Context) (*lifecycle.ActivationReport, error) {
	s.mu.Lock()
	c := s.waiting
	s.waiting = nil
	s.mu.Unlock()
	if c == nil {
		return nil, errors.New("no waiting worker")
	}

	report, err := c.Activate(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if report != nil {
		s.lastReport = report
	}
	if err != nil {
		s.lastError = err.Error()
		if s.active != nil {
			s.active.controller.Retire()
			s.active = nil
		}
		ActiveManifestSize.Set(0)
		return report, err
	}
	s.lastError = ""
	return report, nil
}

// Claim 让激活成功的代际接管全部客户端。
func (s *Supervisor) Claim(c *lifecycle.Controller) {
	router, err := proxy.NewRouter(proxy.RouterOptions{
		Manifest:     c.Bundle().Manifest,
		Keyer:        c.Keyer(),
		Store:        c.Store(),
		ContentCache: c.Names().Content,
		Fetcher:      c.Fetcher(),
		Logger:       logging.Component(s.logger, "router").WithField("generation", c.Generation()),
	})
	if err != nil {
		s.logger.WithError(err).WithFields(logging.LifecycleFields(c.Generation(), c.Bundle().ShortID(), "claim")).
			Error("claim_failed")
		return
	}

	s.mu.Lock()
	prev := s.active
	s.active = &generation{controller: c, router: router}
	s.mu.Unlock()

	if prev != nil && prev.controller != c {
		prev.controller.Retire()
	}
	ActiveManifestSize.Set(float64(len(c.Bundle().Manifest)))
	s.logger.WithFields(logging.LifecycleFields(c.Generation(), c.Bundle().ShortID(), "claim")).Info("clients claimed")
}

// Dispatch 处理 fetch 事件：交给控制客户端的代际，没有代际时直接回源。
func (s *Supervisor) Dispatch(ctx context.Context, req *network.Request) (*proxy.Result, error) {
	s.mu.RLock()
	active := s.active
	s.mu.RUnlock()
	if active == nil {
		return proxy.Passthrough(ctx, s.opts.Fetcher, req)
	}
	return active.router.Serve(ctx, req)
}

// Message 处理 message 事件。
func (s *Supervisor) Message(ctx context.Context, raw string) (*control.Outcome, error) {
	msg, err := control.ParseMessage(raw)
	if err != nil {
		return nil, err
	}
	return s.channel.Handle(ctx, msg)
}

// Active 返回当前控制客户端的代际。
func (s *Supervisor) Active() *lifecycle.Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return nil
	}
	return s.active.controller
}

// Waiting 返回等待激活的代际。
func (s *Supervisor) Waiting() *lifecycle.Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.waiting
}

func (s *Supervisor) isKnownDeployment(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active != nil && s.active.controller.Bundle().ID == id {
		return true
	}
	return s.waiting != nil && s.waiting.Bundle().ID == id
}

func (s *Supervisor) recordError(err error) {
	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()
}
