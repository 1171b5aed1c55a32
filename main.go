package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/config"
	"github.com/any-hub/shellcache/internal/lifecycle"
	"github.com/any-hub/shellcache/internal/logging"
	"github.com/any-hub/shellcache/internal/manifest"
	"github.com/any-hub/shellcache/internal/network"
	"github.com/any-hub/shellcache/internal/proxy"
	"github.com/any-hub/shellcache/internal/server"
	"github.com/any-hub/shellcache/internal/server/routes"
	"github.com/any-hub/shellcache/internal/version"
	"github.com/any-hub/shellcache/internal/watch"
	"github.com/any-hub/shellcache/internal/worker"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

const redisPingTimeout = 5 * time.Second

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["origin"] = cfg.Shell.Origin
		fields["store_backend"] = cfg.Global.StoreBackend
		fields["manifest_source"] = cfg.Shell.ManifestSource
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动顺序：配置 → 缓存后端 → Supervisor → 首次部署 → Fiber server。
	store, err := buildStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存后端失败: %v\n", err)
		return 1
	}

	sup, err := newSupervisor(cfg, store, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化 worker 失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["origin"] = cfg.Shell.Origin
	fields["listen_port"] = cfg.Global.ListenPort
	fields["store_backend"] = cfg.Global.StoreBackend
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	// 首次部署失败不阻止启动：没有激活代际时请求直接回源。
	deploy(ctx, sup, logger, "initial")

	if cfg.Shell.WatchManifest {
		go watchArtifacts(ctx, cfg.Shell, sup, logger)
	}

	if err := startHTTPServer(cfg, sup, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("shellcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 SHELLCACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("SHELLCACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// buildStore 按 StoreBackend 选择命名缓存存储。
func buildStore(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	g := cfg.Global
	switch g.StoreBackend {
	case config.StoreBackendMemory:
		return cache.NewMemoryStore(), nil
	case config.StoreBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     g.RedisAddr,
			Password: g.RedisPassword,
			DB:       g.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("连接 redis %s 失败: %w", g.RedisAddr, err)
		}
		return cache.NewRedisStore(client, g.RedisPrefix), nil
	default:
		return cache.NewStore(g.StoragePath)
	}
}

// newSupervisor 组装回源客户端、key 推导与缓存命名，构建 worker 代际管理器。
func newSupervisor(cfg *config.Config, store cache.Store, logger *logrus.Logger) (*worker.Supervisor, error) {
	httpClient := server.NewUpstreamClient(cfg)
	return worker.New(worker.Options{
		Store:   store,
		Fetcher: network.NewHTTPFetcher(httpClient),
		Keyer:   manifest.NewKeyer(cfg.Shell.Origin, cfg.Shell.VersionParam, cfg.Shell.RootFragmentAlias),
		Names: lifecycle.Names{
			Content:   cfg.Shell.ContentCache,
			Temp:      cfg.Shell.TempCache,
			Record:    cfg.Shell.ManifestCache,
			RecordKey: cfg.Shell.ManifestRecordKey,
		},
		Load:                 bundleLoader(httpClient, cfg.Shell),
		Logger:               logger,
		SkipWaitingOnInstall: cfg.Shell.SkipWaitingOnInstall,
	})
}

// bundleLoader 每次调用都重新读取 manifest 与 Core Set，供首次部署与热更新复用。
func bundleLoader(client *http.Client, shell config.ShellConfig) worker.LoadFunc {
	src := manifest.Source{
		Manifest:      shell.ManifestSource,
		CoreSet:       shell.CoreSetSource,
		InlineCoreSet: shell.CoreSet,
	}
	return func(ctx context.Context) (*manifest.Bundle, error) {
		return manifest.Load(ctx, client, src)
	}
}

func deploy(ctx context.Context, sup *worker.Supervisor, logger *logrus.Logger, trigger string) {
	result, err := sup.Redeploy(ctx)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"action":  "deploy",
			"trigger": trigger,
		}).WithError(err).Error("部署失败")
		return
	}
	logger.WithFields(logrus.Fields{
		"action":     "deploy",
		"trigger":    trigger,
		"deployment": result.Deployment,
		"generation": result.Generation,
		"skipped":    result.Skipped,
		"activated":  result.Activated,
	}).Info("部署完成")
}

// watchArtifacts 监听本地构建产物，变更后重新部署。
func watchArtifacts(ctx context.Context, shell config.ShellConfig, sup *worker.Supervisor, logger *logrus.Logger) {
	paths := []string{shell.ManifestSource}
	if !shell.HasInlineCoreSet() && shell.CoreSetSource != "" && !isRemoteSource(shell.CoreSetSource) {
		paths = append(paths, shell.CoreSetSource)
	}
	err := watch.Files(ctx, paths, watch.DefaultDebounce, logger, func(ctx context.Context) {
		deploy(ctx, sup, logger, "watch")
	})
	if err != nil && ctx.Err() == nil {
		logger.WithFields(logrus.Fields{"action": "watch"}).WithError(err).Error("监听构建产物失败")
	}
}

func isRemoteSource(source string) bool {
	lower := strings.ToLower(source)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// buildApp 挂载代理与 /-/ 诊断路由。
func buildApp(cfg *config.Config, sup *worker.Supervisor, logger *logrus.Logger) (*fiber.App, error) {
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      proxy.NewHandler(sup, cfg.Shell.Origin, logger),
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterDiagnosticsRoutes(app, sup, logger)
	return app, nil
}

func startHTTPServer(cfg *config.Config, sup *worker.Supervisor, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := buildApp(cfg, sup, logger)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
