package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/imgcache/internal/cache"
	"github.com/any-hub/imgcache/internal/config"
	"github.com/any-hub/imgcache/internal/fetch"
	"github.com/any-hub/imgcache/internal/fetchcache"
	"github.com/any-hub/imgcache/internal/loader"
	"github.com/any-hub/imgcache/internal/logging"
	"github.com/any-hub/imgcache/internal/server"
	"github.com/any-hub/imgcache/internal/server/routes"
	"github.com/any-hub/imgcache/internal/version"
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

// printVersion 输出注入的版本与提交信息。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
}

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
		fields["backend"] = cfg.Global.StoreBackend
		fields["preload"] = len(cfg.Preload)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// CLI 启动遵循“配置 → 存储 → 获取器 → 获取缓存 → Loader → Fiber server”顺序，
	// 保证所有请求共享同一份缓存与在途表。
	rt, err := buildServices(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化运行时失败: %v\n", err)
		return 1
	}
	defer rt.close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["backend"] = cfg.Global.StoreBackend
	fields["store"] = rt.store.BasePath()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	rt.startBackground(ctx, cfg)

	if err := startHTTPServer(ctx, cfg, rt, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	flags := flag.NewFlagSet("imgcache", flag.ContinueOnError)
	flags.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	flags.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 IMGCACHE_CONFIG 覆盖）")
	flags.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	flags.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := flags.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("IMGCACHE_CONFIG")
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

// services 持有进程级共享组件。
type services struct {
	logger *logrus.Logger
	store  cache.Store
	cache  *fetchcache.Cache
	loader *loader.Loader
}

func buildServices(cfg *config.Config, logger *logrus.Logger) (*services, error) {
	store, err := buildStore(cfg.Global)
	if err != nil {
		return nil, err
	}

	var assets fs.FS
	if cfg.Global.AssetRoot != "" {
		assets = os.DirFS(cfg.Global.AssetRoot)
	}
	client := fetch.NewUpstreamClient(cfg.Global.UpstreamTimeout.DurationValue())
	local := &fetch.Mux{
		File:  fetch.FileFetcher{},
		Asset: fetch.AssetFetcher{FS: assets},
	}

	fc, err := fetchcache.New(fetchcache.Options{
		Store:    store,
		Fetcher:  &fetch.Mux{HTTP: fetch.NewHTTPFetcher(client)},
		Logger:   logging.Component(logger, "fetchcache"),
		Retry:    cfg.Global.RetryPolicy(),
		Validity: cfg.Global.ValidityPolicy(),
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	l, err := loader.New(loader.Options{
		Cache:  fc,
		Local:  local,
		Retry:  cfg.Global.RetryPolicy(),
		Logger: logging.Component(logger, "loader"),
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &services{logger: logger, store: store, cache: fc, loader: l}, nil
}

// buildStore 根据 StoreBackend 创建持久层，并按 MaxMemoryCacheSize 叠加内存层。
func buildStore(g config.GlobalConfig) (cache.Store, error) {
	var (
		store cache.Store
		err   error
	)
	if g.UsesRedis() {
		client := redis.NewClient(&redis.Options{
			Addr:     g.RedisAddr,
			Password: g.RedisPassword,
			DB:       g.RedisDB,
		})
		store, err = cache.NewRedisStore(client, g.RedisPrefix)
	} else {
		store, err = cache.NewStore(g.StoragePath)
	}
	if err != nil {
		return nil, fmt.Errorf("初始化缓存存储失败: %w", err)
	}

	layered, err := cache.NewMemoryStore(store, g.MaxMemoryCache)
	if err != nil {
		store.Close()
		return nil, err
	}
	return layered, nil
}

// startBackground 启动过期清理与配置中的预热任务。
func (rt *services) startBackground(ctx context.Context, cfg *config.Config) {
	if sw, ok := rt.store.(cache.Sweeper); ok {
		go cache.RunSweeper(ctx, sw, cfg.Global.SweepInterval.DurationValue(), logging.Component(rt.logger, "sweeper"))
	}
	if len(cfg.Preload) == 0 {
		return
	}
	go func() {
		report, err := rt.cache.Prefetch(ctx, cfg.Preload, cfg.Global.PrefetchConcurrency)
		entry := rt.logger.WithFields(logrus.Fields{
			"action":    "preload",
			"requested": report.Requested,
			"fetched":   report.Fetched,
			"cached":    report.Cached,
			"failed":    report.Failed,
		})
		if err != nil {
			entry.WithError(err).Warn("preload finished with errors")
			return
		}
		entry.Info("preload finished")
	}()
}

func (rt *services) close() {
	if err := rt.store.Close(); err != nil {
		rt.logger.WithFields(logrus.Fields{"action": "shutdown"}).WithError(err).Warn("close store failed")
	}
}

func (rt *services) newApp(cfg *config.Config) (*fiber.App, error) {
	app, err := server.NewApp(server.AppOptions{
		Logger:              rt.logger,
		Loader:              rt.loader,
		Cache:               rt.cache,
		PrefetchConcurrency: cfg.Global.PrefetchConcurrency,
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterStatusRoutes(app, server.Diagnostics{Cache: rt.cache, Loader: rt.loader})
	return app, nil
}

func startHTTPServer(ctx context.Context, cfg *config.Config, rt *services, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := rt.newApp(cfg)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", port))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.WithFields(logrus.Fields{"action": "shutdown"}).Info("收到退出信号")
		if err := app.Shutdown(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}
