package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/cachegate/cachegate/internal/cache"
	"github.com/cachegate/cachegate/internal/config"
	"github.com/cachegate/cachegate/internal/fetch"
	"github.com/cachegate/cachegate/internal/logging"
	"github.com/cachegate/cachegate/internal/metrics"
	"github.com/cachegate/cachegate/internal/policy"
	"github.com/cachegate/cachegate/internal/proxy"
	"github.com/cachegate/cachegate/internal/server"
	"github.com/cachegate/cachegate/internal/server/routes"
	"github.com/cachegate/cachegate/internal/strategy"
	"github.com/cachegate/cachegate/internal/version"
	"github.com/cachegate/cachegate/internal/worker"
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

func main() {
	if err := loadDotEnv(".env"); err != nil {
		fmt.Fprintf(stdErr, "加载 .env 失败: %v\n", err)
		os.Exit(2)
	}
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
		fields["origins"] = config.OriginNames(cfg.Origins)
		fields["cache_version"] = cfg.Worker.CacheVersion
		fields["storage_backend"] = cfg.Global.StorageBackend
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	registry, err := server.NewOriginRegistry(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "构建 Origin 注册表失败: %v\n", err)
		return 1
	}

	// 启动顺序：配置 → 存储 → Worker 安装/激活 → Fiber server，
	// 保证开始接收请求时旧代际的 bucket 已经回收。
	storage, err := openStorage(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存存储失败: %v\n", err)
		return 1
	}
	defer storage.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	client := fetch.NewClient(fetch.NewUpstreamClient(cfg))
	w, err := buildWorker(cfg, storage, client, m, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "构建 Worker 失败: %v\n", err)
		return 1
	}

	ctx := context.Background()
	if _, err := w.OnInstall(ctx); err != nil {
		fmt.Fprintf(stdErr, "安装缓存代际失败: %v\n", err)
		return 1
	}
	if err := w.OnActivate(ctx); err != nil {
		fmt.Fprintf(stdErr, "激活缓存代际失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["origins"] = config.OriginNames(cfg.Origins)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_backend"] = cfg.Global.StorageBackend
	fields["cache_version"] = cfg.Worker.CacheVersion
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	handler := proxy.NewHandler(w, client, logger)
	diagnostics := routes.DiagnosticsOptions{
		Registry: registry,
		Worker:   w,
		Storage:  storage,
		Gatherer: reg,
	}
	if err := startHTTPServer(cfg, registry, handler, diagnostics, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("cachegate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 CACHEGATE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("CACHEGATE_CONFIG")
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

// loadDotEnv 在文件存在时把其中的变量注入进程环境，已存在的环境变量不会被覆盖。
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// openStorage 按 StorageBackend 构造 bucket 存储。
func openStorage(g config.GlobalConfig) (cache.Storage, error) {
	switch g.StorageBackend {
	case config.BackendMemory:
		return cache.NewMemoryStorage(), nil
	case config.BackendRedis:
		return cache.NewRedisStorage(cache.RedisOptions{
			Addr:     g.RedisAddr,
			Password: g.RedisPassword,
			DB:       g.RedisDB,
		}), nil
	case config.BackendSQLite:
		return cache.NewSQLiteStorage(g.StoragePath)
	case config.BackendFile, "":
		return cache.NewFileStorage(g.StoragePath)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", g.StorageBackend)
	}
}

func buildWorker(cfg *config.Config, storage cache.Storage, client *fetch.Client, m *metrics.Metrics, logger *logrus.Logger) (*worker.Worker, error) {
	manager := cache.NewManager(storage, client, cache.ManagerOptions{
		Logger:      logger,
		Metrics:     m,
		Concurrency: cfg.Global.PopulateConcurrency,
	})
	selector, err := policy.FromConfig(cfg.Worker)
	if err != nil {
		return nil, err
	}
	return worker.New(worker.Options{
		Config:     cfg.Worker,
		Manager:    manager,
		Selector:   selector,
		Strategies: strategy.NewSet(manager, client, logger),
		Metrics:    m,
		Logger:     logger,
	})
}

func startHTTPServer(cfg *config.Config, registry *server.OriginRegistry, handler server.FetchHandler, diagnostics routes.DiagnosticsOptions, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Handler:    handler,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterDiagnosticsRoutes(app, diagnostics)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
