package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hewenyu/eureka-sidecar/internal/apihandler"
	"github.com/hewenyu/eureka-sidecar/internal/config"
	"github.com/hewenyu/eureka-sidecar/internal/lifecycle"
	"github.com/hewenyu/eureka-sidecar/internal/metrics"
	"github.com/hewenyu/eureka-sidecar/internal/registry"
	"github.com/hewenyu/eureka-sidecar/internal/resolver"
	"github.com/hewenyu/eureka-sidecar/internal/scheduler"
	"github.com/hewenyu/eureka-sidecar/internal/store"
	"github.com/hewenyu/eureka-sidecar/internal/store/factory"
)

const shutdownTimeout = 30 * time.Second

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "启动sidecar，直到收到SIGINT或SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			logger, err := config.NewLoggerWithLevel(cfg.Log.Development, cfg.Log.Level)
			if err != nil {
				return fmt.Errorf("初始化日志失败: %w", err)
			}
			if zl, ok := logger.(*config.ZapLogger); ok {
				defer zl.Sync()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, logger)
		},
	}
}

// sidecar 运行时依赖
type sidecar struct {
	cfg     *config.Config
	logger  config.Logger
	store   store.InstanceStore
	manager *lifecycle.Manager
	api     *apihandler.EchoHandler
}

func newSidecar(ctx context.Context, cfg *config.Config, logger config.Logger) (*sidecar, error) {
	s, err := factory.Open(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化实例存储失败: %w", err)
	}

	res := resolver.New(cfg.Resolver, logger)
	client, err := registry.NewClient(cfg.Registry, cfg.Lifecycle.HeartbeatInterval, res, logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("初始化注册中心客户端失败: %w", err)
	}

	recorder := metrics.NewRecorder()
	engine := scheduler.NewEngine(cfg.Lifecycle.Workers, logger)

	lcOpts := lifecycle.OptionsFromConfig(cfg.Lifecycle)
	lcOpts.Recorder = recorder
	manager := lifecycle.NewManager(client, engine, lcOpts, logger)

	return &sidecar{
		cfg:     cfg,
		logger:  logger,
		store:   s,
		manager: manager,
		api:     apihandler.NewAPIHandler(cfg, logger, s, manager, recorder.Handler()),
	}, nil
}

// autostart 为所有已存储的实例开启生命周期
func (sc *sidecar) autostart(ctx context.Context) int {
	list, err := sc.store.List(ctx)
	if err != nil {
		sc.logger.Error("读取实例列表失败，跳过自动启动", zap.Error(err))
		return 0
	}

	started := 0
	for _, inst := range list {
		if err := sc.manager.Start(inst); err != nil {
			sc.logger.Warn("自动启动实例失败",
				zap.String("instance_id", inst.ID), zap.String("service", inst.ServiceName), zap.Error(err))
			continue
		}
		started++
	}
	sc.logger.Info("自动启动实例完成", zap.Int("started", started), zap.Int("total", len(list)))
	return started
}

// shutdown 注销所有实例并关闭API与存储
func (sc *sidecar) shutdown(ctx context.Context) {
	list, err := sc.store.List(ctx)
	if err != nil {
		sc.logger.Warn("读取实例列表失败，仅停止运行中的实例", zap.Error(err))
		list = sc.manager.RunningInstances()
	}
	sc.manager.StopAll(ctx, list)

	if err := sc.api.Shutdown(ctx); err != nil {
		sc.logger.Warn("关闭管理API出错", zap.Error(err))
	}
	if err := sc.store.Close(); err != nil {
		sc.logger.Warn("关闭实例存储出错", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger config.Logger) error {
	logger.Info("Eureka Sidecar Starting...",
		zap.String("version", apihandler.Version),
		zap.Strings("registry_urls", cfg.Registry.URLs),
		zap.String("store_driver", cfg.Store.Driver),
		zap.Int("api_port", cfg.API.Port),
	)

	sc, err := newSidecar(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if err := sc.api.Start(); err != nil {
		return err
	}
	if cfg.Lifecycle.Autostart {
		sc.autostart(ctx)
	}

	<-ctx.Done()
	logger.Info("接收到关闭信号，正在优雅关闭...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	sc.shutdown(shutdownCtx)

	logger.Info("Eureka Sidecar 已停止")
	return nil
}
