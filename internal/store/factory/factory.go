package factory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hewenyu/eureka-sidecar/internal/config"
	"github.com/hewenyu/eureka-sidecar/internal/store"
	"github.com/hewenyu/eureka-sidecar/internal/store/etcd"
	"github.com/hewenyu/eureka-sidecar/internal/store/file"
	"github.com/hewenyu/eureka-sidecar/internal/store/memory"
	"github.com/hewenyu/eureka-sidecar/internal/store/redis"
	"github.com/hewenyu/eureka-sidecar/internal/store/sql"
)

// 存储驱动名称
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverEtcd   = "etcd"
	DriverSQL    = "sql"
	DriverRedis  = "redis"
)

// Open 按配置创建实例存储
func Open(ctx context.Context, cfg config.StoreConfig, logger config.Logger) (store.InstanceStore, error) {
	logger.Info("初始化实例存储", zap.String("driver", cfg.Driver))

	switch cfg.Driver {
	case DriverMemory:
		return memory.New(), nil

	case DriverFile, "":
		return file.New(cfg.File.Path, logger)

	case DriverEtcd:
		client, err := etcd.NewClient(etcd.Config{
			Endpoints:   cfg.Etcd.Endpoints,
			Username:    cfg.Etcd.Username,
			Password:    cfg.Etcd.Password,
			DialTimeout: cfg.Etcd.DialTimeout,
			Prefix:      cfg.Etcd.Prefix,
		})
		if err != nil {
			return nil, err
		}
		return etcd.New(client, logger), nil

	case DriverSQL:
		return sql.Open(cfg.SQL.Driver, cfg.SQL.DSN, logger)

	case DriverRedis:
		client, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		return redis.New(client, cfg.Redis.Prefix, logger), nil

	default:
		return nil, fmt.Errorf("不支持的存储驱动: %s", cfg.Driver)
	}
}
