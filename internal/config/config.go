package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用程序配置结构
type Config struct {
	// 注册中心配置
	Registry RegistryConfig `mapstructure:"registry"`

	// 生命周期管理配置
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`

	// 实例存储配置
	Store StoreConfig `mapstructure:"store"`

	// 主机名解析配置
	Resolver ResolverConfig `mapstructure:"resolver"`

	// 管理API配置
	API struct {
		ListenAddress string `mapstructure:"listen_address"`
		Port          int    `mapstructure:"port"`
	} `mapstructure:"api"`

	// 日志配置
	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`
}

// RegistryConfig Eureka注册中心配置
type RegistryConfig struct {
	// 注册中心地址列表，形如 http://localhost:8761/eureka/apps/
	URLs []string `mapstructure:"urls"`
	// 单次HTTP请求超时时间
	Timeout time.Duration `mapstructure:"timeout"`
	// 租约时长，写入注册报文的leaseInfo
	LeaseDuration time.Duration `mapstructure:"lease_duration"`

	// 熔断器配置
	Breaker struct {
		Enabled     bool          `mapstructure:"enabled"`
		MaxFailures uint32        `mapstructure:"max_failures"`
		OpenTimeout time.Duration `mapstructure:"open_timeout"`
	} `mapstructure:"breaker"`
}

// LifecycleConfig 注册/心跳生命周期配置
type LifecycleConfig struct {
	// 最大注册重试次数，负数表示无限重试
	MaxRegisterAttempts int `mapstructure:"max_register_attempts"`
	// 单个心跳周期内的最大重试次数
	MaxHeartbeatRetries int `mapstructure:"max_heartbeat_retries"`
	// 心跳间隔
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	// 退避基准时间单位
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	// 退避上限
	BackoffCap time.Duration `mapstructure:"backoff_cap"`
	// 调度器并发工作协程数
	Workers int `mapstructure:"workers"`
	// 启动时是否自动为所有已存储实例开启生命周期
	Autostart bool `mapstructure:"autostart"`
}

// StoreConfig 实例存储配置
type StoreConfig struct {
	// 存储驱动: "memory", "file", "etcd", "sql", "redis"
	Driver string `mapstructure:"driver"`

	File struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"file"`

	Etcd struct {
		Endpoints   []string      `mapstructure:"endpoints"`
		Username    string        `mapstructure:"username"`
		Password    string        `mapstructure:"password"`
		DialTimeout time.Duration `mapstructure:"dial_timeout"`
		Prefix      string        `mapstructure:"prefix"`
	} `mapstructure:"etcd"`

	SQL struct {
		// 数据库驱动: "sqlite", "mysql", "postgres"
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"sql"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		Prefix   string `mapstructure:"prefix"`
	} `mapstructure:"redis"`
}

// ResolverConfig 主机名解析配置
type ResolverConfig struct {
	Nameservers []string      `mapstructure:"nameservers"`
	Timeout     time.Duration `mapstructure:"timeout"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	Fallback    string        `mapstructure:"fallback"`
}

// LoadConfig 从文件和环境变量加载配置
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.eureka-sidecar")
		v.AddConfigPath("/etc/eureka-sidecar")
	}
	v.SetConfigType("yaml")

	// 找不到配置文件时使用默认值，其他错误直接返回
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件错误: %w", err)
		}
	}

	// 绑定环境变量
	v.SetEnvPrefix("EUREKA_SIDECAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvVariables(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置错误: %w", err)
	}

	return &config, nil
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	// 注册中心默认配置
	v.SetDefault("registry.urls", []string{"http://localhost:8761/eureka/apps/"})
	v.SetDefault("registry.timeout", "5s")
	v.SetDefault("registry.lease_duration", "90s")
	v.SetDefault("registry.breaker.enabled", true)
	v.SetDefault("registry.breaker.max_failures", 5)
	v.SetDefault("registry.breaker.open_timeout", "60s")

	// 生命周期默认配置
	v.SetDefault("lifecycle.max_register_attempts", 5)
	v.SetDefault("lifecycle.max_heartbeat_retries", 50)
	v.SetDefault("lifecycle.heartbeat_interval", "20s")
	v.SetDefault("lifecycle.backoff_base", "1s")
	v.SetDefault("lifecycle.backoff_cap", "60s")
	v.SetDefault("lifecycle.workers", 5)
	v.SetDefault("lifecycle.autostart", true)

	// 存储默认配置
	v.SetDefault("store.driver", "file")
	v.SetDefault("store.file.path", "services.json")
	v.SetDefault("store.etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("store.etcd.dial_timeout", "5s")
	v.SetDefault("store.etcd.prefix", "/eureka-sidecar/instances/")
	v.SetDefault("store.sql.driver", "sqlite")
	v.SetDefault("store.sql.dsn", "eureka-sidecar.db")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.prefix", "instance")

	// 解析默认配置，nameservers为空时使用/etc/resolv.conf和系统解析器
	v.SetDefault("resolver.nameservers", []string{})
	v.SetDefault("resolver.timeout", "3s")
	v.SetDefault("resolver.cache_ttl", "60s")
	v.SetDefault("resolver.fallback", "127.0.0.1")

	// API默认配置
	v.SetDefault("api.listen_address", "0.0.0.0")
	v.SetDefault("api.port", 8080)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", true)
}

// bindEnvVariables 绑定特定的环境变量
func bindEnvVariables(v *viper.Viper) {
	// 兼容原有部署方式使用的变量名
	v.BindEnv("registry.urls", "EUREKA_SIDECAR_REGISTRY_URLS", "EUREKA_SERVER_URL")
	v.BindEnv("api.port", "EUREKA_SIDECAR_API_PORT")
	v.BindEnv("store.driver", "EUREKA_SIDECAR_STORE_DRIVER")
}

// GetDefaultConfigPath 返回默认配置文件路径
func GetDefaultConfigPath() string {
	paths := []string{
		"./config.yaml",
		"./configs/config.yaml",
		os.Getenv("HOME") + "/.eureka-sidecar/config.yaml",
		"/etc/eureka-sidecar/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
