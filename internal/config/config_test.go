package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	config, err := LoadConfig("")
	require.NoError(t, err, "无法加载默认配置")
	require.NotNil(t, config, "配置不应为nil")

	// 验证默认值
	assert.Equal(t, []string{"http://localhost:8761/eureka/apps/"}, config.Registry.URLs)
	assert.Equal(t, 5*time.Second, config.Registry.Timeout)
	assert.Equal(t, 5, config.Lifecycle.MaxRegisterAttempts)
	assert.Equal(t, 50, config.Lifecycle.MaxHeartbeatRetries)
	assert.Equal(t, 20*time.Second, config.Lifecycle.HeartbeatInterval)
	assert.Equal(t, time.Second, config.Lifecycle.BackoffBase)
	assert.Equal(t, 60*time.Second, config.Lifecycle.BackoffCap)
	assert.Equal(t, 5, config.Lifecycle.Workers)
	assert.True(t, config.Lifecycle.Autostart)
	assert.Equal(t, "file", config.Store.Driver)
	assert.Equal(t, 8080, config.API.Port)
	assert.Empty(t, config.Resolver.Nameservers, "默认使用系统DNS配置")
}

func TestLoadConfigFromEnvVars(t *testing.T) {
	t.Setenv("EUREKA_SIDECAR_API_PORT", "9090")
	t.Setenv("EUREKA_SIDECAR_LIFECYCLE_MAX_REGISTER_ATTEMPTS", "-1")
	t.Setenv("EUREKA_SERVER_URL", "http://eureka:8761/eureka/apps/")

	config, err := LoadConfig("")
	require.NoError(t, err, "无法加载配置")

	// 验证环境变量覆盖
	assert.Equal(t, 9090, config.API.Port, "环境变量应正确覆盖API端口")
	assert.Equal(t, -1, config.Lifecycle.MaxRegisterAttempts, "环境变量应正确覆盖最大注册次数")
	assert.Equal(t, []string{"http://eureka:8761/eureka/apps/"}, config.Registry.URLs)

	// 确认其他值不受影响
	assert.Equal(t, 50, config.Lifecycle.MaxHeartbeatRetries)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
registry:
  urls:
    - http://eureka-1:8761/eureka/apps/
    - http://eureka-2:8761/eureka/apps/
lifecycle:
  heartbeat_interval: 30s
  max_register_attempts: 2
store:
  driver: sql
  sql:
    driver: sqlite
    dsn: ":memory:"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Len(t, config.Registry.URLs, 2)
	assert.Equal(t, 30*time.Second, config.Lifecycle.HeartbeatInterval)
	assert.Equal(t, 2, config.Lifecycle.MaxRegisterAttempts)
	assert.Equal(t, "sql", config.Store.Driver)
	assert.Equal(t, ":memory:", config.Store.SQL.DSN)
	// 未配置的项保持默认值
	assert.Equal(t, 60*time.Second, config.Lifecycle.BackoffCap)
}

func TestLoadConfigWithMissingFile(t *testing.T) {
	config, err := LoadConfig("non_existent_file.yaml")

	assert.Error(t, err, "从不存在的文件加载配置应该失败")
	assert.Nil(t, config, "加载不存在的配置文件应该返回nil配置")
}
