package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hewenyu/eureka-sidecar/internal/apihandler"
	"github.com/hewenyu/eureka-sidecar/internal/config"
)

// rootOptions 全局命令行参数
type rootOptions struct {
	configFile string
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	path := o.configFile
	if path == "" {
		path = config.GetDefaultConfigPath()
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	return cfg, nil
}

// NewRootCommand 创建根命令
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "eureka-sidecar",
		Short:         "保持服务实例在Eureka注册中心注册并发送心跳",
		Version:       apihandler.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "配置文件路径")

	root.AddCommand(newRunCommand(opts))
	root.AddCommand(newInstancesCommand(opts))
	return root
}

// Execute 执行根命令，失败时以非零状态退出
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
