package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/hewenyu/eureka-sidecar/internal/config"
	"github.com/hewenyu/eureka-sidecar/internal/model"
	"github.com/hewenyu/eureka-sidecar/internal/store/factory"
)

func newInstancesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "instances",
		Short: "列出已存储的实例",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			s, err := factory.Open(cmd.Context(), cfg.Store, config.NewNopLogger())
			if err != nil {
				return fmt.Errorf("初始化实例存储失败: %w", err)
			}
			defer s.Close()

			list, err := s.List(cmd.Context())
			if err != nil {
				return err
			}
			return printInstances(cmd.OutOrStdout(), list)
		},
	}
}

// printInstances 以表格形式输出实例
func printInstances(w io.Writer, list []*model.Instance) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "没有已存储的实例")
		return err
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "APP", "HOST", "IP", "PORT", "SSL", "STATUS")
	for _, inst := range list {
		t.Row(
			inst.ID,
			inst.AppName(),
			inst.HostName,
			inst.IPAddr,
			strconv.Itoa(inst.ActivePort()),
			strconv.FormatBool(inst.SSLPreferred),
			inst.StatusOrDefault(),
		)
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}
