package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"expvault/pkg/app"
	"expvault/pkg/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	// 全局应用实例，供子命令使用
	EV *app.App
)

var rootCmd = &cobra.Command{
	Use:   "ev",
	Short: "expvault: experiment tracking on a content-addressed version graph",
	// 错误由 main 统一打印
	SilenceErrors: true,
	SilenceUsage:  true,
	// PersistentPreRunE 会在所有子命令执行前运行
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load(cfgFile); err != nil {
			return err
		}
		logger := config.NewLogger(viper.GetString("log.level"))
		slog.SetDefault(logger)

		// init 就是去创建环境的，跳过依赖检查
		if cmd.Name() == "init" {
			return nil
		}

		var err error
		EV, err = app.NewApp(cmd.Context(), logger)
		if errors.Is(err, app.ErrNotRepository) {
			return fmt.Errorf("%w (run 'ev init' first)", err)
		}
		return err
	},
}

// Execute 是入口，命令失败时同样释放 App
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if EV != nil {
		err = errors.Join(err, EV.Close())
		EV = nil
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.ev/config.yaml or $HOME/.ev/config.yaml)")

	// 用户既可以在 yaml 里写，也可以用 flag 覆盖
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("storage-path", "", "directory to store objects")
	cobra.CheckErr(viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level")))
	cobra.CheckErr(viper.BindPFlag("storage.path", rootCmd.PersistentFlags().Lookup("storage-path")))
}
