package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"mythweaver/internal/app"
	"mythweaver/internal/config"
)

var cfgFile string

// NewRootCommand 组装全部子命令
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "mythweaver",
		Short: "Generate illustrated, narrated mythological stories",
		Long: `mythweaver writes mythological stories with an LLM, then adds an
illustration, a spoken narration and a 3D model of the main character.

Run "mythweaver serve" for the HTTP relay and session API, or
"mythweaver generate" to create a story from the terminal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.InitConfig(cfgFile)
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./mythweaver.yaml or $HOME/.mythweaver/mythweaver.yaml)")

	root.AddCommand(
		newServeCommand(),
		newGenerateCommand(),
		newSavedCommand(),
		newNarrateCommand(),
		newOptionsCommand(),
	)
	return root
}

// Execute 入口，出错时以非零状态退出
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		errorColour.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadApp 读取配置并构造依赖，调用方负责Close
func loadApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}
