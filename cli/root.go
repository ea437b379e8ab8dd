package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"modelhub_back/config"
)

type VersionInfo struct {
	Version string
	Commit  string
}

func NewRootCommand(info VersionInfo) *cobra.Command {
	var envDir string

	cmd := &cobra.Command{
		Use:           "modelhub",
		Short:         "3D model and material asset server",
		Long:          "modelhub stores 3D Model assets and their Material definitions, keeping database records and uploaded files consistent.",
		SilenceErrors: true,
		SilenceUsage:  true,

		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.LoadDotEnv(envDir)
		},
	}

	cmd.PersistentFlags().StringVar(&envDir, "env-dir", ".", "directory holding .env and .env.<APP_ENV>")
	cmd.Version = fmt.Sprintf("%s (%s)", info.Version, info.Commit)

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewMigrateCommand())
	cmd.AddCommand(NewSweepCommand())

	return cmd
}

// Execute runs the root command. Without a subcommand it serves.
func Execute(ctx context.Context, info VersionInfo) error {
	root := NewRootCommand(info)
	serve := NewServeCommand()
	root.RunE = serve.RunE
	return root.ExecuteContext(ctx)
}
