package cmd

import (
	"vibin_video/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is set at build time with -ldflags "-X vibin_video/cmd.Version=..."
var Version = "dev"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var configFile string
	v := viper.New()

	load := func() (config.Config, error) {
		return config.Load(v, configFile)
	}

	rootCmd := &cobra.Command{
		Use:           "vibin-video",
		Short:         "Random 1:1 video matchmaking and WebRTC signaling relay",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().String("store", config.StoreDynamo, "state store: dynamodb or memory")
	rootCmd.PersistentFlags().String("log-level", "info", "log level")
	_ = v.BindPFlag("store", rootCmd.PersistentFlags().Lookup("store"))
	_ = v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	serve := newServeCmd(load)
	rootCmd.RunE = serve.RunE
	rootCmd.AddCommand(
		serve,
		newCreateTablesCmd(load),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := cmd.OutOrStdout().Write([]byte(Version + "\n"))
			return err
		},
	}
}
