package cmd

import (
	"fmt"

	"vibin_video/config"
	"vibin_video/logger"
	"vibin_video/services"

	"github.com/spf13/cobra"
)

func newCreateTablesCmd(load func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "create-tables",
		Short: "Create the DynamoDB tables, the queue index and signal TTL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.LogLevel, cfg.LogDevelopment)
			if err != nil {
				return err
			}
			defer log.Sync()

			client, err := services.InitializeDynamoDBClient(cmd.Context(), cfg.AWSRegion, cfg.DynamoEndpoint)
			if err != nil {
				return err
			}
			dynamo := &services.DynamoService{Client: client}
			if err := dynamo.CreateTables(cmd.Context(), services.NewTableNames(cfg.TablePrefix), log); err != nil {
				return fmt.Errorf("create tables: %w", err)
			}
			log.Info("✅ tables ready")
			return nil
		},
	}
}
