package cmd

import (
	"context"
	"fmt"

	"vibin_video/config"
	"vibin_video/logger"
	"vibin_video/routes"
	"vibin_video/services"

	"go.uber.org/zap"
)

type app struct {
	log      *zap.Logger
	services routes.Services
}

func newStore(ctx context.Context, cfg config.Config, log *zap.Logger) (services.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		log.Warn("using in-memory store, state is lost on restart and not shared between instances")
		return services.NewMemoryStore(cfg.SignalRetention), nil
	default:
		client, err := services.InitializeDynamoDBClient(ctx, cfg.AWSRegion, cfg.DynamoEndpoint)
		if err != nil {
			return nil, err
		}
		log.Info("✅ DynamoDB client initialized", zap.String("region", cfg.AWSRegion), zap.String("prefix", cfg.TablePrefix))
		return services.NewDynamoStore(&services.DynamoService{Client: client}, services.NewTableNames(cfg.TablePrefix), cfg.SignalRetention, log), nil
	}
}

func wireApp(ctx context.Context, cfg config.Config) (*app, error) {
	log, err := logger.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return nil, err
	}

	store, err := newStore(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("wire store: %w", err)
	}

	clock := services.SystemClock{}
	pools := services.NewPoolService(store, clock, log.Named("pools"))
	match := services.NewMatchService(store, pools, clock, services.MatchConfig{
		StaleAfter:   cfg.StaleAfter,
		ClaimRetries: cfg.ClaimRetries,
	}, log.Named("match"))
	signals := services.NewSignalService(store, clock, services.RelayConfig{
		EndedGrace:     cfg.EndedGrace,
		StrictPayloads: cfg.StrictPayloads,
	}, log.Named("signal"))

	return &app{
		log: log,
		services: routes.Services{
			Match:   match,
			Pools:   pools,
			Signals: signals,
		},
	}, nil
}
