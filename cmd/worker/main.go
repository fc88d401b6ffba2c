package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/docskit/tenant-api/internal/config"
	"github.com/docskit/tenant-api/internal/repository/postgres"
	"github.com/docskit/tenant-api/internal/worker"
	"github.com/docskit/tenant-api/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	base := postgres.NewBaseRepository(db)
	userRepo := postgres.NewUserRepository(base)
	orgRepo := postgres.NewOrganizationRepository(base)
	membershipRepo := postgres.NewMembershipRepository(base)

	sweep := worker.NewLifecycleSweepWorker(userRepo, orgRepo, membershipRepo,
		cfg.Worker.SweepInterval(), cfg.Worker.Retention(), appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	go sweep.Start(ctx)
	log.Info().
		Dur("interval", cfg.Worker.SweepInterval()).
		Dur("retention", cfg.Worker.Retention()).
		Msg("lifecycle sweep worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down worker...")
	cancel()
}
