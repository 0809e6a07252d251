package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sekKerfBang/agriBusiness/internal/app"
	"github.com/sekKerfBang/agriBusiness/internal/config"
	"github.com/sekKerfBang/agriBusiness/internal/dispatcher"
	"github.com/sekKerfBang/agriBusiness/internal/infra/cache"
	"github.com/sekKerfBang/agriBusiness/internal/infra/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// ジョブの消費と定期ジョブの投入を行う
func main() {
	_ = godotenv.Load("../.env", ".env")

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.GoEnv)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	infra, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("startup failed", zap.Error(err))
	}
	defer infra.Close()

	infra.RegisterJobs()

	sched := dispatcher.NewScheduler(infra.Dispatcher, cache.NewMarkerStore(infra.Redis), cfg.Location, log.Named("scheduler"))
	if err := sched.Register(dispatcher.DefaultSchedule); err != nil {
		log.Fatal("register schedule failed", zap.Error(err))
	}
	sched.Start()

	log.Info("worker started", zap.String("queue", cfg.QueueDriver))
	if err := infra.Dispatcher.Run(ctx); err != nil {
		log.Error("dispatcher stopped", zap.Error(err))
	}

	<-sched.Stop().Done()
	log.Info("worker stopped")
}
