package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sekKerfBang/agriBusiness/internal/app"
	"github.com/sekKerfBang/agriBusiness/internal/config"
	"github.com/sekKerfBang/agriBusiness/internal/handler"
	"github.com/sekKerfBang/agriBusiness/internal/infra/cache"
	"github.com/sekKerfBang/agriBusiness/internal/infra/logger"
	"github.com/sekKerfBang/agriBusiness/internal/infra/payment"
	gormrepo "github.com/sekKerfBang/agriBusiness/internal/infra/repository"
	"github.com/sekKerfBang/agriBusiness/internal/server"
	"github.com/sekKerfBang/agriBusiness/internal/usecase"
	"github.com/sekKerfBang/agriBusiness/internal/validator"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	//.env は無くてもよい（本番は環境変数）
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

	gdb := infra.DB

	//Repository（GORM実装）生成
	tx := gormrepo.NewTxManagerGorm(gdb)
	orderRepo := gormrepo.NewOrderGormRepository(gdb)

	gateway := payment.NewClient(cfg.Payment, nil)
	checkoutStore := cache.NewCheckoutStore(infra.Redis, cfg.CheckoutContextTTL)

	//Usecase生成
	carts := usecase.NewCartUsecase(
		gormrepo.NewCartGormRepository(gdb),
		gormrepo.NewCartItemGormRepository(gdb),
		gormrepo.NewProductGormRepository(gdb),
	)
	checkout := usecase.NewCheckoutUsecase(carts, gateway, checkoutStore, validator.NewCheckoutValidator(), log)
	orders := usecase.NewOrderUsecase(usecase.OrderDeps{
		Tx:           tx,
		Orders:       orderRepo,
		OrderItems:   gormrepo.NewOrderItemGormRepository(gdb),
		Gateway:      gateway,
		Checkout:     checkoutStore,
		Jobs:         infra.Dispatcher,
		Log:          log,
		Metrics:      infra.Metrics,
		NumberPrefix: cfg.OrderNumberPrefix,
		Location:     cfg.Location,
	})
	statuses := usecase.NewOrderStatusUsecase(tx, orderRepo, gateway, infra.Dispatcher, log)
	webhooks := usecase.NewWebhookUsecase(
		payment.NewWebhookVerifier(cfg.Payment.WebhookSecret, payment.DefaultTolerance),
		orders, statuses, infra.Dispatcher, log,
	)

	//Handler生成
	e := server.New(server.Options{
		JWTSecret: cfg.JWTSecret,
		Log:       log,
		Metrics:   infra.Metrics,
		Gatherer:  infra.Registry,
	}, server.Handlers{
		Cart:       handler.NewCartHandler(carts),
		Checkout:   handler.NewCheckoutHandler(checkout, orders, cfg.FEURL),
		Orders:     handler.NewOrderHandler(orders, statuses),
		AdminOrder: handler.NewAdminOrderHandler(statuses),
		Webhook:    handler.NewWebhookHandler(webhooks),
		Products:   handler.NewProductHandler(usecase.NewProductUsecase(tx, gormrepo.NewProductGormRepository(gdb), infra.Dispatcher, log)),
	})

	//memory キューは別プロセスから読めないので同じプロセスで消費する
	if cfg.QueueDriver == "memory" {
		infra.RegisterJobs()
		go func() {
			if err := infra.Dispatcher.Run(ctx); err != nil {
				log.Error("dispatcher stopped", zap.Error(err))
			}
		}()
	}

	//Server起動
	addr := server.Addr(cfg.Port)
	log.Info("api listening", zap.String("addr", addr), zap.String("queue", cfg.QueueDriver))
	if err := server.Start(ctx, e, addr); err != nil {
		log.Error("server stopped", zap.Error(err))
	}
}
