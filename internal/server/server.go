package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sekKerfBang/agriBusiness/internal/infra/metrics"
	"github.com/sekKerfBang/agriBusiness/internal/middleware"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

type Options struct {
	JWTSecret string
	Log       *zap.Logger
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
}

func New(opts Options, h Handlers) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLogger(opts.Log, opts.Metrics))
	e.Use(echomw.Recover())

	RegisterRoutes(e, opts.JWTSecret, opts.Gatherer, h)
	return e
}

// PORT は "8080" でも ":8080" でもよい
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] != ':' {
		return ":" + port
	}
	return port
}

// ctx が終わるまで待ち受けて、終わったら処理中のリクエストを待って止める
func Start(ctx context.Context, e *echo.Echo, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
