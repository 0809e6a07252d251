package server

import (
	"net/http"

	"github.com/sekKerfBang/agriBusiness/internal/handler"
	"github.com/sekKerfBang/agriBusiness/internal/middleware"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handlers struct {
	Cart       *handler.CartHandler
	Checkout   *handler.CheckoutHandler
	Orders     *handler.OrderHandler
	AdminOrder *handler.AdminOrderHandler
	Webhook    *handler.WebhookHandler
	Products   *handler.ProductHandler
}

func RegisterRoutes(e *echo.Echo, jwtSecret string, gatherer prometheus.Gatherer, h Handlers) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	//署名で認証する
	h.Webhook.RegisterRoutes(e)

	user := e.Group("", middleware.AuthJWT(jwtSecret))
	h.Cart.RegisterRoutes(user)
	h.Checkout.RegisterRoutes(user)
	h.Orders.RegisterRoutes(user)
	h.Products.RegisterRoutes(e, user)

	admin := e.Group("/admin", middleware.AuthJWT(jwtSecret), middleware.AdminRoleGuard())
	h.AdminOrder.RegisterRoutes(admin)
}
