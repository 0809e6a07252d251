package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/sekKerfBang/agriBusiness/internal/usecase"

	"github.com/labstack/echo/v4"
)

type CheckoutHandler struct {
	checkout *usecase.CheckoutUsecase
	orders   *usecase.OrderUsecase
	feURL    string
}

func NewCheckoutHandler(checkout *usecase.CheckoutUsecase, orders *usecase.OrderUsecase, feURL string) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout, orders: orders, feURL: strings.TrimRight(feURL, "/")}
}

type CheckoutRequest struct {
	ShippingAddress string `json:"shipping_address"`
	Notes           string `json:"notes"`
}

func (h *CheckoutHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/checkout", h.start)
	g.GET("/checkout/success", h.success)
}

func (h *CheckoutHandler) start(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	var req CheckoutRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	out, err := h.checkout.StartCheckout(c.Request().Context(), userID, usecase.StartCheckoutInput{
		ShippingAddress: req.ShippingAddress,
		Notes:           req.Notes,
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, out)
}

// 決済完了後の戻り先。業務エラーはフロントのカート画面へ戻す
func (h *CheckoutHandler) success(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	intentID := strings.TrimSpace(c.QueryParam("payment_intent"))
	if intentID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid payment_intent"})
	}

	res, err := h.orders.Finalize(c.Request().Context(), usecase.FinalizeInput{
		PaymentIntentID: intentID,
		CallerUserID:    userID,
		Source:          usecase.SourceCallback,
	})
	if err != nil {
		if code := usecase.ErrorCode(err); code != "unknown" {
			return c.Redirect(http.StatusSeeOther, h.feURL+"/cart?error="+url.QueryEscape(code))
		}
		return writeError(c, err)
	}

	warnings := res.Warnings
	if warnings == nil {
		warnings = []usecase.Warning{}
	}
	return c.JSON(http.StatusOK, FinalizeResponse{Order: res.Order, Warnings: warnings})
}

type FinalizeResponse struct {
	Order    usecase.OrderOutput `json:"order"`
	Warnings []usecase.Warning   `json:"warnings"`
}
