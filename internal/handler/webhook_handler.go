package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/sekKerfBang/agriBusiness/internal/infra/payment"
	"github.com/sekKerfBang/agriBusiness/internal/usecase"

	"github.com/labstack/echo/v4"
)

const (
	maxWebhookBody  = 1 << 20
	signatureHeader = "Stripe-Signature"
)

type WebhookHandler struct {
	uc *usecase.WebhookUsecase
}

func NewWebhookHandler(uc *usecase.WebhookUsecase) *WebhookHandler {
	return &WebhookHandler{uc: uc}
}

type WebhookResponse struct {
	Outcome usecase.WebhookOutcome `json:"outcome"`
}

// 署名で認証するのでJWTは付けない
func (h *WebhookHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/webhooks/payment", h.receive)
}

func (h *WebhookHandler) receive(c echo.Context) error {
	//署名は生のbodyに対して検証する
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	outcome, err := h.uc.Handle(c.Request().Context(), body, c.Request().Header.Get(signatureHeader))
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, WebhookResponse{Outcome: outcome})
	case errors.Is(err, payment.ErrInvalidSignature):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid signature"})
	case errors.Is(err, payment.ErrMalformedEvent):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed event"})
	default:
		//5xx ならゲートウェイが再送する
		return writeError(c, err)
	}
}
