package handler

import (
	"net/http"

	"github.com/sekKerfBang/agriBusiness/internal/domain/model"
	"github.com/sekKerfBang/agriBusiness/internal/middleware"
	"github.com/sekKerfBang/agriBusiness/internal/usecase"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

// /products のHTTP
type ProductHandler struct {
	uc *usecase.ProductUsecase
}

// DI
func NewProductHandler(uc *usecase.ProductUsecase) *ProductHandler {
	return &ProductHandler{uc: uc}
}

// StockAdjustRequest は在庫調整の入力です。
type StockAdjustRequest struct {
	Delta  decimal.Decimal `json:"delta"`
	Reason string          `json:"reason"`
}

// 公開の詳細と、認証済みグループでの在庫調整
func (h *ProductHandler) RegisterRoutes(e *echo.Echo, authed *echo.Group) {
	e.GET("/products/:id", h.detail)
	authed.POST("/products/:id/stock", h.adjustStock)
	authed.POST("/products/catalog", h.requestCatalog)
}

func (h *ProductHandler) detail(c echo.Context) error {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	p, err := h.uc.GetProductDetail(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, p)
}

func (h *ProductHandler) adjustStock(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}
	role, _ := c.Get(middleware.CtxUserRoleKey).(string)

	id, ok := parseIDParam(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	var req StockAdjustRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	out, err := h.uc.AdjustStock(c.Request().Context(), userID, model.Role(role), id, usecase.AdjustStockInput{
		Delta:  req.Delta,
		Reason: req.Reason,
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, out)
}

// PDFは非同期で作る。できたら通知とメールが届く
func (h *ProductHandler) requestCatalog(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}
	role, _ := c.Get(middleware.CtxUserRoleKey).(string)

	if err := h.uc.RequestCatalog(c.Request().Context(), userID, model.Role(role)); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
}
