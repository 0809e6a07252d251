package usecase

import (
	"context"
	"net/http"
	"testing"

	"github.com/sekKerfBang/agriBusiness/internal/domain/model"
	gormrepo "github.com/sekKerfBang/agriBusiness/internal/infra/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProductUsecase(env *testEnv) *ProductUsecase {
	return NewProductUsecase(gormrepo.NewTxManagerGorm(env.db), gormrepo.NewProductGormRepository(env.db), env.jobs, nil)
}

func TestAdjustStock_ProducerRestocksOwnProduct(t *testing.T) {
	env := newTestEnv(t)
	uc := newProductUsecase(env)
	ctx := context.Background()
	p := env.product(t, 10, "Miel", "8.00", "0")

	out, err := uc.AdjustStock(ctx, 10, model.RoleProducer, p.ID, AdjustStockInput{Delta: dec("12.5"), Reason: " récolte "})
	require.NoError(t, err)
	assert.True(t, out.Stock.Equal(dec("12.5")))
	assert.Equal(t, model.StockAvailable, out.StockStatus)
	assert.True(t, env.stockOf(t, p.ID).Equal(dec("12.5")))

	var moves []model.StockMovement
	require.NoError(t, env.db.Where("product_id = ?", p.ID).Find(&moves).Error)
	require.Len(t, moves, 1)
	assert.Equal(t, model.StockReasonAdjustment, moves[0].Reason)
	assert.True(t, moves[0].Delta.Equal(dec("12.5")))
	assert.Equal(t, int64(0), moves[0].OrderID)

	var logs []model.AuditLog
	require.NoError(t, env.db.Where("resource_type = ? AND resource_id = ?", model.AuditResourceProduct, p.ID).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, model.AuditActionAdjustStock, logs[0].Action)
	assert.Equal(t, int64(10), logs[0].ActorUserID)
	assert.Contains(t, logs[0].AfterJSON, `"reason":"récolte"`)
}

func TestAdjustStock_WriteOffCannotGoNegative(t *testing.T) {
	env := newTestEnv(t)
	uc := newProductUsecase(env)
	ctx := context.Background()
	p := env.product(t, 10, "Fraises", "6.00", "3")

	_, err := uc.AdjustStock(ctx, 1, model.RoleAdmin, p.ID, AdjustStockInput{Delta: dec("-4"), Reason: "abîmées"})
	he, ok := AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, he.Status)
	assert.True(t, env.stockOf(t, p.ID).Equal(dec("3")))

	var n int64
	require.NoError(t, env.db.Model(&model.StockMovement{}).Count(&n).Error)
	assert.Zero(t, n)

	out, err := uc.AdjustStock(ctx, 1, model.RoleAdmin, p.ID, AdjustStockInput{Delta: dec("-3"), Reason: "abîmées"})
	require.NoError(t, err)
	assert.Equal(t, model.StockOutOfStock, out.StockStatus)
}

func TestAdjustStock_Rejections(t *testing.T) {
	env := newTestEnv(t)
	uc := newProductUsecase(env)
	ctx := context.Background()
	p := env.product(t, 10, "Miel", "8.00", "5")

	tests := []struct {
		name   string
		actor  int64
		role   model.Role
		id     int64
		in     AdjustStockInput
		status int
	}{
		{name: "client", actor: 3, role: model.RoleClient, id: p.ID, in: AdjustStockInput{Delta: dec("1"), Reason: "x"}, status: http.StatusForbidden},
		{name: "other producer", actor: 11, role: model.RoleProducer, id: p.ID, in: AdjustStockInput{Delta: dec("1"), Reason: "x"}, status: http.StatusNotFound},
		{name: "zero delta", actor: 10, role: model.RoleProducer, id: p.ID, in: AdjustStockInput{Delta: dec("0"), Reason: "x"}, status: http.StatusBadRequest},
		{name: "sub-gram delta", actor: 10, role: model.RoleProducer, id: p.ID, in: AdjustStockInput{Delta: dec("0.0004"), Reason: "x"}, status: http.StatusBadRequest},
		{name: "no reason", actor: 10, role: model.RoleProducer, id: p.ID, in: AdjustStockInput{Delta: dec("1"), Reason: "  "}, status: http.StatusBadRequest},
		{name: "missing product", actor: 1, role: model.RoleAdmin, id: 999, in: AdjustStockInput{Delta: dec("1"), Reason: "x"}, status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := uc.AdjustStock(ctx, tt.actor, tt.role, tt.id, tt.in)
			he, ok := AsHTTPError(err)
			require.True(t, ok, "%v", err)
			assert.Equal(t, tt.status, he.Status)
		})
	}
	assert.True(t, env.stockOf(t, p.ID).Equal(dec("5")))
}

func TestGetProductDetail_HidesInactive(t *testing.T) {
	env := newTestEnv(t)
	uc := newProductUsecase(env)
	ctx := context.Background()
	p := env.product(t, 10, "Miel", "8.00", "4")

	out, err := uc.GetProductDetail(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StockLow, out.StockStatus)

	require.NoError(t, env.db.Model(&model.Product{}).Where("id = ?", p.ID).Update("is_active", false).Error)
	_, err = uc.GetProductDetail(ctx, p.ID)
	he, ok := AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, he.Status)
}
