package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sekKerfBang/agriBusiness/internal/domain/model"
	"github.com/sekKerfBang/agriBusiness/internal/infra/logger"
	repo "github.com/sekKerfBang/agriBusiness/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxReasonLength = 255

type ProductUsecase struct {
	tx          repo.TransactionManager
	productRepo repo.ProductRepository
	jobs        Enqueuer
	log         *zap.Logger
	now         func() time.Time
}

// DI
func NewProductUsecase(tx repo.TransactionManager, productRepo repo.ProductRepository, jobs Enqueuer, log *zap.Logger) *ProductUsecase {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProductUsecase{tx: tx, productRepo: productRepo, jobs: jobs, log: log, now: time.Now}
}

type ProductOutput struct {
	ID          int64             `json:"id"`
	ProducerID  int64             `json:"producer_id"`
	Name        string            `json:"name"`
	Unit        string            `json:"unit"`
	Price       decimal.Decimal   `json:"price"`
	Stock       decimal.Decimal   `json:"stock"`
	StockStatus model.StockStatus `json:"stock_status"`
}

func toProductOutput(p model.Product) ProductOutput {
	return ProductOutput{
		ID:          p.ID,
		ProducerID:  p.ProducerID,
		Name:        p.Name,
		Unit:        p.Unit,
		Price:       p.Price,
		Stock:       p.Stock,
		StockStatus: p.StockStatus(),
	}
}

// 公開中の商品だけ返す
func (u *ProductUsecase) GetProductDetail(ctx context.Context, productID int64) (ProductOutput, error) {
	if productID <= 0 {
		return ProductOutput{}, NewHTTPError(http.StatusBadRequest, "invalid product id")
	}

	p, err := u.productRepo.FindByID(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return ProductOutput{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return ProductOutput{}, errDB
	}

	if !p.IsActive {
		return ProductOutput{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	return toProductOutput(p), nil
}

type AdjustStockInput struct {
	// 入荷はプラス、廃棄などはマイナス
	Delta  decimal.Decimal
	Reason string
}

// 在庫台帳の手動調整。管理者か、その商品の生産者だけ
func (u *ProductUsecase) AdjustStock(ctx context.Context, actorUserID int64, actorRole model.Role, productID int64, in AdjustStockInput) (ProductOutput, error) {
	if actorUserID <= 0 {
		return ProductOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if actorRole != model.RoleAdmin && actorRole != model.RoleProducer {
		return ProductOutput{}, NewHTTPError(http.StatusForbidden, "forbidden")
	}
	if productID <= 0 {
		return ProductOutput{}, NewHTTPError(http.StatusBadRequest, "invalid product id")
	}
	if in.Delta.IsZero() {
		return ProductOutput{}, NewHTTPError(http.StatusBadRequest, "delta must not be 0")
	}
	if !model.ValidQuantity(in.Delta.Abs()) {
		return ProductOutput{}, NewHTTPError(http.StatusBadRequest, "delta has too many decimals")
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return ProductOutput{}, NewHTTPError(http.StatusBadRequest, "reason required")
	}
	if len(reason) > maxReasonLength {
		return ProductOutput{}, NewHTTPError(http.StatusBadRequest, "reason too long")
	}

	var out ProductOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		p, err := r.Products().FindByID(ctx, productID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return errDB
		}
		//他の生産者の商品は「存在しない扱い」
		if actorRole == model.RoleProducer && p.ProducerID != actorUserID {
			return NewHTTPError(http.StatusNotFound, "not found")
		}

		if in.Delta.IsPositive() {
			if err := r.Stock().Increase(ctx, productID, in.Delta); err != nil {
				return errDB
			}
		} else {
			ok, err := r.Stock().DecreaseIfEnough(ctx, productID, in.Delta.Neg())
			if err != nil {
				return errDB
			}
			if !ok {
				return NewHTTPError(http.StatusConflict, "insufficient stock")
			}
		}

		if err := r.Stock().RecordMovement(ctx, model.StockMovement{
			ProductID: productID,
			Delta:     in.Delta,
			Reason:    model.StockReasonAdjustment,
		}); err != nil {
			return errDB
		}

		after, err := r.Products().FindByID(ctx, productID)
		if err != nil {
			return errDB
		}

		//「誰が」「どの商品を」「どう変えたか」を残す
		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  actorUserID,
			Action:       model.AuditActionAdjustStock,
			ResourceType: model.AuditResourceProduct,
			ResourceID:   productID,
			BeforeJSON:   fmt.Sprintf(`{"stock":"%s"}`, p.Stock.String()),
			AfterJSON:    fmt.Sprintf(`{"stock":"%s","reason":%q}`, after.Stock.String(), reason),
			CreatedAt:    u.now(),
		}); err != nil {
			return errDB
		}

		out = toProductOutput(after)
		return nil
	})
	if err != nil {
		return ProductOutput{}, err
	}

	logger.FromContext(ctx, u.log).Info("stock adjusted",
		zap.Int64("product_id", productID),
		zap.Int64("actor_user_id", actorUserID),
		zap.String("delta", in.Delta.String()),
		zap.String("stock", out.Stock.String()),
	)
	return out, nil
}

// 生産者本人のカタログ作成を予約する
func (u *ProductUsecase) RequestCatalog(ctx context.Context, actorUserID int64, actorRole model.Role) error {
	if actorUserID <= 0 {
		return NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if actorRole != model.RoleProducer {
		return NewHTTPError(http.StatusForbidden, "forbidden")
	}
	if u.jobs == nil {
		return NewHTTPError(http.StatusServiceUnavailable, "catalog generation unavailable")
	}
	if err := u.jobs.Enqueue(ctx, model.NotificationJob{Kind: model.JobProductCatalogPDF, UserID: actorUserID}); err != nil {
		return NewHTTPError(http.StatusServiceUnavailable, "catalog generation unavailable")
	}
	return nil
}
