package usecase

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sekKerfBang/agriBusiness/internal/domain/model"
	"github.com/sekKerfBang/agriBusiness/internal/infra/logger"
	repo "github.com/sekKerfBang/agriBusiness/internal/repository"

	"go.uber.org/zap"
)

// 生産者の商品カタログ（PDF）の作成
type CatalogUsecase struct {
	products repo.ProductRepository
	writer   CatalogWriter
	notifier *NotificationUsecase
	log      *zap.Logger
}

func NewCatalogUsecase(products repo.ProductRepository, writer CatalogWriter, notifier *NotificationUsecase, log *zap.Logger) *CatalogUsecase {
	if log == nil {
		log = zap.NewNop()
	}
	return &CatalogUsecase{products: products, writer: writer, notifier: notifier, log: log}
}

// job.UserID の生産者の公開中商品をPDFにし、通知とメールで知らせる。
// 公開中の商品が無ければ何もしない
func (u *CatalogUsecase) GenerateProductCatalog(ctx context.Context, job model.NotificationJob) error {
	producer, ok, err := u.notifier.user(ctx, job.UserID)
	if err != nil || !ok {
		return err
	}
	products, err := u.products.ListActiveByProducer(ctx, producer.ID)
	if err != nil {
		return fmt.Errorf("list active products: %w", err)
	}
	if len(products) == 0 {
		logger.FromContext(ctx, u.log).Info("catalog skipped: no active products", zap.Int64("producer_id", producer.ID))
		return nil
	}

	path, err := u.writer.Write(ctx, producer, products)
	if err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	logger.FromContext(ctx, u.log).Info("catalog generated",
		zap.Int64("producer_id", producer.ID),
		zap.Int("products", len(products)),
		zap.String("path", path),
	)

	if err := u.notifier.notify(ctx, job, model.Notification{
		UserID:  producer.ID,
		Type:    model.NotificationInfo,
		Title:   "Catalog ready",
		Message: fmt.Sprintf("Your product catalog (%d products) is ready: %s", len(products), filepath.Base(path)),
	}); err != nil {
		return err
	}

	body := fmt.Sprintf("Hello %s,\n\nYour product catalog with %d active products has been generated.\nFile: %s\n",
		producer.DisplayName(), len(products), filepath.Base(path))
	return u.notifier.send(ctx, producer.Email, "Your product catalog", body)
}
