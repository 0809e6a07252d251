package usecase

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/sekKerfBang/agriBusiness/internal/domain/model"
	"github.com/sekKerfBang/agriBusiness/internal/infra/catalog"
	gormrepo "github.com/sekKerfBang/agriBusiness/internal/infra/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCatalogUsecase(env *testEnv, dir string, mail Mailer) *CatalogUsecase {
	return NewCatalogUsecase(
		gormrepo.NewProductGormRepository(env.db),
		catalog.NewPDFStore(dir),
		newNotificationUsecase(env, mail),
		nil,
	)
}

func TestCatalog_RendersActiveProductsAndNotifies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dir := t.TempDir()
	mail := &mailRecorder{}
	uc := newCatalogUsecase(env, dir, mail)

	producer := env.user(t, "ferme@example.com", model.RoleProducer)
	env.product(t, producer.ID, "Tomates", "3.20", "40")
	env.product(t, producer.ID, "Courgettes", "2.10", "0")
	hidden := env.product(t, producer.ID, "Melons", "4.00", "5")
	require.NoError(t, env.db.Model(&model.Product{}).Where("id = ?", hidden.ID).Update("is_active", false).Error)

	job := model.NotificationJob{ID: "job-catalog-1", Kind: model.JobProductCatalogPDF, UserID: producer.ID}
	require.NoError(t, uc.GenerateProductCatalog(ctx, job))

	files, err := filepath.Glob(filepath.Join(dir, "catalog_*.pdf"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	b, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(b, []byte("%PDF-")))

	ns := notificationsOf(t, env, producer.ID)
	require.Len(t, ns, 1)
	assert.Equal(t, model.NotificationInfo, ns[0].Type)
	assert.Contains(t, ns[0].Message, "2 products")
	assert.Contains(t, ns[0].Message, filepath.Base(files[0]))

	sent := mail.to("ferme@example.com")
	require.Len(t, sent, 1)
	assert.Equal(t, "Your product catalog", sent[0].Subject)

	//再試行でも通知は増えない
	require.NoError(t, uc.GenerateProductCatalog(ctx, job))
	assert.Len(t, notificationsOf(t, env, producer.ID), 1)
}

func TestCatalog_NoActiveProductsWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	mail := &mailRecorder{}
	uc := newCatalogUsecase(env, dir, mail)
	producer := env.user(t, "vide@example.com", model.RoleProducer)

	require.NoError(t, uc.GenerateProductCatalog(context.Background(), model.NotificationJob{ID: "job-empty", Kind: model.JobProductCatalogPDF, UserID: producer.ID}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, notificationsOf(t, env, producer.ID))
	assert.Empty(t, mail.to("vide@example.com"))
}

func TestCatalog_UnknownProducerIsDropped(t *testing.T) {
	env := newTestEnv(t)
	uc := newCatalogUsecase(env, t.TempDir(), &mailRecorder{})

	assert.NoError(t, uc.GenerateProductCatalog(context.Background(), model.NotificationJob{Kind: model.JobProductCatalogPDF, UserID: 999}))
}

func TestRequestCatalog_EnqueuesForProducerOnly(t *testing.T) {
	env := newTestEnv(t)
	uc := newProductUsecase(env)
	ctx := context.Background()

	require.NoError(t, uc.RequestCatalog(ctx, 10, model.RoleProducer))
	jobs := env.jobs.byKind(model.JobProductCatalogPDF)
	require.Len(t, jobs, 1)
	assert.Equal(t, int64(10), jobs[0].UserID)

	err := uc.RequestCatalog(ctx, 11, model.RoleClient)
	he, ok := AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, he.Status)
	assert.Len(t, env.jobs.byKind(model.JobProductCatalogPDF), 1)
}
