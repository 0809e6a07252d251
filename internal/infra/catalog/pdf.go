package catalog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sekKerfBang/agriBusiness/internal/domain/model"

	"github.com/go-pdf/fpdf"
)

// 列幅(mm)。A4縦の本文幅190に収める
var columns = []struct {
	title string
	width float64
	align string
}{
	{"Product", 80, "L"},
	{"Unit", 25, "C"},
	{"Price", 35, "R"},
	{"Stock", 50, "R"},
}

// 生産者の商品カタログをPDFにしてディレクトリに置く
type PDFStore struct {
	dir string
	now func() time.Time
}

func NewPDFStore(dir string) *PDFStore {
	return &PDFStore{dir: dir, now: time.Now}
}

// 書き出したファイルのパスを返す
func (s *PDFStore) Write(ctx context.Context, producer model.User, products []model.Product) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	at := s.now()

	var buf bytes.Buffer
	if err := Render(&buf, producer, products, at); err != nil {
		return "", err
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create catalog dir: %w", err)
	}
	name := fmt.Sprintf("catalog_%d_%s.pdf", producer.ID, at.Format("20060102_150405"))
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write catalog: %w", err)
	}
	return path, nil
}

// Render はA4縦1表のカタログを書く
func Render(w io.Writer, producer model.User, products []model.Product, at time.Time) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Product catalog", true)
	pdf.SetAuthor(producer.DisplayName(), true)
	//コアフォントは cp1252 なので変換してから渡す
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, "Product catalog", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(0, 7, tr(producer.DisplayName()), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 6, "Generated "+at.Format("2006-01-02 15:04"), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, "Contact: "+tr(producer.Email), "", 1, "L", false, 0, "")
	pdf.Ln(6)

	header := func() {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.SetFillColor(230, 240, 225)
		for _, c := range columns {
			pdf.CellFormat(c.width, 8, c.title, "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Helvetica", "", 10)
	}
	header()

	_, pageH := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	for _, p := range products {
		if pdf.GetY()+7 > pageH-bottom-10 {
			pdf.AddPage()
			header()
		}
		cells := []string{
			tr(p.Name),
			tr(p.Unit),
			p.Price.StringFixed(model.MoneyPlaces),
			p.Stock.String(),
		}
		for i, c := range columns {
			pdf.CellFormat(c.width, 7, cells[i], "1", 0, c.align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "I", 9)
	pdf.CellFormat(0, 6, fmt.Sprintf("%d active products", len(products)), "", 1, "L", false, 0, "")

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render catalog pdf: %w", err)
	}
	return nil
}
