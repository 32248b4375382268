// Package receipts renders purchase receipts as PDF and stores them in an
// S3-compatible bucket.
package receipts

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"
)

var (
	colorPrimary     = [3]int{30, 58, 95}
	colorTextDark    = [3]int{44, 62, 80}
	colorTextMuted   = [3]int{127, 140, 141}
	colorTableHeader = [3]int{30, 58, 95}
	colorTableAlt    = [3]int{241, 245, 249}
	colorGridLine    = [3]int{220, 220, 220}
)

// Line is one purchased item.
type Line struct {
	Title     string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Total returns unit price times quantity.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Receipt is everything printed on a receipt.
type Receipt struct {
	SiteName         string
	PurchaseID       string
	ClientReference  string
	Status           string
	IssuedAt         time.Time
	OrganizationName string
	Email            string
	Phone            string
	Address          []string
	Currency         string
	Provider         string
	Method           string
	Lines            []Line
	Amount           decimal.Decimal
}

// FileName returns the attachment name for r.
func (r Receipt) FileName() string {
	return fmt.Sprintf("receipt-%s.pdf", r.ClientReference)
}

// Render draws r as a single-page A4 PDF.
func Render(r Receipt) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 25)
	pdf.AddPage()

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pageWidth, _ := pdf.GetPageSize()

	pdf.SetFillColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.Rect(0, 0, pageWidth, 8, "F")

	pdf.SetY(20)
	pdf.SetFont("Arial", "B", 22)
	pdf.SetTextColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.CellFormat(0, 10, tr(strings.ToUpper(siteName(r.SiteName))), "", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "", 11)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 6, "Purchase receipt", "", 1, "L", false, 0, "")
	pdf.Ln(6)

	writeField(pdf, tr, "Reference", r.ClientReference)
	writeField(pdf, tr, "Purchase", r.PurchaseID)
	writeField(pdf, tr, "Status", r.Status)
	if !r.IssuedAt.IsZero() {
		writeField(pdf, tr, "Date", r.IssuedAt.UTC().Format("January 2, 2006 15:04 MST"))
	}
	if r.Provider != "" {
		writeField(pdf, tr, "Payment", strings.TrimSpace(r.Provider+" "+r.Method))
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 11)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 7, "Billed to", "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	for _, line := range append([]string{r.OrganizationName, r.Email, r.Phone}, r.Address...) {
		if strings.TrimSpace(line) == "" {
			continue
		}
		pdf.CellFormat(0, 5, tr(line), "", 1, "L", false, 0, "")
	}
	pdf.Ln(6)

	writeItems(pdf, tr, r)

	pdf.SetY(-30)
	pdf.SetDrawColor(colorGridLine[0], colorGridLine[1], colorGridLine[2])
	pdf.SetLineWidth(0.3)
	pdf.Line(20, pdf.GetY(), pageWidth-20, pdf.GetY())
	pdf.SetFont("Arial", "", 8)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 6, "Thank you for your purchase.", "", 1, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("PDF output error: %w", err)
	}
	return buf.Bytes(), nil
}

func writeField(pdf *fpdf.Fpdf, tr func(string) string, label, value string) {
	if value == "" {
		return
	}
	pdf.SetFont("Arial", "B", 10)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(30, 6, label, "", 0, "L", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 6, tr(value), "", 1, "L", false, 0, "")
}

func writeItems(pdf *fpdf.Fpdf, tr func(string) string, r Receipt) {
	const (
		titleWidth = 90.0
		qtyWidth   = 20.0
		priceWidth = 30.0
		totalWidth = 30.0
	)

	pdf.SetFillColor(colorTableHeader[0], colorTableHeader[1], colorTableHeader[2])
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(titleWidth, 7, "Item", "1", 0, "L", true, 0, "")
	pdf.CellFormat(qtyWidth, 7, "Qty", "1", 0, "R", true, 0, "")
	pdf.CellFormat(priceWidth, 7, "Unit price", "1", 0, "R", true, 0, "")
	pdf.CellFormat(totalWidth, 7, "Total", "1", 0, "R", true, 0, "")
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	for i, line := range r.Lines {
		fill := i%2 == 1
		if fill {
			pdf.SetFillColor(colorTableAlt[0], colorTableAlt[1], colorTableAlt[2])
		}
		title := line.Title
		if len(title) > 50 {
			title = title[:50]
		}
		pdf.CellFormat(titleWidth, 6, tr(title), "1", 0, "L", fill, 0, "")
		pdf.CellFormat(qtyWidth, 6, fmt.Sprintf("%d", line.Quantity), "1", 0, "R", fill, 0, "")
		pdf.CellFormat(priceWidth, 6, line.UnitPrice.StringFixed(2), "1", 0, "R", fill, 0, "")
		pdf.CellFormat(totalWidth, 6, line.Total().StringFixed(2), "1", 0, "R", fill, 0, "")
		pdf.Ln(-1)
	}

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(titleWidth+qtyWidth+priceWidth, 8, "Total", "", 0, "R", false, 0, "")
	pdf.CellFormat(totalWidth, 8, tr(strings.TrimSpace(r.Currency+" "+r.Amount.StringFixed(2))), "", 1, "R", false, 0, "")
}

func siteName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "Storefront"
	}
	return name
}
