package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/ternarybob/carextract/internal/models"
)

const (
	pdfFontSize   = 8.0
	pdfLineHeight = 4.0
	pdfMaxLines   = 6
)

// pdfColumnWidths are in mm and sum to the printable width of landscape A4
var pdfColumnWidths = []float64{30, 32, 60, 32, 55, 68}

// WritePDF writes a landscape A4 table with the header repeated on every page
func WritePDF(w io.Writer, records []models.ReportRecord) error {
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(false, 10)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 8, "HAESL CAR Export", "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 8)
	pdf.CellFormat(0, 5, fmt.Sprintf("%d reports, generated %s", len(records), time.Now().Format("02 Jan 2006 15:04")), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	t := &pdfTable{pdf: pdf}
	t.row(Header, true)
	for _, r := range records {
		t.row(Row(r), false)
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("failed to render pdf: %w", err)
	}
	return pdf.Output(w)
}

type pdfTable struct {
	pdf *fpdf.Fpdf
}

func (t *pdfTable) row(cells []string, header bool) {
	pdf := t.pdf
	if header {
		pdf.SetFont("Arial", "B", pdfFontSize)
	} else {
		pdf.SetFont("Arial", "", pdfFontSize)
	}

	lines := make([][]string, len(cells))
	maxLines := 1
	for i, cell := range cells {
		lines[i] = pdf.SplitText(cell, pdfColumnWidths[i]-2)
		if len(lines[i]) > pdfMaxLines {
			lines[i] = lines[i][:pdfMaxLines]
		}
		if len(lines[i]) > maxLines {
			maxLines = len(lines[i])
		}
	}

	rowHeight := float64(maxLines)*pdfLineHeight + 2
	_, pageHeight := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	if pdf.GetY()+rowHeight > pageHeight-bottom {
		pdf.AddPage()
		if !header {
			t.row(Header, true)
			pdf.SetFont("Arial", "", pdfFontSize)
		}
	}

	startX, startY := pdf.GetX(), pdf.GetY()
	x := startX
	for i := range cells {
		if header {
			pdf.SetFillColor(230, 230, 230)
			pdf.Rect(x, startY, pdfColumnWidths[i], rowHeight, "FD")
		} else {
			pdf.Rect(x, startY, pdfColumnWidths[i], rowHeight, "D")
		}
		pdf.SetXY(x+1, startY+1)
		pdf.MultiCell(pdfColumnWidths[i]-2, pdfLineHeight, strings.Join(lines[i], "\n"), "", "L", false)
		x += pdfColumnWidths[i]
	}

	pdf.SetXY(startX, startY+rowHeight)
}
