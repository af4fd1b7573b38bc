// -----------------------------------------------------------------------
// Exporter - Renders the aggregate collection as CSV, XLSX or PDF
// -----------------------------------------------------------------------

package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ternarybob/carextract/internal/models"
)

// Format is an export file format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

// DefaultFilenamePrefix matches the name downstream consumers look for
const DefaultFilenamePrefix = "HAESL_CAR_Export_"

// Header is the column row shared by every format
var Header = []string{"CAR No", "Raised Date", "Stage Owner", "Target Date", "Status", "Remarks"}

// ParseFormat accepts csv, xlsx or pdf in any case. Empty means csv.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatXLSX, FormatPDF:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// ContentType returns the MIME type served for the format
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		return "application/pdf"
	default:
		return "text/csv; charset=utf-8"
	}
}

// Filename returns <prefix><YYYY-MM-DD>.<ext>, dated in UTC
func Filename(prefix string, format Format, now time.Time) string {
	if prefix == "" {
		prefix = DefaultFilenamePrefix
	}
	return fmt.Sprintf("%s%s.%s", prefix, now.UTC().Format("2006-01-02"), format)
}

// Row returns the export columns of a record. A failed record with no
// remarks carries its error there instead.
func Row(r models.ReportRecord) []string {
	remarks := r.Remarks
	if remarks == "" && r.Failed() {
		remarks = "Error: " + r.Error
	}
	return []string{r.ID, r.RaisedDate, r.StageOwner, r.TargetDate, r.Status, remarks}
}

// Write renders records to w in the given format
func Write(w io.Writer, format Format, records []models.ReportRecord) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, records)
	case FormatXLSX:
		return WriteXLSX(w, records)
	case FormatPDF:
		return WritePDF(w, records)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}
