package export

import (
	"io"
	"strings"

	"github.com/ternarybob/carextract/internal/models"
)

// WriteCSV writes the header unquoted, then one row per record with every
// field quoted and inner quotes doubled. Lines are joined by \n with no
// trailing newline.
func WriteCSV(w io.Writer, records []models.ReportRecord) error {
	_, err := io.WriteString(w, CSV(records))
	return err
}

// CSV renders records as CSV text
func CSV(records []models.ReportRecord) string {
	lines := make([]string, 0, len(records)+1)
	lines = append(lines, strings.Join(Header, ","))

	for _, r := range records {
		fields := Row(r)
		for i, f := range fields {
			fields[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
		}
		lines = append(lines, strings.Join(fields, ","))
	}

	return strings.Join(lines, "\n")
}
