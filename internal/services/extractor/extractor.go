// -----------------------------------------------------------------------
// Field Extractor - Reads a report record from a loaded detail page
// -----------------------------------------------------------------------

package extractor

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carextract/internal/common"
	"github.com/ternarybob/carextract/internal/models"
)

// Document-level field names
const (
	FieldRaisedDate = "raised_date"
	FieldStageOwner = "stage_owner"
	FieldTargetDate = "target_date"
	FieldStatus     = "status"
)

// FieldSpec pairs a field with the locator that reads it
type FieldSpec struct {
	Name    string
	Locator Locator
}

// Extractor turns report detail pages into records.
// It is stateless apart from configuration and safe for concurrent use.
type Extractor struct {
	config        *common.ExtractorConfig
	fields        []FieldSpec
	idPattern     *regexp.Regexp
	remarksFormat string
	notFound      string
	logger        arbor.ILogger

	// Clock supplies the extraction date written to Remarks
	Clock func() time.Time
}

// NewExtractor builds the default field specs from configuration.
// idPattern locates a report id in page text when the link does not supply one.
func NewExtractor(config *common.ExtractorConfig, idPattern, remarksFormat string, logger arbor.ILogger) (*Extractor, error) {
	dateRe, err := regexp.Compile(config.DatePattern)
	if err != nil {
		return nil, fmt.Errorf("invalid date pattern: %w", err)
	}

	// The listing pattern is anchored to whole anchor text; page text needs it loose
	loose := strings.TrimSuffix(strings.TrimPrefix(idPattern, "^"), "$")
	idRe, err := regexp.Compile(loose)
	if err != nil {
		return nil, fmt.Errorf("invalid report pattern: %w", err)
	}

	notFound := config.NotFound
	if notFound == "" {
		notFound = models.NotFound
	}

	e := &Extractor{
		config:        config,
		idPattern:     idRe,
		remarksFormat: remarksFormat,
		notFound:      notFound,
		logger:        logger,
		Clock:         time.Now,
	}
	e.fields = e.defaultFields(dateRe)
	return e, nil
}

// WithFields replaces the document-level field specs
func (e *Extractor) WithFields(fields ...FieldSpec) *Extractor {
	e.fields = fields
	return e
}

func (e *Extractor) label(texts []string) Label {
	return Label{Selector: e.config.LabelSelector, Texts: texts}
}

func (e *Extractor) defaultFields(dateRe *regexp.Regexp) []FieldSpec {
	c := e.config
	raised := e.label(c.Labels.RaisedDate)
	owner := e.label(c.Labels.StageOwner)
	target := e.label(c.Labels.TargetDate)
	status := e.label(c.Labels.Status)

	return []FieldSpec{
		{FieldRaisedDate, FirstOf(
			Matching(NextSibling(raised, c.ValueSelector), dateRe),
			Matching(ContainerValue(raised, c.ValueSelector), dateRe),
			Matching(ParentNext(raised), dateRe),
			ContainerPattern(raised, dateRe),
		)},
		{FieldStageOwner, Stripped(FirstOf(
			NextSibling(owner, c.ValueSelector),
			ParentNext(owner),
		), c.StripTokens)},
		{FieldTargetDate, Stripped(FirstOf(
			NextSibling(target, c.ValueSelector),
			ParentNext(target),
			ContainerPattern(target, dateRe),
		), c.StripTokens)},
		{FieldStatus, Stripped(FirstOf(
			NextSibling(status, c.ValueSelector),
			ParentNext(status),
		), c.StripTokens)},
	}
}

// Extract parses html and reads the record for link.
// It never fails: a page that cannot be parsed yields a record with Error set.
func (e *Extractor) Extract(html string, link models.ReportLink) models.ReportRecord {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		e.logger.Warn().Err(err).Str("report_id", link.ID).Msg("Failed to parse report page")
		return models.FailedRecord(link.ID, models.ErrorParseFailed)
	}
	return e.ExtractDocument(doc, link)
}

// ExtractDocument reads the record for link from a parsed page
func (e *Extractor) ExtractDocument(doc *goquery.Document, link models.ReportLink) models.ReportRecord {
	root := doc.Selection

	values := make(map[string]string, len(e.fields))
	for _, spec := range e.fields {
		if v, ok := spec.Locator(root); ok {
			values[spec.Name] = v
		}
	}

	record := models.ReportRecord{
		ID:         e.reportID(root, link),
		RaisedDate: values[FieldRaisedDate],
	}

	if stage, source := e.selectStage(root); source != "" {
		record.StageOwner = stage.owner
		record.TargetDate = stage.target
		record.Status = stage.status
		if record.TargetDate == "" {
			record.TargetDate = values[FieldTargetDate]
		}
		e.logger.Trace().Str("report_id", record.ID).Str("stage", source).Msg("Stage selected")
	} else {
		record.StageOwner = values[FieldStageOwner]
		record.TargetDate = values[FieldTargetDate]
		record.Status = values[FieldStatus]
	}

	for _, field := range []*string{&record.RaisedDate, &record.StageOwner, &record.TargetDate, &record.Status} {
		if strings.TrimSpace(*field) == "" {
			*field = e.notFound
		}
	}

	if e.remarksFormat != "" {
		record.Remarks = e.Clock().Format(e.remarksFormat)
	}

	return record
}

func (e *Extractor) reportID(root *goquery.Selection, link models.ReportLink) string {
	if link.ID != "" {
		return link.ID
	}
	if e.config.HeadingSelector != "" {
		if id := e.idPattern.FindString(root.Find(e.config.HeadingSelector).First().Text()); id != "" {
			return id
		}
	}
	return e.idPattern.FindString(root.Find("body").Text())
}
