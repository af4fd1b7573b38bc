package extractor

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carextract/internal/common"
	"github.com/ternarybob/carextract/internal/models"
)

func newExtractor(t *testing.T) *Extractor {
	t.Helper()
	cfg := common.NewDefaultConfig()
	e, err := NewExtractor(&cfg.Extractor, cfg.Listing.ReportPattern, cfg.Export.RemarksFormat, arbor.NewLogger())
	require.NoError(t, err)
	e.Clock = func() time.Time { return time.Date(2026, time.March, 7, 9, 0, 0, 0, time.UTC) }
	return e
}

func stage(name, owner, target, completed, status string) string {
	row := func(label, value string) string {
		if value == "" {
			return ""
		}
		return fmt.Sprintf(`<div class="row"><div class="details-label">%s</div><div class="details-value"><span class="staticText">%s</span> <button>Cancel</button><button>Save</button></div></div>`, label, value)
	}
	targetRow := ""
	if target != "" {
		targetRow = fmt.Sprintf(`<div class="row"><div class="details-label">Target Date</div><div class="details-value"><div class="staticTextContainer">%s</div></div></div>`, target)
	}
	return fmt.Sprintf(`<li class="stage-li"><h3>%s</h3>%s%s%s%s</li>`,
		name, row("Stage Owner:", owner), targetRow, row("Completed date", completed), row("Status:", status))
}

func detailPage(stages ...string) string {
	html := `<html><body>
<div class="g-subheading__title"><h1>CAR-2001 Hydraulic leak</h1></div>
<div class="header"><div class="g-label">Raised Date</div><div class="g-value">Raised on 03/02/2026 by QA</div></div>
<ul>`
	for _, s := range stages {
		html += s
	}
	return html + `</ul></body></html>`
}

func TestExtract_InvestigationInProgress(t *testing.T) {
	e := newExtractor(t)
	html := detailPage(
		stage("Investigation", "Alice Wong", "15/03/2026", "", ""),
		stage("QA Follow up", "Bob Lee", "30/03/2026", "", "Pending"),
	)

	rec := e.Extract(html, models.ReportLink{ID: "CAR-2001"})

	assert.Equal(t, "CAR-2001", rec.ID)
	assert.Equal(t, "03/02/2026", rec.RaisedDate)
	assert.Equal(t, "Alice Wong", rec.StageOwner)
	assert.Equal(t, "15/03/2026", rec.TargetDate)
	assert.Equal(t, "Investigation", rec.Status, "empty status falls back to the stage name")
	assert.Equal(t, "07 Mar", rec.Remarks)
	assert.False(t, rec.Failed())
}

func TestExtract_CompletedInvestigationPrefersFollowUp(t *testing.T) {
	e := newExtractor(t)
	html := detailPage(
		stage("Investigation", "Alice Wong", "", "10/03/2026", "Closed"),
		stage("QA Follow up", "Bob Lee", "30/03/2026", "", ""),
	)

	rec := e.Extract(html, models.ReportLink{ID: "CAR-2001"})

	assert.Equal(t, "Bob Lee", rec.StageOwner)
	assert.Equal(t, "30/03/2026", rec.TargetDate)
	assert.Equal(t, "QA Follow-up", rec.Status)
}

func TestExtract_CompleteStatusMarksInvestigationDone(t *testing.T) {
	e := newExtractor(t)
	html := detailPage(
		stage("Investigation", "Alice Wong", "12/03/2026", "", "Completed"),
		stage("QA Follow up", "Bob Lee", "", "", "In Review"),
	)

	rec := e.Extract(html, models.ReportLink{ID: "CAR-2001"})

	assert.Equal(t, "Bob Lee", rec.StageOwner)
	assert.Equal(t, "In Review", rec.Status)
	// Follow-up stage has no target of its own; the document-level target is used
	assert.Equal(t, "12/03/2026", rec.TargetDate)
}

func TestExtract_CompletedInvestigationWithoutFollowUpOwner(t *testing.T) {
	e := newExtractor(t)
	html := detailPage(
		stage("Investigation", "Alice Wong", "", "10/03/2026", "Completed"),
		stage("QA Follow up", "", "", "", ""),
	)

	rec := e.Extract(html, models.ReportLink{ID: "CAR-2001"})

	assert.Equal(t, "Alice Wong", rec.StageOwner)
	assert.Equal(t, "10/03/2026", rec.TargetDate, "completed date stands in for a missing target")
	assert.Equal(t, "Completed", rec.Status)
}

func TestExtract_StripsEditorTokens(t *testing.T) {
	e := newExtractor(t)
	html := detailPage(`<li class="stage-li">Investigation
<div class="details-label">Stage Owner:</div><div>Carol Tam Cancel Save</div></li>`)

	rec := e.Extract(html, models.ReportLink{ID: "CAR-2001"})
	assert.Equal(t, "Carol Tam", rec.StageOwner)
}

func TestExtract_OwnerFromProfileLink(t *testing.T) {
	e := newExtractor(t)
	html := detailPage(`<li class="stage-li">Investigation <a href="/UserProfile/42">Dana Ho</a></li>`)

	rec := e.Extract(html, models.ReportLink{ID: "CAR-2001"})
	assert.Equal(t, "Dana Ho", rec.StageOwner)
}

func TestExtract_TableLayoutFallback(t *testing.T) {
	e := newExtractor(t)
	html := `<html><body><table>
<tr><td><span>Raised Date</span></td><td>01/01/2026</td></tr>
<tr><td><span>Stage Owner</span></td><td>Erin Chan</td></tr>
<tr><td><span>Status</span></td><td>Open</td></tr>
</table></body></html>`

	rec := e.Extract(html, models.ReportLink{ID: "CAR-9"})

	assert.Equal(t, "CAR-9", rec.ID)
	assert.Equal(t, "01/01/2026", rec.RaisedDate)
	assert.Equal(t, "Erin Chan", rec.StageOwner)
	assert.Equal(t, "Open", rec.Status)
	assert.Equal(t, models.NotFound, rec.TargetDate)
	assert.True(t, rec.HasData())
}

func TestExtract_EmptyPageUsesSentinel(t *testing.T) {
	e := newExtractor(t)

	rec := e.Extract(`<html><body><p>Loading…</p></body></html>`, models.ReportLink{ID: "CAR-5"})

	assert.Equal(t, models.NotFound, rec.RaisedDate)
	assert.Equal(t, models.NotFound, rec.StageOwner)
	assert.Equal(t, models.NotFound, rec.TargetDate)
	assert.Equal(t, models.NotFound, rec.Status)
	assert.False(t, rec.HasData())
	assert.False(t, rec.Failed(), "absence is not an error")
}

func TestExtract_IDFromHeading(t *testing.T) {
	e := newExtractor(t)

	rec := e.Extract(detailPage(), models.ReportLink{})
	assert.Equal(t, "CAR-2001", rec.ID)
}

func TestWithFields_CustomLocator(t *testing.T) {
	e := newExtractor(t).WithFields(
		FieldSpec{Name: FieldStatus, Locator: FirstText(".badge")},
	)

	rec := e.Extract(`<html><body><span class="badge">Escalated</span></body></html>`, models.ReportLink{ID: "CAR-1"})
	assert.Equal(t, "Escalated", rec.Status)
	assert.Equal(t, models.NotFound, rec.StageOwner)
}
