package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

type stageData struct {
	owner     string
	target    string
	completed string
	status    string
}

func (e *Extractor) stageLabel(texts []string) Label {
	return Label{Selector: e.config.StageLabelSelector, Texts: texts, Exact: true}
}

// readStage reads one workflow stage. Target falls back to the completed date.
func (e *Extractor) readStage(stage *goquery.Selection) stageData {
	c := e.config
	strip := func(loc Locator) string {
		v, _ := Stripped(loc, c.StripTokens)(stage)
		return v
	}

	var ownerLink Locator
	if c.OwnerLinkSelector != "" {
		ownerLink = FirstText(c.OwnerLinkSelector)
	}

	d := stageData{
		owner:     strip(FirstOf(NextSibling(e.stageLabel(c.Labels.StageOwner), c.StageValueSelector), ownerLink)),
		target:    strip(SiblingChild(e.stageLabel(c.Labels.TargetDate), c.TargetSelector)),
		completed: strip(NextSibling(e.stageLabel(c.Labels.CompletedDate), c.StageValueSelector)),
		status:    strip(NextSibling(e.stageLabel(c.Labels.Status), c.StageValueSelector)),
	}
	if d.target == "" {
		d.target = d.completed
	}
	return d
}

func (e *Extractor) isPrimary(text string) bool {
	return e.config.PrimaryStage != "" && strings.Contains(text, strings.ToLower(e.config.PrimaryStage))
}

func (e *Extractor) isFollowUp(text string) bool {
	if len(e.config.FollowUpTerms) == 0 {
		return false
	}
	for _, term := range e.config.FollowUpTerms {
		if !strings.Contains(text, strings.ToLower(term)) {
			return false
		}
	}
	return true
}

// selectStage applies the stage precedence: once the primary stage is complete
// and the follow-up stage has an owner, the follow-up stage is reported;
// otherwise the primary stage if it has an owner. source is "" when neither applies.
func (e *Extractor) selectStage(root *goquery.Selection) (stageData, string) {
	c := e.config
	if c.StageSelector == "" {
		return stageData{}, ""
	}

	var primary, followUp *stageData
	root.Find(c.StageSelector).Each(func(_ int, stage *goquery.Selection) {
		text := strings.ToLower(stage.Text())
		if primary == nil && e.isPrimary(text) {
			d := e.readStage(stage)
			primary = &d
		}
		if followUp == nil && e.isFollowUp(text) {
			d := e.readStage(stage)
			followUp = &d
		}
	})

	primaryComplete := primary != nil && (primary.completed != "" ||
		(c.CompleteMarker != "" && strings.Contains(strings.ToLower(primary.status), strings.ToLower(c.CompleteMarker))))

	switch {
	case primaryComplete && followUp != nil && followUp.owner != "":
		if followUp.status == "" {
			followUp.status = c.FollowUpStatus
		}
		return *followUp, "follow_up"
	case primary != nil && primary.owner != "":
		if primary.status == "" {
			primary.status = c.PrimaryStatus
		}
		return *primary, "primary"
	}
	return stageData{}, ""
}
