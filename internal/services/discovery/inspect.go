package discovery

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PageStats summarises a listing page for troubleshooting a run that finds nothing
type PageStats struct {
	Title        string   `json:"title"`
	Tables       int      `json:"tables"`
	Rows         int      `json:"rows"`
	Anchors      int      `json:"anchors"`
	MentionedIDs []string `json:"mentioned_ids"` // Report ids anywhere in the page text
	SampleLinks  []string `json:"sample_links"`  // First anchors as "text -> href"
}

const sampleLinkCount = 10

// Inspect reports the structure Discover relies on.
// MentionedIDs uses the report pattern without anchors so ids inside longer text are counted.
func (d *Discoverer) Inspect(html string) (*PageStats, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	stats := &PageStats{
		Title:   strings.TrimSpace(doc.Find("title").First().Text()),
		Tables:  doc.Find("table").Length(),
		Rows:    doc.Find("tr").Length(),
		Anchors: doc.Find("a").Length(),
	}

	unanchored := strings.TrimSuffix(strings.TrimPrefix(d.pattern.String(), "^"), "$")
	if re, err := regexp.Compile(unanchored); err == nil {
		seen := make(map[string]struct{})
		for _, id := range re.FindAllString(doc.Find("body").Text(), -1) {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				stats.MentionedIDs = append(stats.MentionedIDs, id)
			}
		}
	}

	doc.Find("a").EachWithBreak(func(i int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		stats.SampleLinks = append(stats.SampleLinks, fmt.Sprintf("%q -> %s", strings.TrimSpace(a.Text()), href))
		return i+1 < sampleLinkCount
	})

	return stats, nil
}
