// -----------------------------------------------------------------------
// Link Discovery - Finds report links on a listing page
// -----------------------------------------------------------------------

package discovery

import (
	"fmt"
	"iter"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carextract/internal/models"
)

// Discoverer finds report links whose visible text matches the report-ID pattern
type Discoverer struct {
	pattern *regexp.Regexp
	logger  arbor.ILogger
}

// NewDiscoverer compiles the report-ID pattern, e.g. ^CAR-\d+$
func NewDiscoverer(pattern string, logger arbor.ILogger) (*Discoverer, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid report pattern %q: %w", pattern, err)
	}
	return &Discoverer{pattern: re, logger: logger}, nil
}

// Links yields the report links of doc in page order.
// Anchors whose own text matches come first; table cells whose text matches
// follow, contributing the first anchor inside the cell. Ids are unique and
// the first occurrence wins. Each range over the sequence rescans doc.
func (d *Discoverer) Links(doc *goquery.Document, base *url.URL) iter.Seq[models.ReportLink] {
	return func(yield func(models.ReportLink) bool) {
		seen := make(map[string]struct{})

		emit := func(id string, a *goquery.Selection) bool {
			if _, dup := seen[id]; dup {
				return true
			}
			href, ok := a.Attr("href")
			if !ok {
				return true
			}
			seen[id] = struct{}{}
			return yield(models.ReportLink{ID: id, URL: resolve(base, href)})
		}

		stopped := false
		doc.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			id := strings.TrimSpace(a.Text())
			if !d.pattern.MatchString(id) {
				return true
			}
			if !emit(id, a) {
				stopped = true
				return false
			}
			return true
		})
		if stopped {
			return
		}

		doc.Find("td, th").EachWithBreak(func(_ int, cell *goquery.Selection) bool {
			id := strings.TrimSpace(cell.Text())
			if !d.pattern.MatchString(id) {
				return true
			}
			a := cell.Find("a").First()
			if a.Length() == 0 {
				return true
			}
			return emit(id, a)
		})
	}
}

// Discover parses html and collects its report links.
// An empty result is not an error; the caller decides whether it is terminal.
func (d *Discoverer) Discover(html, pageURL string) ([]models.ReportLink, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing page: %w", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		d.logger.Warn().Err(err).Str("page_url", pageURL).Msg("Failed to parse listing URL for link resolution")
		base = nil
	}

	var links []models.ReportLink
	for link := range d.Links(doc, base) {
		links = append(links, link)
	}

	d.logger.Debug().
		Str("page_url", pageURL).
		Int("links_found", len(links)).
		Msg("Report links discovered")

	return links, nil
}

// resolve makes href absolute against base. Unparseable hrefs are returned unchanged.
func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
