package extractor

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Locator reads one value from a document or a part of it.
// It must not modify the selection.
type Locator func(scope *goquery.Selection) (string, bool)

// Label finds the element carrying a field's caption
type Label struct {
	Selector string   // Label-like elements to scan
	Texts    []string // Accepted captions, compared case-insensitively
	Exact    bool     // Whole trimmed text must equal a caption instead of containing it
}

func (l Label) matches(text string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return false
	}
	for _, want := range l.Texts {
		want = strings.ToLower(strings.TrimSpace(want))
		if want == "" {
			continue
		}
		if l.Exact && text == want {
			return true
		}
		if !l.Exact && strings.Contains(text, want) {
			return true
		}
	}
	return false
}

// find returns the first element in document order holding the caption.
// For contains-matching the innermost element wins, so a wrapping div whose
// text merely includes the caption is skipped in favour of the label itself.
func (l Label) find(scope *goquery.Selection) *goquery.Selection {
	var found *goquery.Selection
	scope.Find(l.Selector).EachWithBreak(func(_ int, el *goquery.Selection) bool {
		if !l.matches(el.Text()) {
			return true
		}
		if !l.Exact {
			inner := false
			el.Children().EachWithBreak(func(_ int, child *goquery.Selection) bool {
				inner = l.matches(child.Text())
				return !inner
			})
			if inner {
				return true
			}
		}
		found = el
		return false
	})
	return found
}

func textOf(s *goquery.Selection) (string, bool) {
	if s == nil || s.Length() == 0 {
		return "", false
	}
	v := strings.TrimSpace(s.First().Text())
	return v, v != ""
}

// NextSibling reads the element right after the label. When valueSel is set
// and the sibling contains a match, that inner element's text is used instead.
func NextSibling(label Label, valueSel string) Locator {
	return func(scope *goquery.Selection) (string, bool) {
		lab := label.find(scope)
		if lab == nil {
			return "", false
		}
		sib := lab.Next()
		if sib.Length() == 0 {
			return "", false
		}
		if valueSel != "" {
			if v, ok := textOf(sib.Find(valueSel)); ok {
				return v, true
			}
		}
		return textOf(sib)
	}
}

// SiblingChild reads only the element matching sel inside the label's next sibling
func SiblingChild(label Label, sel string) Locator {
	return func(scope *goquery.Selection) (string, bool) {
		lab := label.find(scope)
		if lab == nil {
			return "", false
		}
		return textOf(lab.Next().Find(sel))
	}
}

// ContainerValue reads the first valueSel element inside the label's parent
func ContainerValue(label Label, valueSel string) Locator {
	return func(scope *goquery.Selection) (string, bool) {
		lab := label.find(scope)
		if lab == nil || valueSel == "" {
			return "", false
		}
		return textOf(lab.Parent().Find(valueSel).NotSelection(lab))
	}
}

// ParentNext reads the element after the label's parent, the next cell of a table row layout
func ParentNext(label Label) Locator {
	return func(scope *goquery.Selection) (string, bool) {
		lab := label.find(scope)
		if lab == nil {
			return "", false
		}
		return textOf(lab.Parent().Next())
	}
}

// ContainerPattern returns the first match of re in the text of the label's parent
func ContainerPattern(label Label, re *regexp.Regexp) Locator {
	return func(scope *goquery.Selection) (string, bool) {
		lab := label.find(scope)
		if lab == nil {
			return "", false
		}
		m := re.FindString(lab.Parent().Text())
		return m, m != ""
	}
}

// Matching narrows loc's value to the first match of re
func Matching(loc Locator, re *regexp.Regexp) Locator {
	return func(scope *goquery.Selection) (string, bool) {
		v, ok := loc(scope)
		if !ok {
			return "", false
		}
		m := re.FindString(v)
		return m, m != ""
	}
}

// Stripped removes UI tokens such as inline editor buttons from loc's value
func Stripped(loc Locator, tokens []string) Locator {
	return func(scope *goquery.Selection) (string, bool) {
		v, ok := loc(scope)
		if !ok {
			return "", false
		}
		for _, t := range tokens {
			if t != "" {
				v = strings.ReplaceAll(v, t, "")
			}
		}
		v = strings.TrimSpace(v)
		return v, v != ""
	}
}

// FirstText reads the first element matching sel
func FirstText(sel string) Locator {
	return func(scope *goquery.Selection) (string, bool) {
		return textOf(scope.Find(sel))
	}
}

// FirstOf tries locators in order and returns the first value found
func FirstOf(locs ...Locator) Locator {
	return func(scope *goquery.Selection) (string, bool) {
		for _, loc := range locs {
			if loc == nil {
				continue
			}
			if v, ok := loc(scope); ok {
				return v, true
			}
		}
		return "", false
	}
}
