package idx

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"idx-pipeline/models"
	"idx-pipeline/utils"
)

// Snapshot is a rendered page at one moment: its current URL and HTML.
type Snapshot struct {
	URL  string
	HTML string
}

// Extractor pulls a PropertyRecord out of a page snapshot. It has no side
// effects and is safe for concurrent use.
type Extractor struct {
	rules  Rules
	clock  utils.Clock
	logger *utils.Logger
}

func NewExtractor(rules Rules, clock utils.Clock, logger *utils.Logger) *Extractor {
	if clock == nil {
		clock = utils.RealClock{}
	}
	if rules.MinAddressLength <= 0 {
		rules.MinAddressLength = DefaultRules().MinAddressLength
	}
	if rules.MaxImages <= 0 {
		rules.MaxImages = DefaultRules().MaxImages
	}
	return &Extractor{rules: rules, clock: clock, logger: logger}
}

// WithMaxImages returns a copy of e with a different image cap.
func (e *Extractor) WithMaxImages(n int) *Extractor {
	cp := *e
	if n > 0 {
		cp.rules.MaxImages = n
	}
	return &cp
}

func (e *Extractor) Rules() Rules { return e.rules }

// Extract parses the snapshot and returns the record found in it with its
// validity. The record is returned even when invalid so callers can log it.
func (e *Extractor) Extract(s Snapshot) (*models.PropertyRecord, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s.HTML))
	if err != nil {
		e.logger.Debug("[extract] parse %s: %v", s.URL, err)
		return &models.PropertyRecord{PageURL: s.URL, Images: []string{}}, false
	}
	return e.ExtractDocument(doc, s.URL)
}

// ExtractDocument runs extraction over an already-parsed document.
func (e *Extractor) ExtractDocument(doc *goquery.Document, pageURL string) (*models.PropertyRecord, bool) {
	rec := &models.PropertyRecord{
		PageURL:     pageURL,
		ExtractedAt: e.clock.Now(),
	}

	rec.MLSID = e.mlsFromURL(pageURL)

	values := map[Field]string{}
	for _, f := range Fields {
		if f == FieldMLSID && rec.MLSID != "" {
			continue
		}
		if v, sel := e.fromSelectors(doc, f); v != "" {
			values[f] = v
			e.logger.Debug("[extract] %s matched %q", f, sel)
		}
	}

	var text string
	bodyText := func() string {
		if text == "" {
			text = visibleText(doc.Find("body"))
		}
		return text
	}
	for _, fb := range textFallbacks {
		if values[fb.field] != "" || (fb.field == FieldMLSID && rec.MLSID != "") {
			continue
		}
		if m := fb.re.FindStringSubmatch(bodyText()); m != nil {
			if v := e.rules.normalize(fb.field, m[1]); v != "" {
				values[fb.field] = v
				e.logger.Debug("[extract] %s matched text fallback", fb.field)
			}
		}
	}

	if values[FieldAddress] == "" {
		if v := e.addressFromTitle(doc); v != "" {
			values[FieldAddress] = v
			e.logger.Debug("[extract] address taken from <title>")
		}
	}

	rec.Address = values[FieldAddress]
	rec.Price = values[FieldPrice]
	rec.Beds = values[FieldBeds]
	rec.Baths = values[FieldBaths]
	rec.Sqft = values[FieldSqft]
	if rec.MLSID == "" {
		rec.MLSID = values[FieldMLSID]
	}
	rec.Images = e.images(doc, pageURL)

	return rec, rec.Valid()
}

// fromSelectors walks the field's candidates in order and returns the first
// value that passes validation, with the selector that produced it.
func (e *Extractor) fromSelectors(doc *goquery.Document, f Field) (string, string) {
	for _, candidate := range e.rules.selectors(f) {
		sel, attr := splitAttr(candidate)
		var found string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			raw := s.Text()
			if attr != "" {
				raw, _ = s.Attr(attr)
			}
			found = e.rules.normalize(f, raw)
			return found == ""
		})
		if found != "" {
			return found, candidate
		}
	}
	return "", ""
}

func (e *Extractor) mlsFromURL(pageURL string) string {
	if pageURL == "" {
		return ""
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	for _, name := range e.rules.MLSParams {
		if v := normalizeMLS(q.Get(name)); v != "" {
			e.logger.Debug("[extract] mlsId from url param %q", name)
			return v
		}
	}
	return ""
}

// addressFromTitle uses the part of <title> before a "|" or " - " separator.
func (e *Extractor) addressFromTitle(doc *goquery.Document) string {
	title := collapseSpace(doc.Find("title").First().Text())
	if title == "" || e.rules.isBoilerplate(title) {
		return ""
	}
	if i := strings.Index(title, "|"); i >= 0 {
		title = title[:i]
	}
	if i := strings.Index(title, " - "); i >= 0 {
		title = title[:i]
	}
	title = strings.TrimSpace(title)
	if !e.rules.validAddress(title) {
		return ""
	}
	return title
}

func (e *Extractor) images(doc *goquery.Document, pageURL string) []string {
	base, _ := url.Parse(pageURL)
	seen := make(map[string]struct{})
	out := make([]string, 0)

	doc.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		src := strings.TrimSpace(img.AttrOr("src", ""))
		if src == "" || strings.HasPrefix(strings.ToLower(src), "data:") {
			src = strings.TrimSpace(img.AttrOr("data-src", ""))
		}
		if src == "" {
			return true
		}
		abs, ok := resolveImage(base, src)
		if !ok {
			return true
		}

		lowerURL := strings.ToLower(abs)
		alt := strings.ToLower(img.AttrOr("alt", ""))
		if containsAny(lowerURL, e.rules.ImageExcludes) || containsAny(alt, e.rules.ImageExcludes) {
			return true
		}
		if !containsAny(lowerURL, e.rules.PhotoHints) &&
			!containsAny(alt, e.rules.PhotoHints) &&
			!e.ancestorHinted(img) {
			return true
		}

		if _, dup := seen[abs]; dup {
			return true
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
		return len(out) < e.rules.MaxImages
	})
	return out
}

func (e *Extractor) ancestorHinted(img *goquery.Selection) bool {
	hinted := false
	img.Parents().EachWithBreak(func(_ int, p *goquery.Selection) bool {
		class := strings.ToLower(p.AttrOr("class", ""))
		if class != "" && containsAny(class, e.rules.PhotoHints) {
			hinted = true
		}
		return !hinted
	})
	return hinted
}

// resolveImage makes src absolute against base and keeps only http(s) URLs.
func resolveImage(base *url.URL, src string) (string, bool) {
	ref, err := url.Parse(src)
	if err != nil {
		return "", false
	}
	if base != nil && base.Scheme != "" {
		ref = base.ResolveReference(ref)
	}
	switch ref.Scheme {
	case "http", "https":
		return ref.String(), true
	case "":
		// no base to resolve against; keep protocol-relative and absolute paths
		return ref.String(), strings.HasPrefix(src, "//") || strings.HasPrefix(src, "/")
	}
	return "", false
}

// splitAttr separates a trailing "@attr" from a selector.
func splitAttr(candidate string) (string, string) {
	i := strings.LastIndex(candidate, "@")
	if i <= 0 {
		return candidate, ""
	}
	attr := candidate[i+1:]
	for _, r := range attr {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return candidate, ""
		}
	}
	if attr == "" {
		return candidate, ""
	}
	return candidate[:i], attr
}

// visibleText joins the text nodes under sel with single spaces, skipping
// script, style and noscript content.
func visibleText(sel *goquery.Selection) string {
	var parts []string
	var walk func(*goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, c *goquery.Selection) {
			switch goquery.NodeName(c) {
			case "#text":
				if t := strings.TrimSpace(c.Text()); t != "" {
					parts = append(parts, t)
				}
			case "script", "style", "noscript", "#comment":
			default:
				walk(c)
			}
		})
	}
	walk(sel)
	return collapseSpace(strings.Join(parts, " "))
}
