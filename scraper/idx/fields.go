package idx

import (
	"regexp"
	"strings"
	"unicode"
)

// Field names a PropertyRecord attribute filled from the DOM.
type Field string

const (
	FieldAddress Field = "address"
	FieldPrice   Field = "price"
	FieldBeds    Field = "beds"
	FieldBaths   Field = "baths"
	FieldSqft    Field = "sqft"
	FieldMLSID   Field = "mlsId"
)

// Fields is the order fields are extracted in.
var Fields = []Field{FieldAddress, FieldPrice, FieldBeds, FieldBaths, FieldSqft, FieldMLSID}

var (
	priceRe   = regexp.MustCompile(`\$?\s*(\d[\d,]*)`)
	numberRe  = regexp.MustCompile(`\d+(?:\.\d+)?`)
	digitsRe  = regexp.MustCompile(`\d[\d,]*`)
	mlsPrefix = regexp.MustCompile(`(?i)^(?:mls|listing)\s*(?:id|number|no\.?|#)?\s*[#:]?\s*`)
	mlsToken  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]{3,}$`)

	// full-text fallbacks
	textPriceRe = regexp.MustCompile(`\$\s?(\d[\d,]*)`)
	textBedsRe  = regexp.MustCompile(`(?i)\b(\d+)\s*(?:bed(?:room)?s?|bds?|brs?)\b`)
	textBathsRe = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*(?:bath(?:room)?s?|ba)\b`)
	textSqftRe  = regexp.MustCompile(`(?i)\b(\d[\d,]*)\s*(?:sq\.?\s*ft\.?|sqft|square\s+feet)`)
	textMLSRe   = regexp.MustCompile(`(?i)\bMLS\s*(?:#|id|number)?\s*:?\s*#?\s*([A-Za-z0-9][A-Za-z0-9-]{3,})`)
)

// textFallbacks are scanned over the visible body text for fields no
// selector filled.
var textFallbacks = []struct {
	field Field
	re    *regexp.Regexp
}{
	{FieldPrice, textPriceRe},
	{FieldBeds, textBedsRe},
	{FieldBaths, textBathsRe},
	{FieldSqft, textSqftRe},
	{FieldMLSID, textMLSRe},
}

// normalize returns the canonical value of raw for field f, or "" when raw
// does not pass the field's validator.
func (r Rules) normalize(f Field, raw string) string {
	raw = collapseSpace(raw)
	if raw == "" {
		return ""
	}
	switch f {
	case FieldAddress:
		if r.validAddress(raw) {
			return raw
		}
	case FieldPrice:
		return normalizePrice(raw)
	case FieldBeds, FieldBaths:
		return numberRe.FindString(raw)
	case FieldSqft:
		return stripCommas(digitsRe.FindString(raw))
	case FieldMLSID:
		return normalizeMLS(raw)
	}
	return ""
}

// normalizePrice keeps the digits of the first currency amount; cents are
// dropped.
func normalizePrice(s string) string {
	m := priceRe.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	d := stripCommas(m[1])
	if strings.Trim(d, "0") == "" {
		return ""
	}
	return d
}

func normalizeMLS(s string) string {
	s = strings.TrimSpace(mlsPrefix.ReplaceAllString(strings.TrimSpace(s), ""))
	if i := strings.IndexFunc(s, unicode.IsSpace); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimRight(s, ".,;")
	if !mlsToken.MatchString(s) {
		return ""
	}
	return s
}

func (r Rules) validAddress(s string) bool {
	if len(s) < r.MinAddressLength {
		return false
	}
	return !r.isBoilerplate(s)
}

// isBoilerplate reports whether s starts with a boilerplate phrase as a
// whole word ("Home - Realty" matches "home", "Homestead Rd" does not).
func (r Rules) isBoilerplate(s string) bool {
	lower := strings.ToLower(strings.TrimSpace(s))
	for _, p := range r.Boilerplate {
		p = strings.ToLower(p)
		if !strings.HasPrefix(lower, p) {
			continue
		}
		rest := lower[len(p):]
		if rest == "" {
			return true
		}
		next := []rune(rest)[0]
		if !unicode.IsLetter(next) && !unicode.IsDigit(next) {
			return true
		}
	}
	return false
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func stripCommas(s string) string {
	return strings.ReplaceAll(s, ",", "")
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(s, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
