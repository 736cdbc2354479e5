package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/lysyi3m/family-comb/app/listing"
)

var (
	lineBreakRe = regexp.MustCompile(`(?i)<br\s*/?>`)
	blockEndRe  = regexp.MustCompile(`(?i)</(p|div|li|h[1-6]|tr)>`)
)

// HTMLToText reduces an HTML fragment to plain text with one line per block.
func HTMLToText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return collapseWhitespace(s)
	}

	s = lineBreakRe.ReplaceAllString(s, "\n")
	s = blockEndRe.ReplaceAllString(s, "$0\n")

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return collapseWhitespace(s)
	}
	doc.Find("script, style").Remove()

	return collapseWhitespace(doc.Text())
}

func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// NormalizeTags trims, lower-cases and de-duplicates tags, keeping first-seen order.
func NormalizeTags(tags ...string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.Join(strings.Fields(tag), " "))
		if tag == "" || tag == "undefined" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

var (
	agesRangeRe = regexp.MustCompile(`(?i)\bages?\s*(\d{1,2})\s*(?:-|–|to)\s*(\d{1,2})\b`)
	agesPlusRe  = regexp.MustCompile(`(?i)\bages?\s*(\d{1,2})\s*(?:\+|and up|and older)`)
	toddlerRe   = regexp.MustCompile(`(?i)\b(toddlers?|bab(y|ies)|infants?|lapsit)\b`)
	preschoolRe = regexp.MustCompile(`(?i)\b(preschool(ers)?|pre-k)\b`)
	teenRe      = regexp.MustCompile(`(?i)\b(teens?|tweens?)\b`)
	allAgesRe   = regexp.MustCompile(`(?i)\b(all[\s-]+ages|famil(y|ies))\b`)
	kidsRe      = regexp.MustCompile(`(?i)\b(kids?|child(ren)?)\b`)
)

// AgeBand derives a coarse audience label. A disallowed listing is always adults.
func AgeBand(kid listing.KidAllowed, texts ...string) string {
	if kid == listing.KidAllowedFalse {
		return listing.AgeBandAdults
	}
	text := strings.Join(texts, " ")

	if m := agesRangeRe.FindStringSubmatch(text); m != nil {
		lo, _ := strconv.Atoi(m[1])
		hi, _ := strconv.Atoi(m[2])
		switch {
		case hi <= 3:
			return listing.AgeBandToddler
		case hi <= 5:
			return listing.AgeBandPreschool
		case lo >= 13:
			return listing.AgeBandTeens
		case hi <= 12:
			return listing.AgeBandKids
		default:
			return listing.AgeBandAllAges
		}
	}
	if m := agesPlusRe.FindStringSubmatch(text); m != nil {
		lo, _ := strconv.Atoi(m[1])
		switch {
		case lo >= 18:
			return listing.AgeBandAdults
		case lo >= 13:
			return listing.AgeBandTeens
		default:
			return listing.AgeBandAllAges
		}
	}

	switch {
	case toddlerRe.MatchString(text):
		return listing.AgeBandToddler
	case preschoolRe.MatchString(text):
		return listing.AgeBandPreschool
	case teenRe.MatchString(text):
		return listing.AgeBandTeens
	case allAgesRe.MatchString(text):
		return listing.AgeBandAllAges
	case kidsRe.MatchString(text):
		return listing.AgeBandKids
	}
	return listing.AgeBandUnknown
}

var (
	outdoorRe = regexp.MustCompile(`(?i)\b(outdoors?|park|trail|garden|beach|playground|farm|lake|river|hike|picnic|splash pad|field|waterfront|plaza)\b`)
	indoorRe  = regexp.MustCompile(`(?i)\b(indoors?|library|museum|theater|theatre|cinema|gym|studio|aquarium|community center|arena|hall|auditorium|mall)\b`)
)

// Setting derives indoor/outdoor from venue and description vocabulary. The
// venue text is checked first.
func Setting(venue string, texts ...string) string {
	for _, text := range append([]string{venue}, texts...) {
		outdoor := outdoorRe.MatchString(text)
		indoor := indoorRe.MatchString(text)
		switch {
		case outdoor && !indoor:
			return listing.SettingOutdoor
		case indoor && !outdoor:
			return listing.SettingIndoor
		}
	}
	return listing.SettingUnknown
}

var (
	priceRe = regexp.MustCompile(`\$\s?(\d{1,4}(?:\.\d{1,2})?)`)
	freeRe  = regexp.MustCompile(`(?i)(^free\b|\bfree (admission|entry|event|to attend|of charge|and open to)\b|\badmission( is)?:?\s*free\b|\bno (cost|charge)\b|\bis free\b)`)
)

// Pricing extracts a free flag and dollar price range from text. Every return
// value is nil when the text carries no pricing signal.
func Pricing(texts ...string) (isFree *bool, priceMin, priceMax *float64) {
	text := strings.Join(texts, " \n ")

	var prices []float64
	for _, m := range priceRe.FindAllStringSubmatch(text, -1) {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			prices = append(prices, v)
		}
	}
	if len(prices) > 0 {
		lo, hi := prices[0], prices[0]
		for _, p := range prices[1:] {
			lo = min(lo, p)
			hi = max(hi, p)
		}
		free := hi == 0
		return &free, &lo, &hi
	}

	if freeRe.MatchString(text) {
		free := true
		zero := 0.0
		return &free, &zero, &zero
	}
	return nil, nil, nil
}
