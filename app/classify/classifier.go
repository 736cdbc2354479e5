package classify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lysyi3m/family-comb/app/listing"
)

// Disallow patterns are evaluated before allow patterns. A single disallow
// match decides the result regardless of any family vocabulary in the text.
var DefaultDisallowPatterns = []string{
	`\b(18|19|21)\s*\+`,
	`\b(18|19|21)\s*(and|&)\s*(over|up|older)\b`,
	`\bages?\s*(18|19|21)\s*(and|&|\+)`,
	`\bmust\s+be\s+(18|19|21)\b`,
	`\badults?[\s-]+only\b`,
	`\bno\s+(kids|children|minors)\b`,
	`\b(kids|children|minors)\s+(are\s+)?not\s+(allowed|permitted|admitted)\b`,
	`\bmature\s+audiences?\b`,
	`\bbar\s+crawl\b`,
	`\bpub\s+crawl\b`,
	`\b(wine|beer|whiskey|bourbon|spirits)\s+(tasting|fest(ival)?|pairing)\b`,
	`\bhappy\s+hour\b`,
	`\bburlesque\b`,
	`\bnightclub\b`,
	`\bbottomless\s+mimosas?\b`,
}

var DefaultAllowPatterns = []string{
	`\bfamil(y|ies)\b`,
	`\bkids?\b`,
	`\bchild(ren)?('s)?\b`,
	`\ball[\s-]+ages\b`,
	`\byouth\b`,
	`\btoddlers?\b`,
	`\bpreschool(ers)?\b`,
	`\bbab(y|ies)\b`,
	`\bstory\s*time\b`,
	`\b(tweens?|teens?)\b`,
	`\bages?\s*\d{1,2}\s*(-|–|to)\s*\d{1,2}\b`,
	`\bparents?\b`,
	`\bpuppet`,
	`\bplayground\b`,
	`\bpetting\s+zoo\b`,
}

type Classifier struct {
	disallow []*regexp.Regexp
	allow    []*regexp.Regexp
}

func New() *Classifier {
	c, err := NewWithPatterns(DefaultDisallowPatterns, DefaultAllowPatterns)
	if err != nil {
		panic(err)
	}
	return c
}

func NewWithPatterns(disallow, allow []string) (*Classifier, error) {
	d, err := compileAll(disallow)
	if err != nil {
		return nil, fmt.Errorf("failed to compile disallow patterns: %w", err)
	}
	a, err := compileAll(allow)
	if err != nil {
		return nil, fmt.Errorf("failed to compile allow patterns: %w", err)
	}
	return &Classifier{disallow: d, allow: a}, nil
}

// Classify joins the given free-text fields and returns the tri-state
// kid-allowed signal.
func (c *Classifier) Classify(texts ...string) listing.KidAllowed {
	result, _ := c.Explain(texts...)
	return result
}

// Explain is Classify plus the pattern that decided the outcome, empty when
// the result is unknown.
func (c *Classifier) Explain(texts ...string) (listing.KidAllowed, string) {
	text := strings.ToLower(strings.Join(texts, " \n "))

	for _, re := range c.disallow {
		if re.MatchString(text) {
			return listing.KidAllowedFalse, re.String()
		}
	}
	for _, re := range c.allow {
		if re.MatchString(text) {
			return listing.KidAllowedTrue, re.String()
		}
	}
	return listing.KidAllowedUnknown, ""
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}
