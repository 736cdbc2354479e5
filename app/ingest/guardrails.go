package ingest

import (
	"regexp"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lysyi3m/family-comb/app/listing"
)

const DefaultWindowDays = 120

var holidayPattern = regexp.MustCompile(`(?i)\b(` +
	`new year'?s (day|eve)|` +
	`(martin luther king|mlk)( jr\.?)? day|` +
	`presidents'? day|` +
	`memorial day|` +
	`juneteenth|` +
	`independence day|` +
	`(fourth|4th) of july|` +
	`labor day|` +
	`columbus day|` +
	`indigenous peoples'? day|` +
	`veterans'? day|` +
	`thanksgiving|` +
	`christmas (day|eve)|` +
	`valentine'?s day|` +
	`st\.? patrick'?s day|` +
	`mother'?s day|` +
	`father'?s day)\b`)

// Guardrails drops events that would pollute search results. Each check
// returns a skip reason, or "" when the event passes.
type Guardrails struct {
	clock      clockwork.Clock
	windowDays int
}

func NewGuardrails(clock clockwork.Clock, windowDays int) *Guardrails {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	return &Guardrails{clock: clock, windowDays: windowDays}
}

func (g *Guardrails) Check(ev *listing.Event) string {
	if !g.inWindow(ev) {
		return ReasonOutsideWindow
	}
	if IsGenericHoliday(ev) {
		return ReasonGenericHoliday
	}
	if !ev.HasLocality() {
		return ReasonNoLocality
	}
	return ""
}

// inWindow accepts events starting between a day ago and windowDays ahead.
// Multi-day events that started earlier but are still running stay in.
func (g *Guardrails) inWindow(ev *listing.Event) bool {
	now := g.clock.Now()
	lower := now.Add(-24 * time.Hour)
	upper := now.AddDate(0, 0, g.windowDays)

	if ev.StartAt.After(upper) {
		return false
	}
	if ev.StartAt.Before(lower) {
		return ev.EndAt != nil && ev.EndAt.After(lower)
	}
	return true
}

// IsGenericHoliday reports whether ev is a holiday placeholder: its title names
// a US holiday and it has neither a venue nor an address.
func IsGenericHoliday(ev *listing.Event) bool {
	if ev.VenueName != "" || ev.Address != "" {
		return false
	}
	return holidayPattern.MatchString(ev.Title)
}
