package search

import (
	"fmt"
	"time"
)

const (
	RangeToday     = "today"
	RangeWeekend   = "weekend"
	RangeNext7Days = "next-7-days"
	RangeAll       = "all"
)

// Window is a half-open [From, To) interval. A nil To is unbounded.
type Window struct {
	From time.Time
	To   *time.Time
}

// ResolveWindow turns explicit bounds or a range token into a Window
// evaluated in loc. Explicit bounds win over the token.
func ResolveWindow(start, end *time.Time, token string, now time.Time, loc *time.Location) (Window, error) {
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	if start != nil || end != nil {
		w := Window{From: today.UTC()}
		if start != nil {
			w.From = start.UTC()
		}
		if end != nil {
			to := end.UTC()
			if !to.After(w.From) {
				return Window{}, fmt.Errorf("%w: end must be after start", ErrInvalidRequest)
			}
			w.To = &to
		}
		return w, nil
	}

	switch token {
	case "", RangeAll:
		return Window{From: today.UTC()}, nil
	case RangeToday:
		return bounded(today, today.AddDate(0, 0, 1)), nil
	case RangeNext7Days:
		return bounded(today, today.AddDate(0, 0, 7)), nil
	case RangeWeekend:
		from := today
		switch local.Weekday() {
		case time.Saturday, time.Sunday:
		default:
			from = today.AddDate(0, 0, int(time.Saturday-local.Weekday()))
		}
		daysToMonday := (int(time.Monday) - int(from.Weekday()) + 7) % 7
		return bounded(from, from.AddDate(0, 0, daysToMonday)), nil
	}
	return Window{}, fmt.Errorf("%w: unknown range %q", ErrInvalidRequest, token)
}

func bounded(from, to time.Time) Window {
	t := to.UTC()
	return Window{From: from.UTC(), To: &t}
}
