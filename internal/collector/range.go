package collector

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// ErrInvalidRange is returned by ParseRange for an unrecognized expression.
var ErrInvalidRange = errors.New("invalid date range")

// RangeSelector picks the calendar days a run covers, relative to today in
// the collection zone.
type RangeSelector interface {
	Dates(today civil.Date) []civil.Date
	String() string
}

// Today selects the current day.
type Today struct{}

func (Today) Dates(today civil.Date) []civil.Date { return []civil.Date{today} }
func (Today) String() string                      { return "today" }

// DaysAgo selects the single day N days before today. DaysAgo(1) is yesterday.
type DaysAgo int

func (n DaysAgo) Dates(today civil.Date) []civil.Date {
	return []civil.Date{today.AddDays(-int(n))}
}

func (n DaysAgo) String() string {
	if n == 1 {
		return "yesterday"
	}
	return fmt.Sprintf("days-ago:%d", int(n))
}

// LastNDays selects the N complete days before today, oldest first.
type LastNDays int

func (n LastNDays) Dates(today civil.Date) []civil.Date {
	out := make([]civil.Date, 0, int(n))
	for i := int(n); i >= 1; i-- {
		out = append(out, today.AddDays(-i))
	}
	return out
}

func (n LastNDays) String() string { return fmt.Sprintf("last:%d", int(n)) }

// Fixed selects every day from Start to End inclusive.
type Fixed struct {
	Start civil.Date
	End   civil.Date
}

func (f Fixed) Dates(civil.Date) []civil.Date {
	var out []civil.Date
	for d := f.Start; !d.After(f.End); d = d.AddDays(1) {
		out = append(out, d)
	}
	return out
}

func (f Fixed) String() string {
	if f.Start == f.End {
		return f.Start.String()
	}
	return f.Start.String() + ".." + f.End.String()
}

// maxFixedDays bounds a Fixed range accepted from outside input.
const maxFixedDays = 366

// ParseRange parses today, yesterday, days-ago:N, last:N, YYYY-MM-DD and
// YYYY-MM-DD..YYYY-MM-DD.
func ParseRange(s string) (RangeSelector, error) {
	s = strings.TrimSpace(strings.ToLower(s))

	switch {
	case s == "" || s == "today":
		return Today{}, nil
	case s == "yesterday":
		return DaysAgo(1), nil
	case strings.HasPrefix(s, "days-ago:"):
		n, err := positive(strings.TrimPrefix(s, "days-ago:"))
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRange, s, err)
		}
		return DaysAgo(n), nil
	case strings.HasPrefix(s, "last:"):
		n, err := positive(strings.TrimPrefix(s, "last:"))
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRange, s, err)
		}
		if n > maxFixedDays {
			return nil, fmt.Errorf("%w: %q: more than %d days", ErrInvalidRange, s, maxFixedDays)
		}
		return LastNDays(n), nil
	}

	startText, endText, isSpan := strings.Cut(s, "..")
	if !isSpan {
		endText = startText
	}

	start, err := civil.ParseDate(startText)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRange, s)
	}
	end, err := civil.ParseDate(endText)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRange, s)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: %q: end before start", ErrInvalidRange, s)
	}
	if end.DaysSince(start) >= maxFixedDays {
		return nil, fmt.Errorf("%w: %q: more than %d days", ErrInvalidRange, s, maxFixedDays)
	}
	return Fixed{Start: start, End: end}, nil
}

func positive(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, errors.New("must be at least 1")
	}
	return n, nil
}

// DayBounds returns local midnight of date and of the following day.
func DayBounds(date civil.Date, loc *time.Location) (time.Time, time.Time) {
	return date.In(loc), date.AddDays(1).In(loc)
}
