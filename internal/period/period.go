// Package period buckets timestamps into fixed calendar quarters.
//
// Every rating round is scoped to one quarter of one year. Components that
// need "the current period" take a single Info snapshot so that all queries
// issued for one request agree on it.
package period

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrInvalidPeriod = errors.New("invalid period")

// Period is one of the four calendar quarters. The ordinal mapping is
// explicit and part of the storage contract; never reorder.
type Period int

const (
	Q1 Period = 1
	Q2 Period = 2
	Q3 Period = 3
	Q4 Period = 4
)

func (p Period) Valid() bool {
	return p >= Q1 && p <= Q4
}

func (p Period) String() string {
	if !p.Valid() {
		return fmt.Sprintf("Period(%d)", int(p))
	}
	return fmt.Sprintf("Q%d", int(p))
}

func Parse(s string) (Period, error) {
	switch s {
	case "Q1":
		return Q1, nil
	case "Q2":
		return Q2, nil
	case "Q3":
		return Q3, nil
	case "Q4":
		return Q4, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
}

func (p Period) MarshalJSON() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPeriod, int(p))
	}
	return json.Marshal(p.String())
}

func (p *Period) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Of maps a timestamp to the quarter containing it.
func Of(t time.Time) Period {
	switch m := t.Month(); {
	case m <= time.March:
		return Q1
	case m <= time.June:
		return Q2
	case m <= time.September:
		return Q3
	default:
		return Q4
	}
}

// firstMonth returns the first calendar month of the quarter.
func (p Period) firstMonth() time.Month {
	return time.Month((int(p)-1)*3 + 1)
}

// Range is the half-open time window [Start, End) covered by one quarter of
// one year. End is the first instant of the following quarter, so Q4 rolls
// into January 1 of the next year.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// LastDay is the last calendar day inside the range, midnight UTC. For Q4 of
// year Y this is December 31 of Y, not of Y+1.
func (r Range) LastDay() time.Time {
	return r.End.AddDate(0, 0, -1)
}

// DateRange computes the window for a quarter of a year. The error branch is
// defensive; it only fires for an ordinal outside Q1..Q4.
func DateRange(p Period, year int) (Range, error) {
	if !p.Valid() {
		return Range{}, fmt.Errorf("%w: %d", ErrInvalidPeriod, int(p))
	}

	start := time.Date(year, p.firstMonth(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 3, 0)

	return Range{Start: start, End: end}, nil
}

// Info is a consistent snapshot of "the current period". All period-scoped
// queries issued while serving one request must share one Info.
type Info struct {
	Year   int
	Period Period
	Range  Range
}

// Key renders the period bucket as "YYYY-Qn", the form stored on the
// notification ledger's unique index.
func (i Info) Key() string {
	return fmt.Sprintf("%04d-%s", i.Year, i.Period)
}

func Current(now time.Time) Info {
	now = now.UTC()
	p := Of(now)
	r, _ := DateRange(p, now.Year())
	return Info{Year: now.Year(), Period: p, Range: r}
}
