package ticks

import (
	"fmt"
	"time"
)

// marketCloseHour pins a calendar day to an instant: trading days are
// identified by their 16:00 local close.
const marketCloseHour = 16

// Period is a closed interval in Unix seconds over which ticks are requested.
// Build one through the constructors; the bounds never change afterwards.
type Period struct {
	start int64
	end   int64
}

// NewPeriod builds a Period from raw epoch-second bounds. start must not be
// after end and must not be in the future.
func NewPeriod(start, end int64) (Period, error) {
	if start > end {
		return Period{}, fmt.Errorf("period start %d after end %d", start, end)
	}
	if now := time.Now().Unix(); start > now {
		return Period{}, fmt.Errorf("period start %d is in the future", start)
	}
	return Period{start: start, end: end}, nil
}

// PeriodLast covers the most recent d, ending now.
func PeriodLast(d time.Duration) Period {
	if d < 0 {
		d = 0
	}
	end := time.Now()
	return Period{start: end.Add(-d).Unix(), end: end.Unix()}
}

// PeriodBetweenDates covers the market-close instants of two calendar days in
// the named IANA zone. Only the year, month and day of start and end are
// used; the hour is always the local close.
func PeriodBetweenDates(start, end time.Time, zone string) (Period, error) {
	from, err := CloseTime(start.Year(), start.Month(), start.Day(), zone)
	if err != nil {
		return Period{}, err
	}
	to, err := CloseTime(end.Year(), end.Month(), end.Day(), zone)
	if err != nil {
		return Period{}, err
	}
	return NewPeriod(from.Unix(), to.Unix())
}

// CloseTime returns the market close, 16:00 local, on the given calendar day
// in the named IANA zone.
func CloseTime(year int, month time.Month, day int, zone string) (time.Time, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return time.Time{}, fmt.Errorf("load zone %q: %w", zone, err)
	}
	return time.Date(year, month, day, marketCloseHour, 0, 0, 0, loc), nil
}

// Start returns the inclusive lower bound in Unix seconds.
func (p Period) Start() int64 { return p.start }

// End returns the inclusive upper bound in Unix seconds.
func (p Period) End() int64 { return p.end }
