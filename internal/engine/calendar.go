package engine

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"breakout_go/internal/domain"
)

const dateLayout = "2006-01-02"

// Calendar knows which days are trading sessions and when the daily cycle fires.
type Calendar struct {
	loc      *time.Location
	openHour int
	openMin  int
	offset   time.Duration
	holidays map[string]bool
}

// NewCalendar builds a weekday calendar. open is "HH:MM" in tz.
func NewCalendar(tz, open string, offset time.Duration, holidays []string) (*Calendar, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, &domain.ConfigError{Field: "schedule.timezone", Err: err}
	}
	t, err := time.Parse("15:04", open)
	if err != nil {
		return nil, &domain.ConfigError{Field: "schedule.market_open", Err: err}
	}
	if offset < 0 {
		return nil, &domain.ConfigError{Field: "schedule.offset", Err: fmt.Errorf("negative offset %s", offset)}
	}

	days := make(map[string]bool, len(holidays))
	for _, h := range holidays {
		if _, err := time.Parse(dateLayout, h); err != nil {
			return nil, &domain.ConfigError{Field: "schedule.holidays", Err: err}
		}
		days[h] = true
	}

	return &Calendar{
		loc:      loc,
		openHour: t.Hour(),
		openMin:  t.Minute(),
		offset:   offset,
		holidays: days,
	}, nil
}

// IsSession reports whether the calendar day of t (in the exchange timezone) trades.
func (c *Calendar) IsSession(t time.Time) bool {
	local := t.In(c.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.holidays[local.Format(dateLayout)]
}

// FireTime returns the cycle time on the calendar day of t.
func (c *Calendar) FireTime(t time.Time) time.Time {
	local := t.In(c.loc)
	open := time.Date(local.Year(), local.Month(), local.Day(), c.openHour, c.openMin, 0, 0, c.loc)
	return open.Add(c.offset)
}

// Next returns the first fire time strictly after t.
func (c *Calendar) Next(t time.Time) time.Time {
	day := t.In(c.loc)
	// A year of consecutive non-sessions would be a misconfigured holiday list.
	for i := 0; i < 366; i++ {
		if c.IsSession(day) {
			if fire := c.FireTime(day); fire.After(t) {
				return fire
			}
		}
		y, m, dd := day.Date()
		day = time.Date(y, m, dd+1, 12, 0, 0, 0, c.loc)
	}
	return time.Time{}
}
