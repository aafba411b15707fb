// Package markethours tracks US equity trading sessions. All boundaries
// are evaluated in Eastern Time against an embedded NYSE calendar.
package markethours

import (
	_ "embed"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed calendar.yaml
var calendarYAML []byte

// Session labels one slice of the trading day.
type Session string

const (
	SessionClosed     Session = "closed"
	SessionPreMarket  Session = "pre_market"
	SessionRegular    Session = "regular"
	SessionAfterHours Session = "after_hours"
	SessionWeekend    Session = "weekend"
	SessionHoliday    Session = "holiday"
)

type calendar struct {
	Holidays    map[string]string `yaml:"holidays"`
	EarlyCloses []string          `yaml:"early_closes"`
}

// Clock answers session questions for a market calendar.
type Clock struct {
	loc         *time.Location
	holidays    map[string]string
	earlyCloses map[string]bool
}

// New loads the Eastern timezone and the embedded calendar.
func New() (*Clock, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("failed to load market timezone: %w", err)
	}

	var cal calendar
	if err := yaml.Unmarshal(calendarYAML, &cal); err != nil {
		return nil, fmt.Errorf("failed to parse market calendar: %w", err)
	}

	early := make(map[string]bool, len(cal.EarlyCloses))
	for _, d := range cal.EarlyCloses {
		early[d] = true
	}

	return &Clock{loc: loc, holidays: cal.Holidays, earlyCloses: early}, nil
}

// Eastern converts a time into the market timezone.
func (c *Clock) Eastern(t time.Time) time.Time {
	return t.In(c.loc)
}

func (c *Clock) dateKey(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}

// IsHoliday reports whether the given day is a full market holiday.
func (c *Clock) IsHoliday(t time.Time) bool {
	_, ok := c.holidays[c.dateKey(t)]
	return ok
}

// IsEarlyClose reports whether the given day closes at 13:00 ET.
func (c *Clock) IsEarlyClose(t time.Time) bool {
	return c.earlyCloses[c.dateKey(t)]
}

// CloseTime returns the regular-session close for the given day in ET.
func (c *Clock) CloseTime(t time.Time) time.Time {
	et := t.In(c.loc)
	hour := 16
	if c.IsEarlyClose(et) {
		hour = 13
	}
	return time.Date(et.Year(), et.Month(), et.Day(), hour, 0, 0, 0, c.loc)
}

// SessionAt classifies the instant into a trading session.
func (c *Clock) SessionAt(t time.Time) Session {
	et := t.In(c.loc)

	switch et.Weekday() {
	case time.Saturday, time.Sunday:
		return SessionWeekend
	}
	if c.IsHoliday(et) {
		return SessionHoliday
	}

	day := time.Date(et.Year(), et.Month(), et.Day(), 0, 0, 0, 0, c.loc)
	preOpen := day.Add(4 * time.Hour)
	open := day.Add(9*time.Hour + 30*time.Minute)
	close := c.CloseTime(et)
	afterEnd := day.Add(20 * time.Hour)

	switch {
	case et.Before(preOpen):
		return SessionClosed
	case et.Before(open):
		return SessionPreMarket
	case et.Before(close):
		return SessionRegular
	case et.Before(afterEnd):
		return SessionAfterHours
	default:
		return SessionClosed
	}
}

// IsOpen reports whether the regular equity session is trading.
func (c *Clock) IsOpen(t time.Time) bool {
	return c.SessionAt(t) == SessionRegular
}

// IsOptionsOpen reports whether listed options are trading. Options only
// trade the regular session.
func (c *Clock) IsOptionsOpen(t time.Time) bool {
	return c.SessionAt(t) == SessionRegular
}

// isTradingDay reports whether the market opens at all on the given day.
func (c *Clock) isTradingDay(t time.Time) bool {
	et := t.In(c.loc)
	if et.Weekday() == time.Saturday || et.Weekday() == time.Sunday {
		return false
	}
	return !c.IsHoliday(et)
}

// NextOpen returns the next 09:30 ET regular-session open at or after t.
func (c *Clock) NextOpen(t time.Time) time.Time {
	et := t.In(c.loc)
	day := time.Date(et.Year(), et.Month(), et.Day(), 0, 0, 0, 0, c.loc)

	for i := 0; i < 14; i++ {
		candidate := day.AddDate(0, 0, i)
		open := candidate.Add(9*time.Hour + 30*time.Minute)
		if c.isTradingDay(candidate) && open.After(et) {
			return open
		}
	}
	// The calendar never has two closed weeks in a row.
	return day.AddDate(0, 0, 14).Add(9*time.Hour + 30*time.Minute)
}

// Status summarises the market state for the API.
func (c *Clock) Status(t time.Time) map[string]any {
	et := t.In(c.loc)
	session := c.SessionAt(t)

	status := map[string]any{
		"session":         string(session),
		"is_open":         session == SessionRegular,
		"is_options_open": session == SessionRegular,
		"time_et":         et.Format(time.RFC3339),
		"next_open_et":    c.NextOpen(t).Format(time.RFC3339),
	}
	if name, ok := c.holidays[c.dateKey(et)]; ok {
		status["holiday"] = name
	}
	if c.IsEarlyClose(et) {
		status["early_close"] = true
	}
	return status
}
