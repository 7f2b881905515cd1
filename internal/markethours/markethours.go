// Package markethours decides whether a trading session is open, so the
// watcher can skip cycles while no new bars can arrive.
package markethours

import (
	"fmt"
	"strings"
	"time"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// Config describes a weekly trading session. Open and Close are "HH:MM" in
// Timezone; a Close earlier than Open means the session runs past midnight.
type Config struct {
	Preset   string   `json:"preset" yaml:"preset"`     // "nse" fills every other field
	Timezone string   `json:"timezone" yaml:"timezone"` // IANA name, default UTC
	Open     string   `json:"open" yaml:"open"`
	Close    string   `json:"close" yaml:"close"`
	Weekdays []string `json:"weekdays" yaml:"weekdays"` // "Mon".."Sun", default Mon-Fri
	Holidays []string `json:"holidays" yaml:"holidays"` // "2006-01-02"
}

// Enabled reports whether any session was configured.
func (c Config) Enabled() bool {
	return c.Preset != "" || c.Open != "" || c.Close != ""
}

// Session is a parsed trading session.
type Session struct {
	loc      *time.Location
	open     int // minutes after midnight
	close    int
	weekdays map[time.Weekday]bool
	holidays map[string]bool
}

// NSE returns the NSE equity session: 9:15-15:30 IST, Mon-Fri, NSE holidays.
func NSE() *Session {
	s := &Session{
		loc:      IST,
		open:     9*60 + 15,
		close:    15*60 + 30,
		weekdays: weekdaySet(nil),
		holidays: make(map[string]bool, len(nseHolidays2026)),
	}
	for _, h := range nseHolidays2026 {
		s.holidays[dateKey(time.Date(2026, h.month, h.day, 0, 0, 0, 0, IST))] = true
	}
	return s
}

// New parses cfg.
func New(cfg Config) (*Session, error) {
	if strings.EqualFold(cfg.Preset, "nse") {
		return NSE(), nil
	}
	if cfg.Preset != "" {
		return nil, fmt.Errorf("markethours: unknown preset %q", cfg.Preset)
	}

	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("markethours: timezone: %w", err)
		}
		loc = l
	}
	open, err := parseHM(cfg.Open)
	if err != nil {
		return nil, fmt.Errorf("markethours: open: %w", err)
	}
	closeAt, err := parseHM(cfg.Close)
	if err != nil {
		return nil, fmt.Errorf("markethours: close: %w", err)
	}
	if open == closeAt {
		return nil, fmt.Errorf("markethours: open and close are both %s", cfg.Open)
	}

	s := &Session{loc: loc, open: open, close: closeAt, holidays: map[string]bool{}}
	if len(cfg.Weekdays) > 0 {
		s.weekdays = map[time.Weekday]bool{}
		for _, d := range cfg.Weekdays {
			name := strings.ToLower(strings.TrimSpace(d))
			if len(name) > 3 {
				name = name[:3]
			}
			wd, ok := weekdayNames[name]
			if !ok {
				return nil, fmt.Errorf("markethours: unknown weekday %q", d)
			}
			s.weekdays[wd] = true
		}
	} else {
		s.weekdays = weekdaySet(nil)
	}
	for _, h := range cfg.Holidays {
		d, err := time.ParseInLocation("2006-01-02", h, loc)
		if err != nil {
			return nil, fmt.Errorf("markethours: holiday %q: %w", h, err)
		}
		s.holidays[dateKey(d)] = true
	}
	return s, nil
}

// IsTradingDay returns true if t falls on a session weekday that is not a holiday.
func (s *Session) IsTradingDay(t time.Time) bool {
	lt := t.In(s.loc)
	return s.weekdays[lt.Weekday()] && !s.holidays[dateKey(lt)]
}

// IsOpen returns true if t falls within the session. For sessions that run
// past midnight the opening day decides.
func (s *Session) IsOpen(t time.Time) bool {
	lt := t.In(s.loc)
	hm := lt.Hour()*60 + lt.Minute()
	if s.open < s.close {
		return s.IsTradingDay(lt) && hm >= s.open && hm < s.close
	}
	if hm >= s.open {
		return s.IsTradingDay(lt)
	}
	return hm < s.close && s.IsTradingDay(lt.AddDate(0, 0, -1))
}

// NextOpen returns the next session open at or after t. If the session is
// open, it returns the next one after the current.
func (s *Session) NextOpen(t time.Time) time.Time {
	lt := t.In(s.loc)
	for i := 0; i < 15; i++ {
		d := lt.AddDate(0, 0, i)
		open := time.Date(d.Year(), d.Month(), d.Day(), s.open/60, s.open%60, 0, 0, s.loc)
		if open.After(lt) && s.IsTradingDay(open) {
			return open
		}
	}
	return time.Date(lt.Year(), lt.Month(), lt.Day()+1, s.open/60, s.open%60, 0, 0, s.loc)
}

// StatusString returns a human-readable market status.
func (s *Session) StatusString(t time.Time) string {
	if s.IsOpen(t) {
		return "Market Open"
	}
	next := s.NextOpen(t)
	lt := next.In(s.loc)
	return fmt.Sprintf("Market Closed, opens %s %s (%s)",
		lt.Weekday().String()[:3], lt.Format("15:04"), fmtDur(next.Sub(t)))
}

func parseHM(v string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

func weekdaySet(days []time.Weekday) map[time.Weekday]bool {
	if len(days) == 0 {
		days = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
	}
	m := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		m[d] = true
	}
	return m
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
