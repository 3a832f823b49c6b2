package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock is a wall-clock time of day in minutes after midnight. The facility
// runs on a single local timezone, so no zone is attached.
type Clock int

const MinutesPerDay Clock = 24 * 60

var errInvalidClock = errors.New("time must be HH:MM (24h)")

// ParseClock accepts "HH:MM" (or "H:MM"); "24:00" is allowed as an end of day marker.
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(mm) != 2 || len(hh) == 0 || len(hh) > 2 {
		return 0, errInvalidClock
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, errInvalidClock
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return 0, errInvalidClock
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, errInvalidClock
	}
	return Clock(h*60 + m), nil
}

func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(fmt.Sprintf("model: %q: %v", s, err))
	}
	return c
}

func (c Clock) Add(minutes int) Clock { return c + Clock(minutes) }

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Date is a naive calendar day.
type Date struct {
	t time.Time
}

const dateLayout = "2006-01-02"

// ParseDate accepts YYYY-MM-DD. A full ISO timestamp is reduced to its date part
// without any timezone conversion.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(dateLayout) && s[len(dateLayout)] == 'T' {
		s = s[:len(dateLayout)]
	}
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return Date{}, fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	return Date{t: t}, nil
}

func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(fmt.Sprintf("model: %q: %v", s, err))
	}
	return d
}

// DateOf keeps only the calendar fields of t.
func DateOf(t time.Time) Date {
	return Date{t: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

func (d Date) IsZero() bool      { return d.t.IsZero() }
func (d Date) Time() time.Time   { return d.t }
func (d Date) String() string    { return d.t.Format(dateLayout) }
func (d Date) Equal(o Date) bool { return d.t.Equal(o.t) }
func (d Date) AddDays(n int) Date {
	return Date{t: d.t.AddDate(0, 0, n)}
}

func (d Date) Weekday() Weekday {
	return Weekday(strings.ToLower(d.t.Weekday().String()))
}

// Weekday is a lowercase English day name.
type Weekday string

const (
	Monday    Weekday = "monday"
	Tuesday   Weekday = "tuesday"
	Wednesday Weekday = "wednesday"
	Thursday  Weekday = "thursday"
	Friday    Weekday = "friday"
	Saturday  Weekday = "saturday"
	Sunday    Weekday = "sunday"
)

var Weekdays = []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

func ParseWeekday(s string) (Weekday, error) {
	w := Weekday(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Weekdays {
		if w == known {
			return w, nil
		}
	}
	return "", fmt.Errorf("unknown day of week %q", s)
}
