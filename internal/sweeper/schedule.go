package sweeper

import (
	"fmt"
	"time"
)

// Schedule fires once a day at Hour:00 in Location
type Schedule struct {
	Hour     int
	Location *time.Location
}

// NewSchedule loads the named IANA zone
func NewSchedule(hour int, zone string) (Schedule, error) {
	if hour < 0 || hour > 23 {
		return Schedule{}, fmt.Errorf("sweep hour %d out of range", hour)
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return Schedule{}, fmt.Errorf("load sweep timezone %q: %w", zone, err)
	}
	return Schedule{Hour: hour, Location: loc}, nil
}

// Next returns the first run time strictly after t
func (s Schedule) Next(t time.Time) time.Time {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.Hour, 0, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, s.Hour, 0, 0, 0, loc)
	}
	return next
}
