package model

import (
	"fmt"

	"github.com/schedai/schedai/services/scheduling-service/internal/timewindow"
)

// AvailabilityRule describes the bookable hours of one weekday.
// DayOfWeek runs from 0 (Monday) to 6 (Sunday).
type AvailabilityRule struct {
	DayOfWeek     int    `json:"day_of_week"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	BufferMinutes int    `json:"buffer_minutes"`
	IsBookable    bool   `json:"is_bookable"`
}

// Clocks parses and validates the rule. Errors wrap ErrInvalidRule.
func (r AvailabilityRule) Clocks() (start, end timewindow.Clock, err error) {
	if r.DayOfWeek < 0 || r.DayOfWeek > 6 {
		return start, end, fmt.Errorf("%w: day_of_week %d out of range 0..6", ErrInvalidRule, r.DayOfWeek)
	}
	if r.BufferMinutes < 0 {
		return start, end, fmt.Errorf("%w: negative buffer_minutes %d", ErrInvalidRule, r.BufferMinutes)
	}
	if start, err = timewindow.ParseClock(r.StartTime); err != nil {
		return start, end, fmt.Errorf("%w: start_time: %v", ErrInvalidRule, err)
	}
	if end, err = timewindow.ParseClock(r.EndTime); err != nil {
		return start, end, fmt.Errorf("%w: end_time: %v", ErrInvalidRule, err)
	}
	if !start.Before(end) {
		return start, end, fmt.Errorf("%w: start_time %s is not before end_time %s (day %d)", ErrInvalidRule, r.StartTime, r.EndTime, r.DayOfWeek)
	}
	return start, end, nil
}

func (r AvailabilityRule) Validate() error {
	_, _, err := r.Clocks()
	return err
}
