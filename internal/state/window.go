package state

import "time"

// ResetBoundary returns the most recent instant at or before now where the
// local clock in loc reads hour:00. A nil loc means UTC.
func ResetBoundary(now time.Time, hour int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	b := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
	if b.After(local) {
		b = time.Date(local.Year(), local.Month(), local.Day()-1, hour, 0, 0, 0, loc)
	}
	return b
}

// NextReset returns the first boundary strictly after now.
func NextReset(now time.Time, hour int, loc *time.Location) time.Time {
	b := ResetBoundary(now, hour, loc)
	return time.Date(b.Year(), b.Month(), b.Day()+1, hour, 0, 0, 0, b.Location())
}

// WaterToday counts progress events in the reset window containing now.
func (s *State) WaterToday(now time.Time, loc *time.Location) int {
	since := ResetBoundary(now, s.rules.WaterResetHour, loc)
	return s.WaterUsed(since, NextReset(now, s.rules.WaterResetHour, loc))
}
