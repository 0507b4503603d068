package service

import "time"

// PurposeMode is the time-of-day driven behavior flavor picked by the
// attention engine (§4.13), grounded on the original's circadian.py.
type PurposeMode string

const (
	PurposeMorningBriefing  PurposeMode = "morning_briefing"
	PurposeEveningSummary   PurposeMode = "evening_summary"
	PurposeWeeklyLookAhead  PurposeMode = "weekly_look_ahead"
	PurposeCuriosityScan    PurposeMode = "curiosity_scan"
)

const (
	wakingHourStart = 7
	wakingHourEnd   = 21
)

// IsWakingHours reports whether now (in the user's configured TZ) falls
// within 07:00-21:00.
func IsWakingHours(now time.Time) bool {
	h := now.Hour()
	return h >= wakingHourStart && h < wakingHourEnd
}

// PickPurposeMode selects a purpose mode from the time of day: Monday
// mornings get the weekly look-ahead, other mornings a briefing, evenings
// a summary, and the midday stretch a curiosity scan.
func PickPurposeMode(now time.Time) PurposeMode {
	h := now.Hour()
	switch {
	case now.Weekday() == time.Monday && h < 10:
		return PurposeWeeklyLookAhead
	case h < 11:
		return PurposeMorningBriefing
	case h >= 18:
		return PurposeEveningSummary
	default:
		return PurposeCuriosityScan
	}
}

// HourBucket classifies an hour into the pattern detector's fixed buckets
// (§4.14).
func HourBucket(hour int) string {
	switch {
	case hour >= 5 && hour < 11:
		return "morning"
	case hour >= 11 && hour < 14:
		return "midday"
	case hour >= 14 && hour < 18:
		return "afternoon"
	case hour >= 18 && hour < 22:
		return "evening"
	default:
		return "night"
	}
}
