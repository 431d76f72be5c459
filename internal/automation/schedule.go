/*
Copyright 2026 Altaira Labs.

SPDX-License-Identifier: Apache-2.0

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package automation implements the automation scheduler: schedule
// specs (daily/weekly/monthly/annually, IANA timezone + local time +
// anchor fields), next-run resolution, and claim+materialize into the
// job fabric.
package automation

import (
	"errors"
	"fmt"
	"time"
)

// ScheduleType is one of the four supported recurrence shapes.
type ScheduleType string

const (
	ScheduleDaily    ScheduleType = "DAILY"
	ScheduleWeekly   ScheduleType = "WEEKLY"
	ScheduleMonthly  ScheduleType = "MONTHLY"
	ScheduleAnnually ScheduleType = "ANNUALLY"
)

// maxDSTForwardShift bounds how far next-run resolution will probe
// forward in minutes to escape a spring-forward gap where the local
// time never occurs on the candidate date.
const maxDSTForwardShift = 180 * time.Minute

// Spec is a validated automation schedule: a recurrence type, an IANA
// timezone, a local time of day in minutes since midnight, and the
// anchor fields that type requires.
type Spec struct {
	Type              ScheduleType
	TimeZone          string
	LocalTimeMinutes  int
	AnchorDayOfWeek   *int // 1 (Monday) .. 7 (Sunday)
	AnchorDayOfMonth  *int // 1..31, clamped to the target month's length
	AnchorMonth       *int // 1..12
}

// ParseLocalTimeHHMM parses a strict "HH:MM" 24-hour string into
// minutes since midnight, rejecting anything not exactly two digits
// per field.
func ParseLocalTimeHHMM(value string) (int, error) {
	if len(value) != 5 || value[2] != ':' {
		return 0, errors.New("local_time must be in HH:MM format")
	}
	hour, minute := 0, 0
	if _, err := fmt.Sscanf(value, "%02d:%02d", &hour, &minute); err != nil {
		return 0, errors.New("local_time must be in HH:MM format")
	}
	if hour > 23 || minute > 59 {
		return 0, errors.New("local_time must be between 00:00 and 23:59")
	}
	return hour*60 + minute, nil
}

// FormatLocalTimeHHMM renders minutes since midnight back to "HH:MM".
func FormatLocalTimeHHMM(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// IntervalSecondsHint returns an approximate period for scheduleType,
// used only to validate a user-supplied interval hint via
// robfig/cron.ParseStandard — not to drive scheduling itself.
func IntervalSecondsHint(scheduleType ScheduleType) int {
	switch scheduleType {
	case ScheduleDaily:
		return 86_400
	case ScheduleWeekly:
		return 604_800
	case ScheduleMonthly:
		return 2_629_746
	case ScheduleAnnually:
		return 31_556_952
	default:
		return 0
	}
}

// BuildSpec derives anchor fields from referenceUTC's local date in
// timeZone and returns a validated Spec.
func BuildSpec(scheduleType ScheduleType, timeZone string, localTimeMinutes int, referenceUTC time.Time) (Spec, error) {
	loc, err := time.LoadLocation(timeZone)
	if err != nil {
		return Spec{}, errors.New("time_zone is not a valid IANA timezone")
	}
	if localTimeMinutes < 0 || localTimeMinutes > 1439 {
		return Spec{}, errors.New("local_time must be between 00:00 and 23:59")
	}

	localDate := referenceUTC.In(loc)

	spec := Spec{
		Type:             scheduleType,
		TimeZone:         timeZone,
		LocalTimeMinutes: localTimeMinutes,
	}

	switch scheduleType {
	case ScheduleDaily:
	case ScheduleWeekly:
		day := isoWeekday(localDate.Weekday())
		spec.AnchorDayOfWeek = &day
	case ScheduleMonthly:
		day := localDate.Day()
		spec.AnchorDayOfMonth = &day
	case ScheduleAnnually:
		day := localDate.Day()
		month := int(localDate.Month())
		spec.AnchorDayOfMonth = &day
		spec.AnchorMonth = &month
	default:
		return Spec{}, fmt.Errorf("unknown schedule type %q", scheduleType)
	}

	if err := Validate(spec); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// isoWeekday maps time.Weekday (0=Sunday..6=Saturday) to the
// 1=Monday..7=Sunday numbering used by anchor_day_of_week.
func isoWeekday(w time.Weekday) int {
	if w == time.Sunday {
		return 7
	}
	return int(w)
}

// Validate checks that spec carries exactly the anchor fields its
// schedule type requires, and that all fields are in range.
func Validate(spec Spec) error {
	if _, err := time.LoadLocation(spec.TimeZone); err != nil {
		return errors.New("time_zone is not a valid IANA timezone")
	}
	if spec.LocalTimeMinutes < 0 || spec.LocalTimeMinutes > 1439 {
		return errors.New("local_time must be between 00:00 and 23:59")
	}

	switch spec.Type {
	case ScheduleDaily:
		if spec.AnchorDayOfWeek != nil || spec.AnchorDayOfMonth != nil || spec.AnchorMonth != nil {
			return errors.New("daily schedules must not include anchor fields")
		}
	case ScheduleWeekly:
		if spec.AnchorDayOfWeek == nil {
			return errors.New("weekly schedules require anchor_day_of_week")
		}
		if *spec.AnchorDayOfWeek < 1 || *spec.AnchorDayOfWeek > 7 {
			return errors.New("anchor_day_of_week must be between 1 and 7")
		}
		if spec.AnchorDayOfMonth != nil || spec.AnchorMonth != nil {
			return errors.New("weekly schedules must not include month/day-of-month anchors")
		}
	case ScheduleMonthly:
		if spec.AnchorDayOfMonth == nil {
			return errors.New("monthly schedules require anchor_day_of_month")
		}
		if *spec.AnchorDayOfMonth < 1 || *spec.AnchorDayOfMonth > 31 {
			return errors.New("anchor_day_of_month must be between 1 and 31")
		}
		if spec.AnchorDayOfWeek != nil || spec.AnchorMonth != nil {
			return errors.New("monthly schedules must not include weekly/annual anchors")
		}
	case ScheduleAnnually:
		if spec.AnchorDayOfMonth == nil {
			return errors.New("annual schedules require anchor_day_of_month")
		}
		if spec.AnchorMonth == nil {
			return errors.New("annual schedules require anchor_month")
		}
		if *spec.AnchorDayOfMonth < 1 || *spec.AnchorDayOfMonth > 31 {
			return errors.New("anchor_day_of_month must be between 1 and 31")
		}
		if *spec.AnchorMonth < 1 || *spec.AnchorMonth > 12 {
			return errors.New("anchor_month must be between 1 and 12")
		}
		if spec.AnchorDayOfWeek != nil {
			return errors.New("annual schedules must not include weekly anchors")
		}
	default:
		return fmt.Errorf("unknown schedule type %q", spec.Type)
	}
	return nil
}

// NextRunAfter resolves the next UTC instant strictly after
// referenceUTC at which spec's local time occurs, or an error if spec
// is invalid or no candidate could be resolved (e.g. an invalid
// timezone, which Validate should already have rejected).
//
// Matches against the local-time candidate are computed in up to four
// passes, advancing the cursor by a minute each time a candidate
// resolves to an instant at or before referenceUTC — this only
// happens around DST transitions where the naive local-time math picks
// a candidate that collapses backward once resolved to UTC.
func NextRunAfter(referenceUTC time.Time, spec Spec) (time.Time, error) {
	if err := Validate(spec); err != nil {
		return time.Time{}, err
	}
	loc, err := time.LoadLocation(spec.TimeZone)
	if err != nil {
		return time.Time{}, err
	}

	cursor := referenceUTC
	for i := 0; i < 4; i++ {
		localReference := cursor.In(loc)
		candidateLocal, ok := nextLocalCandidate(localReference, spec)
		if !ok {
			return time.Time{}, errors.New("could not resolve next local candidate")
		}
		candidateUTC, ok := resolveLocalToUTC(loc, candidateLocal)
		if !ok {
			return time.Time{}, errors.New("could not resolve local time to a UTC instant")
		}
		if candidateUTC.After(referenceUTC) {
			return candidateUTC, nil
		}
		cursor = cursor.Add(time.Minute)
	}
	return time.Time{}, errors.New("exhausted next-run resolution attempts")
}

// localClock is a timezone-naive (year, month, day, hour, minute)
// tuple, the Go stand-in for chrono's NaiveDateTime in this resolver.
type localClock struct {
	year, month, day, hour, minute int
}

func clockFromTime(t time.Time) localClock {
	return localClock{int(t.Year()), int(t.Month()), t.Day(), t.Hour(), t.Minute()}
}

func (c localClock) before(other localClock) bool {
	return c.compare(other) < 0
}

func (c localClock) compare(other localClock) int {
	switch {
	case c.year != other.year:
		return c.year - other.year
	case c.month != other.month:
		return c.month - other.month
	case c.day != other.day:
		return c.day - other.day
	case c.hour != other.hour:
		return c.hour - other.hour
	default:
		return c.minute - other.minute
	}
}

func nextLocalCandidate(localReference time.Time, spec Spec) (localClock, bool) {
	refClock := clockFromTime(localReference)
	hour, minute := spec.LocalTimeMinutes/60, spec.LocalTimeMinutes%60

	switch spec.Type {
	case ScheduleDaily:
		candidate := localClock{refClock.year, refClock.month, refClock.day, hour, minute}
		if candidate.compare(refClock) <= 0 {
			d := dateAdd(refClock.year, refClock.month, refClock.day, 1)
			candidate = localClock{d.year, d.month, d.day, hour, minute}
		}
		return candidate, true
	case ScheduleWeekly:
		if spec.AnchorDayOfWeek == nil {
			return localClock{}, false
		}
		targetDay := *spec.AnchorDayOfWeek
		currentDay := isoWeekday(localReference.Weekday())
		daysUntil := targetDay - currentDay
		if daysUntil < 0 {
			daysUntil += 7
		}
		d := dateAdd(refClock.year, refClock.month, refClock.day, daysUntil)
		candidate := localClock{d.year, d.month, d.day, hour, minute}
		if candidate.compare(refClock) <= 0 {
			d = dateAdd(d.year, d.month, d.day, 7)
			candidate = localClock{d.year, d.month, d.day, hour, minute}
		}
		return candidate, true
	case ScheduleMonthly:
		if spec.AnchorDayOfMonth == nil {
			return localClock{}, false
		}
		anchorDay := *spec.AnchorDayOfMonth
		year, month := refClock.year, refClock.month
		day := clampDay(year, month, anchorDay)
		candidate := localClock{year, month, day, hour, minute}
		if candidate.compare(refClock) <= 0 {
			year, month = nextMonth(year, month)
			day = clampDay(year, month, anchorDay)
			candidate = localClock{year, month, day, hour, minute}
		}
		return candidate, true
	case ScheduleAnnually:
		if spec.AnchorDayOfMonth == nil || spec.AnchorMonth == nil {
			return localClock{}, false
		}
		anchorDay, anchorMonth := *spec.AnchorDayOfMonth, *spec.AnchorMonth
		year := refClock.year
		day := clampDay(year, anchorMonth, anchorDay)
		candidate := localClock{year, anchorMonth, day, hour, minute}
		if candidate.compare(refClock) <= 0 {
			year++
			day = clampDay(year, anchorMonth, anchorDay)
			candidate = localClock{year, anchorMonth, day, hour, minute}
		}
		return candidate, true
	default:
		return localClock{}, false
	}
}

func dateAdd(year, month, day, days int) struct{ year, month, day int } {
	t := time.Date(year, time.Month(month), day+days, 0, 0, 0, 0, time.UTC)
	return struct{ year, month, day int }{t.Year(), int(t.Month()), t.Day()}
}

func clampDay(year, month, day int) int {
	maxDay := daysInMonth(year, month)
	if day > maxDay {
		return maxDay
	}
	return day
}

func daysInMonth(year, month int) int {
	firstOfNext := time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC)
	lastOfThis := firstOfNext.AddDate(0, 0, -1)
	return lastOfThis.Day()
}

func nextMonth(year, month int) (int, int) {
	if month == 12 {
		return year + 1, 1
	}
	return year, month + 1
}

// resolveLocalToUTC converts a naive local clock reading to a UTC
// instant in loc. Go's time.Date already picks a definite UTC offset
// for ambiguous (fall-back) and non-existent (spring-forward) local
// times, but for a spring-forward gap that offset belongs to a instant
// on the "wrong side" of the gap; probe forward up to
// maxDSTForwardShift to land back on a self-consistent local reading,
// matching the original resolver's gap-escape behavior.
func resolveLocalToUTC(loc *time.Location, clock localClock) (time.Time, bool) {
	candidate := time.Date(clock.year, time.Month(clock.month), clock.day, clock.hour, clock.minute, 0, 0, loc)
	if clockFromTime(candidate.In(loc)) == clock {
		return candidate, true
	}

	for shift := 1 * time.Minute; shift <= maxDSTForwardShift; shift += time.Minute {
		shifted := candidate.Add(shift)
		if clockFromTime(shifted.In(loc)).compare(clock) >= 0 {
			return shifted, true
		}
	}
	return time.Time{}, false
}
