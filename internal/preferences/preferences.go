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

// Package preferences holds per-user notification preferences: which
// agents a user has opted out of, and an optional quiet-hours window
// the automation worker checks before sending a notification.
package preferences

import (
	"errors"
	"time"

	"github.com/altairalabs/assistant-core/internal/automation"
)

// Preferences is one user's preference row. A user with no row yet has
// the zero value: no opted-out agents, no quiet hours configured.
type Preferences struct {
	UserID             string
	OptedOutAgents     []string
	QuietHoursStart    *int // minutes since midnight, inclusive
	QuietHoursEnd      *int // minutes since midnight, exclusive
	QuietHoursTimeZone *string
	UpdatedAt          time.Time
}

// InQuietHours reports whether at (converted into the configured
// timezone) falls inside the quiet-hours window. A window that wraps
// past midnight (start > end) is treated as spanning the day
// boundary. Preferences with no quiet hours configured are never in
// quiet hours.
func (p Preferences) InQuietHours(at time.Time) bool {
	if p.QuietHoursStart == nil || p.QuietHoursEnd == nil || p.QuietHoursTimeZone == nil {
		return false
	}
	loc, err := time.LoadLocation(*p.QuietHoursTimeZone)
	if err != nil {
		return false
	}
	local := at.In(loc)
	minutes := local.Hour()*60 + local.Minute()

	start, end := *p.QuietHoursStart, *p.QuietHoursEnd
	if start <= end {
		return minutes >= start && minutes < end
	}
	return minutes >= start || minutes < end
}

// ErrInvalidQuietHours is returned when a quiet-hours window fails
// validation: an unparseable time-of-day or a non-IANA timezone.
var ErrInvalidQuietHours = errors.New("preferences: invalid quiet hours")

// ValidateQuietHours parses startHHMM/endHHMM and checks timeZone,
// returning the minutes-since-midnight pair this package and
// automation's schedule resolver share the same representation for.
func ValidateQuietHours(startHHMM, endHHMM, timeZone string) (start, end int, err error) {
	start, err = automation.ParseLocalTimeHHMM(startHHMM)
	if err != nil {
		return 0, 0, ErrInvalidQuietHours
	}
	end, err = automation.ParseLocalTimeHHMM(endHHMM)
	if err != nil {
		return 0, 0, ErrInvalidQuietHours
	}
	if _, err := time.LoadLocation(timeZone); err != nil {
		return 0, 0, ErrInvalidQuietHours
	}
	return start, end, nil
}
