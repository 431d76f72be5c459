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

package automation

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidateIntervalHint checks that a user-supplied cron expression
// hint is both syntactically valid and consistent with scheduleType's
// approximate period — catching, e.g., a "daily" rule whose hint
// expression actually fires hourly. This does not drive scheduling;
// NextRunAfter does. It exists only to warn API callers early when the
// hint they attached for display/search purposes disagrees with the
// schedule they actually configured.
func ValidateIntervalHint(scheduleType ScheduleType, cronExpr string, toleranceFraction float64) error {
	sched, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return fmt.Errorf("automation: invalid interval hint: %w", err)
	}

	reference := time.Now().UTC()
	first := sched.Next(reference)
	second := sched.Next(first)
	observedInterval := second.Sub(first)

	expectedSeconds := IntervalSecondsHint(scheduleType)
	if expectedSeconds == 0 {
		return fmt.Errorf("automation: unknown schedule type %q", scheduleType)
	}
	expected := time.Duration(expectedSeconds) * time.Second

	tolerance := time.Duration(float64(expected) * toleranceFraction)
	diff := observedInterval - expected
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		return fmt.Errorf("automation: interval hint %q fires roughly every %s, inconsistent with a %s schedule",
			cronExpr, observedInterval, scheduleType)
	}
	return nil
}
