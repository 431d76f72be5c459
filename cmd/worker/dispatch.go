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

package main

import (
	"context"
	"time"

	"github.com/altairalabs/assistant-core/internal/assistant"
	"github.com/altairalabs/assistant-core/internal/devices"
	"github.com/altairalabs/assistant-core/internal/enclaverpc"
	"github.com/altairalabs/assistant-core/internal/jobs"
)

// dispatchJob renders job's content through the enclave and fans it
// out to the owning user's devices, then resolves the job to done,
// retried, or dead-lettered depending on the outcome.
func (w *Worker) dispatchJob(ctx context.Context, job jobs.Job) {
	rendered, skip, err := w.render(ctx, job)
	if err != nil {
		w.retryOrFail(ctx, job, "render_failed", err.Error())
		return
	}
	if skip {
		if _, err := w.cfg.Jobs.MarkDone(ctx, job.ID, w.cfg.WorkerID); err != nil {
			w.log.Error(err, "marking skipped job done", "jobID", job.ID)
		}
		return
	}

	prefs, err := w.cfg.Preferences.Get(ctx, job.UserID)
	if err != nil {
		w.retryOrFail(ctx, job, "preferences_lookup_failed", err.Error())
		return
	}
	if prefs.InQuietHours(time.Now()) {
		w.deferForQuietHours(ctx, job)
		return
	}

	if err := w.deliverToDevices(ctx, job, rendered); err != nil {
		w.retryOrFail(ctx, job, "delivery_failed", err.Error())
		return
	}

	if _, err := w.cfg.Jobs.MarkDone(ctx, job.ID, w.cfg.WorkerID); err != nil {
		w.log.Error(err, "marking job done", "jobID", job.ID)
	}
}

// render asks the enclave to compose job's notification content. skip
// reports a deliberate no-op (e.g. an urgent-email check that found
// nothing urgent) rather than an error.
func (w *Worker) render(ctx context.Context, job jobs.Job) (rendered string, skip bool, err error) {
	switch job.Type {
	case jobTypeMorningBrief:
		var result assistant.BriefResult
		if err := w.cfg.RPC.Do(ctx, "POST", enclaverpc.PathBriefCompose, assistant.BriefRequest{UserID: job.UserID}, &result, job.ID); err != nil {
			return "", false, err
		}
		return result.Rendered, false, nil
	case jobTypeUrgentEmail:
		var result assistant.UrgentEmailResult
		if err := w.cfg.RPC.Do(ctx, "POST", enclaverpc.PathUrgentEmailCompose, assistant.UrgentEmailRequest{UserID: job.UserID}, &result, job.ID); err != nil {
			return "", false, err
		}
		if result.Count == 0 {
			return "", true, nil
		}
		return result.Rendered, false, nil
	default:
		// A rule's Action is free-form and carries no separately stored
		// instruction text, so it doubles as both the action label and
		// the composition prompt.
		req := assistant.AutomationExecuteRequest{UserID: job.UserID, Action: job.Type, Prompt: job.Type}
		var result assistant.AutomationExecuteResult
		if err := w.cfg.RPC.Do(ctx, "POST", enclaverpc.PathAutomationExecute, req, &result, job.ID); err != nil {
			return "", false, err
		}
		return result.Rendered, false, nil
	}
}

// deliverToDevices hands the same rendered body to pushDeliverer for
// every registered device; the body is rendered once per job, not once
// per device. It records an at-most-one-side-effect guard per device
// before the send so a crash-and-retry never double-delivers to the
// same device.
func (w *Worker) deliverToDevices(ctx context.Context, job jobs.Job, body string) error {
	deviceList, err := w.cfg.Devices.ListForUser(ctx, job.UserID)
	if err != nil {
		return err
	}

	for _, device := range deviceList {
		scope := "push:" + job.ID
		key := device.ID
		reserved, err := w.cfg.Jobs.RecordOutboundActionIdempotency(ctx, scope, key)
		if err != nil {
			return err
		}
		if !reserved {
			continue
		}

		if err := w.cfg.Push.Deliver(ctx, *device, body); err != nil {
			if releaseErr := w.cfg.Jobs.ReleaseOutboundActionIdempotency(ctx, scope, key); releaseErr != nil {
				w.log.Error(releaseErr, "releasing push idempotency guard", "jobID", job.ID, "deviceID", device.ID)
			}
			return err
		}
	}
	return nil
}

// deferForQuietHours reschedules job without counting it as a failed
// attempt: being inside the recipient's quiet hours is an expected,
// recurring condition, not a fault.
func (w *Worker) deferForQuietHours(ctx context.Context, job jobs.Job) {
	nextDueAt := time.Now().Add(quietHoursRecheckInterval)
	if _, err := w.cfg.Jobs.ScheduleRetry(ctx, job.ID, w.cfg.WorkerID, job.Attempts, nextDueAt, "quiet_hours_deferred", "recipient is in quiet hours"); err != nil {
		w.log.Error(err, "deferring job for quiet hours", "jobID", job.ID)
	}
}

// retryOrFail schedules an exponential-backoff retry, or dead-letters
// job once it has exhausted its retry budget.
func (w *Worker) retryOrFail(ctx context.Context, job jobs.Job, reasonCode, reasonMessage string) {
	attempts := job.Attempts + 1
	if attempts >= job.MaxAttempts {
		if _, err := w.cfg.Jobs.MarkFailed(ctx, job, w.cfg.WorkerID, attempts, reasonCode, reasonMessage); err != nil {
			w.log.Error(err, "dead-lettering job", "jobID", job.ID)
		}
		return
	}

	nextDueAt := time.Now().Add(jobs.RetryDelay(time.Second, attempts))
	if _, err := w.cfg.Jobs.ScheduleRetry(ctx, job.ID, w.cfg.WorkerID, attempts, nextDueAt, reasonCode, reasonMessage); err != nil {
		w.log.Error(err, "scheduling job retry", "jobID", job.ID)
	}
}
