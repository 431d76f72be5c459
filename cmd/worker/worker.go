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
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/altairalabs/assistant-core/internal/automation"
	"github.com/altairalabs/assistant-core/internal/devices"
	"github.com/altairalabs/assistant-core/internal/jobs"
	"github.com/altairalabs/assistant-core/internal/preferences"
	"github.com/altairalabs/assistant-core/internal/privacy"
)

// rpcClient is the signed transport to the enclave runtime, satisfied
// by *enclaverpc.Client. Declared locally rather than imported as a
// concrete type so unit tests can substitute a fake, mirroring
// internal/connector's RPCClient seam.
type rpcClient interface {
	Do(ctx context.Context, method, path string, requestBody, out any, expectedRequestID string) error
}

// Job type names the worker recognizes directly. Any other job.Type
// (an automation rule's free-form Action) is dispatched generically
// through the automation-execute RPC, with the type itself standing in
// for both the action label and the rendering prompt — automation
// rules carry no separate stored instruction text.
const (
	jobTypeMorningBrief = "morning_brief"
	jobTypeUrgentEmail  = "urgent_email"
)

// quietHoursRecheckInterval is how far out a notification job is
// deferred when it falls inside the recipient's quiet hours. It is a
// fixed recheck cadence rather than a computed quiet-hours end time,
// since a job can target a user whose quiet-hours window spans an
// unknown amount of remaining time.
const quietHoursRecheckInterval = 15 * time.Minute

// WorkerConfig groups every dependency and tunable Worker needs.
type WorkerConfig struct {
	WorkerID string

	Jobs        *jobs.Store
	Automations *automation.Store
	Devices     *devices.Store
	Preferences *preferences.Store
	Privacy     *privacy.Service
	RPC         rpcClient
	Push        pushDeliverer

	JobsEncryptionPassphrase string

	PollInterval            time.Duration
	MaxJobsPerPoll          int
	LeaseSeconds            int
	PerUserConcurrencyLimit int

	AutomationPollInterval    time.Duration
	AutomationMaxRulesPerPoll int

	PrivacyPollInterval       time.Duration
	PrivacyWarnInterval       time.Duration
	PrivacyLeaseSeconds       int
	PrivacyMaxRequestsPerPoll int

	Log logr.Logger
}

// Worker claims due jobs under a lease, asks the enclave runtime to
// render the sensitive portion of each action, fans the rendered
// content out to the user's registered devices, and separately drives
// the automation scheduler and the privacy-deletion state machine.
type Worker struct {
	cfg WorkerConfig
	log logr.Logger
}

// NewWorker constructs a Worker from cfg.
func NewWorker(cfg WorkerConfig) *Worker {
	return &Worker{cfg: cfg, log: cfg.Log.WithName("worker")}
}

// Run blocks until ctx is canceled, polling jobs, automation rules,
// and privacy-deletion requests on independent loops so a slow or
// empty poll on one never stalls the others.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	loops := []func(context.Context){
		w.runJobLoop,
		w.runAutomationLoop,
		w.runPrivacyLoop,
		w.runPrivacyWarnLoop,
	}
	wg.Add(len(loops))
	for _, loop := range loops {
		loop := loop
		go func() {
			defer wg.Done()
			loop(ctx)
		}()
	}
	wg.Wait()
}

func (w *Worker) runJobLoop(ctx context.Context) {
	ctx = jobs.WithEncryptionPassphrase(ctx, w.cfg.JobsEncryptionPassphrase)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		claimed, err := w.cfg.Jobs.ClaimDueJobs(ctx, time.Now(), w.cfg.WorkerID, w.cfg.MaxJobsPerPoll, w.cfg.LeaseSeconds, w.cfg.PerUserConcurrencyLimit)
		if err != nil {
			w.log.Error(err, "claiming due jobs")
			continue
		}
		for _, job := range claimed {
			w.dispatchJob(ctx, job)
		}
	}
}

func (w *Worker) runAutomationLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.AutomationPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := time.Now()
		rules, scheduledFor, err := w.cfg.Automations.ClaimDueRules(ctx, now, w.cfg.AutomationMaxRulesPerPoll)
		if err != nil {
			w.log.Error(err, "claiming due automation rules")
			continue
		}
		for i, rule := range rules {
			if _, err := w.cfg.Automations.MaterializeRun(ctx, rule, scheduledFor[i]); err != nil {
				w.log.Error(err, "materializing automation run", "ruleID", rule.ID)
			}
		}
	}
}

func (w *Worker) runPrivacyLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PrivacyPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := w.cfg.Privacy.ClaimAndProcess(ctx, time.Now(), w.cfg.WorkerID, w.cfg.PrivacyLeaseSeconds, w.cfg.PrivacyMaxRequestsPerPoll); err != nil {
			w.log.Error(err, "claiming privacy-deletion requests")
		}
	}
}

func (w *Worker) runPrivacyWarnLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PrivacyWarnInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := w.cfg.Privacy.WarnOverdue(ctx, time.Now()); err != nil {
			w.log.Error(err, "checking overdue privacy-deletion requests")
		}
	}
}
