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

// Package assistant holds the enclave-side turn-processing contract.
// Model selection and prompt composition are out of scope here; this
// package only fixes the shape a processor receives and returns, plus
// the shared provider-fetch step that a morning-brief render, an
// urgent-email render, and an automation run all build on.
package assistant

import (
	"context"
	"strconv"
)

// QueryPayload is the plaintext a sealed assistant-query envelope
// decrypts to.
type QueryPayload struct {
	SessionID string            `json:"session_id"`
	Prompt    string            `json:"prompt"`
	Context   map[string]string `json:"context,omitempty"`
}

// QueryResult is the plaintext a query response envelope encrypts.
type QueryResult struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
}

// QueryProcessor turns a decrypted query into a reply. Production
// model/prompt logic lives outside this repo; QueryProcessor is the
// seam it plugs into.
type QueryProcessor interface {
	Process(ctx context.Context, userID string, payload QueryPayload) (QueryResult, error)
}

// ProviderFetcher retrieves the calendar/mail context a brief or
// urgent-email render needs. Real provider fetch logic (Google
// Calendar/Gmail API calls against the connector's granted scopes) is
// out of scope here; Composer only fixes where that step plugs in.
type ProviderFetcher interface {
	FetchCalendar(ctx context.Context, userID string) ([]string, error)
	FetchUrgentMail(ctx context.Context, userID string) ([]string, error)
}

// BriefRequest is the morning-brief composition RPC's request payload.
type BriefRequest struct {
	UserID string `json:"user_id"`
}

// BriefResult is the morning-brief composition RPC's response payload:
// one rendered content string for the job, which the worker delivers
// unchanged to each of the user's registered devices.
type BriefResult struct {
	Rendered string `json:"rendered"`
}

// UrgentEmailRequest is the urgent-email composition RPC's request payload.
type UrgentEmailRequest struct {
	UserID string `json:"user_id"`
}

// UrgentEmailResult is the urgent-email composition RPC's response payload.
type UrgentEmailResult struct {
	Rendered string `json:"rendered"`
	Count    int    `json:"count"`
}

// AutomationExecuteRequest is an automation rule run's composition RPC
// request payload: userID scopes data fetch, action names the rule's
// free-form action, and prompt is the composition instruction handed to
// the QueryProcessor. Automation rules store no instruction text of
// their own; the worker passes the rule's action as the prompt.
type AutomationExecuteRequest struct {
	UserID string `json:"user_id"`
	Action string `json:"action"`
	Prompt string `json:"prompt"`
}

// AutomationExecuteResult is the automation-execute RPC's response payload.
type AutomationExecuteResult struct {
	Rendered string `json:"rendered"`
}

// Composer shares the provider-fetch step across morning-brief,
// urgent-email, and automation-execute composition: all three pull
// from the same calendar+mail fetch primitives rather than duplicating
// fetch logic per job type.
type Composer struct {
	fetcher   ProviderFetcher
	processor QueryProcessor
}

// NewComposer constructs a Composer.
func NewComposer(fetcher ProviderFetcher, processor QueryProcessor) *Composer {
	return &Composer{fetcher: fetcher, processor: processor}
}

// ComposeBrief renders a morning brief for userID.
func (c *Composer) ComposeBrief(ctx context.Context, userID string) (BriefResult, error) {
	events, err := c.fetcher.FetchCalendar(ctx, userID)
	if err != nil {
		return BriefResult{}, err
	}
	result, err := c.processor.Process(ctx, userID, QueryPayload{
		Prompt:  "compose-morning-brief",
		Context: map[string]string{"calendar_event_count": strconv.Itoa(len(events))},
	})
	if err != nil {
		return BriefResult{}, err
	}
	return BriefResult{Rendered: result.Reply}, nil
}

// ComposeUrgentEmail renders an urgent-email notification for userID.
func (c *Composer) ComposeUrgentEmail(ctx context.Context, userID string) (UrgentEmailResult, error) {
	mail, err := c.fetcher.FetchUrgentMail(ctx, userID)
	if err != nil {
		return UrgentEmailResult{}, err
	}
	if len(mail) == 0 {
		return UrgentEmailResult{}, nil
	}
	result, err := c.processor.Process(ctx, userID, QueryPayload{
		Prompt:  "compose-urgent-email-alert",
		Context: map[string]string{"urgent_mail_count": strconv.Itoa(len(mail))},
	})
	if err != nil {
		return UrgentEmailResult{}, err
	}
	return UrgentEmailResult{Rendered: result.Reply, Count: len(mail)}, nil
}

// ComposeAutomation renders the output of a single automation rule
// run. The rule's Action is free-form and client-supplied; Composer
// treats it as an opaque label rather than a closed set of cases.
func (c *Composer) ComposeAutomation(ctx context.Context, req AutomationExecuteRequest) (AutomationExecuteResult, error) {
	events, err := c.fetcher.FetchCalendar(ctx, req.UserID)
	if err != nil {
		return AutomationExecuteResult{}, err
	}
	result, err := c.processor.Process(ctx, req.UserID, QueryPayload{
		Prompt:  req.Prompt,
		Context: map[string]string{"action": req.Action, "calendar_event_count": strconv.Itoa(len(events))},
	})
	if err != nil {
		return AutomationExecuteResult{}, err
	}
	return AutomationExecuteResult{Rendered: result.Reply}, nil
}
