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

package apihandlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-logr/logr"

	"github.com/altairalabs/assistant-core/internal/automation"
)

const defaultAutomationListLimit = 50

// AutomationStore is the subset of *automation.Store this handler calls.
type AutomationStore interface {
	CreateRule(ctx context.Context, userID string, spec automation.Spec, action string, now time.Time) (string, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]*automation.Rule, error)
	GetOwnedRule(ctx context.Context, id, userID string) (*automation.Rule, error)
	Update(ctx context.Context, id, userID string, spec *automation.Spec, action *string, enabled *bool, now time.Time) (*automation.Rule, error)
	Delete(ctx context.Context, id, userID string) error
	ForceRun(ctx context.Context, id, userID string, now time.Time) (string, error)
}

// AutomationHandler exposes automation rule CRUD and a debug-run endpoint.
type AutomationHandler struct {
	store AutomationStore
	now   func() time.Time
	log   logr.Logger
}

// NewAutomationHandler constructs an AutomationHandler.
func NewAutomationHandler(store AutomationStore, log logr.Logger) *AutomationHandler {
	return &AutomationHandler{store: store, now: time.Now, log: log.WithName("automation-handler")}
}

// RegisterRoutes registers the automation routes on mux.
func (h *AutomationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/automations", h.handleCreate)
	mux.HandleFunc("GET /v1/automations", h.handleList)
	mux.HandleFunc("PATCH /v1/automations/{id}", h.handleUpdate)
	mux.HandleFunc("DELETE /v1/automations/{id}", h.handleDelete)
	mux.HandleFunc("POST /v1/automations/{id}/debug/run", h.handleDebugRun)
}

type schedulePayload struct {
	Type             string `json:"type"`
	TimeZone         string `json:"time_zone"`
	LocalTime        string `json:"local_time"`
	AnchorDayOfWeek  *int   `json:"anchor_day_of_week,omitempty"`
	AnchorDayOfMonth *int   `json:"anchor_day_of_month,omitempty"`
	AnchorMonth      *int   `json:"anchor_month,omitempty"`
}

func (p schedulePayload) toSpec() (automation.Spec, error) {
	minutes, err := automation.ParseLocalTimeHHMM(p.LocalTime)
	if err != nil {
		return automation.Spec{}, err
	}
	spec := automation.Spec{
		Type:             automation.ScheduleType(p.Type),
		TimeZone:         p.TimeZone,
		LocalTimeMinutes: minutes,
		AnchorDayOfWeek:  p.AnchorDayOfWeek,
		AnchorDayOfMonth: p.AnchorDayOfMonth,
		AnchorMonth:      p.AnchorMonth,
	}
	if err := automation.Validate(spec); err != nil {
		return automation.Spec{}, err
	}
	return spec, nil
}

func toSchedulePayload(spec automation.Spec) schedulePayload {
	return schedulePayload{
		Type:             string(spec.Type),
		TimeZone:         spec.TimeZone,
		LocalTime:        automation.FormatLocalTimeHHMM(spec.LocalTimeMinutes),
		AnchorDayOfWeek:  spec.AnchorDayOfWeek,
		AnchorDayOfMonth: spec.AnchorDayOfMonth,
		AnchorMonth:      spec.AnchorMonth,
	}
}

type createAutomationRequest struct {
	Schedule schedulePayload `json:"schedule"`
	Action   string          `json:"action"`
}

type automationResponse struct {
	ID        string          `json:"id"`
	Schedule  schedulePayload `json:"schedule"`
	Action    string          `json:"action"`
	Enabled   bool            `json:"enabled"`
	NextRunAt *time.Time      `json:"next_run_at,omitempty"`
}

func toAutomationResponse(rule *automation.Rule) automationResponse {
	return automationResponse{
		ID:        rule.ID,
		Schedule:  toSchedulePayload(rule.Spec),
		Action:    rule.Action,
		Enabled:   rule.Enabled,
		NextRunAt: rule.NextRunAt,
	}
}

func (h *AutomationHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	var req createAutomationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Action == "" {
		writeError(w, http.StatusBadRequest, "action is required")
		return
	}

	spec, err := req.Schedule.toSpec()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.store.CreateRule(r.Context(), userID, spec, req.Action, h.now())
	if err != nil {
		h.log.Error(err, "create automation rule failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	writeJSON(w, http.StatusCreated, automationResponse{ID: id, Schedule: req.Schedule, Action: req.Action, Enabled: true})
}

func (h *AutomationHandler) handleList(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	limit := parseIntParam(r, "limit", defaultAutomationListLimit)

	rules, err := h.store.ListForUser(r.Context(), userID, limit)
	if err != nil {
		h.log.Error(err, "list automation rules failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	out := make([]automationResponse, 0, len(rules))
	for _, rule := range rules {
		out = append(out, toAutomationResponse(rule))
	}
	writeJSON(w, http.StatusOK, out)
}

type updateAutomationRequest struct {
	Schedule *schedulePayload `json:"schedule,omitempty"`
	Action   *string          `json:"action,omitempty"`
	Enabled  *bool            `json:"enabled,omitempty"`
}

func (h *AutomationHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "automation id is required")
		return
	}

	var req updateAutomationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var spec *automation.Spec
	if req.Schedule != nil {
		s, err := req.Schedule.toSpec()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		spec = &s
	}

	rule, err := h.store.Update(r.Context(), id, userID, spec, req.Action, req.Enabled, h.now())
	if err != nil {
		if errors.Is(err, automation.ErrRuleNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		h.log.Error(err, "update automation rule failed", "id", id)
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, toAutomationResponse(rule))
}

func (h *AutomationHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "automation id is required")
		return
	}

	if err := h.store.Delete(r.Context(), id, userID); err != nil {
		if errors.Is(err, automation.ErrRuleNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		h.log.Error(err, "delete automation rule failed", "id", id)
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type debugRunResponse struct {
	RunID string `json:"run_id"`
}

func (h *AutomationHandler) handleDebugRun(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "automation id is required")
		return
	}

	runID, err := h.store.ForceRun(r.Context(), id, userID, h.now())
	if err != nil {
		if errors.Is(err, automation.ErrRuleNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		h.log.Error(err, "debug run failed", "id", id)
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	writeJSON(w, http.StatusAccepted, debugRunResponse{RunID: runID})
}
