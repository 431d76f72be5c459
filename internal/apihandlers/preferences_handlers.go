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
	"net/http"

	"github.com/go-logr/logr"

	"github.com/altairalabs/assistant-core/internal/automation"
	"github.com/altairalabs/assistant-core/internal/preferences"
)

// PreferencesStore is the subset of *preferences.Store this handler calls.
type PreferencesStore interface {
	Get(ctx context.Context, userID string) (preferences.Preferences, error)
	Put(ctx context.Context, p preferences.Preferences) error
}

// PreferencesHandler exposes per-user notification preferences.
type PreferencesHandler struct {
	store PreferencesStore
	log   logr.Logger
}

// NewPreferencesHandler constructs a PreferencesHandler.
func NewPreferencesHandler(store PreferencesStore, log logr.Logger) *PreferencesHandler {
	return &PreferencesHandler{store: store, log: log.WithName("preferences-handler")}
}

// RegisterRoutes registers the preferences routes on mux.
func (h *PreferencesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/preferences", h.handleGet)
	mux.HandleFunc("PUT /v1/preferences", h.handlePut)
}

type quietHoursPayload struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	TimeZone string `json:"time_zone"`
}

type preferencesPayload struct {
	OptedOutAgents []string           `json:"opted_out_agents"`
	QuietHours     *quietHoursPayload `json:"quiet_hours,omitempty"`
}

func (h *PreferencesHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	p, err := h.store.Get(r.Context(), userID)
	if err != nil {
		h.log.Error(err, "get preferences failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, toPayload(p))
}

func (h *PreferencesHandler) handlePut(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	var payload preferencesPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p := preferences.Preferences{UserID: userID, OptedOutAgents: payload.OptedOutAgents}
	if payload.QuietHours != nil {
		start, end, err := preferences.ValidateQuietHours(payload.QuietHours.Start, payload.QuietHours.End, payload.QuietHours.TimeZone)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid quiet hours: time-of-day must be HH:MM and time_zone must be a valid IANA zone")
			return
		}
		zone := payload.QuietHours.TimeZone
		p.QuietHoursStart = &start
		p.QuietHoursEnd = &end
		p.QuietHoursTimeZone = &zone
	}

	if err := h.store.Put(r.Context(), p); err != nil {
		h.log.Error(err, "put preferences failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, toPayload(p))
}

func toPayload(p preferences.Preferences) preferencesPayload {
	payload := preferencesPayload{OptedOutAgents: p.OptedOutAgents}
	if p.QuietHoursStart != nil && p.QuietHoursEnd != nil && p.QuietHoursTimeZone != nil {
		payload.QuietHours = &quietHoursPayload{
			Start:    automation.FormatLocalTimeHHMM(*p.QuietHoursStart),
			End:      automation.FormatLocalTimeHHMM(*p.QuietHoursEnd),
			TimeZone: *p.QuietHoursTimeZone,
		}
	}
	return payload
}
