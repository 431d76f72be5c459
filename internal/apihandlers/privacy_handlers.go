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
	"errors"
	"net/http"
	"time"

	"github.com/go-logr/logr"

	"github.com/altairalabs/assistant-core/internal/privacy"
)

// PrivacyService is the subset of *privacy.Service this handler calls.
type PrivacyService interface {
	RequestDeletion(ctx context.Context, userID string, now time.Time) (*privacy.DeleteRequest, error)
	GetOwnedRequest(ctx context.Context, id, userID string) (*privacy.DeleteRequest, error)
}

// PrivacyHandler exposes the privacy-deletion state machine.
type PrivacyHandler struct {
	service PrivacyService
	now     func() time.Time
	log     logr.Logger
}

// NewPrivacyHandler constructs a PrivacyHandler.
func NewPrivacyHandler(service PrivacyService, log logr.Logger) *PrivacyHandler {
	return &PrivacyHandler{service: service, now: time.Now, log: log.WithName("privacy-handler")}
}

// RegisterRoutes registers the privacy-deletion routes on mux.
func (h *PrivacyHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/privacy/delete-all", h.handleRequestDeletion)
	mux.HandleFunc("GET /v1/privacy/delete-all/{id}", h.handleGetStatus)
}

type deleteRequestResponse struct {
	ID                string   `json:"request_id"`
	Status            string   `json:"status"`
	SLADueAt          string   `json:"sla_due_at"`
	ConnectorsRevoked int      `json:"connectors_revoked"`
	SessionsPurged    int      `json:"sessions_purged"`
	Errors            []string `json:"errors,omitempty"`
}

func (h *PrivacyHandler) handleRequestDeletion(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	req, err := h.service.RequestDeletion(r.Context(), userID, h.now())
	if err != nil {
		h.log.Error(err, "request deletion failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	writeJSON(w, http.StatusAccepted, toDeleteRequestResponse(req))
}

func (h *PrivacyHandler) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "request id is required")
		return
	}

	req, err := h.service.GetOwnedRequest(r.Context(), id, userID)
	if err != nil {
		if errors.Is(err, privacy.ErrRequestNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		h.log.Error(err, "get delete request status failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, toDeleteRequestResponse(req))
}

func toDeleteRequestResponse(req *privacy.DeleteRequest) deleteRequestResponse {
	return deleteRequestResponse{
		ID:                req.ID,
		Status:            string(req.Status),
		SLADueAt:          req.SLADueAt.Format(time.RFC3339),
		ConnectorsRevoked: req.ConnectorsRevoked,
		SessionsPurged:    req.SessionsPurged,
		Errors:            req.Errors,
	}
}
