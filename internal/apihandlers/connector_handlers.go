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

	"github.com/go-logr/logr"

	"github.com/altairalabs/assistant-core/internal/connector"
)

// ConnectorService is the subset of *connector.Service this handler calls.
type ConnectorService interface {
	Start(ctx context.Context, userID, provider string) (string, error)
	Callback(ctx context.Context, rawState, code string) (*connector.Connector, error)
	Revoke(ctx context.Context, userID, connectorID string) error
}

// ConnectorHandler exposes the OAuth connector lifecycle.
type ConnectorHandler struct {
	service ConnectorService
	log     logr.Logger
}

// NewConnectorHandler constructs a ConnectorHandler.
func NewConnectorHandler(service ConnectorService, log logr.Logger) *ConnectorHandler {
	return &ConnectorHandler{service: service, log: log.WithName("connector-handler")}
}

// RegisterRoutes registers the connector routes on mux.
func (h *ConnectorHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/connectors/google/start", h.handleStart)
	mux.HandleFunc("POST /v1/connectors/google/callback", h.handleCallback)
	mux.HandleFunc("DELETE /v1/connectors/{id}", h.handleRevoke)
}

type startResponse struct {
	RedirectURL string `json:"redirect_url"`
}

func (h *ConnectorHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	url, err := h.service.Start(r.Context(), userID, connector.ProviderGoogle)
	if err != nil {
		h.log.Error(err, "connector start failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, startResponse{RedirectURL: url})
}

type callbackRequest struct {
	State string `json:"state"`
	Code  string `json:"code"`
}

type callbackResponse struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Status   string `json:"status"`
}

func (h *ConnectorHandler) handleCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.State == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "state and code are required")
		return
	}

	c, err := h.service.Callback(r.Context(), req.State, req.Code)
	if err != nil {
		if errors.Is(err, connector.ErrInvalidState) {
			writeError(w, http.StatusBadRequest, "invalid_state")
			return
		}
		h.log.Error(err, "connector callback failed")
		writeEnclaveError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, callbackResponse{
		ID:       c.ID,
		Provider: c.Provider,
		Status:   string(c.Status),
	})
}

func (h *ConnectorHandler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	connectorID := r.PathValue("id")
	if connectorID == "" {
		writeError(w, http.StatusBadRequest, "connector id is required")
		return
	}

	if err := h.service.Revoke(r.Context(), userID, connectorID); err != nil {
		if errors.Is(err, connector.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		h.log.Error(err, "connector revoke failed", "connectorID", connectorID)
		writeEnclaveError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
