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

	"github.com/altairalabs/assistant-core/internal/devices"
)

// DeviceStore is the subset of *devices.Store this handler calls.
type DeviceStore interface {
	Register(ctx context.Context, userID, pushToken, platform string) (*devices.Device, error)
	ListForUser(ctx context.Context, userID string) ([]*devices.Device, error)
	Deregister(ctx context.Context, userID, pushToken string) error
}

// DeviceHandler exposes push-endpoint registration so the worker's
// notification fan-out has somewhere to send a device list from.
type DeviceHandler struct {
	store DeviceStore
	log   logr.Logger
}

// NewDeviceHandler constructs a DeviceHandler.
func NewDeviceHandler(store DeviceStore, log logr.Logger) *DeviceHandler {
	return &DeviceHandler{store: store, log: log.WithName("devices-handler")}
}

// RegisterRoutes registers the device routes on mux.
func (h *DeviceHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/devices", h.handleList)
	mux.HandleFunc("POST /v1/devices", h.handleRegister)
	mux.HandleFunc("DELETE /v1/devices", h.handleDeregister)
}

type devicePayload struct {
	ID        string `json:"id"`
	PushToken string `json:"push_token"`
	Platform  string `json:"platform"`
	CreatedAt string `json:"created_at"`
}

type registerDeviceRequest struct {
	PushToken string `json:"push_token"`
	Platform  string `json:"platform"`
}

type deregisterDeviceRequest struct {
	PushToken string `json:"push_token"`
}

func (h *DeviceHandler) handleList(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	list, err := h.store.ListForUser(r.Context(), userID)
	if err != nil {
		h.log.Error(err, "list devices failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	out := make([]devicePayload, 0, len(list))
	for _, d := range list {
		out = append(out, devicePayload{
			ID:        d.ID,
			PushToken: d.PushToken,
			Platform:  d.Platform,
			CreatedAt: d.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *DeviceHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PushToken == "" {
		writeError(w, http.StatusBadRequest, "push_token is required")
		return
	}
	switch req.Platform {
	case devices.PlatformIOS, devices.PlatformAndroid, devices.PlatformWeb:
	default:
		writeError(w, http.StatusBadRequest, "platform must be one of ios, android, web")
		return
	}

	d, err := h.store.Register(r.Context(), userID, req.PushToken, req.Platform)
	if err != nil {
		h.log.Error(err, "register device failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, devicePayload{
		ID:        d.ID,
		PushToken: d.PushToken,
		Platform:  d.Platform,
		CreatedAt: d.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

func (h *DeviceHandler) handleDeregister(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	var req deregisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PushToken == "" {
		writeError(w, http.StatusBadRequest, "push_token is required")
		return
	}

	if err := h.store.Deregister(r.Context(), userID, req.PushToken); err != nil {
		h.log.Error(err, "deregister device failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
