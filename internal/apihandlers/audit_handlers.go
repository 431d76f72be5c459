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

	"github.com/go-logr/logr"

	"github.com/altairalabs/assistant-core/internal/audit"
)

const defaultAuditPageLimit = 50

// AuditQuerier abstracts internal/audit's package-level Query function
// so tests can substitute a fake without a live pool.
type AuditQuerier func(ctx context.Context, userID, cursor string, limit int) (audit.Page, error)

// AuditHandler exposes the caller's own cursor-paginated audit log.
type AuditHandler struct {
	query AuditQuerier
	log   logr.Logger
}

// NewAuditHandler constructs an AuditHandler.
func NewAuditHandler(query AuditQuerier, log logr.Logger) *AuditHandler {
	return &AuditHandler{query: query, log: log.WithName("audit-handler")}
}

// RegisterRoutes registers the audit-events route on mux.
func (h *AuditHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/audit-events", h.handleList)
}

func (h *AuditHandler) handleList(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	q := r.URL.Query()

	limit := parseIntParam(r, "limit", defaultAuditPageLimit)
	cursor := q.Get("cursor")

	page, err := h.query(r.Context(), userID, cursor, limit)
	if err != nil {
		if errors.Is(err, audit.ErrInvalidCursor) {
			writeError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		h.log.Error(err, "audit query failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, page)
}
