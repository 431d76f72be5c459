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
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altairalabs/assistant-core/internal/audit"
)

func TestAuditHandler_List_ReturnsPage(t *testing.T) {
	query := AuditQuerier(func(_ context.Context, userID, cursor string, limit int) (audit.Page, error) {
		assert.Equal(t, "user-1", userID)
		assert.Equal(t, 10, limit)
		return audit.Page{Events: []audit.Event{{UserID: userID}}}, nil
	})
	h := NewAuditHandler(query, testLogger(t))
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := withUserID(httptest.NewRequest(http.MethodGet, "/v1/audit-events?limit=10", nil), "user-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var page audit.Page
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	require.Len(t, page.Events, 1)
}

func TestAuditHandler_List_InvalidCursorReturns400(t *testing.T) {
	query := AuditQuerier(func(_ context.Context, _, _ string, _ int) (audit.Page, error) {
		return audit.Page{}, audit.ErrInvalidCursor
	})
	h := NewAuditHandler(query, testLogger(t))
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := withUserID(httptest.NewRequest(http.MethodGet, "/v1/audit-events?cursor=garbage", nil), "user-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditHandler_List_DefaultsLimitWhenOmitted(t *testing.T) {
	var seenLimit int
	query := AuditQuerier(func(_ context.Context, _, _ string, limit int) (audit.Page, error) {
		seenLimit = limit
		return audit.Page{}, nil
	})
	h := NewAuditHandler(query, testLogger(t))
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := withUserID(httptest.NewRequest(http.MethodGet, "/v1/audit-events", nil), "user-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultAuditPageLimit, seenLimit)
}
