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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altairalabs/assistant-core/internal/automation"
)

type fakeAutomationStore struct {
	createRuleFn  func(ctx context.Context, userID string, spec automation.Spec, action string, now time.Time) (string, error)
	listForUserFn func(ctx context.Context, userID string, limit int) ([]*automation.Rule, error)
	getOwnedFn    func(ctx context.Context, id, userID string) (*automation.Rule, error)
	updateFn      func(ctx context.Context, id, userID string, spec *automation.Spec, action *string, enabled *bool, now time.Time) (*automation.Rule, error)
	deleteFn      func(ctx context.Context, id, userID string) error
	forceRunFn    func(ctx context.Context, id, userID string, now time.Time) (string, error)
}

func (f *fakeAutomationStore) CreateRule(ctx context.Context, userID string, spec automation.Spec, action string, now time.Time) (string, error) {
	return f.createRuleFn(ctx, userID, spec, action, now)
}

func (f *fakeAutomationStore) ListForUser(ctx context.Context, userID string, limit int) ([]*automation.Rule, error) {
	return f.listForUserFn(ctx, userID, limit)
}

func (f *fakeAutomationStore) GetOwnedRule(ctx context.Context, id, userID string) (*automation.Rule, error) {
	return f.getOwnedFn(ctx, id, userID)
}

func (f *fakeAutomationStore) Update(ctx context.Context, id, userID string, spec *automation.Spec, action *string, enabled *bool, now time.Time) (*automation.Rule, error) {
	return f.updateFn(ctx, id, userID, spec, action, enabled, now)
}

func (f *fakeAutomationStore) Delete(ctx context.Context, id, userID string) error {
	return f.deleteFn(ctx, id, userID)
}

func (f *fakeAutomationStore) ForceRun(ctx context.Context, id, userID string, now time.Time) (string, error) {
	return f.forceRunFn(ctx, id, userID, now)
}

func TestAutomationHandler_Create_RejectsBadLocalTime(t *testing.T) {
	h := NewAutomationHandler(&fakeAutomationStore{}, testLogger(t))
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	body, _ := json.Marshal(createAutomationRequest{
		Schedule: schedulePayload{Type: string(automation.ScheduleDaily), TimeZone: "UTC", LocalTime: "9am"},
		Action:   "send_digest",
	})
	req := withUserID(httptest.NewRequest(http.MethodPost, "/v1/automations", bytes.NewReader(body)), "user-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAutomationHandler_Create_RejectsWeeklyMissingAnchor(t *testing.T) {
	h := NewAutomationHandler(&fakeAutomationStore{}, testLogger(t))
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	body, _ := json.Marshal(createAutomationRequest{
		Schedule: schedulePayload{Type: string(automation.ScheduleWeekly), TimeZone: "UTC", LocalTime: "09:00"},
		Action:   "send_digest",
	})
	req := withUserID(httptest.NewRequest(http.MethodPost, "/v1/automations", bytes.NewReader(body)), "user-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAutomationHandler_Create_Success(t *testing.T) {
	store := &fakeAutomationStore{
		createRuleFn: func(_ context.Context, userID string, spec automation.Spec, action string, _ time.Time) (string, error) {
			assert.Equal(t, "user-1", userID)
			assert.Equal(t, automation.ScheduleDaily, spec.Type)
			assert.Equal(t, "send_digest", action)
			return "rule-1", nil
		},
	}
	h := NewAutomationHandler(store, testLogger(t))
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	body, _ := json.Marshal(createAutomationRequest{
		Schedule: schedulePayload{Type: string(automation.ScheduleDaily), TimeZone: "UTC", LocalTime: "09:00"},
		Action:   "send_digest",
	})
	req := withUserID(httptest.NewRequest(http.MethodPost, "/v1/automations", bytes.NewReader(body)), "user-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp automationResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "rule-1", resp.ID)
}

func TestAutomationHandler_List_ReturnsRules(t *testing.T) {
	store := &fakeAutomationStore{
		listForUserFn: func(_ context.Context, userID string, _ int) ([]*automation.Rule, error) {
			return []*automation.Rule{{ID: "rule-1", UserID: userID, Spec: automation.Spec{Type: automation.ScheduleDaily, TimeZone: "UTC", LocalTimeMinutes: 540}, Action: "send_digest", Enabled: true}}, nil
		},
	}
	h := NewAutomationHandler(store, testLogger(t))
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := withUserID(httptest.NewRequest(http.MethodGet, "/v1/automations", nil), "user-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp []automationResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "09:00", resp[0].Schedule.LocalTime)
}

func TestAutomationHandler_Update_NotFoundReturns404(t *testing.T) {
	store := &fakeAutomationStore{
		updateFn: func(_ context.Context, _, _ string, _ *automation.Spec, _ *string, _ *bool, _ time.Time) (*automation.Rule, error) {
			return nil, automation.ErrRuleNotFound
		},
	}
	h := NewAutomationHandler(store, testLogger(t))
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	body, _ := json.Marshal(updateAutomationRequest{})
	req := withUserID(httptest.NewRequest(http.MethodPatch, "/v1/automations/missing", bytes.NewReader(body)), "user-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAutomationHandler_Delete_Success(t *testing.T) {
	store := &fakeAutomationStore{
		deleteFn: func(_ context.Context, id, userID string) error {
			assert.Equal(t, "rule-1", id)
			assert.Equal(t, "user-1", userID)
			return nil
		},
	}
	h := NewAutomationHandler(store, testLogger(t))
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := withUserID(httptest.NewRequest(http.MethodDelete, "/v1/automations/rule-1", nil), "user-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAutomationHandler_DebugRun_ReturnsRunID(t *testing.T) {
	store := &fakeAutomationStore{
		forceRunFn: func(_ context.Context, id, userID string, _ time.Time) (string, error) {
			assert.Equal(t, "rule-1", id)
			assert.Equal(t, "user-1", userID)
			return "run-1", nil
		},
	}
	h := NewAutomationHandler(store, testLogger(t))
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := withUserID(httptest.NewRequest(http.MethodPost, "/v1/automations/rule-1/debug/run", nil), "user-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp debugRunResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "run-1", resp.RunID)
}
