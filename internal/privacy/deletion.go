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

// Package privacy implements the privacy-deletion state machine:
// queued -> running -> (completed | failed), per-connector
// revoke-then-purge, and SLA horizon tracking.
package privacy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
)

// Status is the lifecycle state of a DeleteRequest.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// maxReasonLength truncates an unrecoverable-error message before it
// is persisted, so a verbose provider/driver error can never bloat the
// request row or leak more than a diagnostic summary.
const maxReasonLength = 500

// DeleteRequest is a privacy-deletion request row.
type DeleteRequest struct {
	ID                string
	UserID            string
	Status            Status
	SLADueAt          time.Time
	LeaseOwner        string
	LeaseExpiresAt    *time.Time
	ConnectorsRevoked int
	SessionsPurged    int
	Errors            []string
	CreatedAt         time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
}

var (
	// ErrMissingUserID is returned when RequestDeletion is called without a user id.
	ErrMissingUserID = errors.New("privacy: user_id is required")
	// ErrRequestNotFound is returned for an unknown or cross-user request lookup.
	ErrRequestNotFound = errors.New("privacy: delete request not found")
	// ErrAlreadyProcessing is returned when processClaimed's caller passes a request not in the running state.
	ErrAlreadyProcessing = errors.New("privacy: delete request is already being processed")
)

// Store abstracts persistence for delete requests.
type Store interface {
	// FindNonTerminalByUser returns the user's existing non-terminal
	// request, if one exists, for dedup on RequestDeletion.
	FindNonTerminalByUser(ctx context.Context, userID string) (*DeleteRequest, error)
	CreateRequest(ctx context.Context, req *DeleteRequest) error
	// GetOwnedRequest returns the request only if it belongs to userID;
	// otherwise ErrRequestNotFound, so a cross-user lookup cannot
	// distinguish "not found" from "not yours".
	GetOwnedRequest(ctx context.Context, id, userID string) (*DeleteRequest, error)
	ClaimDueRequests(ctx context.Context, now time.Time, leaseOwner string, leaseSeconds, maxRequests int) ([]*DeleteRequest, error)
	UpdateRequest(ctx context.Context, req *DeleteRequest) error
	CountOverdue(ctx context.Context, now time.Time) (int, error)
}

// ConnectorRevoker walks a user's connectors, decrypting each sealed
// refresh token through the KMS broker and invalidating it at the
// provider through the enclave's revoke path.
type ConnectorRevoker interface {
	// RevokeAllForUser returns the count of connectors it flipped to
	// revoked (including ones that were already revoked upstream, per
	// the invalid_token/invalid_grant idempotency rule) and any
	// per-connector error strings it could not resolve.
	RevokeAllForUser(ctx context.Context, userID string) (revoked int, errs []string)
}

// DataPurger deletes every piece of a user's operational data once all
// connectors are revoked: sealed session memory, automations, runs,
// jobs and their dead-letter rows, devices, preferences. Outbound-action
// idempotency records carry no user column and are not purged.
type DataPurger interface {
	PurgeAllForUser(ctx context.Context, userID string) (sessionsPurged int, err error)
}

// UserStatusSetter flips a user's terminal lifecycle status once
// deletion completes. The user row itself is never removed, anchoring
// audit lineage.
type UserStatusSetter interface {
	MarkUserDeleted(ctx context.Context, userID string) error
}

// AuditLogger records the revoke/purge/terminal events raised during deletion.
type AuditLogger interface {
	LogEvent(ctx context.Context, eventType, userID string, metadata map[string]string)
}

// Service orchestrates the privacy-deletion state machine.
type Service struct {
	store    Store
	revoker  ConnectorRevoker
	purger   DataPurger
	users    UserStatusSetter
	audit    AuditLogger
	slaHours time.Duration
	log      logr.Logger
}

// NewService constructs a Service. slaHorizon is the duration after
// which a non-terminal request is counted as overdue.
func NewService(store Store, revoker ConnectorRevoker, purger DataPurger, users UserStatusSetter, audit AuditLogger, slaHorizon time.Duration, log logr.Logger) *Service {
	return &Service{
		store:    store,
		revoker:  revoker,
		purger:   purger,
		users:    users,
		audit:    audit,
		slaHours: slaHorizon,
		log:      log.WithName("privacy-deletion"),
	}
}

// RequestDeletion queues a new delete request for userID, or returns
// the existing non-terminal request's id if one is already in flight.
func (s *Service) RequestDeletion(ctx context.Context, userID string, now time.Time) (*DeleteRequest, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}

	if existing, err := s.store.FindNonTerminalByUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("privacy: checking for existing request: %w", err)
	} else if existing != nil {
		return existing, nil
	}

	req := &DeleteRequest{
		UserID:    userID,
		Status:    StatusQueued,
		SLADueAt:  now.Add(s.slaHours),
		CreatedAt: now,
		Errors:    []string{},
	}
	if err := s.store.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("privacy: creating delete request: %w", err)
	}

	s.logAudit(ctx, "privacy_delete_requested", req)
	return req, nil
}

// GetOwnedRequest looks up a request, scoped to userID so a cross-user
// lookup returns ErrRequestNotFound rather than leaking existence.
func (s *Service) GetOwnedRequest(ctx context.Context, id, userID string) (*DeleteRequest, error) {
	return s.store.GetOwnedRequest(ctx, id, userID)
}

// ClaimAndProcess claims up to maxRequests due requests and processes
// each to a terminal state, returning the first unrecoverable error
// encountered while claiming (processing errors for individual
// requests are captured on the request itself, not returned here).
func (s *Service) ClaimAndProcess(ctx context.Context, now time.Time, leaseOwner string, leaseSeconds, maxRequests int) error {
	claimed, err := s.store.ClaimDueRequests(ctx, now, leaseOwner, leaseSeconds, maxRequests)
	if err != nil {
		return fmt.Errorf("privacy: claiming delete requests: %w", err)
	}

	for _, req := range claimed {
		if err := s.processClaimed(ctx, req, now); err != nil {
			s.log.Error(err, "delete request processing failed", "requestID", req.ID, "userID", req.UserID)
		}
	}
	return nil
}

// processClaimed drives one claimed request from running through to a
// terminal state: revoke every connector, purge all operational data,
// mark the user deleted, then mark the request completed. Any
// unrecoverable step marks the request failed with a truncated reason
// instead of propagating further.
func (s *Service) processClaimed(ctx context.Context, req *DeleteRequest, now time.Time) error {
	if req.Status != StatusRunning {
		return ErrAlreadyProcessing
	}

	revoked, revokeErrs := s.revoker.RevokeAllForUser(ctx, req.UserID)
	req.ConnectorsRevoked = revoked
	req.Errors = append(req.Errors, revokeErrs...)

	sessionsPurged, err := s.purger.PurgeAllForUser(ctx, req.UserID)
	if err != nil {
		return s.failRequest(ctx, req, fmt.Sprintf("purging user data: %v", err), now)
	}
	req.SessionsPurged = sessionsPurged

	if err := s.users.MarkUserDeleted(ctx, req.UserID); err != nil {
		return s.failRequest(ctx, req, fmt.Sprintf("marking user deleted: %v", err), now)
	}

	return s.completeRequest(ctx, req, now)
}

func (s *Service) completeRequest(ctx context.Context, req *DeleteRequest, now time.Time) error {
	req.CompletedAt = &now
	req.LeaseOwner = ""
	req.LeaseExpiresAt = nil
	if len(req.Errors) > 0 {
		req.Status = StatusFailed
	} else {
		req.Status = StatusCompleted
	}
	if err := s.store.UpdateRequest(ctx, req); err != nil {
		return fmt.Errorf("privacy: updating completed request: %w", err)
	}

	eventType := "privacy_delete_completed"
	if req.Status == StatusFailed {
		eventType = "privacy_delete_failed"
	}
	s.logAudit(ctx, eventType, req)
	return nil
}

func (s *Service) failRequest(ctx context.Context, req *DeleteRequest, reason string, now time.Time) error {
	if len(reason) > maxReasonLength {
		reason = reason[:maxReasonLength]
	}
	req.Status = StatusFailed
	req.CompletedAt = &now
	req.LeaseOwner = ""
	req.LeaseExpiresAt = nil
	req.Errors = append(req.Errors, reason)
	if err := s.store.UpdateRequest(ctx, req); err != nil {
		return fmt.Errorf("privacy: updating failed request: %w", err)
	}
	s.logAudit(ctx, "privacy_delete_failed", req)
	return fmt.Errorf("privacy: delete request failed: %s", reason)
}

// WarnOverdue logs a warning with the count of non-terminal requests
// past their SLA horizon. Intended to be called periodically by the worker.
func (s *Service) WarnOverdue(ctx context.Context, now time.Time) error {
	count, err := s.store.CountOverdue(ctx, now)
	if err != nil {
		return fmt.Errorf("privacy: counting overdue requests: %w", err)
	}
	if count > 0 {
		s.log.Info("privacy-deletion requests overdue", "count", count)
	}
	return nil
}

func (s *Service) logAudit(ctx context.Context, eventType string, req *DeleteRequest) {
	if s.audit == nil {
		return
	}
	s.audit.LogEvent(ctx, eventType, req.UserID, map[string]string{
		"delete_request_id": req.ID,
		"connectors_revoked": fmt.Sprintf("%d", req.ConnectorsRevoked),
		"sessions_purged":    fmt.Sprintf("%d", req.SessionsPurged),
	})
}
