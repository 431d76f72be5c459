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

// Package devices tracks the push-notification endpoints a user has
// registered, so the worker's notification fan-out can reach every
// device a user is signed into rather than a single address.
package devices

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Platform identifies the push transport a device token is valid for.
const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
	PlatformWeb     = "web"
)

// Device is a single registered push endpoint for a user.
type Device struct {
	ID        string
	UserID    string
	PushToken string
	Platform  string
	CreatedAt time.Time
}

// Store persists device registrations.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Register upserts a device's push token. Re-registering the same
// (user_id, push_token) pair refreshes platform rather than
// duplicating the row.
func (s *Store) Register(ctx context.Context, userID, pushToken, platform string) (*Device, error) {
	const query = `
INSERT INTO devices (user_id, push_token, platform)
VALUES ($1, $2, $3)
ON CONFLICT (user_id, push_token) DO UPDATE SET platform = EXCLUDED.platform
RETURNING id, created_at`

	d := &Device{UserID: userID, PushToken: pushToken, Platform: platform}
	if err := s.pool.QueryRow(ctx, query, userID, pushToken, platform).Scan(&d.ID, &d.CreatedAt); err != nil {
		return nil, fmt.Errorf("devices: registering device: %w", err)
	}
	return d, nil
}

// ListForUser returns every device registered for userID, oldest
// first, for the worker's per-device notification fan-out.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]*Device, error) {
	const query = `
SELECT id, user_id, push_token, platform, created_at
FROM devices
WHERE user_id = $1
ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("devices: listing devices: %w", err)
	}
	defer rows.Close()

	var out []*Device
	for rows.Next() {
		d := &Device{}
		if err := rows.Scan(&d.ID, &d.UserID, &d.PushToken, &d.Platform, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("devices: scanning device: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("devices: iterating devices: %w", err)
	}
	return out, nil
}

// Deregister removes a single device, used when a push provider
// reports a token as no longer valid.
func (s *Store) Deregister(ctx context.Context, userID, pushToken string) error {
	const query = `DELETE FROM devices WHERE user_id = $1 AND push_token = $2`
	_, err := s.pool.Exec(ctx, query, userID, pushToken)
	if err != nil {
		return fmt.Errorf("devices: deregistering device: %w", err)
	}
	return nil
}

// DeleteAllForUser removes every device row for userID. It implements
// internal/privacy.DataPurger's device-fan-out leg: once a user is
// deleted, their devices should stop receiving any push traffic.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) error {
	const query = `DELETE FROM devices WHERE user_id = $1`
	_, err := s.pool.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("devices: deleting devices for user: %w", err)
	}
	return nil
}
