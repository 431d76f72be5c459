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

package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/altairalabs/assistant-core/internal/session"

	"github.com/go-logr/logr"
)

// Compile-time interface check.
var _ session.Store = (*CachedStore)(nil)

// CachedStore wraps a session.Store with a Redis read-through cache.
// Every write goes to both tiers; every read tries Redis first and
// falls back to the underlying store on a miss or a Redis error,
// repopulating the cache on the way back. A Redis outage degrades
// this to the underlying store transparently — it never surfaces as a
// session lookup failure.
type CachedStore struct {
	client    goredis.UniversalClient
	next      session.Store
	keyPrefix string
	log       logr.Logger
	// ownsClient is true only for a client built by New.
	ownsClient bool
}

// New wraps next with a Redis cache built from cfg.
func New(cfg Config, next session.Store, log logr.Logger) (*CachedStore, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("redis: at least one address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}

	opts := &goredis.UniversalOptions{
		Addrs:        cfg.Addrs,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		TLSConfig:    cfg.TLS,
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	client := goredis.NewUniversalClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: failed to connect: %w", err)
	}

	return &CachedStore{client: client, next: next, keyPrefix: prefix, log: log.WithName("session-cache"), ownsClient: true}, nil
}

// NewFromClient wraps an existing client the caller retains ownership
// of; Close is then a no-op.
func NewFromClient(client goredis.UniversalClient, keyPrefix string, next session.Store, log logr.Logger) *CachedStore {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &CachedStore{client: client, next: next, keyPrefix: keyPrefix, log: log.WithName("session-cache")}
}

func (c *CachedStore) key(userID, sessionID string) string {
	return c.keyPrefix + userID + ":" + sessionID
}

func (c *CachedStore) Put(ctx context.Context, env *session.Envelope) error {
	if err := c.next.Put(ctx, env); err != nil {
		return err
	}

	ttl := time.Until(env.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, c.key(env.UserID, env.SessionID), env.Blob, ttl).Err(); err != nil {
		c.log.V(1).Info("cache write failed, session remains durable in the backing store", "error", err.Error())
	}
	return nil
}

func (c *CachedStore) Get(ctx context.Context, userID, sessionID string) (*session.Envelope, error) {
	blob, err := c.client.Get(ctx, c.key(userID, sessionID)).Bytes()
	if err == nil {
		return &session.Envelope{UserID: userID, SessionID: sessionID, Blob: blob}, nil
	}
	if err != goredis.Nil {
		c.log.V(1).Info("cache read failed, falling back to backing store", "error", err.Error())
	}

	env, err := c.next.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	ttl := time.Until(env.ExpiresAt)
	if ttl > 0 {
		if err := c.client.Set(ctx, c.key(userID, sessionID), env.Blob, ttl).Err(); err != nil {
			c.log.V(1).Info("cache repopulation failed", "error", err.Error())
		}
	}
	return env, nil
}

func (c *CachedStore) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	n, err := c.next.DeleteAllForUser(ctx, userID)
	if err != nil {
		return n, err
	}

	iter := c.client.Scan(ctx, 0, c.keyPrefix+userID+":*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.log.V(1).Info("cache scan failed during purge, entries will expire naturally", "error", err.Error())
		return n, nil
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			c.log.V(1).Info("cache delete failed during purge, entries will expire naturally", "error", err.Error())
		}
	}
	return n, nil
}

// Ping verifies connectivity to Redis.
func (c *CachedStore) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close shuts down the underlying client when New created it.
func (c *CachedStore) Close() error {
	if !c.ownsClient {
		return nil
	}
	return c.client.Close()
}
