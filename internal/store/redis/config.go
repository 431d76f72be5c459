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

// Package redis is an optional hot cache sitting in front of
// internal/session's Postgres store. It never becomes the system of
// record: a cache miss or a Redis outage falls back to Postgres
// unconditionally, so the sealed session envelope stays durable even
// when the cache tier is absent.
package redis

import (
	"crypto/tls"
	"time"
)

const defaultKeyPrefix = "sess-hot:"

// Config holds connection settings for the hot cache client.
type Config struct {
	// Addrs lists Redis server addresses. A single address creates a
	// standalone client; multiple addresses create a cluster client.
	Addrs []string
	// Password is used for Redis AUTH.
	Password string
	// DB selects the database number. Ignored in cluster mode.
	DB int
	// KeyPrefix is prepended to every key written by the cache.
	// Default: "sess-hot:".
	KeyPrefix string
	// PoolSize overrides the go-redis default connection pool size.
	PoolSize int
	// MaxRetries is the maximum number of retries for a command.
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	TLS          *tls.Config
}
