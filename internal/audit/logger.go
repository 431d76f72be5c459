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

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/altairalabs/assistant-core/internal/pgutil"
)

const (
	// DefaultBufferSize is the async event buffer's capacity.
	DefaultBufferSize = 1024
	// DefaultWorkers is the number of background batch-writer goroutines.
	DefaultWorkers = 2
	// DefaultBatchSize caps how many entries one INSERT writes.
	DefaultBatchSize = 50
	// DefaultFlushInterval is the maximum time an entry waits before being written.
	DefaultFlushInterval = 500 * time.Millisecond
	// DefaultPageSize is used when a caller requests a zero/negative limit.
	DefaultPageSize = 50
	// MaxPageSize bounds how many rows one Query call can return.
	MaxPageSize = 500
)

// LoggerConfig configures Logger's async writer.
type LoggerConfig struct {
	BufferSize    int
	Workers       int
	BatchSize     int
	FlushInterval time.Duration
}

// dbPool abstracts the database operations the logger needs, so tests
// can substitute a fake without standing up a pgxpool.Pool.
type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Logger writes audit events to Postgres asynchronously: LogEvent
// redacts and enqueues; background workers batch-insert on a size or
// time trigger, whichever comes first.
type Logger struct {
	pool   dbPool
	buffer chan Event
	stopCh chan struct{}
	wg     sync.WaitGroup
	log    logr.Logger
	cfg    LoggerConfig
}

// NewLogger constructs a Logger writing to pool.
func NewLogger(pool *pgxpool.Pool, log logr.Logger, cfg LoggerConfig) *Logger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}

	l := &Logger{
		pool:   pool,
		buffer: make(chan Event, cfg.BufferSize),
		stopCh: make(chan struct{}),
		log:    log.WithName("audit-logger"),
		cfg:    cfg,
	}

	for i := 0; i < cfg.Workers; i++ {
		l.wg.Add(1)
		go l.worker()
	}
	return l
}

// LogEvent redacts metadata and enqueues the event. Non-blocking: a
// full buffer drops the entry rather than stalling the caller, since
// an audit write must never be able to back-pressure a user request.
func (l *Logger) LogEvent(_ context.Context, eventType, userID string, metadata map[string]string) {
	event := Event{
		UserID:     userID,
		EventType:  eventType,
		OccurredAt: time.Now().UTC(),
		Metadata:   RedactMetadata(metadata),
	}

	select {
	case l.buffer <- event:
	default:
		l.log.V(1).Info("audit buffer full, dropping entry", "eventType", eventType)
	}
}

// Close stops the background workers, draining any buffered entries first.
func (l *Logger) Close() error {
	close(l.stopCh)
	l.wg.Wait()
	return nil
}

func (l *Logger) worker() {
	defer l.wg.Done()

	batch := make([]Event, 0, l.cfg.BatchSize)
	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-l.buffer:
			if !ok {
				l.flush(batch)
				return
			}
			batch = append(batch, event)
			if len(batch) >= l.cfg.BatchSize {
				l.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = batch[:0]
			}
		case <-l.stopCh:
			batch = l.drain(batch)
			l.flush(batch)
			return
		}
	}
}

func (l *Logger) drain(batch []Event) []Event {
	for {
		select {
		case event, ok := <-l.buffer:
			if !ok {
				return batch
			}
			batch = append(batch, event)
			if len(batch) >= l.cfg.BatchSize {
				l.flush(batch)
				batch = batch[:0]
			}
		default:
			return batch
		}
	}
}

func (l *Logger) flush(batch []Event) {
	if len(batch) == 0 || l.pool == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	query, args := buildBatchInsert(batch)
	if _, err := l.pool.Exec(ctx, query, args...); err != nil {
		l.log.Error(err, "failed to write audit batch", "count", len(batch))
	}
}

func buildBatchInsert(events []Event) (string, []any) {
	const cols = 4
	values := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*cols)

	for i, e := range events {
		base := i * cols
		placeholders := make([]string, cols)
		for j := 0; j < cols; j++ {
			placeholders[j] = "$" + strconv.Itoa(base+j+1)
		}
		values = append(values, "("+strings.Join(placeholders, ", ")+")")

		metadataJSON, _ := json.Marshal(e.Metadata)
		if len(metadataJSON) == 0 {
			metadataJSON = []byte("{}")
		}
		args = append(args, pgutil.NullString(e.UserID), e.EventType, e.OccurredAt, metadataJSON)
	}

	query := `INSERT INTO audit_events (user_id, event_type, occurred_at, metadata) VALUES ` + strings.Join(values, ", ")
	return query, args
}

// Query lists userID's audit events in descending (occurred_at, id)
// order, starting strictly after cursor (an empty cursor starts from
// the most recent event).
func Query(ctx context.Context, pool dbPool, userID, cursor string, limit int) (Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	var afterMicros int64 = -1
	var afterID string
	if cursor != "" {
		decoded, err := DecodeCursor(cursor)
		if err != nil {
			return Page{}, err
		}
		afterMicros = decoded.CreatedAtMicros
		afterID = decoded.ID
	}

	query := `
SELECT id, user_id, event_type, occurred_at, metadata
FROM audit_events
WHERE user_id = $1
  AND ($2 < 0 OR (occurred_at, id) < (to_timestamp($2 / 1000000.0), $3::uuid))
ORDER BY occurred_at DESC, id DESC
LIMIT $4`

	rows, err := pool.Query(ctx, query, userID, afterMicros, afterID, limit+1)
	if err != nil {
		return Page{}, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var metadataJSON []byte
		if err := rows.Scan(&e.ID, &e.UserID, &e.EventType, &e.OccurredAt, &metadataJSON); err != nil {
			return Page{}, fmt.Errorf("audit: scan: %w", err)
		}
		if len(metadataJSON) > 0 {
			_ = json.Unmarshal(metadataJSON, &e.Metadata)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("audit: rows: %w", err)
	}

	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}

	page := Page{Events: events, HasMore: hasMore}
	if hasMore && len(events) > 0 {
		last := events[len(events)-1]
		page.NextCursor = Cursor{CreatedAtMicros: last.OccurredAt.UnixMicro(), ID: last.ID}.Encode()
	}
	return page, nil
}
