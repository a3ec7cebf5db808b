// Copyright 2025 GeoPulse
// SPDX-License-Identifier: Apache-2.0

package scoring

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"geopulse/platform/scoring/llm"
)

const (
	callQueueSize     = 10000
	callBatchSize     = 100
	callFlushInterval = 5 * time.Second
	callInsertTimeout = 10 * time.Second
)

// CallLogger is an asynchronous llm.CallSink that persists provider call
// records to PostgreSQL. Records are queued and written in batches off the
// request path; when the queue is full the record is dropped, because a
// slow audit table must never apply backpressure to scoring calls.
type CallLogger struct {
	db           *sql.DB
	queue        chan llm.CallRecord
	wg           sync.WaitGroup
	shutdownChan chan struct{}
	closeOnce    sync.Once
}

// NewCallLogger creates a call logger over an existing database handle.
// A nil handle yields a no-op logger that discards all records.
func NewCallLogger(db *sql.DB) *CallLogger {
	logger := &CallLogger{
		db:           db,
		queue:        make(chan llm.CallRecord, callQueueSize),
		shutdownChan: make(chan struct{}),
	}

	if db != nil {
		if err := createCallLogTable(db); err != nil {
			log.Printf("Failed to create llm_call_logs table: %v", err)
		}
		logger.wg.Add(1)
		go logger.processQueue()
	}

	return logger
}

// Append implements llm.CallSink. Never blocks.
func (l *CallLogger) Append(rec llm.CallRecord) {
	if l.db == nil {
		return
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	select {
	case l.queue <- rec:
	default:
		log.Printf("Call log queue full, dropping record for action %s", rec.Action)
	}
}

// Close flushes queued records and stops the background writer.
func (l *CallLogger) Close() {
	l.closeOnce.Do(func() {
		close(l.shutdownChan)
	})
	l.wg.Wait()
}

// IsHealthy reports whether the backing database is reachable. A no-op
// logger is always healthy.
func (l *CallLogger) IsHealthy() bool {
	if l.db == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	return l.db.PingContext(ctx) == nil
}

func (l *CallLogger) processQueue() {
	defer l.wg.Done()

	ticker := time.NewTicker(callFlushInterval)
	defer ticker.Stop()

	batch := make([]llm.CallRecord, 0, callBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := l.writeBatch(batch); err != nil {
			log.Printf("Failed to write call log batch: %v", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-l.queue:
			batch = append(batch, rec)
			if len(batch) >= callBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-l.shutdownChan:
			for {
				select {
				case rec := <-l.queue:
					batch = append(batch, rec)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (l *CallLogger) writeBatch(records []llm.CallRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), callInsertTimeout)
	defer cancel()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO llm_call_logs (
			id, timestamp, action, provider, model,
			system_prompt, user_prompt, response,
			status, error_message, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`)
	if err != nil {
		return err
	}
	defer func() {
		_ = stmt.Close()
	}()

	for _, rec := range records {
		_, err := stmt.ExecContext(ctx,
			rec.ID, rec.Timestamp, rec.Action, rec.Provider, rec.Model,
			rec.SystemPrompt, rec.UserPrompt, rec.Response,
			rec.Status, rec.ErrorMessage, rec.DurationMS)
		if err != nil {
			log.Printf("Failed to insert call log entry: %v", err)
		}
	}

	return tx.Commit()
}

func createCallLogTable(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS llm_call_logs (
		id VARCHAR(255) PRIMARY KEY,
		timestamp TIMESTAMP NOT NULL,
		action VARCHAR(255) NOT NULL,
		provider VARCHAR(50) NOT NULL,
		model VARCHAR(100),
		system_prompt TEXT,
		user_prompt TEXT,
		response TEXT,
		status VARCHAR(20) NOT NULL,
		error_message TEXT,
		duration_ms BIGINT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_llm_call_logs_timestamp ON llm_call_logs(timestamp);
	CREATE INDEX IF NOT EXISTS idx_llm_call_logs_action ON llm_call_logs(action);
	CREATE INDEX IF NOT EXISTS idx_llm_call_logs_status ON llm_call_logs(status);
	`

	_, err := db.Exec(query)
	return err
}
