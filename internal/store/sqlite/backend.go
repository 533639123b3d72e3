// Copyright 2025 OpenLabel Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlite is the relational row store behind tasks, projects, media
// rows, segments, jobs, labels and annotation payloads. This file holds the
// Backend (connection owner) and the Queries view that every CRUD method
// hangs off. Queries runs against either the pooled connection or a pending
// transaction, so the same methods serve both plain reads and the locked
// ingestion finalizer.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DBTX abstracts *sql.DB and *sql.Tx so queries compose with transactions.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries bundles every row operation over one DBTX.
type Queries struct {
	dbtx DBTX
}

// Backend owns the database handle and embeds a Queries view bound to it.
type Backend struct {
	Queries
	db *sql.DB
}

// Open creates (or opens) the database file, applies the schema and returns
// a ready Backend. The immediate transaction lock mode makes BeginTx grab
// the write lock up front, which is the serialization point concurrent
// create/restore attempts on the same task rely on.
func Open(path string) (*Backend, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Backend{Queries: Queries{dbtx: db}, db: db}, nil
}

// Close releases the database handle.
func (b *Backend) Close() error {
	return b.db.Close()
}

// WithTaskLock runs fn inside a write transaction that first touches the
// task row, serializing concurrent mutations of the same task. The segment
// and job rows of an ingestion run are committed here so a job is never
// visible before its data exists.
func (b *Backend) WithTaskLock(ctx context.Context, taskID int64, fn func(q *Queries) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin task transaction: %w", err)
	}
	// The self-assignment takes the row's write intent without changing it.
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET id = id WHERE id = ?`, taskID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("lock task %d: %w", taskID, err)
	}
	if err := fn(&Queries{dbtx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
