// Package store is the one production implementation of the persistence
// model (§4.C/§4.F): a SQLite database reached through database/sql and the
// pure-Go modernc.org/sqlite driver, grounded on the corpus's own
// open-or-recreate store idiom.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps the database handle and the durable-write discipline every
// stage runner needs when persisting a claimed Document.
type Store struct {
	db *sql.DB
}

// Open opens or creates a SQLite database at dbPath, applying the embedded
// schema idempotently. If the existing file has an incompatible schema it
// is deleted and recreated, mirroring the corpus's recovery behavior for a
// local cache database rather than treating a stale dev database as fatal.
func Open(dbPath string) (*Store, error) {
	s, err := openDB(dbPath)
	if err != nil {
		if isSchemaMismatch(err) {
			if rmErr := os.Remove(dbPath); rmErr != nil && !os.IsNotExist(rmErr) {
				return nil, fmt.Errorf("remove incompatible database: %w", rmErr)
			}
			os.Remove(dbPath + "-wal")
			os.Remove(dbPath + "-shm")
			return openDB(dbPath)
		}
		return nil, err
	}
	return s, nil
}

func isSchemaMismatch(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no such column") ||
		strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "SQL logic error")
}

func openDB(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	escaped := strings.ReplaceAll(dbPath, " ", "%20")
	// _txlock=immediate makes every database/sql transaction open with
	// BEGIN IMMEDIATE rather than SQLite's default deferred lock, so
	// claimNext's read-then-update never races another writer (§4.F).
	db, err := sql.Open("sqlite", "file:"+escaped+"?_time_format=sqlite&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for callers that need a raw query (the
// health CLI's month-to-date and source listing reads, for example).
func (s *Store) DB() *sql.DB {
	return s.db
}

// withImmediate runs fn inside a transaction. Every connection in this
// Store's pool was opened with _txlock=immediate, so BeginTx already takes
// SQLite's IMMEDIATE lock up front — giving claimNext the single-writer
// serialization §4.F requires without a hand-rolled advisory lock.
func (s *Store) withImmediate(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin immediate: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
