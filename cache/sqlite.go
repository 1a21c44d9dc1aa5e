package cache

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
)

type SQLiteStorage struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteStorage opens a partition storage with the given filename as the db.
// If file name is empty or "memory", a new private in-memory db is opened.
func NewSQLiteStorage(filename string) (*SQLiteStorage, error) {
	memory := filename == "" || filename == "memory"
	if memory {
		filename = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if memory {
		// every connection must see the same memory db
		db.SetMaxOpenConns(1)
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS partitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			partition TEXT NOT NULL,
			key TEXT NOT NULL,
			stored_at INTEGER NOT NULL,
			bytes BLOB,
			PRIMARY KEY (partition, key)
		)`,
		"CREATE INDEX IF NOT EXISTS entries_key_idx ON entries (key)",
	}
	if !memory {
		stmts = append(stmts, "PRAGMA journal_mode=WAL")
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite storage: %w", err)
		}
	}
	return &SQLiteStorage{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func openPartition(db execer, partition string) error {
	_, err := db.Exec("INSERT OR IGNORE INTO partitions (name, created_at) VALUES (?, ?)",
		partition, time.Now().UnixMilli())
	return err
}

func putEntry(db execer, partition string, entry Entry) error {
	_, err := db.Exec("INSERT OR REPLACE INTO entries (partition, key, stored_at, bytes) VALUES (?, ?, ?, ?)",
		partition, entry.Key, entry.StoredAt.UnixMilli(), entry.Bytes)
	return err
}

func (s *SQLiteStorage) Open(partition string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	return openPartition(s.db, partition)
}

func (s *SQLiteStorage) Put(partition string, entry Entry) error {
	return s.PutAll(partition, []Entry{entry})
}

func (s *SQLiteStorage) PutAll(partition string, entries []Entry) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := openPartition(tx, partition); err != nil {
		tx.Rollback()
		return err
	}
	for _, entry := range entries {
		if err := putEntry(tx, partition, entry); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStorage) Get(partition, key string) (Entry, bool, error) {
	return s.queryEntry(
		"SELECT partition, key, stored_at, bytes FROM entries WHERE partition = ? AND key = ?",
		partition, key)
}

func (s *SQLiteStorage) Match(key string) (Entry, bool, error) {
	return s.queryEntry(`SELECT e.partition, e.key, e.stored_at, e.bytes
		FROM entries e JOIN partitions p ON p.name = e.partition
		WHERE e.key = ? ORDER BY p.id ASC LIMIT 1`, key)
}

func (s *SQLiteStorage) queryEntry(query string, args ...any) (Entry, bool, error) {
	var entry Entry
	var storedAt int64
	err := s.db.QueryRow(query, args...).Scan(&entry.Partition, &entry.Key, &storedAt, &entry.Bytes)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	entry.StoredAt = time.UnixMilli(storedAt)
	return entry, true, nil
}

func (s *SQLiteStorage) Partitions() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM partitions ORDER BY id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStorage) Keys(partition string, cb func(string)) error {
	var exists int
	err := s.db.QueryRow("SELECT COUNT(*) FROM partitions WHERE name = ?", partition).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrorNoPartition
	}
	rows, err := s.db.Query("SELECT key FROM entries WHERE partition = ? ORDER BY key", partition)
	if err != nil {
		return err
	}
	// collect first, the callback may use the storage
	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return err
		}
		keys = append(keys, key)
	}
	rows.Close()
	for _, key := range keys {
		cb(key)
	}
	return rows.Err()
}

func (s *SQLiteStorage) Delete(partition string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	if _, err := tx.Exec("DELETE FROM entries WHERE partition = ?", partition); err != nil {
		tx.Rollback()
		return false, err
	}
	result, err := tx.Exec("DELETE FROM partitions WHERE name = ?", partition)
	if err != nil {
		tx.Rollback()
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		tx.Rollback()
		return false, err
	}
	return rows > 0, tx.Commit()
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
