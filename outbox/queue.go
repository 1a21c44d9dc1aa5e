package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/always-cache/travelnotes/outbox/migrations"
	sqlitemigrate "github.com/always-cache/travelnotes/pkg/sqlite-migrate"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
)

// Queue is a durable FIFO of mutations.
type Queue struct {
	db *sql.DB
}

// Open opens the queue at path. An empty path opens a private in-memory queue.
func Open(path string) (*Queue, error) {
	var dsn string
	memory := strings.TrimSpace(path) == "" || path == ":memory:"
	if memory {
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	} else {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open outbox db: %w", err)
	}
	if memory {
		db.SetMaxOpenConns(1)
	}
	if err := sqlitemigrate.Apply(context.Background(), db, migrations.FS, "."); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run outbox migrations: %w", err)
	}
	return &Queue{db: db}, nil
}

func (q *Queue) Close() error {
	return q.db.Close()
}

// Enqueue appends the mutation and returns it with its sequence number set.
func (q *Queue) Enqueue(ctx context.Context, m Mutation) (Mutation, error) {
	m.EnqueuedAt = time.Now().UTC()
	res, err := q.db.ExecContext(ctx,
		"INSERT INTO mutations (op, user_id, target_id, payload, enqueued_at) VALUES (?, ?, ?, ?, ?)",
		string(m.Op), m.UserID, m.TargetID, []byte(m.Payload), m.EnqueuedAt.UnixMilli())
	if err != nil {
		return Mutation{}, fmt.Errorf("enqueue %s: %w", m.Op, err)
	}
	if m.Seq, err = res.LastInsertId(); err != nil {
		return Mutation{}, err
	}
	return m, nil
}

// Pending returns up to limit mutations, oldest first. A limit of zero or less returns all of them.
func (q *Queue) Pending(ctx context.Context, limit int) ([]Mutation, error) {
	query := "SELECT seq, op, user_id, target_id, payload, enqueued_at FROM mutations ORDER BY seq ASC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending mutations: %w", err)
	}
	defer rows.Close()
	var pending []Mutation
	for rows.Next() {
		var (
			m          Mutation
			op         string
			payload    []byte
			enqueuedAt int64
		)
		if err := rows.Scan(&m.Seq, &op, &m.UserID, &m.TargetID, &payload, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("scan mutation: %w", err)
		}
		m.Op = Op(op)
		m.Payload = payload
		m.EnqueuedAt = time.UnixMilli(enqueuedAt).UTC()
		pending = append(pending, m)
	}
	return pending, rows.Err()
}

func (q *Queue) Remove(ctx context.Context, seq int64) error {
	if _, err := q.db.ExecContext(ctx, "DELETE FROM mutations WHERE seq = ?", seq); err != nil {
		return fmt.Errorf("remove mutation %d: %w", seq, err)
	}
	return nil
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM mutations").Scan(&n); err != nil {
		return 0, fmt.Errorf("count mutations: %w", err)
	}
	return n, nil
}
