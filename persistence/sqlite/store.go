// Package sqlite provides the SQLite-backed folder and note store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/always-cache/travelnotes/persistence"
	"github.com/always-cache/travelnotes/persistence/sqlite/migrations"
	sqlitemigrate "github.com/always-cache/travelnotes/pkg/sqlite-migrate"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
)

// Store persists folders and notes in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ persistence.Service = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the store at path and applies the embedded migrations.
// An empty path or ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	var dsn string
	memory := strings.TrimSpace(path) == "" || path == ":memory:"
	if memory {
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	} else {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if memory {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(context.Background(), db, migrations.FS, "."); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const folderColumns = "id, name, parent_id, user_id, created_at, updated_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanFolder(row scanner) (persistence.Folder, error) {
	var (
		f                    persistence.Folder
		parent               sql.NullString
		createdAt, updatedAt int64
	)
	if err := row.Scan(&f.ID, &f.Name, &parent, &f.UserID, &createdAt, &updatedAt); err != nil {
		return persistence.Folder{}, err
	}
	if parent.Valid {
		f.ParentID = &parent.String
	}
	f.CreatedAt = fromMillis(createdAt)
	f.UpdatedAt = fromMillis(updatedAt)
	return f, nil
}

const noteColumns = "id, title, content, folder_id, user_id, created_at, updated_at"

func scanNote(row scanner) (persistence.Note, error) {
	var (
		n                    persistence.Note
		createdAt, updatedAt int64
	)
	if err := row.Scan(&n.ID, &n.Title, &n.Content, &n.FolderID, &n.UserID, &createdAt, &updatedAt); err != nil {
		return persistence.Note{}, err
	}
	n.CreatedAt = fromMillis(createdAt)
	n.UpdatedAt = fromMillis(updatedAt)
	return n, nil
}

func getFolder(ctx context.Context, q queryer, userID, id string) (persistence.Folder, error) {
	f, err := scanFolder(q.QueryRowContext(ctx,
		"SELECT "+folderColumns+" FROM folders WHERE id = ? AND user_id = ?", id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.Folder{}, fmt.Errorf("folder %s: %w", id, persistence.ErrNotFound)
	}
	return f, err
}

func getNote(ctx context.Context, q queryer, userID, id string) (persistence.Note, error) {
	n, err := scanNote(q.QueryRowContext(ctx,
		"SELECT "+noteColumns+" FROM notes WHERE id = ? AND user_id = ?", id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.Note{}, fmt.Errorf("note %s: %w", id, persistence.ErrNotFound)
	}
	return n, err
}

// newID returns id if it is a valid UUID, or a new one if id is empty.
func newID(id string) (string, error) {
	if id == "" {
		return uuid.NewString(), nil
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("id %q: %w", id, persistence.ErrInvalid)
	}
	return parsed.String(), nil
}

func (s *Store) ListFolders(ctx context.Context, userID string) ([]persistence.Folder, error) {
	if userID == "" {
		return nil, persistence.ErrUnauthenticated
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+folderColumns+" FROM folders WHERE user_id = ? ORDER BY created_at ASC, rowid ASC", userID)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()
	folders := []persistence.Folder{}
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

func (s *Store) ListNotes(ctx context.Context, userID string) ([]persistence.Note, error) {
	if userID == "" {
		return nil, persistence.ErrUnauthenticated
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+noteColumns+" FROM notes WHERE user_id = ? ORDER BY updated_at DESC, rowid DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()
	notes := []persistence.Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// CreateFolder inserts a folder. Creating a folder the user already owns returns it unchanged.
func (s *Store) CreateFolder(ctx context.Context, userID string, in persistence.NewFolder) (persistence.Folder, error) {
	if userID == "" {
		return persistence.Folder{}, persistence.ErrUnauthenticated
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return persistence.Folder{}, fmt.Errorf("folder name is required: %w", persistence.ErrInvalid)
	}
	id, err := newID(in.ID)
	if err != nil {
		return persistence.Folder{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.Folder{}, err
	}
	defer tx.Rollback()

	existing, err := s.existingFolder(ctx, tx, userID, id)
	if err != nil {
		return persistence.Folder{}, err
	}
	if existing != nil {
		return *existing, nil
	}
	if in.ParentID != nil {
		if _, err := getFolder(ctx, tx, userID, *in.ParentID); err != nil {
			return persistence.Folder{}, invalidIfNotFound(err)
		}
	}
	now := toMillis(s.now())
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO folders (id, user_id, name, parent_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		id, userID, name, in.ParentID, now, now); err != nil {
		return persistence.Folder{}, fmt.Errorf("insert folder: %w", err)
	}
	f, err := getFolder(ctx, tx, userID, id)
	if err != nil {
		return persistence.Folder{}, err
	}
	return f, tx.Commit()
}

// existingFolder returns the folder with id if userID owns it.
// An id owned by another user is invalid.
func (s *Store) existingFolder(ctx context.Context, tx *sql.Tx, userID, id string) (*persistence.Folder, error) {
	var owner string
	err := tx.QueryRowContext(ctx, "SELECT user_id FROM folders WHERE id = ?", id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if owner != userID {
		return nil, fmt.Errorf("folder id %s is taken: %w", id, persistence.ErrInvalid)
	}
	f, err := getFolder(ctx, tx, userID, id)
	return &f, err
}

func (s *Store) UpdateFolder(ctx context.Context, userID, id string, patch persistence.FolderPatch) (persistence.Folder, error) {
	if userID == "" {
		return persistence.Folder{}, persistence.ErrUnauthenticated
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.Folder{}, err
	}
	defer tx.Rollback()

	f, err := getFolder(ctx, tx, userID, id)
	if err != nil {
		return persistence.Folder{}, err
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return persistence.Folder{}, fmt.Errorf("folder name is required: %w", persistence.ErrInvalid)
		}
		f.Name = name
	}
	if patch.SetParent {
		if patch.ParentID != nil {
			if err := checkMove(ctx, tx, userID, id, *patch.ParentID); err != nil {
				return persistence.Folder{}, err
			}
		}
		f.ParentID = patch.ParentID
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE folders SET name = ?, parent_id = ?, updated_at = ? WHERE id = ? AND user_id = ?",
		f.Name, f.ParentID, toMillis(s.now()), id, userID); err != nil {
		return persistence.Folder{}, fmt.Errorf("update folder: %w", err)
	}
	f, err = getFolder(ctx, tx, userID, id)
	if err != nil {
		return persistence.Folder{}, err
	}
	return f, tx.Commit()
}

const subtreeCTE = `WITH RECURSIVE subtree(id) AS (
	SELECT id FROM folders WHERE id = ? AND user_id = ?
	UNION
	SELECT f.id FROM folders f JOIN subtree s ON f.parent_id = s.id WHERE f.user_id = ?
) `

// checkMove rejects a parent that is missing or inside the moved folder's subtree.
func checkMove(ctx context.Context, tx *sql.Tx, userID, id, parentID string) error {
	if _, err := getFolder(ctx, tx, userID, parentID); err != nil {
		return invalidIfNotFound(err)
	}
	var inSubtree int
	err := tx.QueryRowContext(ctx,
		subtreeCTE+"SELECT COUNT(*) FROM subtree WHERE id = ?",
		id, userID, userID, parentID).Scan(&inSubtree)
	if err != nil {
		return fmt.Errorf("check folder move: %w", err)
	}
	if inSubtree > 0 {
		return fmt.Errorf("folder cannot be moved into itself: %w", persistence.ErrInvalid)
	}
	return nil
}

func (s *Store) DeleteFolder(ctx context.Context, userID, id string) error {
	if userID == "" {
		return persistence.ErrUnauthenticated
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := getFolder(ctx, tx, userID, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		subtreeCTE+"DELETE FROM notes WHERE user_id = ? AND folder_id IN (SELECT id FROM subtree)",
		id, userID, userID, userID); err != nil {
		return fmt.Errorf("delete folder notes: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		subtreeCTE+"DELETE FROM folders WHERE user_id = ? AND id IN (SELECT id FROM subtree)",
		id, userID, userID, userID); err != nil {
		return fmt.Errorf("delete folders: %w", err)
	}
	return tx.Commit()
}

// CreateNote inserts an empty note. Creating a note the user already owns returns it unchanged.
func (s *Store) CreateNote(ctx context.Context, userID string, in persistence.NewNote) (persistence.Note, error) {
	if userID == "" {
		return persistence.Note{}, persistence.ErrUnauthenticated
	}
	id, err := newID(in.ID)
	if err != nil {
		return persistence.Note{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.Note{}, err
	}
	defer tx.Rollback()

	var owner string
	err = tx.QueryRowContext(ctx, "SELECT user_id FROM notes WHERE id = ?", id).Scan(&owner)
	switch {
	case err == nil && owner == userID:
		return getNote(ctx, tx, userID, id)
	case err == nil:
		return persistence.Note{}, fmt.Errorf("note id %s is taken: %w", id, persistence.ErrInvalid)
	case !errors.Is(err, sql.ErrNoRows):
		return persistence.Note{}, err
	}

	if _, err := getFolder(ctx, tx, userID, in.FolderID); err != nil {
		return persistence.Note{}, invalidIfNotFound(err)
	}
	now := toMillis(s.now())
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO notes (id, user_id, folder_id, title, content, created_at, updated_at) VALUES (?, ?, ?, ?, '', ?, ?)",
		id, userID, in.FolderID, strings.TrimSpace(in.Title), now, now); err != nil {
		return persistence.Note{}, fmt.Errorf("insert note: %w", err)
	}
	n, err := getNote(ctx, tx, userID, id)
	if err != nil {
		return persistence.Note{}, err
	}
	return n, tx.Commit()
}

func (s *Store) UpdateNote(ctx context.Context, userID, id string, patch persistence.NotePatch) (persistence.Note, error) {
	if userID == "" {
		return persistence.Note{}, persistence.ErrUnauthenticated
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.Note{}, err
	}
	defer tx.Rollback()

	n, err := getNote(ctx, tx, userID, id)
	if err != nil {
		return persistence.Note{}, err
	}
	if patch.Title != nil {
		n.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Content != nil {
		n.Content = *patch.Content
	}
	if patch.FolderID != nil {
		if _, err := getFolder(ctx, tx, userID, *patch.FolderID); err != nil {
			return persistence.Note{}, invalidIfNotFound(err)
		}
		n.FolderID = *patch.FolderID
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE notes SET title = ?, content = ?, folder_id = ?, updated_at = ? WHERE id = ? AND user_id = ?",
		n.Title, n.Content, n.FolderID, toMillis(s.now()), id, userID); err != nil {
		return persistence.Note{}, fmt.Errorf("update note: %w", err)
	}
	n, err = getNote(ctx, tx, userID, id)
	if err != nil {
		return persistence.Note{}, err
	}
	return n, tx.Commit()
}

func (s *Store) DeleteNote(ctx context.Context, userID, id string) error {
	if userID == "" {
		return persistence.ErrUnauthenticated
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM notes WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("note %s: %w", id, persistence.ErrNotFound)
	}
	return nil
}

// invalidIfNotFound turns a missing referenced row into an invalid request.
func invalidIfNotFound(err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return fmt.Errorf("%v: %w", err, persistence.ErrInvalid)
	}
	return err
}
