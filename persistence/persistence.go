// Package persistence defines the per-user folder and note store the notes application syncs with.
package persistence

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalid         = errors.New("invalid request")
	ErrUnauthenticated = errors.New("unauthenticated")
	// The service could not be reached. Only returned by remote clients.
	ErrUnavailable = errors.New("service unavailable")
)

type Folder struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ParentID  *string   `json:"parent_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Note struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	// Rich text markup.
	Content   string    `json:"content"`
	FolderID  string    `json:"folder_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewFolder describes a folder to create.
// ID may be set by the caller so that a repeated create is a no-op.
type NewFolder struct {
	ID       string  `json:"id,omitempty"`
	Name     string  `json:"name"`
	ParentID *string `json:"parent_id,omitempty"`
}

type NewNote struct {
	ID       string `json:"id,omitempty"`
	Title    string `json:"title"`
	FolderID string `json:"folder_id"`
}

// FolderPatch changes the set fields of a folder.
// The parent is changed only if SetParent is true; a nil ParentID then moves the folder to the root.
type FolderPatch struct {
	Name      *string `json:"name,omitempty"`
	SetParent bool    `json:"set_parent,omitempty"`
	ParentID  *string `json:"parent_id,omitempty"`
}

type NotePatch struct {
	Title    *string `json:"title,omitempty"`
	Content  *string `json:"content,omitempty"`
	FolderID *string `json:"folder_id,omitempty"`
}

// Service stores the folders and notes of each user.
// Every operation only sees the rows owned by userID.
type Service interface {
	// ListFolders returns folders oldest first.
	ListFolders(ctx context.Context, userID string) ([]Folder, error)
	// ListNotes returns notes most recently updated first.
	ListNotes(ctx context.Context, userID string) ([]Note, error)
	CreateFolder(ctx context.Context, userID string, in NewFolder) (Folder, error)
	UpdateFolder(ctx context.Context, userID, id string, patch FolderPatch) (Folder, error)
	// DeleteFolder deletes the folder, its descendant folders and all their notes.
	DeleteFolder(ctx context.Context, userID, id string) error
	// CreateNote creates a note with empty content.
	CreateNote(ctx context.Context, userID string, in NewNote) (Note, error)
	UpdateNote(ctx context.Context, userID, id string, patch NotePatch) (Note, error)
	DeleteNote(ctx context.Context, userID, id string) error
}

func StringPtr(s string) *string {
	return &s
}
