// Package datastore mirrors one user's folders and notes in memory.
// Local state only changes after the service confirmed a write.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/always-cache/travelnotes/outbox"
	"github.com/always-cache/travelnotes/persistence"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrQueued is returned when the service was unreachable and the write was queued for sync.
// Local state does not contain the queued write until the store is loaded again after sync.
var ErrQueued = errors.New("queued for sync while offline")

type Config struct {
	Service persistence.Service
	UserID  string
	// Optional queue for writes made while the service is unreachable.
	Outbox *outbox.Queue
	Logger *zerolog.Logger
}

type Store struct {
	svc    persistence.Service
	userID string
	outbox *outbox.Queue
	log    zerolog.Logger

	mu sync.RWMutex
	// oldest first
	folders []persistence.Folder
	// most recently updated first
	notes          []persistence.Note
	selectedFolder string
	selectedNote   string
}

func New(config Config) *Store {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	return &Store{
		svc:    config.Service,
		userID: config.UserID,
		outbox: config.Outbox,
		log:    logger.With().Str("component", "datastore").Str("user", config.UserID).Logger(),
	}
}

// Load replaces local state with the service's. Without a user the store is emptied.
func (s *Store) Load(ctx context.Context) error {
	if s.userID == "" {
		s.mu.Lock()
		s.folders, s.notes = nil, nil
		s.mu.Unlock()
		return nil
	}
	folders, err := s.svc.ListFolders(ctx, s.userID)
	if err != nil {
		return fmt.Errorf("load folders: %w", err)
	}
	notes, err := s.svc.ListNotes(ctx, s.userID)
	if err != nil {
		return fmt.Errorf("load notes: %w", err)
	}
	s.mu.Lock()
	s.folders, s.notes = folders, notes
	s.mu.Unlock()
	s.log.Debug().Int("folders", len(folders)).Int("notes", len(notes)).Msg("Loaded")
	return nil
}

func (s *Store) Folders() []persistence.Folder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.folders)
}

func (s *Store) Notes() []persistence.Note {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.notes)
}

// FoldersByParent returns the children of parentID, or the root folders if it is nil.
func (s *Store) FoldersByParent(parentID *string) []persistence.Folder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var children []persistence.Folder
	for _, f := range s.folders {
		if sameParent(f.ParentID, parentID) {
			children = append(children, f)
		}
	}
	return children
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *Store) NotesByFolder(folderID string) []persistence.Note {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var notes []persistence.Note
	for _, n := range s.notes {
		if n.FolderID == folderID {
			notes = append(notes, n)
		}
	}
	return notes
}

func (s *Store) Folder(id string) (persistence.Folder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := slices.IndexFunc(s.folders, func(f persistence.Folder) bool { return f.ID == id })
	if i < 0 {
		return persistence.Folder{}, false
	}
	return s.folders[i], true
}

func (s *Store) Note(id string) (persistence.Note, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := slices.IndexFunc(s.notes, func(n persistence.Note) bool { return n.ID == id })
	if i < 0 {
		return persistence.Note{}, false
	}
	return s.notes[i], true
}

func (s *Store) SelectFolder(id string) {
	s.mu.Lock()
	s.selectedFolder = id
	s.mu.Unlock()
}

func (s *Store) SelectNote(id string) {
	s.mu.Lock()
	s.selectedNote = id
	s.mu.Unlock()
}

// Selection returns the selected folder and note ids, empty if none.
func (s *Store) Selection() (folderID, noteID string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedFolder, s.selectedNote
}

func (s *Store) CreateFolder(ctx context.Context, name string, parentID *string) (persistence.Folder, error) {
	in := persistence.NewFolder{ID: uuid.NewString(), Name: name, ParentID: parentID}
	f, err := s.svc.CreateFolder(ctx, s.userID, in)
	if err != nil {
		return persistence.Folder{}, s.queue(ctx, err, func() (outbox.Mutation, error) {
			return outbox.CreateFolder(s.userID, in)
		})
	}
	s.mu.Lock()
	s.folders = append(s.folders, f)
	s.mu.Unlock()
	return f, nil
}

func (s *Store) UpdateFolder(ctx context.Context, id string, patch persistence.FolderPatch) (persistence.Folder, error) {
	f, err := s.svc.UpdateFolder(ctx, s.userID, id, patch)
	if err != nil {
		return persistence.Folder{}, s.queue(ctx, err, func() (outbox.Mutation, error) {
			return outbox.UpdateFolder(s.userID, id, patch)
		})
	}
	s.mu.Lock()
	if i := slices.IndexFunc(s.folders, func(f persistence.Folder) bool { return f.ID == id }); i >= 0 {
		s.folders[i] = f
	}
	s.mu.Unlock()
	return f, nil
}

// DeleteFolder deletes the folder with its descendant folders and all their notes.
func (s *Store) DeleteFolder(ctx context.Context, id string) error {
	if err := s.svc.DeleteFolder(ctx, s.userID, id); err != nil {
		return s.queue(ctx, err, func() (outbox.Mutation, error) {
			return outbox.DeleteFolder(s.userID, id)
		})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.subtreeLocked(id)
	s.folders = slices.DeleteFunc(s.folders, func(f persistence.Folder) bool { return removed[f.ID] })
	s.notes = slices.DeleteFunc(s.notes, func(n persistence.Note) bool {
		if removed[n.FolderID] {
			if s.selectedNote == n.ID {
				s.selectedNote = ""
			}
			return true
		}
		return false
	})
	if removed[s.selectedFolder] {
		s.selectedFolder = ""
	}
	return nil
}

// subtreeLocked returns the ids of the folder and all its descendants.
func (s *Store) subtreeLocked(id string) map[string]bool {
	subtree := map[string]bool{id: true}
	for grew := true; grew; {
		grew = false
		for _, f := range s.folders {
			if f.ParentID != nil && subtree[*f.ParentID] && !subtree[f.ID] {
				subtree[f.ID] = true
				grew = true
			}
		}
	}
	return subtree
}

// CreateNote creates an empty note in the folder.
func (s *Store) CreateNote(ctx context.Context, title, folderID string) (persistence.Note, error) {
	in := persistence.NewNote{ID: uuid.NewString(), Title: title, FolderID: folderID}
	n, err := s.svc.CreateNote(ctx, s.userID, in)
	if err != nil {
		return persistence.Note{}, s.queue(ctx, err, func() (outbox.Mutation, error) {
			return outbox.CreateNote(s.userID, in)
		})
	}
	s.mu.Lock()
	s.notes = slices.Insert(s.notes, 0, n)
	s.mu.Unlock()
	return n, nil
}

func (s *Store) UpdateNote(ctx context.Context, id string, patch persistence.NotePatch) (persistence.Note, error) {
	n, err := s.svc.UpdateNote(ctx, s.userID, id, patch)
	if err != nil {
		return persistence.Note{}, s.queue(ctx, err, func() (outbox.Mutation, error) {
			return outbox.UpdateNote(s.userID, id, patch)
		})
	}
	s.mu.Lock()
	s.notes = slices.DeleteFunc(s.notes, func(n persistence.Note) bool { return n.ID == id })
	s.notes = slices.Insert(s.notes, 0, n)
	s.mu.Unlock()
	return n, nil
}

func (s *Store) DeleteNote(ctx context.Context, id string) error {
	if err := s.svc.DeleteNote(ctx, s.userID, id); err != nil {
		return s.queue(ctx, err, func() (outbox.Mutation, error) {
			return outbox.DeleteNote(s.userID, id)
		})
	}
	s.mu.Lock()
	s.notes = slices.DeleteFunc(s.notes, func(n persistence.Note) bool { return n.ID == id })
	if s.selectedNote == id {
		s.selectedNote = ""
	}
	s.mu.Unlock()
	return nil
}

// queue records the write in the outbox if the service was unreachable.
// Any other error is returned as is.
func (s *Store) queue(ctx context.Context, err error, mutation func() (outbox.Mutation, error)) error {
	if s.outbox == nil || !errors.Is(err, persistence.ErrUnavailable) {
		return err
	}
	m, merr := mutation()
	if merr != nil {
		return merr
	}
	m, qerr := s.outbox.Enqueue(ctx, m)
	if qerr != nil {
		return fmt.Errorf("%w (queueing failed: %v)", err, qerr)
	}
	s.log.Info().Int64("seq", m.Seq).Str("op", string(m.Op)).Msg("Service unreachable, queued write")
	return ErrQueued
}
