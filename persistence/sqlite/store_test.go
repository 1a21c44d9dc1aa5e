package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/always-cache/travelnotes/persistence"
)

const (
	alice = "alice"
	bob   = "bob"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func mustFolder(t *testing.T, s *Store, user, name string, parent *string) persistence.Folder {
	t.Helper()
	f, err := s.CreateFolder(context.Background(), user, persistence.NewFolder{Name: name, ParentID: parent})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func mustNote(t *testing.T, s *Store, user, title, folderID string) persistence.Note {
	t.Helper()
	n, err := s.CreateNote(context.Background(), user, persistence.NewNote{Title: title, FolderID: folderID})
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestFoldersOrderedByCreation(t *testing.T) {
	s := openTestStore(t)
	europe := mustFolder(t, s, alice, "Europe", nil)
	mustFolder(t, s, alice, "Lisbon", &europe.ID)
	mustFolder(t, s, alice, "Asia", nil)
	mustFolder(t, s, bob, "Bob's trips", nil)

	folders, err := s.ListFolders(context.Background(), alice)
	if err != nil {
		t.Fatal(err)
	}
	if len(folders) != 3 {
		t.Fatalf("%d folders", len(folders))
	}
	for i, name := range []string{"Europe", "Lisbon", "Asia"} {
		if folders[i].Name != name {
			t.Fatalf("Folder %d is %s", i, folders[i].Name)
		}
	}
	if folders[1].ParentID == nil || *folders[1].ParentID != europe.ID {
		t.Fatal("Parent not stored")
	}
}

func TestNotesOrderedByUpdate(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	f := mustFolder(t, s, alice, "Japan", nil)
	first := mustNote(t, s, alice, "Tokyo", f.ID)
	mustNote(t, s, alice, "Kyoto", f.ID)

	if first.Content != "" {
		t.Fatalf("New note content is %q", first.Content)
	}
	if _, err := s.UpdateNote(ctx, alice, first.ID, persistence.NotePatch{Content: persistence.StringPtr("<p>sushi</p>")}); err != nil {
		t.Fatal(err)
	}
	notes, err := s.ListNotes(ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 2 || notes[0].Title != "Tokyo" || notes[0].Content != "<p>sushi</p>" {
		t.Fatalf("Notes are %+v", notes)
	}
}

func TestDeleteFolderCascades(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	europe := mustFolder(t, s, alice, "Europe", nil)
	portugal := mustFolder(t, s, alice, "Portugal", &europe.ID)
	asia := mustFolder(t, s, alice, "Asia", nil)
	mustNote(t, s, alice, "Europe plan", europe.ID)
	mustNote(t, s, alice, "Porto", portugal.ID)
	kept := mustNote(t, s, alice, "Bangkok", asia.ID)

	if err := s.DeleteFolder(ctx, alice, europe.ID); err != nil {
		t.Fatal(err)
	}
	folders, _ := s.ListFolders(ctx, alice)
	if len(folders) != 1 || folders[0].ID != asia.ID {
		t.Fatalf("Folders are %+v", folders)
	}
	notes, _ := s.ListNotes(ctx, alice)
	if len(notes) != 1 || notes[0].ID != kept.ID {
		t.Fatalf("Notes are %+v", notes)
	}
	if err := s.DeleteFolder(ctx, alice, europe.ID); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("Second delete error is %v", err)
	}
}

func TestOperationsAreScopedToOwner(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	f := mustFolder(t, s, alice, "Private", nil)
	n := mustNote(t, s, alice, "Diary", f.ID)

	if _, err := s.UpdateFolder(ctx, bob, f.ID, persistence.FolderPatch{Name: persistence.StringPtr("Mine")}); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("Update error is %v", err)
	}
	if err := s.DeleteNote(ctx, bob, n.ID); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("Delete error is %v", err)
	}
	if _, err := s.CreateNote(ctx, bob, persistence.NewNote{Title: "x", FolderID: f.ID}); !errors.Is(err, persistence.ErrInvalid) {
		t.Fatalf("Create error is %v", err)
	}
	if _, err := s.ListNotes(ctx, ""); !errors.Is(err, persistence.ErrUnauthenticated) {
		t.Fatalf("List error is %v", err)
	}
}

func TestCreateWithClientIDIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	in := persistence.NewFolder{ID: "6f1c2b1e-3c1d-4d6e-9b7a-1a2b3c4d5e6f", Name: "Chile"}

	first, err := s.CreateFolder(ctx, alice, in)
	if err != nil {
		t.Fatal(err)
	}
	again, err := s.CreateFolder(ctx, alice, in)
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != first.ID || !again.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("Replay created %+v", again)
	}
	if _, err := s.CreateFolder(ctx, bob, in); !errors.Is(err, persistence.ErrInvalid) {
		t.Fatalf("Foreign id error is %v", err)
	}
	if _, err := s.CreateFolder(ctx, alice, persistence.NewFolder{ID: "not-a-uuid", Name: "x"}); !errors.Is(err, persistence.ErrInvalid) {
		t.Fatalf("Bad id error is %v", err)
	}
}

func TestUpdateFolderMove(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	a := mustFolder(t, s, alice, "A", nil)
	b := mustFolder(t, s, alice, "B", &a.ID)
	c := mustFolder(t, s, alice, "C", &b.ID)

	if _, err := s.UpdateFolder(ctx, alice, a.ID, persistence.FolderPatch{SetParent: true, ParentID: &c.ID}); !errors.Is(err, persistence.ErrInvalid) {
		t.Fatalf("Cycle error is %v", err)
	}
	moved, err := s.UpdateFolder(ctx, alice, c.ID, persistence.FolderPatch{SetParent: true})
	if err != nil {
		t.Fatal(err)
	}
	if moved.ParentID != nil {
		t.Fatal("Folder not moved to root")
	}
	renamed, err := s.UpdateFolder(ctx, alice, b.ID, persistence.FolderPatch{Name: persistence.StringPtr(" Beta ")})
	if err != nil {
		t.Fatal(err)
	}
	if renamed.Name != "Beta" || renamed.ParentID == nil || *renamed.ParentID != a.ID {
		t.Fatalf("Renamed folder is %+v", renamed)
	}
	if !renamed.UpdatedAt.After(renamed.CreatedAt) {
		t.Fatal("Updated timestamp not changed")
	}
	if _, err := s.UpdateFolder(ctx, alice, b.ID, persistence.FolderPatch{Name: persistence.StringPtr("  ")}); !errors.Is(err, persistence.ErrInvalid) {
		t.Fatalf("Empty name error is %v", err)
	}
}

func TestOpenFileReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	mustFolder(t, s, alice, "Peru", nil)
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	folders, err := s.ListFolders(context.Background(), alice)
	if err != nil || len(folders) != 1 {
		t.Fatalf("Folders after reopen: %v (%v)", folders, err)
	}
}
