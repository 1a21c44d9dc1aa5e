package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/always-cache/travelnotes/datastore"
	"github.com/always-cache/travelnotes/persistence/sqlite"

	"github.com/rs/zerolog"
)

func TestNotesCommands(t *testing.T) {
	ctx := context.Background()
	backend, err := sqlite.Open("")
	if err != nil {
		t.Fatal(err)
	}
	defer backend.Close()
	logger := zerolog.Nop()
	store := datastore.New(datastore.Config{Service: backend, UserID: "alice", Logger: &logger})

	var out bytes.Buffer
	if err := notesCommand(ctx, store, "mkdir", []string{"Greece"}, &out); err != nil {
		t.Fatal(err)
	}
	folderID := strings.TrimSpace(strings.TrimPrefix(out.String(), "folder "))
	out.Reset()
	if err := notesCommand(ctx, store, "note", []string{"Athens", folderID}, &out); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	if err := notesCommand(ctx, store, "tree", nil, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Greece/") || !strings.Contains(out.String(), "  - Athens") {
		t.Fatalf("Tree is:\n%s", out.String())
	}

	if err := notesCommand(ctx, store, "mkdir", nil, &out); err == nil {
		t.Fatal("Missing argument accepted")
	}
	if err := notesCommand(ctx, store, "fly", nil, &out); err == nil {
		t.Fatal("Unknown command accepted")
	}
}
