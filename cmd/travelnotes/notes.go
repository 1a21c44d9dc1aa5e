package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/always-cache/travelnotes/config"
	"github.com/always-cache/travelnotes/datastore"
	"github.com/always-cache/travelnotes/outbox"
	"github.com/always-cache/travelnotes/persistence"
)

func runNotesCommand(ctx context.Context, cfg config.Config, command string, args []string, out io.Writer) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.close(closeCtx)
	}()

	if command == "sync" {
		applied, err := a.replayer.Replay(ctx)
		fmt.Fprintf(out, "%d queued writes submitted\n", applied)
		if errors.Is(err, outbox.ErrStillUnavailable) {
			n, _ := a.queue.Len(ctx)
			fmt.Fprintf(out, "%d still queued, service unreachable\n", n)
			return nil
		}
		return err
	}

	store, err := a.datastore()
	if err != nil {
		return err
	}
	return notesCommand(ctx, store, command, args, out)
}

func notesCommand(ctx context.Context, store *datastore.Store, command string, args []string, out io.Writer) error {
	need := func(n int, usage string) error {
		if len(args) < n {
			return fmt.Errorf("usage: %s", usage)
		}
		return nil
	}

	switch command {
	case "tree":
		if err := store.Load(ctx); err != nil {
			return err
		}
		printTree(out, store.Tree(), 0)
		return nil
	case "mkdir":
		if err := need(1, "mkdir NAME [PARENT_ID]"); err != nil {
			return err
		}
		var parent *string
		if len(args) > 1 {
			parent = &args[1]
		}
		f, err := store.CreateFolder(ctx, args[0], parent)
		return report(out, err, "folder", f.ID)
	case "note":
		if err := need(2, "note TITLE FOLDER_ID"); err != nil {
			return err
		}
		n, err := store.CreateNote(ctx, args[0], args[1])
		return report(out, err, "note", n.ID)
	case "edit":
		if err := need(2, "edit NOTE_ID CONTENT"); err != nil {
			return err
		}
		content := strings.Join(args[1:], " ")
		n, err := store.UpdateNote(ctx, args[0], persistence.NotePatch{Content: &content})
		return report(out, err, "note", n.ID)
	case "rm-folder":
		if err := need(1, "rm-folder ID"); err != nil {
			return err
		}
		return report(out, store.DeleteFolder(ctx, args[0]), "deleted folder", args[0])
	case "rm-note":
		if err := need(1, "rm-note ID"); err != nil {
			return err
		}
		return report(out, store.DeleteNote(ctx, args[0]), "deleted note", args[0])
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// report prints the result of a write. A queued write is not an error.
func report(out io.Writer, err error, what, id string) error {
	if errors.Is(err, datastore.ErrQueued) {
		fmt.Fprintln(out, "offline: queued for sync")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s\n", what, id)
	return nil
}

func printTree(out io.Writer, nodes []datastore.TreeNode, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, node := range nodes {
		fmt.Fprintf(out, "%s%s/  (%s)\n", indent, node.Folder.Name, node.Folder.ID)
		printTree(out, node.Children, depth+1)
		for _, n := range node.Notes {
			fmt.Fprintf(out, "%s  - %s  (%s)\n", indent, n.Title, n.ID)
		}
	}
}
