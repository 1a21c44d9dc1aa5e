// Package outbox stores mutations made while the notes service is unreachable
// and replays them once it is back.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/always-cache/travelnotes/persistence"
)

type Op string

const (
	OpCreateFolder Op = "create-folder"
	OpUpdateFolder Op = "update-folder"
	OpDeleteFolder Op = "delete-folder"
	OpCreateNote   Op = "create-note"
	OpUpdateNote   Op = "update-note"
	OpDeleteNote   Op = "delete-note"
)

// Mutation is one queued write against persistence.Service.
type Mutation struct {
	Seq    int64
	Op     Op
	UserID string
	// Row the mutation targets. Empty for creates, whose id is in the payload.
	TargetID   string
	Payload    json.RawMessage
	EnqueuedAt time.Time
}

func newMutation(op Op, userID, targetID string, payload any) (Mutation, error) {
	m := Mutation{Op: op, UserID: userID, TargetID: targetID}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Mutation{}, fmt.Errorf("encode %s payload: %w", op, err)
		}
		m.Payload = b
	}
	return m, nil
}

func CreateFolder(userID string, in persistence.NewFolder) (Mutation, error) {
	return newMutation(OpCreateFolder, userID, "", in)
}

func UpdateFolder(userID, id string, patch persistence.FolderPatch) (Mutation, error) {
	return newMutation(OpUpdateFolder, userID, id, patch)
}

func DeleteFolder(userID, id string) (Mutation, error) {
	return newMutation(OpDeleteFolder, userID, id, nil)
}

func CreateNote(userID string, in persistence.NewNote) (Mutation, error) {
	return newMutation(OpCreateNote, userID, "", in)
}

func UpdateNote(userID, id string, patch persistence.NotePatch) (Mutation, error) {
	return newMutation(OpUpdateNote, userID, id, patch)
}

func DeleteNote(userID, id string) (Mutation, error) {
	return newMutation(OpDeleteNote, userID, id, nil)
}

// Apply submits the mutation to svc.
func (m Mutation) Apply(ctx context.Context, svc persistence.Service) error {
	switch m.Op {
	case OpCreateFolder:
		var in persistence.NewFolder
		if err := m.decode(&in); err != nil {
			return err
		}
		_, err := svc.CreateFolder(ctx, m.UserID, in)
		return err
	case OpUpdateFolder:
		var patch persistence.FolderPatch
		if err := m.decode(&patch); err != nil {
			return err
		}
		_, err := svc.UpdateFolder(ctx, m.UserID, m.TargetID, patch)
		return err
	case OpDeleteFolder:
		return svc.DeleteFolder(ctx, m.UserID, m.TargetID)
	case OpCreateNote:
		var in persistence.NewNote
		if err := m.decode(&in); err != nil {
			return err
		}
		_, err := svc.CreateNote(ctx, m.UserID, in)
		return err
	case OpUpdateNote:
		var patch persistence.NotePatch
		if err := m.decode(&patch); err != nil {
			return err
		}
		_, err := svc.UpdateNote(ctx, m.UserID, m.TargetID, patch)
		return err
	case OpDeleteNote:
		return svc.DeleteNote(ctx, m.UserID, m.TargetID)
	default:
		return fmt.Errorf("unknown op %q: %w", m.Op, persistence.ErrInvalid)
	}
}

func (m Mutation) decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", m.Op, err, persistence.ErrInvalid)
	}
	return nil
}
