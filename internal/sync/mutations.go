package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/quickblox/dialogsync/internal/cache"
	"github.com/quickblox/dialogsync/internal/gateway"
	"github.com/quickblox/dialogsync/internal/model"
)

// CreateDialog creates a dialog remotely, resolves its participants,
// and inserts it into the cache. A missing spec id is generated.
func (e *Engine) CreateDialog(ctx context.Context, spec gateway.DialogSpec) (model.Dialog, error) {
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}
	d, err := e.gw.CreateDialog(ctx, spec)
	if err != nil {
		return model.Dialog{}, fmt.Errorf("create dialog: %w", err)
	}
	if err := syncParticipants(ctx, e.gw, e.cache, d.ParticipantIDs, e.pageSize); err != nil {
		return model.Dialog{}, err
	}
	if err := e.cache.SaveDialog(d); err != nil {
		return model.Dialog{}, err
	}
	return d, nil
}

// UpdateDialog applies a remote update and merges the authoritative
// result into the cache.
func (e *Engine) UpdateDialog(ctx context.Context, spec gateway.DialogSpec, deltas gateway.MemberDeltas) (model.Dialog, error) {
	d, err := e.gw.UpdateDialog(ctx, spec, deltas)
	if err != nil {
		return model.Dialog{}, fmt.Errorf("update dialog %s: %w", spec.ID, err)
	}
	if len(deltas.Add) > 0 {
		if err := syncParticipants(ctx, e.gw, e.cache, deltas.Add, e.pageSize); err != nil {
			return model.Dialog{}, err
		}
	}
	if err := e.cache.SaveDialog(d); err != nil {
		return model.Dialog{}, err
	}
	return d, nil
}

// LeaveDialog leaves a dialog remotely and drops it from the cache.
func (e *Engine) LeaveDialog(ctx context.Context, id string) error {
	if err := e.gw.DeleteDialog(ctx, id); err != nil {
		return fmt.Errorf("leave dialog %s: %w", id, err)
	}
	return e.cache.RemoveDialog(id)
}

// SendMessage sends a message with a client-generated id and returns
// the id. The local fold happens when the message echoes back on the
// event stream.
func (e *Engine) SendMessage(ctx context.Context, dialogID, text, fileID string) (string, error) {
	spec := gateway.MessageSpec{
		ID:       uuid.NewString(),
		DialogID: dialogID,
		Text:     text,
		FileID:   fileID,
	}
	if err := e.gw.SendMessage(ctx, spec); err != nil {
		return "", fmt.Errorf("send message to %s: %w", dialogID, err)
	}
	return spec.ID, nil
}

// ReadMessage reports a read receipt and reflects it locally: the
// message's read flag is set and the dialog's unread counter drops by
// one.
func (e *Engine) ReadMessage(ctx context.Context, messageID, dialogID string) error {
	if err := e.gw.ReadMessage(ctx, messageID, dialogID); err != nil {
		return fmt.Errorf("read message %s: %w", messageID, err)
	}
	if err := e.cache.MarkRead(dialogID, messageID); err != nil {
		return err
	}
	err := e.cache.UpdateDialog(cache.DialogPatch{ID: dialogID, DecrementUnread: true})
	if errors.Is(err, gateway.ErrNotFound) {
		return nil
	}
	return err
}

// MarkDelivered reports a delivery receipt and sets the local flag.
func (e *Engine) MarkDelivered(ctx context.Context, messageID, dialogID string) error {
	if err := e.gw.MarkDelivered(ctx, messageID, dialogID); err != nil {
		return fmt.Errorf("mark delivered %s: %w", messageID, err)
	}
	return e.cache.MarkDelivered(dialogID, messageID)
}

// SearchUsers resolves users by display-name prefix, remote only.
func (e *Engine) SearchUsers(ctx context.Context, namePrefix string, cur model.Cursor) (gateway.UsersPage, error) {
	return e.gw.SearchUsers(ctx, namePrefix, cur)
}
