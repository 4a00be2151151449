package gateway

import (
	"slices"
	"time"

	"github.com/quickblox/dialogsync/internal/model"
)

// decoder normalizes raw Socket.IO payloads into model types. It needs the
// current user id to derive the per-user flags (owned, delivered, read).
type decoder struct {
	userID string
}

// decodeEvent maps a socket event name plus payload to a typed Event.
// Unknown names are dropped by the caller.
func (d decoder) decodeEvent(name string, data map[string]any) (Event, bool) {
	switch name {
	case "dialog-created":
		evt := Event{
			Kind:     EvDialogCreated,
			DialogID: str(data, "dialog_id"),
		}
		if msg, ok := obj(data, "message"); ok {
			m := d.decodeMessage(msg)
			evt.Message = &m
			if evt.DialogID == "" {
				evt.DialogID = m.DialogID
			}
			evt.ByCurrentUser = m.SenderID == d.userID
		}
		return evt, true
	case "dialog-updated", "new-message":
		msg, ok := obj(data, "message")
		if !ok {
			msg = data
		}
		m := d.decodeMessage(msg)
		kind := EvDialogUpdated
		if name == "new-message" {
			kind = EvNewMessage
		}
		return Event{Kind: kind, DialogID: m.DialogID, MessageID: m.ID, Message: &m}, true
	case "dialog-left":
		return Event{Kind: EvDialogLeft, DialogID: str(data, "dialog_id")}, true
	case "dialog-removed":
		return Event{Kind: EvDialogRemoved, DialogID: str(data, "dialog_id")}, true
	case "participant-left":
		msg, ok := obj(data, "message")
		if !ok {
			msg = data
		}
		m := d.decodeMessage(msg)
		return Event{
			Kind:     EvParticipantLeft,
			DialogID: m.DialogID,
			UserID:   m.SenderID,
			Message:  &m,
		}, true
	case "message-read":
		return Event{
			Kind:      EvMessageRead,
			DialogID:  str(data, "dialog_id"),
			MessageID: str(data, "message_id"),
			UserID:    str(data, "user_id"),
		}, true
	case "message-delivered":
		return Event{
			Kind:      EvMessageDelivered,
			DialogID:  str(data, "dialog_id"),
			MessageID: str(data, "message_id"),
			UserID:    str(data, "user_id"),
		}, true
	case "typing":
		return Event{
			Kind:     EvTyping,
			DialogID: str(data, "dialog_id"),
			UserID:   str(data, "user_id"),
		}, true
	case "stop-typing":
		return Event{
			Kind:     EvStopTyping,
			DialogID: str(data, "dialog_id"),
			UserID:   str(data, "user_id"),
		}, true
	}
	return Event{}, false
}

func (d decoder) decodeDialog(data map[string]any) model.Dialog {
	dlg := model.Dialog{
		ID:             str(data, "id"),
		Type:           model.DialogType(str(data, "type")),
		Name:           str(data, "name"),
		Photo:          str(data, "photo"),
		ParticipantIDs: strs(data, "participant_ids"),
		OwnerID:        str(data, "owner_id"),
		CreatedAt:      timeMs(data, "created_at_ms"),
		UpdatedAt:      timeMs(data, "updated_at_ms"),
		UnreadCount:    integer(data, "unread_count"),
	}
	if dlg.UnreadCount < 0 {
		dlg.UnreadCount = 0
	}
	dlg.IsOwned = dlg.OwnerID != "" && dlg.OwnerID == d.userID
	if lm, ok := obj(data, "last_message"); ok {
		dlg.LastMessage = model.LastMessage{
			ID:       str(lm, "id"),
			Text:     str(lm, "text"),
			SentAt:   timeMs(lm, "sent_at_ms"),
			SenderID: str(lm, "sender_id"),
		}
	}
	if raw, ok := data["messages"].([]any); ok {
		for _, item := range raw {
			if m, ok := item.(map[string]any); ok {
				dlg.InsertMessage(d.decodeMessage(m))
			}
		}
	}
	return dlg
}

func (d decoder) decodeMessage(data map[string]any) model.Message {
	m := model.Message{
		ID:           str(data, "id"),
		DialogID:     str(data, "dialog_id"),
		Text:         str(data, "text"),
		SenderID:     str(data, "sender_id"),
		SentAt:       timeMs(data, "sent_at_ms"),
		DeliveredIDs: strs(data, "delivered_ids"),
		ReadIDs:      strs(data, "read_ids"),
		Kind:         model.MessageKind(str(data, "kind")),
		Event:        model.EventKind(str(data, "event")),
		FileID:       str(data, "file_id"),
	}
	if m.Kind == "" {
		m.Kind = model.KindChat
	}
	if m.Event == "" {
		m.Event = model.EventMessage
	}
	m.Delivered = slices.Contains(m.DeliveredIDs, d.userID)
	m.Read = slices.Contains(m.ReadIDs, d.userID)
	return m
}

func (d decoder) decodeUser(data map[string]any) model.User {
	u := model.User{
		ID:           str(data, "id"),
		Name:         str(data, "name"),
		AvatarID:     str(data, "avatar_id"),
		LastActiveAt: timeMs(data, "last_active_at_ms"),
	}
	u.IsCurrent = u.ID == d.userID
	return u
}

func str(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// integer tolerates the numeric types socket.io JSON decoding produces.
func integer(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

func strs(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func obj(m map[string]any, key string) (map[string]any, bool) {
	v, ok := m[key].(map[string]any)
	return v, ok
}

func timeMs(m map[string]any, key string) time.Time {
	ms := int64(0)
	switch v := m[key].(type) {
	case float64:
		ms = int64(v)
	case int64:
		ms = v
	case int:
		ms = int64(v)
	}
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
