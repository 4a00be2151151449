package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/quickblox/dialogsync/internal/model"
)

// SaveDialog writes a dialog and its message window in one transaction.
// The window rows are replaced wholesale; merge decisions happen in the
// cache, not here.
func (db *DB) SaveDialog(d model.Dialog) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO dialogs (id, type, name, photo, participant_ids, owner_id,
			created_at, updated_at, last_message_id, last_message_text,
			last_message_at, last_message_sender_id, unread_count, is_owned)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			name = excluded.name,
			photo = excluded.photo,
			participant_ids = excluded.participant_ids,
			owner_id = excluded.owner_id,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			last_message_id = excluded.last_message_id,
			last_message_text = excluded.last_message_text,
			last_message_at = excluded.last_message_at,
			last_message_sender_id = excluded.last_message_sender_id,
			unread_count = excluded.unread_count,
			is_owned = excluded.is_owned`,
		d.ID, string(d.Type), d.Name, d.Photo, jsonIDs(d.ParticipantIDs), d.OwnerID,
		d.CreatedAt.UnixMilli(), d.UpdatedAt.UnixMilli(), d.LastMessage.ID,
		d.LastMessage.Text, d.LastMessage.SentAt.UnixMilli(), d.LastMessage.SenderID,
		d.UnreadCount, d.IsOwned); err != nil {
		return fmt.Errorf("upsert dialog %q: %w", d.ID, err)
	}

	if _, err := tx.Exec(`DELETE FROM dialog_messages WHERE dialog_id = ?`, d.ID); err != nil {
		return fmt.Errorf("clear window %q: %w", d.ID, err)
	}
	for _, m := range d.Messages {
		if _, err := tx.Exec(`
			INSERT INTO dialog_messages (dialog_id, msg_id, text, sender_id, sent_at,
				delivered_ids, read_ids, delivered_flag, read_flag, kind, event, file_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, m.ID, m.Text, m.SenderID, m.SentAt.UnixMilli(),
			jsonIDs(m.DeliveredIDs), jsonIDs(m.ReadIDs), m.Delivered, m.Read,
			string(m.Kind), string(m.Event), m.FileID); err != nil {
			return fmt.Errorf("insert window message %q: %w", m.ID, err)
		}
	}

	return tx.Commit()
}

// DeleteDialog removes a dialog; its window rows cascade.
func (db *DB) DeleteDialog(id string) error {
	_, err := db.Exec(`DELETE FROM dialogs WHERE id = ?`, id)
	return err
}

// LoadDialogs reads all dialogs with their windows, ordered
// most-recently-updated-first.
func (db *DB) LoadDialogs() ([]model.Dialog, error) {
	rows, err := db.Query(`
		SELECT id, type, name, photo, participant_ids, owner_id, created_at,
			updated_at, last_message_id, last_message_text, last_message_at,
			last_message_sender_id, unread_count, is_owned
		FROM dialogs
		ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var dialogs []model.Dialog
	for rows.Next() {
		var (
			d                            model.Dialog
			typ, participants            string
			createdMs, updatedMs, lastMs int64
		)
		if err := rows.Scan(&d.ID, &typ, &d.Name, &d.Photo, &participants,
			&d.OwnerID, &createdMs, &updatedMs, &d.LastMessage.ID,
			&d.LastMessage.Text, &lastMs, &d.LastMessage.SenderID,
			&d.UnreadCount, &d.IsOwned); err != nil {
			return nil, err
		}
		d.Type = model.DialogType(typ)
		d.ParticipantIDs = parseIDs(participants)
		d.CreatedAt = fromMs(createdMs)
		d.UpdatedAt = fromMs(updatedMs)
		d.LastMessage.SentAt = fromMs(lastMs)
		dialogs = append(dialogs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range dialogs {
		msgs, err := db.loadWindow(dialogs[i].ID)
		if err != nil {
			return nil, err
		}
		dialogs[i].Messages = msgs
	}
	return dialogs, nil
}

func (db *DB) loadWindow(dialogID string) ([]model.Message, error) {
	rows, err := db.Query(`
		SELECT msg_id, text, sender_id, sent_at, delivered_ids, read_ids,
			delivered_flag, read_flag, kind, event, file_id
		FROM dialog_messages
		WHERE dialog_id = ?
		ORDER BY sent_at ASC`, dialogID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []model.Message
	for rows.Next() {
		var (
			m               model.Message
			sentMs          int64
			delivered, read string
			kind, event     string
		)
		if err := rows.Scan(&m.ID, &m.Text, &m.SenderID, &sentMs, &delivered,
			&read, &m.Delivered, &m.Read, &kind, &event, &m.FileID); err != nil {
			return nil, err
		}
		m.DialogID = dialogID
		m.SentAt = fromMs(sentMs)
		m.DeliveredIDs = parseIDs(delivered)
		m.ReadIDs = parseIDs(read)
		m.Kind = model.MessageKind(kind)
		m.Event = model.EventKind(event)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Clear wipes everything. Used when the connection drops and stale local
// data becomes unsafe to show.
func (db *DB) Clear() error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"dialog_messages", "dialogs", "users"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func jsonIDs(ids []string) string {
	if len(ids) == 0 {
		return "[]"
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func parseIDs(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil
	}
	return ids
}

func fromMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
