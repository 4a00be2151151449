package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/quickblox/dialogsync/internal/model"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sampleDialog() model.Dialog {
	sent := time.UnixMilli(1700000000000).UTC()
	return model.Dialog{
		ID:             "d1",
		Type:           model.DialogGroup,
		Name:           "team",
		ParticipantIDs: []string{"u1", "u2"},
		OwnerID:        "u1",
		CreatedAt:      sent.Add(-time.Hour),
		UpdatedAt:      sent,
		LastMessage: model.LastMessage{
			ID: "m1", Text: "hi", SentAt: sent, SenderID: "u2",
		},
		UnreadCount: 2,
		Messages: []model.Message{{
			ID: "m1", DialogID: "d1", Text: "hi", SenderID: "u2",
			SentAt: sent, ReadIDs: []string{"u2"}, Kind: model.KindChat,
			Event: model.EventMessage,
		}},
	}
}

func TestSaveLoadDialog(t *testing.T) {
	db := testDB(t)
	if err := db.SaveDialog(sampleDialog()); err != nil {
		t.Fatal(err)
	}

	dialogs, err := db.LoadDialogs()
	if err != nil {
		t.Fatal(err)
	}
	if len(dialogs) != 1 {
		t.Fatalf("got %d dialogs, want 1", len(dialogs))
	}
	d := dialogs[0]
	if d.Name != "team" || d.Type != model.DialogGroup || d.UnreadCount != 2 {
		t.Errorf("dialog = %+v", d)
	}
	if len(d.ParticipantIDs) != 2 {
		t.Errorf("participants = %v", d.ParticipantIDs)
	}
	if d.LastMessage.ID != "m1" || !d.LastMessage.SentAt.Equal(time.UnixMilli(1700000000000).UTC()) {
		t.Errorf("last message = %+v", d.LastMessage)
	}
	if len(d.Messages) != 1 || d.Messages[0].Text != "hi" {
		t.Errorf("window = %+v", d.Messages)
	}
}

func TestSaveDialogIdempotent(t *testing.T) {
	db := testDB(t)
	d := sampleDialog()
	if err := db.SaveDialog(d); err != nil {
		t.Fatal(err)
	}
	d.Name = "renamed"
	if err := db.SaveDialog(d); err != nil {
		t.Fatal(err)
	}

	count, err := db.DialogCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1 (upsert)", count)
	}
	dialogs, _ := db.LoadDialogs()
	if dialogs[0].Name != "renamed" {
		t.Errorf("name = %q, want renamed", dialogs[0].Name)
	}
}

func TestSaveDialogReplacesWindow(t *testing.T) {
	db := testDB(t)
	d := sampleDialog()
	if err := db.SaveDialog(d); err != nil {
		t.Fatal(err)
	}

	d.Messages = []model.Message{{
		ID: "m2", DialogID: "d1", Text: "newer",
		SentAt: time.UnixMilli(1700000001000).UTC(),
		Kind:   model.KindChat, Event: model.EventMessage,
	}}
	if err := db.SaveDialog(d); err != nil {
		t.Fatal(err)
	}

	dialogs, _ := db.LoadDialogs()
	if len(dialogs[0].Messages) != 1 || dialogs[0].Messages[0].ID != "m2" {
		t.Errorf("window = %+v, want singleton m2", dialogs[0].Messages)
	}
}

func TestDeleteDialogCascades(t *testing.T) {
	db := testDB(t)
	if err := db.SaveDialog(sampleDialog()); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteDialog("d1"); err != nil {
		t.Fatal(err)
	}

	dialogs, _ := db.LoadDialogs()
	if len(dialogs) != 0 {
		t.Errorf("got %d dialogs after delete, want 0", len(dialogs))
	}
	var orphans int
	if err := db.QueryRow(`SELECT COUNT(*) FROM dialog_messages`).Scan(&orphans); err != nil {
		t.Fatal(err)
	}
	if orphans != 0 {
		t.Errorf("window rows = %d after delete, want 0 (cascade)", orphans)
	}
}

func TestLoadDialogsOrdering(t *testing.T) {
	db := testDB(t)
	older := sampleDialog()
	older.ID = "d-old"
	older.UpdatedAt = time.UnixMilli(1000).UTC()
	newer := sampleDialog()
	newer.ID = "d-new"
	newer.UpdatedAt = time.UnixMilli(2000).UTC()

	if err := db.SaveDialog(older); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveDialog(newer); err != nil {
		t.Fatal(err)
	}

	dialogs, _ := db.LoadDialogs()
	if len(dialogs) != 2 || dialogs[0].ID != "d-new" {
		t.Errorf("order = %v, want d-new first", []string{dialogs[0].ID, dialogs[1].ID})
	}
}

func TestSaveUsersNonEmptyWins(t *testing.T) {
	db := testDB(t)
	if err := db.SaveUsers([]model.User{{ID: "u1", Name: "Alice", AvatarID: "av1"}}); err != nil {
		t.Fatal(err)
	}
	// A sparse update must not blank known fields.
	if err := db.SaveUsers([]model.User{{ID: "u1", Name: "", AvatarID: ""}}); err != nil {
		t.Fatal(err)
	}

	users, err := db.LoadUsers()
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 {
		t.Fatalf("got %d users, want 1", len(users))
	}
	if users[0].Name != "Alice" || users[0].AvatarID != "av1" {
		t.Errorf("user = %+v, want Alice/av1 preserved", users[0])
	}
}

func TestClear(t *testing.T) {
	db := testDB(t)
	if err := db.SaveDialog(sampleDialog()); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveUsers([]model.User{{ID: "u1", Name: "Alice"}}); err != nil {
		t.Fatal(err)
	}

	if err := db.Clear(); err != nil {
		t.Fatal(err)
	}

	dialogs, _ := db.LoadDialogs()
	users, _ := db.LoadUsers()
	if len(dialogs) != 0 || len(users) != 0 {
		t.Errorf("after clear: %d dialogs, %d users, want 0/0", len(dialogs), len(users))
	}
}
