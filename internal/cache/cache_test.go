package cache

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/quickblox/dialogsync/internal/bus"
	"github.com/quickblox/dialogsync/internal/gateway"
	"github.com/quickblox/dialogsync/internal/model"
	"github.com/quickblox/dialogsync/internal/store"
	"go.uber.org/zap"
)

const me = "current-user"

func newStore(t *testing.T) (*Store, *bus.Bus) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	b := bus.New()
	s := New(db, me, b, zap.NewNop())
	t.Cleanup(func() {
		s.Close()
		_ = db.Close()
	})
	return s, b
}

func dialog(id string, unread int, lastMsgID string) model.Dialog {
	return model.Dialog{
		ID:             id,
		Type:           model.DialogGroup,
		Name:           "room-" + id,
		ParticipantIDs: []string{me, "u2"},
		UpdatedAt:      time.UnixMilli(1000).UTC(),
		UnreadCount:    unread,
		LastMessage:    model.LastMessage{ID: lastMsgID},
	}
}

func message(id, dialogID, senderID string, sec int) model.Message {
	return model.Message{
		ID:       id,
		DialogID: dialogID,
		Text:     "text-" + id,
		SenderID: senderID,
		SentAt:   time.Unix(int64(sec), 0).UTC(),
		Kind:     model.KindChat,
		Event:    model.EventMessage,
	}
}

func TestSaveDialogUpsert(t *testing.T) {
	s, _ := newStore(t)

	if err := s.SaveDialog(dialog("d1", 0, "")); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveDialog(dialog("d1", 0, "")); err != nil {
		t.Fatal(err)
	}

	if got := len(s.Dialogs()); got != 1 {
		t.Fatalf("dialog count = %d, want 1 (save is upsert)", got)
	}
}

func TestSaveMergesNonEmptyWins(t *testing.T) {
	s, _ := newStore(t)
	if err := s.SaveDialog(dialog("d1", 0, "")); err != nil {
		t.Fatal(err)
	}

	// Empty incoming fields must not blank stored values.
	sparse := model.Dialog{ID: "d1", UpdatedAt: time.UnixMilli(2000).UTC()}
	if err := s.SaveDialog(sparse); err != nil {
		t.Fatal(err)
	}
	d, err := s.Dialog("d1")
	if err != nil {
		t.Fatal(err)
	}
	if d.Name != "room-d1" {
		t.Errorf("name = %q, want room-d1 preserved", d.Name)
	}
	if len(d.ParticipantIDs) != 2 {
		t.Errorf("participants = %v, want preserved", d.ParticipantIDs)
	}

	// A non-empty differing value replaces.
	renamed := model.Dialog{ID: "d1", Name: "renamed", UpdatedAt: time.UnixMilli(3000).UTC()}
	if err := s.SaveDialog(renamed); err != nil {
		t.Fatal(err)
	}
	d, _ = s.Dialog("d1")
	if d.Name != "renamed" {
		t.Errorf("name = %q, want renamed", d.Name)
	}
}

func TestUnreadModesMutuallyExclusive(t *testing.T) {
	s, _ := newStore(t)
	if err := s.SaveDialog(dialog("d1", 5, "")); err != nil {
		t.Fatal(err)
	}

	err := s.UpdateDialog(DialogPatch{ID: "d1", UnreadCount: 3, DecrementUnread: true})
	if !errors.Is(err, gateway.ErrIncorrectData) {
		t.Errorf("err = %v, want ErrIncorrectData", err)
	}
}

func TestDecrementUnreadNeverNegative(t *testing.T) {
	s, _ := newStore(t)
	if err := s.SaveDialog(dialog("d1", 1, "")); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if err := s.UpdateDialog(DialogPatch{ID: "d1", DecrementUnread: true}); err != nil {
			t.Fatal(err)
		}
	}
	d, _ := s.Dialog("d1")
	if d.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0 (never negative)", d.UnreadCount)
	}
}

func TestUpdateAbsentDialogIsNotFound(t *testing.T) {
	s, _ := newStore(t)
	err := s.UpdateDialog(DialogPatch{ID: "ghost", Name: "x"})
	if !errors.Is(err, gateway.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFoldMessageIncrementsUnread(t *testing.T) {
	s, _ := newStore(t)
	if err := s.SaveDialog(dialog("d1", 2, "m1")); err != nil {
		t.Fatal(err)
	}

	if err := s.FoldMessage(message("m2", "d1", "u2", 100)); err != nil {
		t.Fatal(err)
	}

	d, _ := s.Dialog("d1")
	if d.UnreadCount != 3 {
		t.Errorf("unread = %d, want 3", d.UnreadCount)
	}
	if d.LastMessage.ID != "m2" {
		t.Errorf("last message = %q, want m2", d.LastMessage.ID)
	}
	if len(d.Messages) != 1 || d.Messages[0].ID != "m2" {
		t.Errorf("window = %v, want singleton m2", d.Messages)
	}
}

func TestFoldOwnMessageDoesNotIncrement(t *testing.T) {
	s, _ := newStore(t)
	if err := s.SaveDialog(dialog("d1", 2, "m1")); err != nil {
		t.Fatal(err)
	}

	if err := s.FoldMessage(message("m2", "d1", me, 100)); err != nil {
		t.Fatal(err)
	}

	d, _ := s.Dialog("d1")
	if d.UnreadCount != 2 {
		t.Errorf("unread = %d, want 2 (own message)", d.UnreadCount)
	}
	if d.LastMessage.ID != "m2" {
		t.Errorf("last message = %q, want m2 (summary still replaced)", d.LastMessage.ID)
	}
}

func TestFoldRepeatedMessageIDDoesNotIncrement(t *testing.T) {
	s, _ := newStore(t)
	if err := s.SaveDialog(dialog("d1", 0, "")); err != nil {
		t.Fatal(err)
	}

	m := message("m2", "d1", "u2", 100)
	if err := s.FoldMessage(m); err != nil {
		t.Fatal(err)
	}
	if err := s.FoldMessage(m); err != nil {
		t.Fatal(err)
	}

	d, _ := s.Dialog("d1")
	if d.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1 (same id folds once)", d.UnreadCount)
	}
}

func TestFoldSkipsSystemMessages(t *testing.T) {
	s, _ := newStore(t)
	if err := s.SaveDialog(dialog("d1", 2, "m1")); err != nil {
		t.Fatal(err)
	}

	sys := message("m2", "d1", "u2", 100)
	sys.Kind = model.KindEvent
	sys.Event = model.EventLeave
	if err := s.FoldMessage(sys); err != nil {
		t.Fatal(err)
	}

	d, _ := s.Dialog("d1")
	if d.UnreadCount != 2 || d.LastMessage.ID != "m1" {
		t.Errorf("dialog changed by system message: unread=%d last=%q", d.UnreadCount, d.LastMessage.ID)
	}
}

func TestMarkReadIdempotent(t *testing.T) {
	s, b := newStore(t)
	d := dialog("d1", 0, "")
	d.Messages = []model.Message{message("m1", "d1", "u2", 100)}
	if err := s.SaveDialog(d); err != nil {
		t.Fatal(err)
	}

	if err := s.MarkRead("d1", "m1"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Dialog("d1")
	if !got.Messages[0].Read {
		t.Fatal("message not marked read")
	}

	ch, unsub := b.Subscribe(bus.KindDialogUpdated, 10)
	defer unsub()
	if err := s.MarkRead("d1", "m1"); err != nil {
		t.Fatal(err)
	}

	select {
	case <-ch:
		t.Error("second MarkRead fired a notification, want no-op")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMarkReadAbsentMessageIsNoOp(t *testing.T) {
	s, _ := newStore(t)
	if err := s.SaveDialog(dialog("d1", 0, "")); err != nil {
		t.Fatal(err)
	}

	if err := s.MarkRead("d1", "m9"); err != nil {
		t.Errorf("MarkRead for unknown message = %v, want nil", err)
	}
	if err := s.MarkRead("ghost", "m9"); err != nil {
		t.Errorf("MarkRead for unknown dialog = %v, want nil", err)
	}
}

func TestNoSpuriousReorder(t *testing.T) {
	s, b := newStore(t)
	if err := s.SaveDialog(dialog("d1", 0, "")); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveDialog(dialog("d2", 0, "")); err != nil {
		t.Fatal(err)
	}
	// d2 was saved last, so it is at the front.

	ch, unsub := b.Subscribe("dialog.", 10)
	defer unsub()

	// Re-saving identical content must not reorder or notify.
	if err := s.SaveDialog(dialog("d1", 0, "")); err != nil {
		t.Fatal(err)
	}
	select {
	case evt := <-ch:
		t.Errorf("no-op save fired %q", evt.Kind)
	case <-time.After(50 * time.Millisecond):
	}

	order := s.Dialogs()
	if order[0].ID != "d2" {
		t.Errorf("front = %q, want d2 (no spurious reorder)", order[0].ID)
	}

	// A real change moves d1 to the front.
	changed := dialog("d1", 0, "")
	changed.Name = "bumped"
	changed.UpdatedAt = time.UnixMilli(5000).UTC()
	if err := s.SaveDialog(changed); err != nil {
		t.Fatal(err)
	}
	order = s.Dialogs()
	if order[0].ID != "d1" {
		t.Errorf("front = %q, want d1 after change", order[0].ID)
	}
}

// TestInsertKeepsRecencyOrder verifies that inserting dialogs in
// descending update order, as the bulk sync pass does, preserves that
// order.
func TestInsertKeepsRecencyOrder(t *testing.T) {
	s, _ := newStore(t)
	for i, id := range []string{"d1", "d2", "d3"} {
		d := dialog(id, 0, "")
		d.UpdatedAt = time.UnixMilli(int64(9000 - i*1000)).UTC()
		if err := s.SaveDialog(d); err != nil {
			t.Fatal(err)
		}
	}

	order := s.Dialogs()
	for i, want := range []string{"d1", "d2", "d3"} {
		if order[i].ID != want {
			t.Fatalf("order[%d] = %q, want %q", i, order[i].ID, want)
		}
	}

	// A live insert with the newest timestamp lands at the front.
	d := dialog("d4", 0, "")
	d.UpdatedAt = time.UnixMilli(10000).UTC()
	if err := s.SaveDialog(d); err != nil {
		t.Fatal(err)
	}
	if got := s.Dialogs()[0].ID; got != "d4" {
		t.Errorf("front = %q, want d4", got)
	}
}

func TestRemoveDialog(t *testing.T) {
	s, _ := newStore(t)
	if err := s.SaveDialog(dialog("d1", 0, "")); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveDialog("d1"); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveDialog("d1"); err != nil {
		t.Errorf("removing absent dialog = %v, want nil", err)
	}
	if got := len(s.Dialogs()); got != 0 {
		t.Errorf("dialogs = %d, want 0", got)
	}
}

func TestClear(t *testing.T) {
	s, _ := newStore(t)
	if err := s.SaveDialog(dialog("d1", 0, "")); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveUsers([]model.User{{ID: "u1", Name: "Alice"}}); err != nil {
		t.Fatal(err)
	}

	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}

	if got := len(s.Dialogs()); got != 0 {
		t.Errorf("dialogs = %d after clear, want 0", got)
	}
	if _, err := s.User("u1"); !errors.Is(err, gateway.ErrNotFound) {
		t.Errorf("user lookup after clear = %v, want ErrNotFound", err)
	}
}

func TestConcurrentSavesSerialize(t *testing.T) {
	s, _ := newStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := dialog("d1", 0, "")
			d.Name = fmt.Sprintf("name-%d", i)
			d.UpdatedAt = time.UnixMilli(int64(1000 + i)).UTC()
			_ = s.SaveDialog(d)
		}(i)
	}
	wg.Wait()

	if got := len(s.Dialogs()); got != 1 {
		t.Errorf("dialog count = %d, want 1 (races must not duplicate)", got)
	}
}

func TestWarmStartFromMirror(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}

	b := bus.New()
	s := New(db, me, b, zap.NewNop())
	if err := s.SaveDialog(dialog("d1", 3, "m1")); err != nil {
		t.Fatal(err)
	}
	s.Close()
	_ = db.Close()

	db2, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db2.Close() }()
	if _, err := db2.Migrate(); err != nil {
		t.Fatal(err)
	}
	s2 := New(db2, me, b, zap.NewNop())
	defer s2.Close()

	d, err := s2.Dialog("d1")
	if err != nil {
		t.Fatalf("dialog not restored: %v", err)
	}
	if d.UnreadCount != 3 {
		t.Errorf("unread = %d after warm start, want 3", d.UnreadCount)
	}
}
