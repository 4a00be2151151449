// Package cache is the Local Cache Store: the authoritative local copy of
// dialogs and the user directory. A single worker goroutine owns all state
// and drains a command queue, so concurrent callers serialize instead of
// interleaving; there are no caller-side locks. Mutations write through to
// the SQLite mirror for warm starts.
package cache

import (
	"errors"
	"fmt"
	"slices"

	"github.com/quickblox/dialogsync/internal/bus"
	"github.com/quickblox/dialogsync/internal/gateway"
	"github.com/quickblox/dialogsync/internal/model"
	"github.com/quickblox/dialogsync/internal/store"
	"go.uber.org/zap"
)

const (
	// commandQueue bounds pending operations; producers block when full,
	// which is the store's natural backpressure.
	commandQueue = 256
	// windowLimit caps a dialog's in-memory message window.
	windowLimit = 50
)

// ErrClosed is returned for operations on a closed store.
var ErrClosed = errors.New("cache store closed")

// Store is the actor-owned dialog cache.
type Store struct {
	db            *store.DB
	bus           *bus.Bus
	logger        *zap.Logger
	currentUserID string

	cmds chan func()
	done chan struct{}

	// Owned exclusively by the worker goroutine.
	dialogs map[string]*model.Dialog
	order   []string
	users   map[string]model.User
}

// New creates the store and starts its worker. Previously mirrored state
// is loaded so the dialog list survives a process restart.
func New(db *store.DB, currentUserID string, b *bus.Bus, logger *zap.Logger) *Store {
	s := &Store{
		db:            db,
		bus:           b,
		logger:        logger,
		currentUserID: currentUserID,
		cmds:          make(chan func(), commandQueue),
		done:          make(chan struct{}),
		dialogs:       make(map[string]*model.Dialog),
		users:         make(map[string]model.User),
	}
	s.warmStart()
	go s.run()
	return s
}

func (s *Store) warmStart() {
	dialogs, err := s.db.LoadDialogs()
	if err != nil {
		s.logger.Warn("cache warm start failed", zap.Error(err))
		return
	}
	for _, d := range dialogs {
		dd := d
		s.dialogs[d.ID] = &dd
		s.order = append(s.order, d.ID)
	}
	users, err := s.db.LoadUsers()
	if err != nil {
		s.logger.Warn("user directory warm start failed", zap.Error(err))
		return
	}
	for _, u := range users {
		s.users[u.ID] = u
	}
	if len(dialogs) > 0 || len(users) > 0 {
		s.logger.Info("cache warmed from mirror",
			zap.Int("dialogs", len(dialogs)), zap.Int("users", len(users)))
	}
}

func (s *Store) run() {
	for {
		select {
		case fn := <-s.cmds:
			fn()
		case <-s.done:
			return
		}
	}
}

// Close stops the worker. Pending operations fail with ErrClosed.
func (s *Store) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// call runs fn on the worker goroutine and waits for its result.
func (s *Store) call(fn func() error) error {
	errCh := make(chan error, 1)
	select {
	case s.cmds <- func() { errCh <- fn() }:
	case <-s.done:
		return ErrClosed
	}
	select {
	case err := <-errCh:
		return err
	case <-s.done:
		return ErrClosed
	}
}

// SaveDialog upserts: inserts when the id is new, otherwise merges like
// UpdateDialog. Dialogs never duplicate.
func (s *Store) SaveDialog(d model.Dialog) error {
	return s.call(func() error {
		existing, ok := s.dialogs[d.ID]
		if !ok {
			return s.insert(d)
		}
		changed := applyPatch(existing, patchFromDialog(d))
		return s.commit(existing, changed)
	})
}

// UpdateDialog merges a patch into an existing dialog. Returns
// gateway.ErrNotFound when the dialog is absent so callers can fall back
// to a full fetch.
func (s *Store) UpdateDialog(p DialogPatch) error {
	if p.DecrementUnread && p.UnreadCount > 0 {
		return fmt.Errorf("%w: decrement and replace unread are mutually exclusive", gateway.ErrIncorrectData)
	}
	return s.call(func() error {
		d, ok := s.dialogs[p.ID]
		if !ok {
			return fmt.Errorf("%w: dialog %s", gateway.ErrNotFound, p.ID)
		}
		changed := applyPatch(d, p)
		return s.commit(d, changed)
	})
}

// FoldMessage applies the fold-message-into-dialog rule: update the
// last-message summary and unread counter and narrow the window to the
// incoming message. Returns gateway.ErrNotFound when the dialog is absent.
func (s *Store) FoldMessage(m model.Message) error {
	return s.call(func() error {
		d, ok := s.dialogs[m.DialogID]
		if !ok {
			return fmt.Errorf("%w: dialog %s", gateway.ErrNotFound, m.DialogID)
		}
		changed := foldMessage(d, m, s.currentUserID)
		return s.commit(d, changed)
	})
}

// MarkRead sets the read flag on a window message. A message not in the
// window, or already read, is a no-op: the race where the receipt beats
// the message into the window resolves on the next sync.
func (s *Store) MarkRead(dialogID, messageID string) error {
	return s.markFlag(dialogID, messageID, true)
}

// MarkDelivered is the delivery counterpart of MarkRead.
func (s *Store) MarkDelivered(dialogID, messageID string) error {
	return s.markFlag(dialogID, messageID, false)
}

func (s *Store) markFlag(dialogID, messageID string, read bool) error {
	return s.call(func() error {
		d, ok := s.dialogs[dialogID]
		if !ok {
			return nil
		}
		m := d.FindMessage(messageID)
		if m == nil {
			return nil
		}
		if read {
			if m.Read {
				return nil
			}
			m.Read = true
			if !slices.Contains(m.ReadIDs, s.currentUserID) {
				m.ReadIDs = append(m.ReadIDs, s.currentUserID)
			}
		} else {
			if m.Delivered {
				return nil
			}
			m.Delivered = true
			if !slices.Contains(m.DeliveredIDs, s.currentUserID) {
				m.DeliveredIDs = append(m.DeliveredIDs, s.currentUserID)
			}
		}
		return s.commit(d, true)
	})
}

// RemoveParticipant drops a user from a dialog's participant set.
func (s *Store) RemoveParticipant(dialogID, userID string) error {
	return s.call(func() error {
		d, ok := s.dialogs[dialogID]
		if !ok {
			return fmt.Errorf("%w: dialog %s", gateway.ErrNotFound, dialogID)
		}
		changed := d.RemoveParticipant(userID)
		return s.commit(d, changed)
	})
}

// RemoveDialog deletes a dialog unconditionally. Removing an absent id is
// a no-op.
func (s *Store) RemoveDialog(id string) error {
	return s.call(func() error {
		if _, ok := s.dialogs[id]; !ok {
			return nil
		}
		delete(s.dialogs, id)
		if i := slices.Index(s.order, id); i >= 0 {
			s.order = slices.Delete(s.order, i, i+1)
		}
		if err := s.db.DeleteDialog(id); err != nil {
			return fmt.Errorf("mirror delete: %w", err)
		}
		s.bus.Publish(bus.NewEvent(bus.KindDialogListChanged, nil))
		return nil
	})
}

// Dialog returns a copy of one dialog.
func (s *Store) Dialog(id string) (model.Dialog, error) {
	var out model.Dialog
	err := s.call(func() error {
		d, ok := s.dialogs[id]
		if !ok {
			return fmt.Errorf("%w: dialog %s", gateway.ErrNotFound, id)
		}
		out = d.Clone()
		return nil
	})
	return out, err
}

// Dialogs returns copies of all dialogs, most-recently-updated-first.
func (s *Store) Dialogs() []model.Dialog {
	var out []model.Dialog
	_ = s.call(func() error {
		out = make([]model.Dialog, 0, len(s.order))
		for _, id := range s.order {
			out = append(out, s.dialogs[id].Clone())
		}
		return nil
	})
	return out
}

// SaveUsers upserts directory entries.
func (s *Store) SaveUsers(users []model.User) error {
	return s.call(func() error {
		for _, u := range users {
			existing, ok := s.users[u.ID]
			if ok {
				// Non-empty wins, same as dialog fields.
				if u.Name == "" {
					u.Name = existing.Name
				}
				if u.AvatarID == "" {
					u.AvatarID = existing.AvatarID
				}
			}
			s.users[u.ID] = u
		}
		if err := s.db.SaveUsers(users); err != nil {
			return fmt.Errorf("mirror users: %w", err)
		}
		return nil
	})
}

// User returns one directory entry.
func (s *Store) User(id string) (model.User, error) {
	var out model.User
	err := s.call(func() error {
		u, ok := s.users[id]
		if !ok {
			return fmt.Errorf("%w: user %s", gateway.ErrNotFound, id)
		}
		out = u
		return nil
	})
	return out, err
}

// Clear wipes dialogs and users, memory and mirror both.
func (s *Store) Clear() error {
	return s.call(func() error {
		s.dialogs = make(map[string]*model.Dialog)
		s.order = nil
		s.users = make(map[string]model.User)
		if err := s.db.Clear(); err != nil {
			return fmt.Errorf("mirror clear: %w", err)
		}
		s.bus.Publish(bus.NewEvent(bus.KindDialogListChanged, nil))
		return nil
	})
}

// insert adds a brand new dialog, positioned by update recency. A live
// insert carries the newest timestamp and lands at the front; bulk sync
// feeds pages most-recently-updated-first and each dialog lands after
// the ones already placed.
func (s *Store) insert(d model.Dialog) error {
	dd := d.Clone()
	if dd.UnreadCount < 0 {
		dd.UnreadCount = 0
	}
	slices.SortStableFunc(dd.Messages, func(a, b model.Message) int {
		return a.SentAt.Compare(b.SentAt)
	})
	trimWindow(&dd)

	s.dialogs[dd.ID] = &dd
	pos := len(s.order)
	for i, id := range s.order {
		if !s.dialogs[id].UpdatedAt.After(dd.UpdatedAt) {
			pos = i
			break
		}
	}
	s.order = slices.Insert(s.order, pos, dd.ID)

	if err := s.db.SaveDialog(dd); err != nil {
		return fmt.Errorf("mirror save: %w", err)
	}
	s.bus.Publish(bus.NewEvent(bus.KindDialogUpdated, dd.ID))
	s.bus.Publish(bus.NewEvent(bus.KindDialogListChanged, nil))
	return nil
}

// commit persists and notifies after a merge. An unchanged dialog keeps
// its list position and fires nothing.
func (s *Store) commit(d *model.Dialog, changed bool) error {
	if !changed {
		return nil
	}
	trimWindow(d)
	s.moveToFront(d.ID)
	if err := s.db.SaveDialog(*d); err != nil {
		return fmt.Errorf("mirror save: %w", err)
	}
	s.bus.Publish(bus.NewEvent(bus.KindDialogUpdated, d.ID))
	s.bus.Publish(bus.NewEvent(bus.KindDialogListChanged, nil))
	return nil
}

func (s *Store) moveToFront(id string) {
	i := slices.Index(s.order, id)
	if i <= 0 {
		return
	}
	s.order = slices.Delete(s.order, i, i+1)
	s.order = append([]string{id}, s.order...)
}

func trimWindow(d *model.Dialog) {
	if len(d.Messages) > windowLimit {
		d.Messages = d.Messages[len(d.Messages)-windowLimit:]
	}
}
