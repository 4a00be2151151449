package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/quickblox/dialogsync/internal/bus"
	"github.com/quickblox/dialogsync/internal/cache"
	"github.com/quickblox/dialogsync/internal/gateway"
	"github.com/quickblox/dialogsync/internal/model"
	"go.uber.org/zap"
)

// defaultIdleRetire is how long a drained per-dialog queue keeps its
// worker alive before retiring it. Quiet dialogs must not pin a
// goroutine each for the life of the daemon.
const defaultIdleRetire = 30 * time.Second

// Typing is the transient payload for typing notifications. Never
// persisted.
type Typing struct {
	DialogID string
	UserID   string
}

// Reconciler applies inbound push events to the cache. Events for the
// same dialog are applied in arrival order through a per-dialog queue;
// different dialogs proceed concurrently. A failed event is logged and
// dropped, it never blocks the stream.
type Reconciler struct {
	gw       gateway.Gateway
	cache    *cache.Store
	bus      *bus.Bus
	logger   *zap.Logger
	pageSize int

	idleRetire time.Duration

	mu     stdsync.Mutex
	ctx    context.Context
	queues map[string]*queue
	wg     stdsync.WaitGroup
}

// queue buffers one dialog's pending events. The buffer grows instead
// of blocking dispatch, so a burst on one dialog never stalls the
// others. Guarded by Reconciler.mu.
type queue struct {
	buf  []gateway.Event
	wake chan struct{}
}

// NewReconciler creates a reconciler over the given gateway and cache.
func NewReconciler(gw gateway.Gateway, c *cache.Store, b *bus.Bus, logger *zap.Logger, pageSize int) *Reconciler {
	return &Reconciler{
		gw:         gw,
		cache:      c,
		bus:        b,
		logger:     logger,
		pageSize:   pageSize,
		idleRetire: defaultIdleRetire,
		queues:     make(map[string]*queue),
	}
}

// Run drains the gateway event stream until ctx is cancelled. Blocks;
// callers run it in its own goroutine.
func (r *Reconciler) Run(ctx context.Context) {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()

	for {
		select {
		case evt := <-r.gw.Events():
			r.dispatch(evt)
		case <-ctx.Done():
			r.wg.Wait()
			r.mu.Lock()
			r.queues = make(map[string]*queue)
			r.mu.Unlock()
			return
		}
	}
}

func (r *Reconciler) dispatch(evt gateway.Event) {
	// Typing signals bypass the queues: transient, no cache effect.
	switch evt.Kind {
	case gateway.EvTyping:
		r.bus.Publish(bus.NewEvent(bus.KindDialogTyping, Typing{DialogID: evt.DialogID, UserID: evt.UserID}))
		return
	case gateway.EvStopTyping:
		r.bus.Publish(bus.NewEvent(bus.KindDialogStopTyping, Typing{DialogID: evt.DialogID, UserID: evt.UserID}))
		return
	}

	id := evt.DialogID
	if id == "" && evt.Message != nil {
		id = evt.Message.DialogID
	}
	if id == "" {
		r.logger.Warn("event without dialog id dropped", zap.String("kind", string(evt.Kind)))
		return
	}

	r.enqueue(id, evt)
}

// enqueue appends the event to the dialog's queue, starting a worker
// on first use or after an idle retirement.
func (r *Reconciler) enqueue(id string, evt gateway.Event) {
	r.mu.Lock()
	q, ok := r.queues[id]
	if !ok {
		q = &queue{wake: make(chan struct{}, 1)}
		r.queues[id] = q
		r.wg.Add(1)
		go r.worker(r.ctx, id, q)
	}
	q.buf = append(q.buf, evt)
	r.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (r *Reconciler) worker(ctx context.Context, id string, q *queue) {
	defer r.wg.Done()
	for {
		r.mu.Lock()
		if len(q.buf) > 0 {
			evt := q.buf[0]
			q.buf = q.buf[1:]
			r.mu.Unlock()
			r.apply(ctx, evt)
			continue
		}
		r.mu.Unlock()

		select {
		case <-q.wake:
		case <-time.After(r.idleRetire):
			// Retire only if nothing raced in since the check above.
			r.mu.Lock()
			if len(q.buf) == 0 {
				delete(r.queues, id)
				r.mu.Unlock()
				return
			}
			r.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reconciler) apply(ctx context.Context, evt gateway.Event) {
	if ctx.Err() != nil {
		return
	}

	var err error
	switch evt.Kind {
	case gateway.EvDialogCreated:
		// A create confirmation for our own dialog establishes
		// authoritative state; refetch rather than trust the push payload.
		if evt.ByCurrentUser {
			err = r.fetchAndInsert(ctx, evt.DialogID)
		} else {
			err = r.updateByMessage(ctx, evt)
		}
	case gateway.EvDialogUpdated, gateway.EvNewMessage:
		err = r.updateByMessage(ctx, evt)
	case gateway.EvDialogLeft, gateway.EvDialogRemoved:
		err = r.cache.RemoveDialog(evt.DialogID)
	case gateway.EvParticipantLeft:
		err = r.participantLeft(ctx, evt)
	case gateway.EvMessageRead:
		err = r.cache.MarkRead(evt.DialogID, evt.MessageID)
	case gateway.EvMessageDelivered:
		err = r.cache.MarkDelivered(evt.DialogID, evt.MessageID)
	default:
		r.logger.Debug("unhandled event kind", zap.String("kind", string(evt.Kind)))
	}
	if err != nil && ctx.Err() == nil {
		r.logger.Warn("event dropped",
			zap.String("kind", string(evt.Kind)),
			zap.String("dialog_id", evt.DialogID),
			zap.Error(err))
	}
}

// updateByMessage folds the event's message into its dialog. A dialog
// unknown locally is fetched in full (participants first) and inserted,
// then the message is folded in.
func (r *Reconciler) updateByMessage(ctx context.Context, evt gateway.Event) error {
	m := evt.Message
	if m == nil {
		if evt.DialogID == "" {
			return fmt.Errorf("%w: event carries neither message nor dialog id", gateway.ErrIncorrectData)
		}
		return r.fetchAndInsert(ctx, evt.DialogID)
	}

	err := r.cache.FoldMessage(*m)
	if !errors.Is(err, gateway.ErrNotFound) {
		return err
	}
	if err := r.fetchAndInsert(ctx, m.DialogID); err != nil {
		return err
	}
	if err := r.cache.FoldMessage(*m); err != nil && !errors.Is(err, gateway.ErrNotFound) {
		return err
	}
	return nil
}

// fetchAndInsert pulls a dialog from remote, resolves its participants,
// and upserts it. Public dialogs are skipped, same as in the bulk pass.
func (r *Reconciler) fetchAndInsert(ctx context.Context, id string) error {
	d, err := r.gw.GetDialog(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch dialog %s: %w", id, err)
	}
	if d.Type == model.DialogPublic {
		return nil
	}
	if err := syncParticipants(ctx, r.gw, r.cache, d.ParticipantIDs, r.pageSize); err != nil {
		return err
	}
	return r.cache.SaveDialog(d)
}

func (r *Reconciler) participantLeft(ctx context.Context, evt gateway.Event) error {
	d, err := r.cache.Dialog(evt.DialogID)
	if errors.Is(err, gateway.ErrNotFound) {
		// Dialog unknown locally; the fetched copy already reflects the
		// departure.
		return r.updateByMessage(ctx, evt)
	}
	if err != nil {
		return err
	}

	if d.Type == model.DialogPrivate {
		return r.cache.RemoveDialog(d.ID)
	}
	if err := r.cache.RemoveParticipant(d.ID, evt.UserID); err != nil {
		return err
	}
	return r.updateByMessage(ctx, evt)
}
