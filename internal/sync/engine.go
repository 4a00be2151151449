// Package sync composes the connection state machine, the bulk sync
// pass, and the event reconciler behind one facade. Consumers observe
// sync phases and dialog changes on the bus and read dialogs from the
// local cache only.
package sync

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/quickblox/dialogsync/internal/bus"
	"github.com/quickblox/dialogsync/internal/cache"
	"github.com/quickblox/dialogsync/internal/gateway"
	"github.com/quickblox/dialogsync/internal/model"
	"github.com/quickblox/dialogsync/internal/status"
	"go.uber.org/zap"
)

// Config tunes the sync engine.
type Config struct {
	// PageSize is the limit for every paginated remote query.
	PageSize int
	// InsertPacing spaces out cache inserts during the bulk pass.
	InsertPacing time.Duration
}

// Engine is the sync facade. Lifecycle is Start/Stop; Foreground and
// Background drive connect/disconnect with last-request-wins semantics.
type Engine struct {
	gw      gateway.Gateway
	cache   *cache.Store
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger
	rec     *Reconciler

	pageSize int
	pacing   time.Duration

	mu         stdsync.Mutex
	root       context.Context
	cancel     context.CancelFunc
	taskCancel context.CancelFunc
	syncCancel context.CancelFunc
	started    bool
}

// NewEngine creates the facade over an established gateway and cache.
func NewEngine(gw gateway.Gateway, c *cache.Store, m *status.Machine, b *bus.Bus, logger *zap.Logger, cfg Config) *Engine {
	if cfg.PageSize <= 0 {
		cfg.PageSize = model.DefaultPageSize
	}
	return &Engine{
		gw:       gw,
		cache:    c,
		machine:  m,
		bus:      b,
		logger:   logger,
		rec:      NewReconciler(gw, c, b, logger, cfg.PageSize),
		pageSize: cfg.PageSize,
		pacing:   cfg.InsertPacing,
	}
}

// Start launches the signal loop and the reconciler. It does not
// connect; call Foreground for that.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.root, e.cancel = context.WithCancel(ctx)
	e.started = true
	go e.signalLoop(e.root)
	go e.rec.Run(e.root)
}

// Stop cancels all in-flight work and tears the connection down.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	if e.taskCancel != nil {
		e.taskCancel()
		e.taskCancel = nil
	}
	if e.syncCancel != nil {
		e.syncCancel()
		e.syncCancel = nil
	}
	cancel := e.cancel
	e.mu.Unlock()

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := e.gw.Disconnect(ctx); err != nil {
		e.logger.Warn("disconnect on stop", zap.Error(err))
	}
	cancel()
}

// Foreground requests a connection. A pending Background disconnect is
// cancelled first; the last request wins.
func (e *Engine) Foreground() { e.lifecycle(true) }

// Background requests a disconnect, cancelling a pending Foreground
// connect first.
func (e *Engine) Background() { e.lifecycle(false) }

func (e *Engine) lifecycle(connect bool) {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	if e.taskCancel != nil {
		e.taskCancel()
	}
	ctx, cancel := context.WithCancel(e.root)
	e.taskCancel = cancel
	e.mu.Unlock()

	go func() {
		var err error
		if connect {
			err = e.gw.Connect(ctx)
		} else {
			err = e.gw.Disconnect(ctx)
		}
		if err != nil && ctx.Err() == nil {
			e.logger.Warn("lifecycle request failed",
				zap.Bool("connect", connect), zap.Error(err))
		}
	}()
}

func (e *Engine) signalLoop(ctx context.Context) {
	for {
		select {
		case sig := <-e.gw.Signals():
			e.handleSignal(ctx, sig)
		case <-ctx.Done():
			return
		}
	}
}

// handleSignal applies the connection policy: unauthorized and
// disconnected cancel the bulk pass and clear the cache, connected
// launches the bulk pass exactly once per transition.
func (e *Engine) handleSignal(ctx context.Context, sig gateway.Signal) {
	if sig.State == e.machine.Connection() {
		return
	}
	if err := e.machine.Transition(sig.State, sig.Err); err != nil {
		e.logger.Warn("connection signal ignored",
			zap.String("state", string(sig.State)), zap.Error(err))
		return
	}

	switch sig.State {
	case gateway.StateUnauthorized:
		e.cancelSync()
		e.clearCache()
		e.machine.SetPhase(status.PhaseUnauthorized, sig.Err)
	case gateway.StateDisconnected:
		e.cancelSync()
		// Stale local data is unsafe to show after a drop.
		e.clearCache()
		e.machine.SetPhase(status.PhaseDisconnected, sig.Err)
	case gateway.StateConnecting:
		e.machine.SetPhase(status.PhaseConnecting, sig.Err)
	case gateway.StateConnected:
		e.machine.SetPhase(status.PhaseUpdating, nil)
		e.launchSync(ctx)
	}
}

func (e *Engine) launchSync(ctx context.Context) {
	e.mu.Lock()
	if e.syncCancel != nil {
		e.syncCancel()
	}
	syncCtx, cancel := context.WithCancel(ctx)
	e.syncCancel = cancel
	e.mu.Unlock()

	go func() {
		defer cancel()
		err := e.bulkSync(syncCtx)
		switch {
		case err == nil:
			e.machine.SetPhase(status.PhaseSynced, nil)
		case syncCtx.Err() != nil:
			// Cancelled by a state change; that path already set the phase.
		default:
			// Non-fatal: the next connected transition re-runs the pass.
			e.logger.Warn("bulk sync failed", zap.Error(err))
			e.machine.SetPhase(status.PhaseUpdating, err)
		}
	}()
}

func (e *Engine) cancelSync() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.syncCancel != nil {
		e.syncCancel()
		e.syncCancel = nil
	}
}

func (e *Engine) clearCache() {
	if err := e.cache.Clear(); err != nil {
		e.logger.Error("clear cache", zap.Error(err))
	}
}

// Dialog returns a dialog from the local cache only.
func (e *Engine) Dialog(id string) (model.Dialog, error) { return e.cache.Dialog(id) }

// Dialogs returns all cached dialogs, most-recently-updated-first.
func (e *Engine) Dialogs() []model.Dialog { return e.cache.Dialogs() }

// User returns a user from the local directory.
func (e *Engine) User(id string) (model.User, error) { return e.cache.User(id) }

// Phase returns the current sync phase.
func (e *Engine) Phase() status.Phase { return e.machine.Phase() }

// CheckConnection returns the gateway's connection snapshot.
func (e *Engine) CheckConnection(ctx context.Context) gateway.Signal {
	return e.gw.CheckConnection(ctx)
}

// Phases subscribes to the sync phase stream.
func (e *Engine) Phases(buf int) (<-chan bus.Event, func()) {
	return e.bus.Subscribe(bus.KindSyncPhase, buf)
}

// DialogChanges subscribes to all dialog notifications: list changed,
// dialog updated, typing.
func (e *Engine) DialogChanges(buf int) (<-chan bus.Event, func()) {
	return e.bus.Subscribe("dialog.", buf)
}
