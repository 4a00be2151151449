// Package daemon composes the sync engine's components into an fx
// application: logger, bus, state machine, account lock, cache store,
// gateway client, and the sync facade, with lifecycle hooks tying
// connect/disconnect to process start/stop.
package daemon

import (
	"context"
	"time"

	"github.com/quickblox/dialogsync/internal/bus"
	"github.com/quickblox/dialogsync/internal/cache"
	"github.com/quickblox/dialogsync/internal/gateway"
	"github.com/quickblox/dialogsync/internal/lock"
	"github.com/quickblox/dialogsync/internal/logging"
	"github.com/quickblox/dialogsync/internal/session"
	"github.com/quickblox/dialogsync/internal/status"
	"github.com/quickblox/dialogsync/internal/store"
	intsync "github.com/quickblox/dialogsync/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved account configuration passed to the fx
// module.
type Params struct {
	AccountName  string
	ServerURL    string
	Token        string
	PageSize     int
	InsertPacing time.Duration
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideCache,
			provideGateway,
			provideSyncEngine,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.AccountName), p.AccountName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.AccountName); err != nil {
		return nil, err
	}
	logger.Info("acquiring account lock", zap.String("account", p.AccountName))
	l, err := lock.Acquire(session.Dir(p.AccountName))
	if err != nil {
		return nil, err
	}
	logger.Info("account lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.CacheDBPath(p.AccountName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideGateway(p Params, logger *zap.Logger) (*gateway.Client, error) {
	return gateway.NewClient(gateway.Config{
		ServerURL: p.ServerURL,
		Token:     p.Token,
	}, logger)
}

func provideCache(db *store.DB, gw *gateway.Client, b *bus.Bus, logger *zap.Logger) *cache.Store {
	return cache.New(db, gw.CurrentUserID(), b, logger)
}

func provideSyncEngine(gw *gateway.Client, c *cache.Store, m *status.Machine, b *bus.Bus, logger *zap.Logger, p Params) *intsync.Engine {
	return intsync.NewEngine(gw, c, m, b, logger, intsync.Config{
		PageSize:     p.PageSize,
		InsertPacing: p.InsertPacing,
	})
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, gw *gateway.Client, c *cache.Store, engine *intsync.Engine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			engine.Start(context.Background())
			// A daemon has no UI lifecycle; it runs foregrounded.
			engine.Foreground()
			logger.Info("sync engine started")
			return nil
		},
		OnStop: func(context.Context) error {
			engine.Stop()
			c.Close()
			gw.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
