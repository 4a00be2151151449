package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/quickblox/dialogsync/internal/cache"
	"github.com/quickblox/dialogsync/internal/gateway"
	"github.com/quickblox/dialogsync/internal/model"
	"github.com/quickblox/dialogsync/internal/status"
	"go.uber.org/zap"
)

// bulkSync is the one-shot pull performed after every connect: page
// through all dialogs most-recently-updated-first, upsert each into the
// cache, then resolve the union of participant ids seen across pages.
// Any error aborts the pass; the next connected transition re-runs it
// from scratch. No checkpoint is kept.
func (e *Engine) bulkSync(ctx context.Context) error {
	start := time.Now()
	cur := model.NewCursor(e.pageSize)

	var participantIDs []string
	seen := make(map[string]struct{})
	dialogs := 0

	for {
		page, err := e.gw.GetDialogs(ctx, cur)
		if err != nil {
			return fmt.Errorf("dialogs page at offset %d: %w", cur.Skip, err)
		}
		for _, id := range page.ParticipantIDs {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				participantIDs = append(participantIDs, id)
			}
		}
		for _, d := range page.Dialogs {
			if err := ctx.Err(); err != nil {
				return err
			}
			// Public dialogs are not part of the user's dialog list.
			if d.Type == model.DialogPublic {
				continue
			}
			if err := e.cache.SaveDialog(d); err != nil {
				return fmt.Errorf("save dialog %s: %w", d.ID, err)
			}
			if err := e.pace(ctx); err != nil {
				return err
			}
			dialogs++
		}
		cur = page.Cursor
		if !cur.HasNext() {
			break
		}
		cur = cur.Next()
	}

	e.machine.SetPhase(status.PhaseFetchingDetails, nil)
	if err := syncParticipants(ctx, e.gw, e.cache, participantIDs, e.pageSize); err != nil {
		return err
	}

	e.logger.Info("bulk sync complete",
		zap.Int("dialogs", dialogs),
		zap.Int("participants", len(participantIDs)),
		zap.Duration("took", time.Since(start)))
	return nil
}

// pace spaces out cache inserts during the bulk pass. The delay also
// serves as a cancellation point between items.
func (e *Engine) pace(ctx context.Context) error {
	if e.pacing <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(e.pacing)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// syncParticipants pages through user lookups for the given id set and
// persists each page, so that by the time a dialog is visible in the
// cache its participants are resolvable.
func syncParticipants(ctx context.Context, gw gateway.Gateway, c *cache.Store, ids []string, pageSize int) error {
	if len(ids) == 0 {
		return nil
	}
	cur := model.NewCursor(pageSize)
	for {
		page, err := gw.GetUsers(ctx, ids, cur)
		if err != nil {
			return fmt.Errorf("users page at offset %d: %w", cur.Skip, err)
		}
		if err := c.SaveUsers(page.Users); err != nil {
			return fmt.Errorf("save users: %w", err)
		}
		cur = page.Cursor
		if !cur.HasNext() {
			return nil
		}
		cur = cur.Next()
	}
}
