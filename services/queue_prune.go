package services

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"trick-battle/models"
	"trick-battle/store"
)

// pruneBatch caps the entries examined per prune pass.
const pruneBatch = 100

// PruneStaleEntries deletes WAITING entries older than Config.StaleAfter and
// returns how many were removed. Each entry is re-read and deleted in its own
// transaction, so an entry paired in the meantime is left alone.
func (s *MatchmakingService) PruneStaleEntries(ctx context.Context) (int, error) {
	if s.Config.StaleAfter <= 0 {
		return 0, nil
	}
	now := s.Now()

	docs, err := s.Store.Query(ctx, store.Query{
		Collection: models.QueueCollection,
		Filters:    []store.Filter{store.Where("status", store.OpEqual, models.QueueStatusWaiting)},
		OrderBy:    "createdAt",
		Limit:      pruneBatch,
	})
	if err != nil {
		return 0, storeError(err, "list queue entries failed")
	}

	pruned := 0
	for _, doc := range docs {
		var entry models.QueueEntry
		if err := doc.DataTo(&entry); err != nil {
			log.Warnf("[QueueJanitor] skipping unreadable queue entry %s: %v", doc.ID, err)
			continue
		}
		// oldest first: the rest are fresher
		if !entry.StaleAt(now, s.Config.StaleAfter) {
			break
		}

		removed, err := s.pruneEntry(ctx, doc.ID, now)
		if err != nil {
			return pruned, storeError(err, "prune queue entry failed")
		}
		if removed {
			pruned++
			log.Infof("[QueueJanitor] removed stale entry %s of %s (waiting since %s)",
				doc.ID, entry.CreatedBy, entry.CreatedAt.Format(time.RFC3339))
		}
	}
	return pruned, nil
}

func (s *MatchmakingService) pruneEntry(ctx context.Context, queueID string, now time.Time) (bool, error) {
	removed := false
	err := s.Store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		removed = false
		doc, err := tx.Get(ctx, models.QueueCollection, queueID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var entry models.QueueEntry
		if err := doc.DataTo(&entry); err != nil {
			return err
		}
		if entry.Status != models.QueueStatusWaiting || !entry.StaleAt(now, s.Config.StaleAfter) {
			return nil
		}
		removed = true
		return tx.Delete(models.QueueCollection, queueID)
	})
	return removed, err
}
