package services

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"trick-battle/apperrors"
	"trick-battle/models"
	"trick-battle/store"
)

// Coin picks which of two freshly paired players sets first.
type Coin func(a, b string) string

// FairCoin is an unbiased, unseeded coin flip.
func FairCoin(a, b string) string {
	if rand.Intn(2) == 0 {
		return a
	}
	return b
}

type MatchmakingConfig struct {
	CandidateLimit int           // waiting entries examined per request
	StaleAfter     time.Duration // entries older than this are never paired; 0 disables
	LookupAttempts int           // match lookups after the watched entry disappears
	LookupDelay    time.Duration
}

func DefaultMatchmakingConfig() MatchmakingConfig {
	return MatchmakingConfig{
		CandidateLimit: 5,
		StaleAfter:     30 * time.Minute,
		LookupAttempts: 5,
		LookupDelay:    200 * time.Millisecond,
	}
}

type MatchmakingService struct {
	Store  store.Store
	Config MatchmakingConfig
	Coin   Coin
	Now    func() time.Time
	NewID  func() string
}

func NewMatchmakingService(s store.Store, cfg MatchmakingConfig) *MatchmakingService {
	def := DefaultMatchmakingConfig()
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = def.CandidateLimit
	}
	if cfg.LookupAttempts <= 0 {
		cfg.LookupAttempts = def.LookupAttempts
	}
	if cfg.LookupDelay < 0 {
		cfg.LookupDelay = 0
	}
	return &MatchmakingService{
		Store:  s,
		Config: cfg,
		Coin:   FairCoin,
		Now:    func() time.Time { return time.Now().UTC() },
		NewID:  uuid.NewString,
	}
}

type QuickMatchRequest struct {
	DisplayName  string        `json:"displayName"`
	DisplayPhoto string        `json:"displayPhoto"`
	Stance       models.Stance `json:"stance"`
}

// QuickMatchResult tells the caller whether they were paired. While waiting,
// GameID carries the queue entry id, which the match takes over once paired.
type QuickMatchResult struct {
	GameID    string `json:"gameId"`
	QueueID   string `json:"queueId,omitempty"`
	IsWaiting bool   `json:"isWaiting"`
}

// RequestQuickMatch pairs the caller with the oldest usable waiting player, or
// parks them in the queue. Both outcomes commit atomically; a lost race is
// retried by the store and ends in one of the two outcomes.
func (s *MatchmakingService) RequestQuickMatch(ctx context.Context, playerID string, req QuickMatchRequest) (QuickMatchResult, error) {
	if playerID == "" {
		return QuickMatchResult{}, apperrors.New(apperrors.CodeUnauthenticated, "player identity is required")
	}
	if !req.Stance.Valid() {
		return QuickMatchResult{}, apperrors.WithMetadata(apperrors.CodeInvalidStance, "stance must be regular or goofy",
			map[string]string{"stance": string(req.Stance)})
	}
	req.DisplayName = cleanText(req.DisplayName)
	if err := checkLength(req.DisplayName, MaxDisplayNameLength, apperrors.CodeInvalidPayload, "display name"); err != nil {
		return QuickMatchResult{}, err
	}
	req.DisplayPhoto = cleanText(req.DisplayPhoto)

	var result QuickMatchResult
	err := s.Store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		now := s.Now()
		me := models.QueueEntry{
			CreatedBy:    playerID,
			DisplayName:  req.DisplayName,
			DisplayPhoto: req.DisplayPhoto,
			Stance:       req.Stance,
			Status:       models.QueueStatusWaiting,
			CreatedAt:    now,
		}

		opponent, ok, err := s.claimCandidate(ctx, tx, playerID, now)
		if err != nil {
			return err
		}
		mine, err := s.waitingEntries(ctx, tx, playerID)
		if err != nil {
			return err
		}

		if ok {
			// the match inherits the id of the entry it consumes
			match := models.NewMatch(opponent.ID, opponent, me, s.Coin(opponent.CreatedBy, playerID), now)
			if err := match.Validate(); err != nil {
				return apperrors.Wrap(apperrors.CodeInternal, "could not create match", err)
			}
			if err := tx.Set(models.MatchesCollection, match.ID, match); err != nil {
				return err
			}
			if err := tx.Delete(models.QueueCollection, opponent.ID); err != nil {
				return err
			}
			for _, own := range mine {
				if err := tx.Delete(models.QueueCollection, own.ID); err != nil {
					return err
				}
			}
			result = QuickMatchResult{GameID: match.ID}
			return nil
		}

		if len(mine) > 0 {
			result = QuickMatchResult{GameID: mine[0].ID, QueueID: mine[0].ID, IsWaiting: true}
			return nil
		}
		me.ID = s.NewID()
		if err := tx.Set(models.QueueCollection, me.ID, me); err != nil {
			return err
		}
		result = QuickMatchResult{GameID: me.ID, QueueID: me.ID, IsWaiting: true}
		return nil
	})
	if err != nil {
		return QuickMatchResult{}, storeError(err, "matchmaking failed")
	}

	if result.IsWaiting {
		log.Infof("[Matchmaking] player %s waiting in queue entry %s", playerID, result.QueueID)
	} else {
		log.Infof("[Matchmaking] player %s paired into match %s", playerID, result.GameID)
	}
	return result, nil
}

// claimCandidate returns the oldest waiting entry of another player that is still
// usable when re-read inside the transaction.
func (s *MatchmakingService) claimCandidate(ctx context.Context, tx store.Tx, playerID string, now time.Time) (models.QueueEntry, bool, error) {
	candidates, err := tx.Query(ctx, store.Query{
		Collection: models.QueueCollection,
		Filters: []store.Filter{
			store.Where("status", store.OpEqual, models.QueueStatusWaiting),
			store.Where("createdBy", store.OpNotEqual, playerID),
		},
		OrderBy: "createdAt",
		Limit:   s.Config.CandidateLimit,
	})
	if err != nil {
		return models.QueueEntry{}, false, err
	}

	for _, c := range candidates {
		doc, err := tx.Get(ctx, models.QueueCollection, c.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return models.QueueEntry{}, false, err
		}
		var entry models.QueueEntry
		if err := doc.DataTo(&entry); err != nil {
			log.Warnf("[Matchmaking] skipping unreadable queue entry %s: %v", c.ID, err)
			continue
		}
		entry.ID = c.ID
		if entry.Status != models.QueueStatusWaiting || entry.CreatedBy == playerID || entry.CreatedBy == "" {
			continue
		}
		if entry.StaleAt(now, s.Config.StaleAfter) {
			continue
		}
		return entry, true, nil
	}
	return models.QueueEntry{}, false, nil
}

func (s *MatchmakingService) waitingEntries(ctx context.Context, r store.Reader, playerID string) ([]models.QueueEntry, error) {
	docs, err := r.Query(ctx, store.Query{
		Collection: models.QueueCollection,
		Filters: []store.Filter{
			store.Where("createdBy", store.OpEqual, playerID),
			store.Where("status", store.OpEqual, models.QueueStatusWaiting),
		},
		OrderBy: "createdAt",
	})
	if err != nil {
		return nil, err
	}
	entries := make([]models.QueueEntry, 0, len(docs))
	for _, doc := range docs {
		var entry models.QueueEntry
		if err := doc.DataTo(&entry); err != nil {
			return nil, err
		}
		entry.ID = doc.ID
		entries = append(entries, entry)
	}
	return entries, nil
}

// CancelMatchmaking removes the caller's queue entry. Cancelling an entry that
// no longer exists is a no-op.
func (s *MatchmakingService) CancelMatchmaking(ctx context.Context, queueID, callerID string) error {
	if callerID == "" {
		return apperrors.New(apperrors.CodeUnauthenticated, "player identity is required")
	}
	if queueID == "" {
		return nil
	}
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
		if entry.CreatedBy != callerID {
			return apperrors.New(apperrors.CodeNotQueueOwner, "queue entry belongs to another player")
		}
		removed = true
		return tx.Delete(models.QueueCollection, queueID)
	})
	if err != nil {
		return storeError(err, "cancel matchmaking failed")
	}
	if removed {
		log.Infof("[Matchmaking] player %s left the queue (%s)", callerID, queueID)
	}
	return nil
}

// QueueEvent is the single outcome of a queue subscription.
type QueueEvent struct {
	GameID string
	Err    error
}

// QueueSubscription waits for a queue entry to be consumed. C yields exactly one
// event and is then closed.
type QueueSubscription struct {
	C <-chan QueueEvent

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Unsubscribe stops the subscription and waits for it to wind down.
func (q *QueueSubscription) Unsubscribe() {
	q.once.Do(q.cancel)
	<-q.done
}

// SubscribeToQueue watches a queue entry. Once it disappears the match that
// consumed it is looked up, allowing for a short visibility gap, and reported.
func (s *MatchmakingService) SubscribeToQueue(ctx context.Context, queueID, playerID string) (*QueueSubscription, error) {
	if playerID == "" {
		return nil, apperrors.New(apperrors.CodeUnauthenticated, "player identity is required")
	}

	var since time.Time
	doc, err := s.Store.Get(ctx, models.QueueCollection, queueID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return s.consumedEntry(ctx, queueID, playerID)
	case err != nil:
		return nil, storeError(err, "read queue entry failed")
	default:
		var entry models.QueueEntry
		if err := doc.DataTo(&entry); err != nil {
			return nil, storeError(err, "read queue entry failed")
		}
		if entry.CreatedBy != playerID {
			return nil, apperrors.New(apperrors.CodeNotQueueOwner, "queue entry belongs to another player")
		}
		since = entry.CreatedAt
	}

	wctx, cancel := context.WithCancel(ctx)
	w, err := s.Store.Watch(wctx, models.QueueCollection, queueID)
	if err != nil {
		cancel()
		return nil, storeError(err, "watch queue entry failed")
	}

	events := make(chan QueueEvent, 1)
	sub := &QueueSubscription{C: events, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		defer close(events)
		defer w.Stop()

		for snap := range w.C() {
			if snap.Exists {
				continue
			}
			gameID, err := s.findNewMatch(wctx, playerID, since)
			if wctx.Err() != nil {
				return
			}
			event := QueueEvent{GameID: gameID}
			if err != nil {
				event.Err = err
			}
			select {
			case events <- event:
			case <-wctx.Done():
			}
			return
		}
	}()
	return sub, nil
}

// consumedEntry resolves a subscription to an entry that was already gone when
// the caller subscribed. Only the match created from that entry counts.
func (s *MatchmakingService) consumedEntry(ctx context.Context, queueID, playerID string) (*QueueSubscription, error) {
	m, err := readMatch(ctx, s.Store, queueID)
	switch {
	case apperrors.CodeOf(err) == apperrors.CodeGameNotFound:
		return nil, apperrors.WithMetadata(apperrors.CodeQueueEntryGone, "queue entry is gone and no match was found",
			map[string]string{"queueId": queueID})
	case err != nil:
		return nil, storeError(err, "read match failed")
	case !m.HasPlayer(playerID):
		return nil, apperrors.New(apperrors.CodeNotQueueOwner, "queue entry belongs to another player")
	}

	events := make(chan QueueEvent, 1)
	events <- QueueEvent{GameID: m.ID}
	close(events)
	done := make(chan struct{})
	close(done)
	return &QueueSubscription{C: events, cancel: func() {}, done: done}, nil
}

// SubscribeToQueueFunc is the callback form of SubscribeToQueue. fn runs at most once.
func (s *MatchmakingService) SubscribeToQueueFunc(ctx context.Context, queueID, playerID string, fn func(QueueEvent)) (func(), error) {
	sub, err := s.SubscribeToQueue(ctx, queueID, playerID)
	if err != nil {
		return nil, err
	}
	go func() {
		for event := range sub.C {
			fn(event)
		}
	}()
	return sub.Unsubscribe, nil
}

// findNewMatch looks up the newest active match of playerID created no earlier
// than since.
func (s *MatchmakingService) findNewMatch(ctx context.Context, playerID string, since time.Time) (string, error) {
	for attempt := 0; attempt < s.Config.LookupAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(s.Config.LookupDelay):
			}
		}

		docs, err := s.Store.Query(ctx, store.Query{
			Collection: models.MatchesCollection,
			Filters: []store.Filter{
				store.Where("players", store.OpArrayContains, playerID),
				store.Where("state.status", store.OpEqual, models.GameStatusActive),
			},
			OrderBy:    "createdAt",
			Descending: true,
			Limit:      1,
		})
		if err != nil {
			log.Warnf("[Matchmaking] match lookup for %s failed: %v", playerID, err)
			continue
		}
		if len(docs) == 0 {
			continue
		}
		var match models.Match
		if err := docs[0].DataTo(&match); err != nil {
			return "", storeError(err, "read match failed")
		}
		if !since.IsZero() && match.CreatedAt.Before(since) {
			continue
		}
		return docs[0].ID, nil
	}
	return "", apperrors.New(apperrors.CodeQueueEntryGone, "queue entry is gone and no match was found")
}
