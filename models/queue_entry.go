package models

import "time"

// QueueCollection holds the WAITING quick-match entries.
const QueueCollection = "matchmakingQueue"

// Stance is the skater's riding stance, shown to the opponent.
type Stance string

const (
	StanceRegular Stance = "regular"
	StanceGoofy   Stance = "goofy"
)

func (s Stance) Valid() bool {
	return s == StanceRegular || s == StanceGoofy
}

type QueueStatus string

const (
	QueueStatusWaiting QueueStatus = "WAITING"
	QueueStatusMatched QueueStatus = "MATCHED"
)

// QueueEntry represents a player waiting for any opponent. It is deleted in the
// same transaction that creates the match consuming it.
type QueueEntry struct {
	ID           string      `json:"id"`
	CreatedBy    string      `json:"createdBy"`
	DisplayName  string      `json:"displayName"`
	DisplayPhoto string      `json:"displayPhoto"`
	Stance       Stance      `json:"stance"`
	Status       QueueStatus `json:"status"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// Meta copies the display fields into the match document.
func (q QueueEntry) Meta() PlayerMeta {
	return PlayerMeta{
		DisplayName: q.DisplayName,
		Photo:       q.DisplayPhoto,
		Stance:      q.Stance,
	}
}

// StaleAt reports whether the entry has waited longer than maxAge at now.
// A zero maxAge disables staleness.
func (q QueueEntry) StaleAt(now time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && now.Sub(q.CreatedAt) > maxAge
}
