package gamification

import (
	"context"
	"time"
)

// EventKind names a post-commit notification.
type EventKind string

const (
	EventPointsAwarded       EventKind = "points_awarded"
	EventPointsDeducted      EventKind = "points_deducted"
	EventAchievementUnlocked EventKind = "achievement_unlocked"
	EventRewardRedeemed      EventKind = "reward_redeemed"
	EventRedemptionUpdated   EventKind = "redemption_updated"
)

// Event is published after a command commits. Key is stable across
// redeliveries and is what consumers deduplicate on.
type Event struct {
	ID          string             `json:"id"`
	Kind        EventKind          `json:"kind"`
	Key         string             `json:"key"`
	UserID      string             `json:"user_id"`
	OccurredAt  time.Time          `json:"occurred_at"`
	Entry       *LedgerEntry       `json:"entry,omitempty"`
	Achievement *AchievementStatus `json:"achievement,omitempty"`
	Redemption  *Redemption        `json:"redemption,omitempty"`
	Profile     ProfileView        `json:"profile"`
}

// Publisher receives committed events. Implementations must not block for long;
// the user's lock is still held while Publish runs.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event Event) error

// Publish calls the function.
func (publisherFunc PublisherFunc) Publish(ctx context.Context, event Event) error {
	return publisherFunc(ctx, event)
}

// Publishers fans one event out to several publishers and returns the first error.
type Publishers []Publisher

// Publish delivers event to every publisher even when one fails.
func (publishers Publishers) Publish(ctx context.Context, event Event) error {
	var firstError error
	for _, publisher := range publishers {
		if publisher == nil {
			continue
		}
		if err := publisher.Publish(ctx, event); err != nil && firstError == nil {
			firstError = err
		}
	}
	return firstError
}

func entryEventKind(entry LedgerEntry) EventKind {
	switch {
	case entry.SourceKind == SourceAchievementEarned:
		return EventAchievementUnlocked
	case entry.SourceKind == SourceRewardRedemption && entry.Delta < 0:
		return EventRewardRedeemed
	case entry.SourceKind == SourceRewardRedemption:
		return EventRedemptionUpdated
	case entry.Delta > 0:
		return EventPointsAwarded
	default:
		return EventPointsDeducted
	}
}
