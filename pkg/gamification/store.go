package gamification

import (
	"context"
	"time"
)

// Store is the persistence contract used by Service.
// (gormstore implements this.)
//
// Methods called on the txStore handed to WithTx's callback take part in one
// transaction: either every write commits or none does. GetOrCreateProfile
// and GetReward lock their rows for the rest of the transaction where the
// backend supports row locks. UpdateProfile compares profile.Version with the
// stored version and fails with ErrConflict when another writer got there
// first.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	GetOrCreateProfile(ctx context.Context, userID string, now time.Time) (Profile, error)
	GetProfile(ctx context.Context, userID string) (Profile, error)
	UpdateProfile(ctx context.Context, profile Profile) error
	ListProfiles(ctx context.Context) ([]Profile, error)
	ListExpirableProfiles(ctx context.Context, inactiveBefore time.Time) ([]Profile, error)

	InsertEntry(ctx context.Context, entry LedgerEntry) error
	FindEntryByIdempotencyKey(ctx context.Context, userID string, idempotencyKey string) (LedgerEntry, error)
	ListEntries(ctx context.Context, userID string, page Page) ([]LedgerEntry, error)
	SumDeltas(ctx context.Context, userID string) (Points, int64, error)

	UpsertAchievement(ctx context.Context, definition AchievementDefinition) error
	GetAchievement(ctx context.Context, achievementID string) (AchievementDefinition, error)
	ListAchievements(ctx context.Context) ([]AchievementDefinition, error)
	ListAchievementsByRequirement(ctx context.Context, requirementType RequirementType) ([]AchievementDefinition, error)
	GetAchievementProgress(ctx context.Context, userID string, achievementID string) (AchievementProgress, error)
	SaveAchievementProgress(ctx context.Context, progress AchievementProgress) error
	ListAchievementProgress(ctx context.Context, userID string) ([]AchievementProgress, error)

	UpsertReward(ctx context.Context, reward Reward) error
	GetReward(ctx context.Context, rewardID string) (Reward, error)
	ListRewards(ctx context.Context) ([]Reward, error)
	ClaimRewardStock(ctx context.Context, rewardID string) error
	RestoreRewardStock(ctx context.Context, rewardID string) error

	CreateRedemption(ctx context.Context, redemption Redemption) error
	GetRedemption(ctx context.Context, redemptionID string) (Redemption, error)
	UpdateRedemptionStatus(ctx context.Context, redemptionID string, from RedemptionStatus, to RedemptionStatus, at time.Time) error
	ListRedemptions(ctx context.Context, userID string) ([]Redemption, error)

	RecordActivityDay(ctx context.Context, userID string, day time.Time) error
	ListActivityDays(ctx context.Context, userID string, from time.Time, to time.Time) ([]time.Time, error)
}
