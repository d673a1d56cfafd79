package gamification

import (
	"fmt"
	"strings"
	"time"
)

// Points is the single point currency.
type Points int64

// Int64 exposes the raw value.
func (points Points) Int64() int64 {
	return int64(points)
}

// UserID identifies a profile owner.
type UserID struct {
	value string
}

// RewardID identifies a catalog reward.
type RewardID struct {
	value string
}

// AchievementID identifies an achievement definition.
type AchievementID struct {
	value string
}

// RedemptionID identifies a redemption.
type RedemptionID struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// NewRewardID validates and normalizes a reward id.
func NewRewardID(raw string) (RewardID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return RewardID{}, fmt.Errorf("%w: empty value", ErrInvalidRewardID)
	}
	return RewardID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id RewardID) String() string {
	return id.value
}

// NewAchievementID validates and normalizes an achievement id.
func NewAchievementID(raw string) (AchievementID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AchievementID{}, fmt.Errorf("%w: empty value", ErrInvalidAchievementID)
	}
	return AchievementID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AchievementID) String() string {
	return id.value
}

// NewRedemptionID validates and normalizes a redemption id.
func NewRedemptionID(raw string) (RedemptionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return RedemptionID{}, fmt.Errorf("%w: empty value", ErrInvalidRedemptionID)
	}
	return RedemptionID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id RedemptionID) String() string {
	return id.value
}

// SourceKind enumerates what caused a ledger entry.
type SourceKind string

const (
	SourceWorkoutCompletion SourceKind = "workout_completion"
	SourceStreakBonus       SourceKind = "streak_bonus"
	SourceAchievementEarned SourceKind = "achievement_earned"
	SourceRewardRedemption  SourceKind = "reward_redemption"
	SourceAdminAdjustment   SourceKind = "admin_adjustment"
	SourceExpiration        SourceKind = "expiration"
)

// ParseSourceKind validates a raw source kind.
func ParseSourceKind(raw string) (SourceKind, error) {
	switch kind := SourceKind(strings.TrimSpace(raw)); kind {
	case SourceWorkoutCompletion, SourceStreakBonus, SourceAchievementEarned, SourceRewardRedemption, SourceAdminAdjustment, SourceExpiration:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSource, raw)
	}
}

// String returns the wire value.
func (kind SourceKind) String() string {
	return string(kind)
}

// IsEarning reports whether the kind only ever credits points.
func (kind SourceKind) IsEarning() bool {
	switch kind {
	case SourceWorkoutCompletion, SourceStreakBonus, SourceAchievementEarned:
		return true
	default:
		return false
	}
}

// raisesLifetime reports whether a delta of this kind counts toward lifetime earned.
// Redemption refunds return spent points and are not new earnings.
func (kind SourceKind) raisesLifetime(delta Points) bool {
	if delta <= 0 {
		return false
	}
	return kind.IsEarning() || kind == SourceAdminAdjustment
}

func validateDelta(kind SourceKind, delta Points) error {
	if _, err := ParseSourceKind(kind.String()); err != nil {
		return err
	}
	if delta == 0 {
		return fmt.Errorf("%w: delta must not be zero", ErrInvalidAmount)
	}
	if kind.IsEarning() && delta < 0 {
		return fmt.Errorf("%w: %s only credits points", ErrInvalidAmount, kind)
	}
	if kind == SourceExpiration && delta > 0 {
		return fmt.Errorf("%w: expiration only debits points", ErrInvalidAmount)
	}
	return nil
}

// RequirementType enumerates achievement trigger metrics.
type RequirementType string

const (
	RequirementSessionCount     RequirementType = "session_count"
	RequirementExerciseCount    RequirementType = "exercise_count"
	RequirementLevelReached     RequirementType = "level_reached"
	RequirementSpecificExercise RequirementType = "specific_exercise"
	RequirementStreakDays       RequirementType = "streak_days"
)

// ParseRequirementType validates a raw requirement type.
func ParseRequirementType(raw string) (RequirementType, error) {
	switch requirementType := RequirementType(strings.TrimSpace(raw)); requirementType {
	case RequirementSessionCount, RequirementExerciseCount, RequirementLevelReached, RequirementSpecificExercise, RequirementStreakDays:
		return requirementType, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRequirementType, raw)
	}
}

// String returns the wire value.
func (requirementType RequirementType) String() string {
	return string(requirementType)
}

// AchievementTier is the cosmetic grouping of an achievement.
type AchievementTier string

const (
	AchievementTierBronze   AchievementTier = "bronze"
	AchievementTierSilver   AchievementTier = "silver"
	AchievementTierGold     AchievementTier = "gold"
	AchievementTierPlatinum AchievementTier = "platinum"
)

// ParseAchievementTier validates a raw achievement tier.
func ParseAchievementTier(raw string) (AchievementTier, error) {
	switch tier := AchievementTier(strings.TrimSpace(raw)); tier {
	case AchievementTierBronze, AchievementTierSilver, AchievementTierGold, AchievementTierPlatinum:
		return tier, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAchievementTier, raw)
	}
}

// RedemptionStatus is the redemption lifecycle.
type RedemptionStatus string

const (
	RedemptionPending   RedemptionStatus = "pending"
	RedemptionFulfilled RedemptionStatus = "fulfilled"
	RedemptionCancelled RedemptionStatus = "cancelled"
	RedemptionExpired   RedemptionStatus = "expired"
)

// ParseRedemptionStatus validates a raw status.
func ParseRedemptionStatus(raw string) (RedemptionStatus, error) {
	switch status := RedemptionStatus(strings.TrimSpace(raw)); status {
	case RedemptionPending, RedemptionFulfilled, RedemptionCancelled, RedemptionExpired:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRedemptionState, raw)
	}
}

// String returns the wire value.
func (status RedemptionStatus) String() string {
	return string(status)
}

// refunds reports whether moving into status returns points and stock.
func (status RedemptionStatus) refunds() bool {
	return status == RedemptionCancelled || status == RedemptionExpired
}

// Profile is the per-user gamification state. Level and tier are derived.
type Profile struct {
	UserID            string    `json:"user_id"`
	CurrentBalance    Points    `json:"current_balance"`
	LifetimeEarned    Points    `json:"lifetime_earned"`
	CurrentStreakDays int       `json:"current_streak_days"`
	LongestStreakDays int       `json:"longest_streak_days"`
	LastActivityDate  time.Time `json:"last_activity_date,omitempty"`
	LastSequence      int64     `json:"last_sequence"`
	Version           int64     `json:"version"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ProfileView is a profile with its derived progression and rank.
type ProfileView struct {
	Profile
	Level           int    `json:"level"`
	Tier            string `json:"tier"`
	NextTier        string `json:"next_tier,omitempty"`
	NextLevelPoints int64  `json:"next_level_points"`
	NextTierPoints  int64  `json:"next_tier_points"`
	Rank            int    `json:"rank,omitempty"`
}

// LedgerEntry is one immutable point-affecting event.
type LedgerEntry struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	Sequence         int64      `json:"sequence"`
	Delta            Points     `json:"delta"`
	ResultingBalance Points     `json:"resulting_balance"`
	SourceKind       SourceKind `json:"source_kind"`
	SourceRef        string     `json:"source_ref,omitempty"`
	IdempotencyKey   string     `json:"idempotency_key"`
	Description      string     `json:"description,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Page selects a reverse-chronological window of ledger history.
type Page struct {
	// BeforeSequence excludes entries at or after this sequence; zero means newest.
	BeforeSequence int64
	Limit          int
}

// AchievementDefinition is a static catalog entry.
type AchievementDefinition struct {
	ID               string          `json:"id" yaml:"id"`
	Name             string          `json:"name" yaml:"name"`
	Description      string          `json:"description,omitempty" yaml:"description"`
	RequirementType  RequirementType `json:"requirement_type" yaml:"requirement_type"`
	RequirementKey   string          `json:"requirement_key,omitempty" yaml:"requirement_key"`
	RequirementValue int64           `json:"requirement_value" yaml:"requirement_value"`
	PointValue       Points          `json:"point_value" yaml:"point_value"`
	Tier             AchievementTier `json:"tier" yaml:"tier"`
	IsActive         bool            `json:"is_active" yaml:"is_active"`
}

// Validate checks the definition's fields.
func (definition AchievementDefinition) Validate() error {
	if _, err := NewAchievementID(definition.ID); err != nil {
		return err
	}
	if strings.TrimSpace(definition.Name) == "" {
		return fmt.Errorf("%w: %s has no name", ErrInvalidAchievement, definition.ID)
	}
	if _, err := ParseRequirementType(definition.RequirementType.String()); err != nil {
		return err
	}
	hasKey := strings.TrimSpace(definition.RequirementKey) != ""
	if definition.RequirementType == RequirementSpecificExercise && !hasKey {
		return fmt.Errorf("%w: specific_exercise requires an exercise key", ErrInvalidRequirementKey)
	}
	if definition.RequirementType != RequirementSpecificExercise && hasKey {
		return fmt.Errorf("%w: only specific_exercise takes a key", ErrInvalidRequirementKey)
	}
	if definition.RequirementValue <= 0 {
		return fmt.Errorf("%w: %s requirement value must be positive", ErrInvalidAchievement, definition.ID)
	}
	if definition.PointValue <= 0 {
		return fmt.Errorf("%w: %s point value must be positive", ErrInvalidAchievement, definition.ID)
	}
	if _, err := ParseAchievementTier(string(definition.Tier)); err != nil {
		return err
	}
	return nil
}

func (definition AchievementDefinition) matches(update progressUpdate) bool {
	if !definition.IsActive || definition.RequirementType != update.requirementType {
		return false
	}
	return definition.RequirementKey == update.key
}

// AchievementProgress is the per (user, achievement) state.
type AchievementProgress struct {
	UserID        string    `json:"user_id"`
	AchievementID string    `json:"achievement_id"`
	Progress      int64     `json:"progress"`
	IsCompleted   bool      `json:"is_completed"`
	EarnedAt      time.Time `json:"earned_at,omitempty"`
	PointsAwarded Points    `json:"points_awarded"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AchievementStatus pairs a definition with a user's progress toward it.
type AchievementStatus struct {
	Definition AchievementDefinition `json:"definition"`
	Progress   AchievementProgress   `json:"progress"`
}

// UnlockedAchievement is returned for each achievement completed by a command.
type UnlockedAchievement struct {
	Definition AchievementDefinition `json:"definition"`
	Progress   AchievementProgress   `json:"progress"`
	// Entry is nil for achievements worth zero points.
	Entry *LedgerEntry `json:"entry,omitempty"`
}

// Reward is a redeemable catalog item.
type Reward struct {
	ID              string    `json:"id" yaml:"id"`
	Name            string    `json:"name" yaml:"name"`
	Description     string    `json:"description,omitempty" yaml:"description"`
	PointCost       Points    `json:"point_cost" yaml:"point_cost"`
	Stock           int64     `json:"stock" yaml:"stock"`
	IsActive        bool      `json:"is_active" yaml:"is_active"`
	RedemptionCount int64     `json:"redemption_count" yaml:"-"`
	UpdatedAt       time.Time `json:"updated_at" yaml:"-"`
}

// Validate checks the reward's fields.
func (reward Reward) Validate() error {
	if _, err := NewRewardID(reward.ID); err != nil {
		return err
	}
	if strings.TrimSpace(reward.Name) == "" {
		return fmt.Errorf("%w: %s has no name", ErrInvalidReward, reward.ID)
	}
	if reward.PointCost <= 0 {
		return fmt.Errorf("%w: %s point cost must be positive", ErrInvalidReward, reward.ID)
	}
	if reward.Stock < 0 {
		return fmt.Errorf("%w: %s stock must not be negative", ErrInvalidReward, reward.ID)
	}
	return nil
}

// Redemption is a point-for-reward exchange with a frozen price.
type Redemption struct {
	ID         string           `json:"id"`
	UserID     string           `json:"user_id"`
	RewardID   string           `json:"reward_id"`
	PointsCost Points           `json:"points_cost"`
	Status     RedemptionStatus `json:"status"`
	RedeemedAt time.Time        `json:"redeemed_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// StreakState is the streak after an activity was recorded.
type StreakState struct {
	CurrentStreakDays int                   `json:"current_streak_days"`
	LongestStreakDays int                   `json:"longest_streak_days"`
	LastActivityDate  time.Time             `json:"last_activity_date"`
	StreakStartedOn   time.Time             `json:"streak_started_on"`
	Changed           bool                  `json:"changed"`
	Bonus             *LedgerEntry          `json:"bonus,omitempty"`
	Unlocked          []UnlockedAchievement `json:"unlocked,omitempty"`
}

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	Rank             int       `json:"rank"`
	UserID           string    `json:"user_id"`
	LifetimeEarned   Points    `json:"lifetime_earned"`
	Level            int       `json:"level"`
	Tier             string    `json:"tier"`
	ProfileCreatedAt time.Time `json:"profile_created_at"`
}

// LedgerAudit compares the cached balance with the entry history.
type LedgerAudit struct {
	UserID               string `json:"user_id"`
	CurrentBalance       Points `json:"current_balance"`
	SumOfDeltas          Points `json:"sum_of_deltas"`
	LastResultingBalance Points `json:"last_resulting_balance"`
	EntryCount           int64  `json:"entry_count"`
	Consistent           bool   `json:"consistent"`
}

type progressUpdate struct {
	requirementType RequirementType
	key             string
	metric          int64
}

func calendarDay(value time.Time) time.Time {
	return time.Date(value.Year(), value.Month(), value.Day(), 0, 0, 0, 0, time.UTC)
}
