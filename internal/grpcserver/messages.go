package grpcserver

import (
	"time"

	"github.com/MarkoPoloResearchLab/gamification/pkg/gamification"
)

type AwardPointsRequest struct {
	UserID      string `json:"user_id"`
	Amount      int64  `json:"amount"`
	SourceKind  string `json:"source_kind"`
	SourceRef   string `json:"source_ref,omitempty"`
	Description string `json:"description,omitempty"`
}

type CommitRequest struct {
	UserID      string `json:"user_id"`
	Delta       int64  `json:"delta"`
	SourceKind  string `json:"source_kind"`
	SourceRef   string `json:"source_ref,omitempty"`
	Description string `json:"description,omitempty"`
}

type ExpirePointsRequest struct {
	UserID    string `json:"user_id"`
	SourceRef string `json:"source_ref"`
}

type EntryResponse struct {
	Entry gamification.LedgerEntry `json:"entry"`
}

// RecordProgressRequest reports a metric. ExerciseKey is only set for
// specific_exercise progress.
type RecordProgressRequest struct {
	UserID          string `json:"user_id"`
	RequirementType string `json:"requirement_type"`
	ExerciseKey     string `json:"exercise_key,omitempty"`
	Metric          int64  `json:"metric"`
}

type UnlockedResponse struct {
	Unlocked []gamification.UnlockedAchievement `json:"unlocked"`
}

type RecordActivityRequest struct {
	UserID       string    `json:"user_id"`
	ActivityDate time.Time `json:"activity_date"`
}

type StreakResponse struct {
	Streak gamification.StreakState `json:"streak"`
}

type RedeemRequest struct {
	UserID   string `json:"user_id"`
	RewardID string `json:"reward_id"`
}

type RedemptionRequest struct {
	RedemptionID string `json:"redemption_id"`
}

type RedemptionResponse struct {
	Redemption gamification.Redemption `json:"redemption"`
}

type UserRequest struct {
	UserID string `json:"user_id"`
}

type ProfileResponse struct {
	Profile gamification.ProfileView `json:"profile"`
}

type HistoryRequest struct {
	UserID         string `json:"user_id"`
	BeforeSequence int64  `json:"before_sequence,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

type HistoryResponse struct {
	Entries []gamification.LedgerEntry `json:"entries"`
}

type LeaderboardRequest struct {
	Limit int `json:"limit,omitempty"`
}

type LeaderboardResponse struct {
	Entries []gamification.LeaderboardEntry `json:"entries"`
}

type RankResponse struct {
	Entry gamification.LeaderboardEntry `json:"entry"`
}

type AchievementProgressResponse struct {
	Achievements []gamification.AchievementStatus `json:"achievements"`
}

type AuditResponse struct {
	Audit gamification.LedgerAudit `json:"audit"`
}

type ListRewardsRequest struct{}

type RewardsResponse struct {
	Rewards []gamification.Reward `json:"rewards"`
}

type RedemptionsResponse struct {
	Redemptions []gamification.Redemption `json:"redemptions"`
}

// CalendarRequest selects active days in [From, To], both inclusive.
type CalendarRequest struct {
	UserID string    `json:"user_id"`
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
}

type CalendarResponse struct {
	Days []time.Time `json:"days"`
}
