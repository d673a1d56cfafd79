package gamification

import "time"

const (
	operationCommit            = "commit"
	operationAward             = "award"
	operationExpire            = "expire"
	operationRecordProgress    = "record_progress"
	operationRecordActivity    = "record_activity"
	operationRedeem            = "redeem"
	operationRedemptionUpdate  = "redemption_update"
	operationUpsertReward      = "upsert_reward"
	operationUpsertAchievement = "upsert_achievement"
	operationPublish           = "publish"
	operationSettleLevels      = "settle_levels"

	idempotencyKeyDelimiter = ":"
	idempotencyPrefixRefund = "reward_refund"

	defaultLockTimeout     = 2 * time.Second
	maxConflictRetries     = 3
	maxLevelCascadeRounds  = 16
	defaultHistoryPageSize = 50
	maxHistoryPageSize     = 200
	calendarDayLayout      = "2006-01-02"
)
