package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Profile mirrors the profiles table.
type Profile struct {
	UserID            string     `gorm:"primaryKey"`
	CurrentBalance    int64      `gorm:"not null"`
	LifetimeEarned    int64      `gorm:"not null;index:idx_profiles_ranking,priority:1"`
	CurrentStreakDays int        `gorm:"not null"`
	LongestStreakDays int        `gorm:"not null"`
	LastActivityDate  *time.Time `gorm:"index"`
	LastSequence      int64      `gorm:"not null"`
	Version           int64      `gorm:"not null"`
	CreatedAt         time.Time  `gorm:"not null;autoCreateTime:false;index:idx_profiles_ranking,priority:2"`
	UpdatedAt         time.Time  `gorm:"not null;autoUpdateTime:false"`
}

func (Profile) TableName() string { return "profiles" }

// LedgerEntry mirrors the ledger_entries table. Rows are never updated.
type LedgerEntry struct {
	EntryID          string    `gorm:"primaryKey"`
	UserID           string    `gorm:"not null;index:uniq_entry_sequence,unique,priority:1;index:uniq_entry_idem,unique,priority:1"`
	Sequence         int64     `gorm:"not null;index:uniq_entry_sequence,unique,priority:2"`
	Delta            int64     `gorm:"not null"`
	ResultingBalance int64     `gorm:"not null"`
	SourceKind       string    `gorm:"not null;index"`
	SourceRef        string    `gorm:"not null"`
	IdempotencyKey   string    `gorm:"not null;index:uniq_entry_idem,unique,priority:2"`
	Description      string    `gorm:"not null"`
	CreatedAt        time.Time `gorm:"not null;autoCreateTime:false"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// Achievement mirrors the achievements table.
type Achievement struct {
	AchievementID    string    `gorm:"primaryKey"`
	Name             string    `gorm:"not null"`
	Description      string    `gorm:"not null"`
	RequirementType  string    `gorm:"not null;index"`
	RequirementKey   string    `gorm:"not null"`
	RequirementValue int64     `gorm:"not null"`
	PointValue       int64     `gorm:"not null"`
	Tier             string    `gorm:"not null"`
	IsActive         bool      `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (Achievement) TableName() string { return "achievements" }

// AchievementProgress mirrors the achievement_progress table.
type AchievementProgress struct {
	UserID        string     `gorm:"primaryKey"`
	AchievementID string     `gorm:"primaryKey"`
	Progress      int64      `gorm:"not null"`
	IsCompleted   bool       `gorm:"not null"`
	EarnedAt      *time.Time `gorm:""`
	PointsAwarded int64      `gorm:"not null"`
	UpdatedAt     time.Time  `gorm:"not null;autoUpdateTime:false"`
}

func (AchievementProgress) TableName() string { return "achievement_progress" }

// Reward mirrors the rewards table.
type Reward struct {
	RewardID        string    `gorm:"primaryKey"`
	Name            string    `gorm:"not null"`
	Description     string    `gorm:"not null"`
	PointCost       int64     `gorm:"not null"`
	Stock           int64     `gorm:"not null"`
	IsActive        bool      `gorm:"not null"`
	RedemptionCount int64     `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (Reward) TableName() string { return "rewards" }

// Redemption mirrors the redemptions table.
type Redemption struct {
	RedemptionID string    `gorm:"primaryKey"`
	UserID       string    `gorm:"not null;index:idx_redemptions_user_redeemed,priority:1"`
	RewardID     string    `gorm:"not null;index"`
	PointsCost   int64     `gorm:"not null"`
	Status       string    `gorm:"not null"`
	RedeemedAt   time.Time `gorm:"not null;index:idx_redemptions_user_redeemed,priority:2"`
	UpdatedAt    time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (Redemption) TableName() string { return "redemptions" }

// ActivityDay mirrors the activity_days table; Day is YYYY-MM-DD.
type ActivityDay struct {
	UserID string `gorm:"primaryKey"`
	Day    string `gorm:"primaryKey;size:10"`
}

func (ActivityDay) TableName() string { return "activity_days" }

// EventRecord mirrors the event_log table written by AuditLog.
type EventRecord struct {
	EventKey   string         `gorm:"primaryKey"`
	EventID    string         `gorm:"not null"`
	Kind       string         `gorm:"not null;index"`
	UserID     string         `gorm:"not null;index:idx_event_log_user_occurred,priority:1"`
	Payload    datatypes.JSON `gorm:"not null"`
	OccurredAt time.Time      `gorm:"not null;index:idx_event_log_user_occurred,priority:2"`
	RecordedAt time.Time      `gorm:"not null"`
}

func (EventRecord) TableName() string { return "event_log" }

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{
		&Profile{},
		&LedgerEntry{},
		&Achievement{},
		&AchievementProgress{},
		&Reward{},
		&Redemption{},
		&ActivityDay{},
		&EventRecord{},
	}
}

// AutoMigrate creates or updates every table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
