package gormstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/gamification/pkg/gamification"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintEntrySequence = "uniq_entry_sequence"
	columnSequence          = "sequence"
	calendarDayLayout       = "2006-01-02"
	pgUniqueViolationCode   = "23505"
	pgSerializationCode     = "40001"
	pgDeadlockCode          = "40P01"
	sqliteConstraintCode    = 19
	sqliteBusyCode          = 5
	sqliteLockedCode        = 6
	errorOperationStore     = "store"
	errorSubjectProfile     = "profile"
	errorSubjectEntry       = "entry"
	errorSubjectAchievement = "achievement"
	errorSubjectProgress    = "progress"
	errorSubjectReward      = "reward"
	errorSubjectRedemption  = "redemption"
	errorSubjectActivity    = "activity"
	errorSubjectTransaction = "transaction"
	errorCodeCreate         = "create"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeLookup         = "lookup"
	errorCodeSum            = "sum"
	errorCodeUpdate         = "update"
	errorCodeUpdateStatus   = "update_status"
	errorCodeUpsert         = "upsert"
	errorCodeStock          = "stock"
	errorCodeCommit         = "commit"
)

// Store implements gamification.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore gamification.Store) error) error {
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
	if isUnavailable(err) || isContention(err) {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return err
}

func (store *Store) GetOrCreateProfile(ctx context.Context, userID string, now time.Time) (gamification.Profile, error) {
	seed := Profile{UserID: userID, CreatedAt: now.UTC(), UpdatedAt: now.UTC()}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&seed).Error
	if err != nil {
		return gamification.Profile{}, wrapStoreError(errorSubjectProfile, errorCodeCreate, err)
	}
	var model Profile
	err = store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		Take(&model).Error
	if err != nil {
		return gamification.Profile{}, wrapStoreError(errorSubjectProfile, errorCodeLookup, err)
	}
	return mapProfile(model), nil
}

func (store *Store) GetProfile(ctx context.Context, userID string) (gamification.Profile, error) {
	var model Profile
	err := store.db.WithContext(ctx).Where("user_id = ?", userID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return gamification.Profile{}, wrapStoreError(errorSubjectProfile, errorCodeGet, gamification.ErrProfileNotFound)
		}
		return gamification.Profile{}, wrapStoreError(errorSubjectProfile, errorCodeGet, err)
	}
	return mapProfile(model), nil
}

// UpdateProfile writes profile when the stored version still matches.
func (store *Store) UpdateProfile(ctx context.Context, profile gamification.Profile) error {
	result := store.db.WithContext(ctx).
		Model(&Profile{}).
		Where("user_id = ? AND version = ?", profile.UserID, profile.Version).
		Updates(map[string]any{
			"current_balance":     profile.CurrentBalance.Int64(),
			"lifetime_earned":     profile.LifetimeEarned.Int64(),
			"current_streak_days": profile.CurrentStreakDays,
			"longest_streak_days": profile.LongestStreakDays,
			"last_activity_date":  timePointer(profile.LastActivityDate),
			"last_sequence":       profile.LastSequence,
			"version":             profile.Version + 1,
			"updated_at":          profile.UpdatedAt.UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectProfile, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}
	var count int64
	if err := store.db.WithContext(ctx).Model(&Profile{}).Where("user_id = ?", profile.UserID).Count(&count).Error; err != nil {
		return wrapStoreError(errorSubjectProfile, errorCodeUpdate, err)
	}
	if count == 0 {
		return wrapStoreError(errorSubjectProfile, errorCodeUpdate, gamification.ErrProfileNotFound)
	}
	return wrapStoreError(errorSubjectProfile, errorCodeUpdate, gamification.ErrConflict)
}

func (store *Store) ListProfiles(ctx context.Context) ([]gamification.Profile, error) {
	var rows []Profile
	if err := store.db.WithContext(ctx).Order("user_id").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectProfile, errorCodeList, err)
	}
	return mapProfiles(rows), nil
}

// ListExpirableProfiles returns profiles holding points whose last activity,
// or last update when they never recorded activity, is before inactiveBefore.
func (store *Store) ListExpirableProfiles(ctx context.Context, inactiveBefore time.Time) ([]gamification.Profile, error) {
	cutoff := inactiveBefore.UTC()
	var rows []Profile
	err := store.db.WithContext(ctx).
		Where("current_balance > 0").
		Where("(last_activity_date IS NOT NULL AND last_activity_date < ?) OR (last_activity_date IS NULL AND updated_at < ?)", cutoff, cutoff).
		Order("user_id").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectProfile, errorCodeList, err)
	}
	return mapProfiles(rows), nil
}

func (store *Store) InsertEntry(ctx context.Context, entry gamification.LedgerEntry) error {
	model := LedgerEntry{
		EntryID:          entry.ID,
		UserID:           entry.UserID,
		Sequence:         entry.Sequence,
		Delta:            entry.Delta.Int64(),
		ResultingBalance: entry.ResultingBalance.Int64(),
		SourceKind:       entry.SourceKind.String(),
		SourceRef:        entry.SourceRef,
		IdempotencyKey:   entry.IdempotencyKey,
		Description:      entry.Description,
		CreatedAt:        entry.CreatedAt.UTC(),
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isSequenceConflict(err) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, gamification.ErrConflict)
	}
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, gamification.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) FindEntryByIdempotencyKey(ctx context.Context, userID string, idempotencyKey string) (gamification.LedgerEntry, error) {
	var model LedgerEntry
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, idempotencyKey).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return gamification.LedgerEntry{}, wrapStoreError(errorSubjectEntry, errorCodeLookup, gamification.ErrEntryNotFound)
		}
		return gamification.LedgerEntry{}, wrapStoreError(errorSubjectEntry, errorCodeLookup, err)
	}
	return mapLedgerEntry(model)
}

// ListEntries returns entries newest first.
func (store *Store) ListEntries(ctx context.Context, userID string, page gamification.Page) ([]gamification.LedgerEntry, error) {
	query := store.db.WithContext(ctx).Where("user_id = ?", userID)
	if page.BeforeSequence > 0 {
		query = query.Where("sequence < ?", page.BeforeSequence)
	}
	if page.Limit > 0 {
		query = query.Limit(page.Limit)
	}
	var rows []LedgerEntry
	if err := query.Order("sequence DESC").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	entries := make([]gamification.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapLedgerEntry(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (store *Store) SumDeltas(ctx context.Context, userID string) (gamification.Points, int64, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Select("coalesce(sum(delta),0) as total, count(*) as entries").
		Where("user_id = ?", userID).
		Scan(&sum).Error
	if err != nil {
		return 0, 0, wrapStoreError(errorSubjectEntry, errorCodeSum, err)
	}
	return gamification.Points(sum.Total), sum.Entries, nil
}

func (store *Store) UpsertAchievement(ctx context.Context, definition gamification.AchievementDefinition) error {
	model := Achievement{
		AchievementID:    definition.ID,
		Name:             definition.Name,
		Description:      definition.Description,
		RequirementType:  definition.RequirementType.String(),
		RequirementKey:   definition.RequirementKey,
		RequirementValue: definition.RequirementValue,
		PointValue:       definition.PointValue.Int64(),
		Tier:             string(definition.Tier),
		IsActive:         definition.IsActive,
		UpdatedAt:        time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "achievement_id"}}, UpdateAll: true}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectAchievement, errorCodeUpsert, err)
	}
	return nil
}

func (store *Store) GetAchievement(ctx context.Context, achievementID string) (gamification.AchievementDefinition, error) {
	var model Achievement
	err := store.db.WithContext(ctx).Where("achievement_id = ?", achievementID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return gamification.AchievementDefinition{}, wrapStoreError(errorSubjectAchievement, errorCodeGet, gamification.ErrAchievementNotFound)
		}
		return gamification.AchievementDefinition{}, wrapStoreError(errorSubjectAchievement, errorCodeGet, err)
	}
	return mapAchievement(model)
}

func (store *Store) ListAchievements(ctx context.Context) ([]gamification.AchievementDefinition, error) {
	return store.listAchievements(store.db.WithContext(ctx))
}

func (store *Store) ListAchievementsByRequirement(ctx context.Context, requirementType gamification.RequirementType) ([]gamification.AchievementDefinition, error) {
	return store.listAchievements(store.db.WithContext(ctx).Where("requirement_type = ?", requirementType.String()))
}

func (store *Store) listAchievements(query *gorm.DB) ([]gamification.AchievementDefinition, error) {
	var rows []Achievement
	if err := query.Order("achievement_id").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectAchievement, errorCodeList, err)
	}
	definitions := make([]gamification.AchievementDefinition, 0, len(rows))
	for _, row := range rows {
		definition, err := mapAchievement(row)
		if err != nil {
			return nil, err
		}
		definitions = append(definitions, definition)
	}
	return definitions, nil
}

func (store *Store) GetAchievementProgress(ctx context.Context, userID string, achievementID string) (gamification.AchievementProgress, error) {
	var model AchievementProgress
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND achievement_id = ?", userID, achievementID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return gamification.AchievementProgress{}, wrapStoreError(errorSubjectProgress, errorCodeGet, gamification.ErrProgressNotFound)
		}
		return gamification.AchievementProgress{}, wrapStoreError(errorSubjectProgress, errorCodeGet, err)
	}
	return mapProgress(model), nil
}

func (store *Store) SaveAchievementProgress(ctx context.Context, progress gamification.AchievementProgress) error {
	model := AchievementProgress{
		UserID:        progress.UserID,
		AchievementID: progress.AchievementID,
		Progress:      progress.Progress,
		IsCompleted:   progress.IsCompleted,
		EarnedAt:      timePointer(progress.EarnedAt),
		PointsAwarded: progress.PointsAwarded.Int64(),
		UpdatedAt:     progress.UpdatedAt.UTC(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "achievement_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"progress", "is_completed", "earned_at", "points_awarded", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectProgress, errorCodeUpsert, err)
	}
	return nil
}

func (store *Store) ListAchievementProgress(ctx context.Context, userID string) ([]gamification.AchievementProgress, error) {
	var rows []AchievementProgress
	if err := store.db.WithContext(ctx).Where("user_id = ?", userID).Order("achievement_id").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectProgress, errorCodeList, err)
	}
	progress := make([]gamification.AchievementProgress, 0, len(rows))
	for _, row := range rows {
		progress = append(progress, mapProgress(row))
	}
	return progress, nil
}

// UpsertReward writes the catalog fields and leaves the redemption count alone.
func (store *Store) UpsertReward(ctx context.Context, reward gamification.Reward) error {
	updatedAt := reward.UpdatedAt.UTC()
	if reward.UpdatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	model := Reward{
		RewardID:    reward.ID,
		Name:        reward.Name,
		Description: reward.Description,
		PointCost:   reward.PointCost.Int64(),
		Stock:       reward.Stock,
		IsActive:    reward.IsActive,
		UpdatedAt:   updatedAt,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "reward_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "description", "point_cost", "stock", "is_active", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectReward, errorCodeUpsert, err)
	}
	return nil
}

func (store *Store) GetReward(ctx context.Context, rewardID string) (gamification.Reward, error) {
	var model Reward
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("reward_id = ?", rewardID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return gamification.Reward{}, wrapStoreError(errorSubjectReward, errorCodeGet, gamification.ErrRewardNotFound)
		}
		return gamification.Reward{}, wrapStoreError(errorSubjectReward, errorCodeGet, err)
	}
	return mapReward(model), nil
}

func (store *Store) ListRewards(ctx context.Context) ([]gamification.Reward, error) {
	var rows []Reward
	if err := store.db.WithContext(ctx).Order("reward_id").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectReward, errorCodeList, err)
	}
	rewards := make([]gamification.Reward, 0, len(rows))
	for _, row := range rows {
		rewards = append(rewards, mapReward(row))
	}
	return rewards, nil
}

// ClaimRewardStock takes one unit in a single conditional update so stock never goes below zero.
func (store *Store) ClaimRewardStock(ctx context.Context, rewardID string) error {
	result := store.db.WithContext(ctx).
		Model(&Reward{}).
		Where("reward_id = ? AND stock > 0", rewardID).
		Updates(map[string]any{
			"stock":            gorm.Expr("stock - 1"),
			"redemption_count": gorm.Expr("redemption_count + 1"),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectReward, errorCodeStock, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectReward, errorCodeStock, gamification.ErrOutOfStock)
	}
	return nil
}

func (store *Store) RestoreRewardStock(ctx context.Context, rewardID string) error {
	result := store.db.WithContext(ctx).
		Model(&Reward{}).
		Where("reward_id = ?", rewardID).
		Update("stock", gorm.Expr("stock + 1"))
	if result.Error != nil {
		return wrapStoreError(errorSubjectReward, errorCodeStock, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectReward, errorCodeStock, gamification.ErrRewardNotFound)
	}
	return nil
}

func (store *Store) CreateRedemption(ctx context.Context, redemption gamification.Redemption) error {
	model := Redemption{
		RedemptionID: redemption.ID,
		UserID:       redemption.UserID,
		RewardID:     redemption.RewardID,
		PointsCost:   redemption.PointsCost.Int64(),
		Status:       redemption.Status.String(),
		RedeemedAt:   redemption.RedeemedAt.UTC(),
		UpdatedAt:    redemption.UpdatedAt.UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectRedemption, errorCodeDuplicate, gamification.ErrConflict)
	}
	if err != nil {
		return wrapStoreError(errorSubjectRedemption, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetRedemption(ctx context.Context, redemptionID string) (gamification.Redemption, error) {
	var model Redemption
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("redemption_id = ?", redemptionID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return gamification.Redemption{}, wrapStoreError(errorSubjectRedemption, errorCodeGet, gamification.ErrRedemptionNotFound)
		}
		return gamification.Redemption{}, wrapStoreError(errorSubjectRedemption, errorCodeGet, err)
	}
	return mapRedemption(model)
}

func (store *Store) UpdateRedemptionStatus(ctx context.Context, redemptionID string, from gamification.RedemptionStatus, to gamification.RedemptionStatus, at time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&Redemption{}).
		Where("redemption_id = ? AND status = ?", redemptionID, from.String()).
		Updates(map[string]any{"status": to.String(), "updated_at": at.UTC()})
	if result.Error != nil {
		return wrapStoreError(errorSubjectRedemption, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectRedemption, errorCodeUpdateStatus, gamification.ErrRedemptionClosed)
	}
	return nil
}

// ListRedemptions returns the user's redemptions newest first.
func (store *Store) ListRedemptions(ctx context.Context, userID string) ([]gamification.Redemption, error) {
	var rows []Redemption
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("redeemed_at DESC").
		Order("redemption_id").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectRedemption, errorCodeList, err)
	}
	redemptions := make([]gamification.Redemption, 0, len(rows))
	for _, row := range rows {
		redemption, err := mapRedemption(row)
		if err != nil {
			return nil, err
		}
		redemptions = append(redemptions, redemption)
	}
	return redemptions, nil
}

func (store *Store) RecordActivityDay(ctx context.Context, userID string, day time.Time) error {
	model := ActivityDay{UserID: userID, Day: day.Format(calendarDayLayout)}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectActivity, errorCodeInsert, err)
	}
	return nil
}

// ListActivityDays returns the active days in [from, to] in ascending order.
func (store *Store) ListActivityDays(ctx context.Context, userID string, from time.Time, to time.Time) ([]time.Time, error) {
	var rows []ActivityDay
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND day >= ? AND day <= ?", userID, from.Format(calendarDayLayout), to.Format(calendarDayLayout)).
		Order("day").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectActivity, errorCodeList, err)
	}
	days := make([]time.Time, 0, len(rows))
	for _, row := range rows {
		day, err := time.Parse(calendarDayLayout, row.Day)
		if err != nil {
			return nil, wrapStoreError(errorSubjectActivity, errorCodeInvalid, err)
		}
		days = append(days, day)
	}
	return days, nil
}

func wrapStoreError(subject string, code string, err error) error {
	if isUnavailable(err) {
		err = fmt.Errorf("%w: %v", gamification.ErrUnavailable, err)
	} else if isContention(err) {
		err = fmt.Errorf("%w: %v", gamification.ErrConflict, err)
	}
	return gamification.WrapError(errorOperationStore, subject, code, err)
}

type sqlSum struct {
	Total   int64
	Entries int64
}

func mapProfile(model Profile) gamification.Profile {
	profile := gamification.Profile{
		UserID:            model.UserID,
		CurrentBalance:    gamification.Points(model.CurrentBalance),
		LifetimeEarned:    gamification.Points(model.LifetimeEarned),
		CurrentStreakDays: model.CurrentStreakDays,
		LongestStreakDays: model.LongestStreakDays,
		LastSequence:      model.LastSequence,
		Version:           model.Version,
		CreatedAt:         model.CreatedAt.UTC(),
		UpdatedAt:         model.UpdatedAt.UTC(),
	}
	if model.LastActivityDate != nil {
		profile.LastActivityDate = model.LastActivityDate.UTC()
	}
	return profile
}

func mapProfiles(rows []Profile) []gamification.Profile {
	profiles := make([]gamification.Profile, 0, len(rows))
	for _, row := range rows {
		profiles = append(profiles, mapProfile(row))
	}
	return profiles
}

func mapLedgerEntry(row LedgerEntry) (gamification.LedgerEntry, error) {
	sourceKind, err := gamification.ParseSourceKind(row.SourceKind)
	if err != nil {
		return gamification.LedgerEntry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return gamification.LedgerEntry{
		ID:               row.EntryID,
		UserID:           row.UserID,
		Sequence:         row.Sequence,
		Delta:            gamification.Points(row.Delta),
		ResultingBalance: gamification.Points(row.ResultingBalance),
		SourceKind:       sourceKind,
		SourceRef:        row.SourceRef,
		IdempotencyKey:   row.IdempotencyKey,
		Description:      row.Description,
		CreatedAt:        row.CreatedAt.UTC(),
	}, nil
}

func mapAchievement(row Achievement) (gamification.AchievementDefinition, error) {
	requirementType, err := gamification.ParseRequirementType(row.RequirementType)
	if err != nil {
		return gamification.AchievementDefinition{}, wrapStoreError(errorSubjectAchievement, errorCodeInvalid, err)
	}
	tier, err := gamification.ParseAchievementTier(row.Tier)
	if err != nil {
		return gamification.AchievementDefinition{}, wrapStoreError(errorSubjectAchievement, errorCodeInvalid, err)
	}
	return gamification.AchievementDefinition{
		ID:               row.AchievementID,
		Name:             row.Name,
		Description:      row.Description,
		RequirementType:  requirementType,
		RequirementKey:   row.RequirementKey,
		RequirementValue: row.RequirementValue,
		PointValue:       gamification.Points(row.PointValue),
		Tier:             tier,
		IsActive:         row.IsActive,
	}, nil
}

func mapProgress(row AchievementProgress) gamification.AchievementProgress {
	progress := gamification.AchievementProgress{
		UserID:        row.UserID,
		AchievementID: row.AchievementID,
		Progress:      row.Progress,
		IsCompleted:   row.IsCompleted,
		PointsAwarded: gamification.Points(row.PointsAwarded),
		UpdatedAt:     row.UpdatedAt.UTC(),
	}
	if row.EarnedAt != nil {
		progress.EarnedAt = row.EarnedAt.UTC()
	}
	return progress
}

func mapReward(row Reward) gamification.Reward {
	return gamification.Reward{
		ID:              row.RewardID,
		Name:            row.Name,
		Description:     row.Description,
		PointCost:       gamification.Points(row.PointCost),
		Stock:           row.Stock,
		IsActive:        row.IsActive,
		RedemptionCount: row.RedemptionCount,
		UpdatedAt:       row.UpdatedAt.UTC(),
	}
}

func mapRedemption(row Redemption) (gamification.Redemption, error) {
	status, err := gamification.ParseRedemptionStatus(row.Status)
	if err != nil {
		return gamification.Redemption{}, wrapStoreError(errorSubjectRedemption, errorCodeInvalid, err)
	}
	return gamification.Redemption{
		ID:         row.RedemptionID,
		UserID:     row.UserID,
		RewardID:   row.RewardID,
		PointsCost: gamification.Points(row.PointsCost),
		Status:     status,
		RedeemedAt: row.RedeemedAt.UTC(),
		UpdatedAt:  row.UpdatedAt.UTC(),
	}, nil
}

func timePointer(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	utc := value.UTC()
	return &utc
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

// isSequenceConflict reports a second writer claiming the same ledger sequence.
func isSequenceConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintEntrySequence
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode && strings.Contains(sqliteErr.Error(), "."+columnSequence)
	}
	return false
}

func isContention(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationCode || pgErr.Code == pgDeadlockCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		primary := sqliteErr.Code() & 0xFF
		return primary == sqliteBusyCode || primary == sqliteLockedCode
	}
	return false
}

func isUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	return pgconn.Timeout(err)
}
