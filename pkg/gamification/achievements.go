package gamification

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// RecordProgress compares metric against every active definition of
// requirementType and unlocks the ones it reaches. Level achievements are
// evaluated against the level derived from the committed lifetime total, so
// metric is ignored for RequirementLevelReached.
func (service *Service) RecordProgress(ctx context.Context, userID UserID, requirementType RequirementType, metric int64) ([]UnlockedAchievement, error) {
	var unlocked []UnlockedAchievement
	operationError := validateProgress(userID, requirementType, metric)
	if operationError == nil && requirementType == RequirementSpecificExercise {
		operationError = fmt.Errorf("%w: specific_exercise progress needs an exercise key", ErrInvalidRequirementKey)
	}
	if operationError == nil {
		unlocked, operationError = service.recordProgress(ctx, userID.String(), progressUpdate{
			requirementType: requirementType,
			metric:          metric,
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationRecordProgress,
		UserID:    userID.String(),
		Reference: requirementType.String(),
		Amount:    sumUnlockedPoints(unlocked),
		Error:     operationError,
	})
	return unlocked, operationError
}

// RecordExerciseProgress is RecordProgress for specific_exercise definitions
// keyed by exerciseKey.
func (service *Service) RecordExerciseProgress(ctx context.Context, userID UserID, exerciseKey string, metric int64) ([]UnlockedAchievement, error) {
	var unlocked []UnlockedAchievement
	exerciseKey = strings.TrimSpace(exerciseKey)
	operationError := validateProgress(userID, RequirementSpecificExercise, metric)
	if operationError == nil && exerciseKey == "" {
		operationError = fmt.Errorf("%w: empty exercise key", ErrInvalidRequirementKey)
	}
	if operationError == nil {
		unlocked, operationError = service.recordProgress(ctx, userID.String(), progressUpdate{
			requirementType: RequirementSpecificExercise,
			key:             exerciseKey,
			metric:          metric,
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationRecordProgress,
		UserID:    userID.String(),
		Reference: RequirementSpecificExercise.String() + idempotencyKeyDelimiter + exerciseKey,
		Amount:    sumUnlockedPoints(unlocked),
		Error:     operationError,
	})
	return unlocked, operationError
}

// UpsertAchievement creates or replaces a catalog definition.
func (service *Service) UpsertAchievement(ctx context.Context, definition AchievementDefinition) (AchievementDefinition, error) {
	definition.ID = strings.TrimSpace(definition.ID)
	definition.RequirementKey = strings.TrimSpace(definition.RequirementKey)
	operationError := definition.Validate()
	if operationError == nil {
		operationError = service.store.UpsertAchievement(ctx, definition)
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationUpsertAchievement,
		Reference: definition.ID,
		Amount:    definition.PointValue,
		Error:     operationError,
	})
	if operationError != nil {
		return AchievementDefinition{}, operationError
	}
	return definition, nil
}

// ListAchievements returns every definition, active or not.
func (service *Service) ListAchievements(ctx context.Context) ([]AchievementDefinition, error) {
	return service.store.ListAchievements(ctx)
}

// GetAchievementProgress returns the user's standing against every active definition.
func (service *Service) GetAchievementProgress(ctx context.Context, userID UserID) ([]AchievementStatus, error) {
	if err := requireUserID(userID); err != nil {
		return nil, err
	}
	definitions, err := service.store.ListAchievements(ctx)
	if err != nil {
		return nil, err
	}
	progressRows, err := service.store.ListAchievementProgress(ctx, userID.String())
	if err != nil {
		return nil, err
	}
	progressByAchievement := make(map[string]AchievementProgress, len(progressRows))
	for _, progress := range progressRows {
		progressByAchievement[progress.AchievementID] = progress
	}
	statuses := make([]AchievementStatus, 0, len(definitions))
	for _, definition := range definitions {
		if !definition.IsActive {
			continue
		}
		progress, exists := progressByAchievement[definition.ID]
		if !exists {
			progress = AchievementProgress{UserID: userID.String(), AchievementID: definition.ID}
		}
		statuses = append(statuses, AchievementStatus{Definition: definition, Progress: progress})
	}
	return statuses, nil
}

func (service *Service) recordProgress(ctx context.Context, userID string, update progressUpdate) ([]UnlockedAchievement, error) {
	var unlocked []UnlockedAchievement
	err := service.runLocked(ctx, userID, func(ctx context.Context) error {
		evaluated, err := service.evaluateLocked(ctx, userID, update)
		if err != nil {
			return err
		}
		unlocked = append(unlocked, evaluated...)
		if anyCredited(evaluated) {
			unlocked = append(unlocked, service.settleLevelAchievements(ctx, userID)...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return unlocked, nil
}

// evaluateLocked runs one evaluation transaction. The caller holds the user's lock.
func (service *Service) evaluateLocked(ctx context.Context, userID string, update progressUpdate) ([]UnlockedAchievement, error) {
	var unlocked []UnlockedAchievement
	var events []Event
	var profile Profile
	txErr := service.transact(ctx, func(ctx context.Context, transactionStore Store) error {
		unlocked, events = nil, nil
		definitions, err := transactionStore.ListAchievementsByRequirement(ctx, update.requirementType)
		if err != nil {
			return err
		}
		candidates := make([]AchievementDefinition, 0, len(definitions))
		for _, definition := range definitions {
			if definition.matches(update) {
				candidates = append(candidates, definition)
			}
		}
		if len(candidates) == 0 {
			return nil
		}

		now := service.now()
		current, err := transactionStore.GetOrCreateProfile(ctx, userID, now)
		if err != nil {
			return err
		}
		metric := update.metric
		if update.requirementType == RequirementLevelReached {
			metric = int64(service.calculator.Level(current.LifetimeEarned.Int64()))
		}

		credited := false
		for _, definition := range candidates {
			progress, err := transactionStore.GetAchievementProgress(ctx, userID, definition.ID)
			switch {
			case errors.Is(err, ErrProgressNotFound):
				progress = AchievementProgress{UserID: userID, AchievementID: definition.ID, Progress: -1}
			case err != nil:
				return err
			}
			if progress.IsCompleted || metric <= progress.Progress {
				continue
			}
			progress.Progress = metric
			progress.UpdatedAt = now
			var entry *LedgerEntry
			if definition.RequirementValue <= metric {
				progress.IsCompleted = true
				progress.EarnedAt = now
				committed, err := appendEntry(ctx, transactionStore, &current, entryDraft{
					delta:          definition.PointValue,
					kind:           SourceAchievementEarned,
					sourceRef:      definition.ID,
					idempotencyKey: deriveIdempotencyKey(SourceAchievementEarned, definition.ID),
					description:    "Achievement unlocked: " + definition.Name,
				}, now)
				switch {
				case errors.Is(err, ErrDuplicateIdempotencyKey):
					// Already credited for this pair; only the progress row was missing.
				case err != nil:
					return err
				default:
					progress.PointsAwarded = committed.Delta
					entry = &committed
					credited = true
				}
			}
			if err := transactionStore.SaveAchievementProgress(ctx, progress); err != nil {
				return err
			}
			if !progress.IsCompleted {
				continue
			}
			unlock := UnlockedAchievement{Definition: definition, Progress: progress, Entry: entry}
			unlocked = append(unlocked, unlock)
			events = append(events, achievementEvent(userID, unlock))
		}
		if credited {
			if err := saveProfile(ctx, transactionStore, &current); err != nil {
				return err
			}
		}
		profile = current
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	if len(unlocked) > 0 {
		service.afterCommit(ctx, profile, events...)
	}
	return unlocked, nil
}

// settleLevelAchievements re-evaluates level achievements until an evaluation
// unlocks nothing that raises lifetime earned. Failures are logged; the
// command that triggered the settlement has already committed.
func (service *Service) settleLevelAchievements(ctx context.Context, userID string) []UnlockedAchievement {
	var settled []UnlockedAchievement
	for round := 0; round < maxLevelCascadeRounds; round++ {
		unlocked, err := service.evaluateLocked(ctx, userID, progressUpdate{requirementType: RequirementLevelReached})
		if err != nil {
			service.logOperation(ctx, OperationLog{
				Operation:  operationSettleLevels,
				UserID:     userID,
				SourceKind: SourceAchievementEarned,
				Error:      err,
			})
			return settled
		}
		settled = append(settled, unlocked...)
		if !anyCredited(unlocked) {
			return settled
		}
	}
	return settled
}

func achievementEvent(userID string, unlock UnlockedAchievement) Event {
	status := AchievementStatus{Definition: unlock.Definition, Progress: unlock.Progress}
	event := Event{
		Kind:        EventAchievementUnlocked,
		Key:         userID + idempotencyKeyDelimiter + deriveIdempotencyKey(SourceAchievementEarned, unlock.Definition.ID),
		Achievement: &status,
	}
	if unlock.Entry != nil {
		entry := *unlock.Entry
		event.Key = entry.ID
		event.Entry = &entry
	}
	return event
}

func validateProgress(userID UserID, requirementType RequirementType, metric int64) error {
	if err := requireUserID(userID); err != nil {
		return err
	}
	if _, err := ParseRequirementType(requirementType.String()); err != nil {
		return err
	}
	if metric < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMetric, metric)
	}
	return nil
}

func anyCredited(unlocked []UnlockedAchievement) bool {
	for _, unlock := range unlocked {
		if unlock.Entry != nil {
			return true
		}
	}
	return false
}

func sumUnlockedPoints(unlocked []UnlockedAchievement) Points {
	var total Points
	for _, unlock := range unlocked {
		if unlock.Entry != nil {
			total += unlock.Entry.Delta
		}
	}
	return total
}
