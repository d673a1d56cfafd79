package gamification

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// StreakMilestone credits Points once when a streak reaches Days.
type StreakMilestone struct {
	Days   int    `json:"days" yaml:"days"`
	Points Points `json:"points" yaml:"points"`
}

// StreakBonusPolicy decides which streak lengths earn a bonus. The zero value
// grants nothing.
type StreakBonusPolicy struct {
	// IntervalDays grants IntervalPoints on every multiple of IntervalDays.
	IntervalDays   int               `json:"interval_days" yaml:"interval_days"`
	IntervalPoints Points            `json:"interval_points" yaml:"interval_points"`
	Milestones     []StreakMilestone `json:"milestones,omitempty" yaml:"milestones"`
}

// Validate checks the policy's thresholds.
func (policy StreakBonusPolicy) Validate() error {
	if policy.IntervalDays < 0 {
		return fmt.Errorf("streak interval must not be negative: %d", policy.IntervalDays)
	}
	if policy.IntervalDays > 0 && policy.IntervalPoints <= 0 {
		return fmt.Errorf("streak interval of %d days needs positive points", policy.IntervalDays)
	}
	seen := make(map[int]struct{}, len(policy.Milestones))
	for _, milestone := range policy.Milestones {
		if milestone.Days <= 0 || milestone.Points <= 0 {
			return fmt.Errorf("streak milestone %d days/%d points must be positive", milestone.Days, milestone.Points)
		}
		if _, duplicate := seen[milestone.Days]; duplicate {
			return fmt.Errorf("duplicate streak milestone at %d days", milestone.Days)
		}
		seen[milestone.Days] = struct{}{}
	}
	return nil
}

// BonusFor returns the combined bonus for reaching streakDays.
func (policy StreakBonusPolicy) BonusFor(streakDays int) Points {
	if streakDays <= 0 {
		return 0
	}
	var bonus Points
	if policy.IntervalDays > 0 && streakDays%policy.IntervalDays == 0 {
		bonus += policy.IntervalPoints
	}
	for _, milestone := range policy.Milestones {
		if milestone.Days == streakDays {
			bonus += milestone.Points
		}
	}
	return bonus
}

// RecordActivity marks activityDate as an active calendar day and advances the
// streak. Dates before the last activity only land in the calendar.
func (service *Service) RecordActivity(ctx context.Context, userID UserID, activityDate time.Time) (StreakState, error) {
	var state StreakState
	operationError := requireUserID(userID)
	if operationError == nil && activityDate.IsZero() {
		operationError = fmt.Errorf("%w: zero date", ErrInvalidActivityDate)
	}
	if operationError == nil {
		state, operationError = service.recordActivity(ctx, userID.String(), calendarDay(activityDate))
	}
	var bonus Points
	if state.Bonus != nil {
		bonus = state.Bonus.Delta
	}
	service.logOperation(ctx, OperationLog{
		Operation:  operationRecordActivity,
		UserID:     userID.String(),
		Reference:  calendarDay(activityDate).Format(calendarDayLayout),
		SourceKind: SourceStreakBonus,
		Amount:     bonus,
		Error:      operationError,
	})
	return state, operationError
}

// GetActivityCalendar lists the active days in [from, to].
func (service *Service) GetActivityCalendar(ctx context.Context, userID UserID, from time.Time, to time.Time) ([]time.Time, error) {
	if err := requireUserID(userID); err != nil {
		return nil, err
	}
	fromDay, toDay := calendarDay(from), calendarDay(to)
	if toDay.Before(fromDay) {
		return nil, fmt.Errorf("%w: range ends before it starts", ErrInvalidActivityDate)
	}
	return service.store.ListActivityDays(ctx, userID.String(), fromDay, toDay)
}

func (service *Service) recordActivity(ctx context.Context, userID string, day time.Time) (StreakState, error) {
	var state StreakState
	err := service.runLocked(ctx, userID, func(ctx context.Context) error {
		var profile Profile
		txErr := service.transact(ctx, func(ctx context.Context, transactionStore Store) error {
			state = StreakState{}
			now := service.now()
			current, err := transactionStore.GetOrCreateProfile(ctx, userID, now)
			if err != nil {
				return err
			}
			if err := transactionStore.RecordActivityDay(ctx, userID, day); err != nil {
				return err
			}
			streak, changed := advanceStreak(current, day)
			state = streak
			if !changed {
				profile = current
				return nil
			}
			current.CurrentStreakDays = streak.CurrentStreakDays
			current.LongestStreakDays = streak.LongestStreakDays
			current.LastActivityDate = streak.LastActivityDate
			current.UpdatedAt = now
			if bonus := service.streakPolicy.BonusFor(streak.CurrentStreakDays); bonus > 0 {
				sourceRef := streak.StreakStartedOn.Format(calendarDayLayout) + idempotencyKeyDelimiter + strconv.Itoa(streak.CurrentStreakDays)
				entry, err := appendEntry(ctx, transactionStore, &current, entryDraft{
					delta:          bonus,
					kind:           SourceStreakBonus,
					sourceRef:      sourceRef,
					idempotencyKey: deriveIdempotencyKey(SourceStreakBonus, sourceRef),
					description:    fmt.Sprintf("%d day streak bonus", streak.CurrentStreakDays),
				}, now)
				switch {
				case errors.Is(err, ErrDuplicateIdempotencyKey):
				case err != nil:
					return err
				default:
					state.Bonus = &entry
				}
			}
			if err := saveProfile(ctx, transactionStore, &current); err != nil {
				return err
			}
			profile = current
			return nil
		})
		if txErr != nil {
			return txErr
		}
		if !state.Changed {
			return nil
		}
		if state.Bonus != nil {
			service.afterCommit(ctx, profile, entryEvent(*state.Bonus))
		} else {
			service.afterCommit(ctx, profile)
		}
		unlocked, err := service.evaluateLocked(ctx, userID, progressUpdate{
			requirementType: RequirementStreakDays,
			metric:          int64(state.CurrentStreakDays),
		})
		if err != nil {
			service.logOperation(ctx, OperationLog{
				Operation: operationRecordProgress,
				UserID:    userID,
				Reference: RequirementStreakDays.String(),
				Error:     err,
			})
		}
		state.Unlocked = unlocked
		if state.Bonus != nil || anyCredited(unlocked) {
			state.Unlocked = append(state.Unlocked, service.settleLevelAchievements(ctx, userID)...)
		}
		return nil
	})
	if err != nil {
		return StreakState{}, err
	}
	return state, nil
}

// advanceStreak applies one activity day to the profile's streak.
func advanceStreak(profile Profile, day time.Time) (StreakState, bool) {
	state := StreakState{
		CurrentStreakDays: profile.CurrentStreakDays,
		LongestStreakDays: profile.LongestStreakDays,
		LastActivityDate:  profile.LastActivityDate,
	}
	switch {
	case profile.LastActivityDate.IsZero() || profile.CurrentStreakDays == 0:
		state.CurrentStreakDays = 1
	case !day.After(calendarDay(profile.LastActivityDate)):
		state.StreakStartedOn = streakStart(state.LastActivityDate, state.CurrentStreakDays)
		return state, false
	case day.Equal(calendarDay(profile.LastActivityDate).AddDate(0, 0, 1)):
		state.CurrentStreakDays++
	default:
		state.CurrentStreakDays = 1
	}
	state.LastActivityDate = day
	state.LongestStreakDays = max(state.LongestStreakDays, state.CurrentStreakDays)
	state.StreakStartedOn = streakStart(day, state.CurrentStreakDays)
	state.Changed = true
	return state, true
}

func streakStart(lastDay time.Time, streakDays int) time.Time {
	if lastDay.IsZero() || streakDays <= 0 {
		return time.Time{}
	}
	return calendarDay(lastDay).AddDate(0, 0, -(streakDays - 1))
}
