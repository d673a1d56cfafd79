package gamification

import (
	"context"
	"errors"
	"testing"
	"time"
)

func day(offset int) time.Time {
	return calendarDay(baseTime).AddDate(0, 0, offset)
}

func TestStreakResetsAfterGap(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	service := mustNewService(test, store)
	userID := mustUserID(test, "streaker")
	ctx := context.Background()

	var state StreakState
	for _, offset := range []int{0, 1, 3} {
		var err error
		state, err = service.RecordActivity(ctx, userID, day(offset))
		if err != nil {
			test.Fatalf("record activity on day %d: %v", offset, err)
		}
	}
	if state.CurrentStreakDays != 1 || state.LongestStreakDays != 2 {
		test.Fatalf("expected current 1 longest 2, got %+v", state)
	}
	if entries := store.entriesFor(userID.String()); len(entries) != 0 {
		test.Fatalf("streak breaks must not create entries, got %d", len(entries))
	}
}

func TestStreakIgnoresSameDayAndPastDates(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	service := mustNewService(test, store)
	userID := mustUserID(test, "repeat")
	ctx := context.Background()

	for _, offset := range []int{5, 6} {
		if _, err := service.RecordActivity(ctx, userID, day(offset)); err != nil {
			test.Fatalf("record activity: %v", err)
		}
	}
	sameDay, err := service.RecordActivity(ctx, userID, day(6).Add(15*time.Hour))
	if err != nil {
		test.Fatalf("same day activity: %v", err)
	}
	if sameDay.Changed || sameDay.CurrentStreakDays != 2 {
		test.Fatalf("same day must be a no-op, got %+v", sameDay)
	}
	past, err := service.RecordActivity(ctx, userID, day(1))
	if err != nil {
		test.Fatalf("past activity: %v", err)
	}
	if past.Changed || past.CurrentStreakDays != 2 || !past.StreakStartedOn.Equal(day(5)) {
		test.Fatalf("past activity must not move the streak, got %+v", past)
	}

	calendar, err := service.GetActivityCalendar(ctx, userID, day(0), day(10))
	if err != nil {
		test.Fatalf("calendar: %v", err)
	}
	if len(calendar) != 3 || !calendar[0].Equal(day(1)) || !calendar[2].Equal(day(6)) {
		test.Fatalf("unexpected calendar %v", calendar)
	}
	if _, err := service.GetActivityCalendar(ctx, userID, day(3), day(1)); !errors.Is(err, ErrInvalidActivityDate) {
		test.Fatalf("expected ErrInvalidActivityDate, got %v", err)
	}
}

func TestStreakUsesCalendarDayOfTheDate(test *testing.T) {
	test.Parallel()
	service := mustNewService(test, newMemoryStore())
	userID := mustUserID(test, "late-night")
	ctx := context.Background()
	zone := time.FixedZone("UTC+10", 10*60*60)

	if _, err := service.RecordActivity(ctx, userID, time.Date(2025, time.May, 1, 23, 50, 0, 0, zone)); err != nil {
		test.Fatalf("first activity: %v", err)
	}
	state, err := service.RecordActivity(ctx, userID, time.Date(2025, time.May, 2, 0, 10, 0, 0, zone))
	if err != nil {
		test.Fatalf("second activity: %v", err)
	}
	if state.CurrentStreakDays != 2 {
		test.Fatalf("consecutive local days should extend the streak, got %+v", state)
	}
}

func TestStreakBonusCreditsOncePerCrossing(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	policy := StreakBonusPolicy{IntervalDays: 3, IntervalPoints: 30, Milestones: []StreakMilestone{{Days: 6, Points: 100}}}
	service := mustNewService(test, store, WithStreakBonusPolicy(policy))
	userID := mustUserID(test, "bonus-hunter")
	ctx := context.Background()

	bonuses := map[int]Points{}
	for offset := 0; offset < 7; offset++ {
		state, err := service.RecordActivity(ctx, userID, day(offset))
		if err != nil {
			test.Fatalf("record activity: %v", err)
		}
		if state.Bonus != nil {
			bonuses[state.CurrentStreakDays] = state.Bonus.Delta
		}
		if _, err := service.RecordActivity(ctx, userID, day(offset)); err != nil {
			test.Fatalf("replay: %v", err)
		}
	}
	if len(bonuses) != 2 || bonuses[3] != 30 || bonuses[6] != 130 {
		test.Fatalf("unexpected bonuses %v", bonuses)
	}
	entries := store.entriesFor(userID.String())
	if len(entries) != 2 {
		test.Fatalf("expected two bonus entries, got %d", len(entries))
	}
	if entries[0].IdempotencyKey != "streak_bonus:"+day(0).Format(calendarDayLayout)+":3" {
		test.Fatalf("unexpected bonus key %q", entries[0].IdempotencyKey)
	}

	// A new streak earns its own bonus for the same length.
	for _, offset := range []int{10, 11, 12} {
		if _, err := service.RecordActivity(ctx, userID, day(offset)); err != nil {
			test.Fatalf("record activity: %v", err)
		}
	}
	if entries := store.entriesFor(userID.String()); len(entries) != 3 {
		test.Fatalf("expected a third bonus for the new streak, got %d entries", len(entries))
	}
	if lifetime := store.profileFor(userID.String()).LifetimeEarned; lifetime != 190 {
		test.Fatalf("streak bonuses raise lifetime, expected 190, got %d", lifetime)
	}
}

func TestStreakAchievementsEvaluateAfterChange(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	service := mustNewService(test, store)
	mustUpsertAchievement(test, service, AchievementDefinition{
		ID: "week-streak", Name: "Week streak", RequirementType: RequirementStreakDays,
		RequirementValue: 3, PointValue: 70, Tier: AchievementTierBronze, IsActive: true,
	})
	userID := mustUserID(test, "steady")
	ctx := context.Background()

	var state StreakState
	for offset := 0; offset < 3; offset++ {
		var err error
		state, err = service.RecordActivity(ctx, userID, day(offset))
		if err != nil {
			test.Fatalf("record activity: %v", err)
		}
	}
	if len(state.Unlocked) != 1 || state.Unlocked[0].Definition.ID != "week-streak" {
		test.Fatalf("expected streak achievement on day three, got %+v", state.Unlocked)
	}
	if balance := store.profileFor(userID.String()).CurrentBalance; balance != 70 {
		test.Fatalf("expected balance 70, got %d", balance)
	}
}

func TestRecordActivityRejectsZeroDate(test *testing.T) {
	test.Parallel()
	service := mustNewService(test, newMemoryStore())
	if _, err := service.RecordActivity(context.Background(), mustUserID(test, "nobody"), time.Time{}); !errors.Is(err, ErrInvalidActivityDate) {
		test.Fatalf("expected ErrInvalidActivityDate, got %v", err)
	}
}

func TestStreakBonusPolicyValidate(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name   string
		policy StreakBonusPolicy
		valid  bool
	}{
		{name: "zero", policy: StreakBonusPolicy{}, valid: true},
		{name: "interval", policy: StreakBonusPolicy{IntervalDays: 7, IntervalPoints: 50}, valid: true},
		{name: "interval without points", policy: StreakBonusPolicy{IntervalDays: 7}},
		{name: "negative interval", policy: StreakBonusPolicy{IntervalDays: -1, IntervalPoints: 5}},
		{name: "zero milestone", policy: StreakBonusPolicy{Milestones: []StreakMilestone{{Days: 0, Points: 5}}}},
		{name: "duplicate milestone", policy: StreakBonusPolicy{Milestones: []StreakMilestone{{Days: 30, Points: 5}, {Days: 30, Points: 10}}}},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			err := testCase.policy.Validate()
			if testCase.valid && err != nil {
				test.Fatalf("expected valid policy, got %v", err)
			}
			if !testCase.valid && err == nil {
				test.Fatalf("expected invalid policy")
			}
		})
	}
}
