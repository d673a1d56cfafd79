package gamification

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// memoryStore is an in-memory Store. WithTx runs against a working copy that
// replaces the committed state only when the callback succeeds.
type memoryStore struct {
	mutex     sync.Mutex
	state     *memoryState
	conflicts int
	failErr   error
	txCount   int
}

type memoryTx struct {
	*memoryState
	parent *memoryStore
}

type memoryState struct {
	profiles     map[string]Profile
	entries      map[string][]LedgerEntry
	achievements map[string]AchievementDefinition
	progress     map[string]AchievementProgress
	rewards      map[string]Reward
	redemptions  map[string]Redemption
	activity     map[string]map[string]time.Time
}

var (
	_ Store = (*memoryStore)(nil)
	_ Store = (*memoryTx)(nil)
)

func newMemoryStore() *memoryStore {
	return &memoryStore{state: &memoryState{
		profiles:     make(map[string]Profile),
		entries:      make(map[string][]LedgerEntry),
		achievements: make(map[string]AchievementDefinition),
		progress:     make(map[string]AchievementProgress),
		rewards:      make(map[string]Reward),
		redemptions:  make(map[string]Redemption),
		activity:     make(map[string]map[string]time.Time),
	}}
}

func (state *memoryState) clone() *memoryState {
	copied := &memoryState{
		profiles:     make(map[string]Profile, len(state.profiles)),
		entries:      make(map[string][]LedgerEntry, len(state.entries)),
		achievements: make(map[string]AchievementDefinition, len(state.achievements)),
		progress:     make(map[string]AchievementProgress, len(state.progress)),
		rewards:      make(map[string]Reward, len(state.rewards)),
		redemptions:  make(map[string]Redemption, len(state.redemptions)),
		activity:     make(map[string]map[string]time.Time, len(state.activity)),
	}
	for key, value := range state.profiles {
		copied.profiles[key] = value
	}
	for key, value := range state.entries {
		copied.entries[key] = append([]LedgerEntry(nil), value...)
	}
	for key, value := range state.achievements {
		copied.achievements[key] = value
	}
	for key, value := range state.progress {
		copied.progress[key] = value
	}
	for key, value := range state.rewards {
		copied.rewards[key] = value
	}
	for key, value := range state.redemptions {
		copied.redemptions[key] = value
	}
	for key, days := range state.activity {
		copiedDays := make(map[string]time.Time, len(days))
		for day, value := range days {
			copiedDays[day] = value
		}
		copied.activity[key] = copiedDays
	}
	return copied
}

func (store *memoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.txCount++
	if store.failErr != nil {
		return store.failErr
	}
	working := store.state.clone()
	if err := fn(ctx, &memoryTx{memoryState: working, parent: store}); err != nil {
		return err
	}
	store.state = working
	return nil
}

func (tx *memoryTx) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, tx)
}

func (tx *memoryTx) UpdateProfile(ctx context.Context, profile Profile) error {
	if tx.parent.conflicts > 0 {
		tx.parent.conflicts--
		return ErrConflict
	}
	return tx.memoryState.UpdateProfile(ctx, profile)
}

func (store *memoryStore) read(fn func(state *memoryState) error) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.failErr != nil {
		return store.failErr
	}
	return fn(store.state)
}

func (store *memoryStore) write(fn func(state *memoryState) error) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.failErr != nil {
		return store.failErr
	}
	working := store.state.clone()
	if err := fn(working); err != nil {
		return err
	}
	store.state = working
	return nil
}

func (store *memoryStore) GetOrCreateProfile(ctx context.Context, userID string, now time.Time) (Profile, error) {
	var profile Profile
	err := store.write(func(state *memoryState) error {
		var err error
		profile, err = state.GetOrCreateProfile(ctx, userID, now)
		return err
	})
	return profile, err
}

func (store *memoryStore) GetProfile(ctx context.Context, userID string) (Profile, error) {
	var profile Profile
	err := store.read(func(state *memoryState) error {
		var err error
		profile, err = state.GetProfile(ctx, userID)
		return err
	})
	return profile, err
}

func (store *memoryStore) UpdateProfile(ctx context.Context, profile Profile) error {
	return store.write(func(state *memoryState) error { return state.UpdateProfile(ctx, profile) })
}

func (store *memoryStore) ListProfiles(ctx context.Context) ([]Profile, error) {
	var profiles []Profile
	err := store.read(func(state *memoryState) error {
		var err error
		profiles, err = state.ListProfiles(ctx)
		return err
	})
	return profiles, err
}

func (store *memoryStore) ListExpirableProfiles(ctx context.Context, inactiveBefore time.Time) ([]Profile, error) {
	var profiles []Profile
	err := store.read(func(state *memoryState) error {
		var err error
		profiles, err = state.ListExpirableProfiles(ctx, inactiveBefore)
		return err
	})
	return profiles, err
}

func (store *memoryStore) InsertEntry(ctx context.Context, entry LedgerEntry) error {
	return store.write(func(state *memoryState) error { return state.InsertEntry(ctx, entry) })
}

func (store *memoryStore) FindEntryByIdempotencyKey(ctx context.Context, userID string, idempotencyKey string) (LedgerEntry, error) {
	var entry LedgerEntry
	err := store.read(func(state *memoryState) error {
		var err error
		entry, err = state.FindEntryByIdempotencyKey(ctx, userID, idempotencyKey)
		return err
	})
	return entry, err
}

func (store *memoryStore) ListEntries(ctx context.Context, userID string, page Page) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	err := store.read(func(state *memoryState) error {
		var err error
		entries, err = state.ListEntries(ctx, userID, page)
		return err
	})
	return entries, err
}

func (store *memoryStore) SumDeltas(ctx context.Context, userID string) (Points, int64, error) {
	var sum Points
	var count int64
	err := store.read(func(state *memoryState) error {
		var err error
		sum, count, err = state.SumDeltas(ctx, userID)
		return err
	})
	return sum, count, err
}

func (store *memoryStore) UpsertAchievement(ctx context.Context, definition AchievementDefinition) error {
	return store.write(func(state *memoryState) error { return state.UpsertAchievement(ctx, definition) })
}

func (store *memoryStore) GetAchievement(ctx context.Context, achievementID string) (AchievementDefinition, error) {
	var definition AchievementDefinition
	err := store.read(func(state *memoryState) error {
		var err error
		definition, err = state.GetAchievement(ctx, achievementID)
		return err
	})
	return definition, err
}

func (store *memoryStore) ListAchievements(ctx context.Context) ([]AchievementDefinition, error) {
	var definitions []AchievementDefinition
	err := store.read(func(state *memoryState) error {
		var err error
		definitions, err = state.ListAchievements(ctx)
		return err
	})
	return definitions, err
}

func (store *memoryStore) ListAchievementsByRequirement(ctx context.Context, requirementType RequirementType) ([]AchievementDefinition, error) {
	var definitions []AchievementDefinition
	err := store.read(func(state *memoryState) error {
		var err error
		definitions, err = state.ListAchievementsByRequirement(ctx, requirementType)
		return err
	})
	return definitions, err
}

func (store *memoryStore) GetAchievementProgress(ctx context.Context, userID string, achievementID string) (AchievementProgress, error) {
	var progress AchievementProgress
	err := store.read(func(state *memoryState) error {
		var err error
		progress, err = state.GetAchievementProgress(ctx, userID, achievementID)
		return err
	})
	return progress, err
}

func (store *memoryStore) SaveAchievementProgress(ctx context.Context, progress AchievementProgress) error {
	return store.write(func(state *memoryState) error { return state.SaveAchievementProgress(ctx, progress) })
}

func (store *memoryStore) ListAchievementProgress(ctx context.Context, userID string) ([]AchievementProgress, error) {
	var progressRows []AchievementProgress
	err := store.read(func(state *memoryState) error {
		var err error
		progressRows, err = state.ListAchievementProgress(ctx, userID)
		return err
	})
	return progressRows, err
}

func (store *memoryStore) UpsertReward(ctx context.Context, reward Reward) error {
	return store.write(func(state *memoryState) error { return state.UpsertReward(ctx, reward) })
}

func (store *memoryStore) GetReward(ctx context.Context, rewardID string) (Reward, error) {
	var reward Reward
	err := store.read(func(state *memoryState) error {
		var err error
		reward, err = state.GetReward(ctx, rewardID)
		return err
	})
	return reward, err
}

func (store *memoryStore) ListRewards(ctx context.Context) ([]Reward, error) {
	var rewards []Reward
	err := store.read(func(state *memoryState) error {
		var err error
		rewards, err = state.ListRewards(ctx)
		return err
	})
	return rewards, err
}

func (store *memoryStore) ClaimRewardStock(ctx context.Context, rewardID string) error {
	return store.write(func(state *memoryState) error { return state.ClaimRewardStock(ctx, rewardID) })
}

func (store *memoryStore) RestoreRewardStock(ctx context.Context, rewardID string) error {
	return store.write(func(state *memoryState) error { return state.RestoreRewardStock(ctx, rewardID) })
}

func (store *memoryStore) CreateRedemption(ctx context.Context, redemption Redemption) error {
	return store.write(func(state *memoryState) error { return state.CreateRedemption(ctx, redemption) })
}

func (store *memoryStore) GetRedemption(ctx context.Context, redemptionID string) (Redemption, error) {
	var redemption Redemption
	err := store.read(func(state *memoryState) error {
		var err error
		redemption, err = state.GetRedemption(ctx, redemptionID)
		return err
	})
	return redemption, err
}

func (store *memoryStore) UpdateRedemptionStatus(ctx context.Context, redemptionID string, from RedemptionStatus, to RedemptionStatus, at time.Time) error {
	return store.write(func(state *memoryState) error {
		return state.UpdateRedemptionStatus(ctx, redemptionID, from, to, at)
	})
}

func (store *memoryStore) ListRedemptions(ctx context.Context, userID string) ([]Redemption, error) {
	var redemptions []Redemption
	err := store.read(func(state *memoryState) error {
		var err error
		redemptions, err = state.ListRedemptions(ctx, userID)
		return err
	})
	return redemptions, err
}

func (store *memoryStore) RecordActivityDay(ctx context.Context, userID string, day time.Time) error {
	return store.write(func(state *memoryState) error { return state.RecordActivityDay(ctx, userID, day) })
}

func (store *memoryStore) ListActivityDays(ctx context.Context, userID string, from time.Time, to time.Time) ([]time.Time, error) {
	var days []time.Time
	err := store.read(func(state *memoryState) error {
		var err error
		days, err = state.ListActivityDays(ctx, userID, from, to)
		return err
	})
	return days, err
}

func (state *memoryState) GetOrCreateProfile(_ context.Context, userID string, now time.Time) (Profile, error) {
	if profile, exists := state.profiles[userID]; exists {
		return profile, nil
	}
	profile := Profile{UserID: userID, CreatedAt: now, UpdatedAt: now}
	state.profiles[userID] = profile
	return profile, nil
}

func (state *memoryState) GetProfile(_ context.Context, userID string) (Profile, error) {
	profile, exists := state.profiles[userID]
	if !exists {
		return Profile{}, ErrProfileNotFound
	}
	return profile, nil
}

func (state *memoryState) UpdateProfile(_ context.Context, profile Profile) error {
	existing, exists := state.profiles[profile.UserID]
	if !exists {
		return ErrProfileNotFound
	}
	if existing.Version != profile.Version {
		return ErrConflict
	}
	profile.Version++
	state.profiles[profile.UserID] = profile
	return nil
}

func (state *memoryState) ListProfiles(context.Context) ([]Profile, error) {
	profiles := make([]Profile, 0, len(state.profiles))
	for _, profile := range state.profiles {
		profiles = append(profiles, profile)
	}
	sort.Slice(profiles, func(left, right int) bool { return profiles[left].UserID < profiles[right].UserID })
	return profiles, nil
}

func (state *memoryState) ListExpirableProfiles(ctx context.Context, inactiveBefore time.Time) ([]Profile, error) {
	profiles, _ := state.ListProfiles(ctx)
	expirable := make([]Profile, 0, len(profiles))
	for _, profile := range profiles {
		lastSeen := profile.LastActivityDate
		if lastSeen.IsZero() {
			lastSeen = profile.UpdatedAt
		}
		if profile.CurrentBalance > 0 && lastSeen.Before(inactiveBefore) {
			expirable = append(expirable, profile)
		}
	}
	return expirable, nil
}

func (state *memoryState) InsertEntry(_ context.Context, entry LedgerEntry) error {
	for _, existing := range state.entries[entry.UserID] {
		if existing.IdempotencyKey == entry.IdempotencyKey {
			return ErrDuplicateIdempotencyKey
		}
		if existing.Sequence == entry.Sequence {
			return ErrConflict
		}
	}
	state.entries[entry.UserID] = append(state.entries[entry.UserID], entry)
	return nil
}

func (state *memoryState) FindEntryByIdempotencyKey(_ context.Context, userID string, idempotencyKey string) (LedgerEntry, error) {
	for _, entry := range state.entries[userID] {
		if entry.IdempotencyKey == idempotencyKey {
			return entry, nil
		}
	}
	return LedgerEntry{}, ErrEntryNotFound
}

func (state *memoryState) ListEntries(_ context.Context, userID string, page Page) ([]LedgerEntry, error) {
	entries := state.entries[userID]
	listed := make([]LedgerEntry, 0, page.Limit)
	for index := len(entries) - 1; index >= 0; index-- {
		if page.Limit > 0 && len(listed) == page.Limit {
			break
		}
		if page.BeforeSequence > 0 && entries[index].Sequence >= page.BeforeSequence {
			continue
		}
		listed = append(listed, entries[index])
	}
	return listed, nil
}

func (state *memoryState) SumDeltas(_ context.Context, userID string) (Points, int64, error) {
	var sum Points
	for _, entry := range state.entries[userID] {
		sum += entry.Delta
	}
	return sum, int64(len(state.entries[userID])), nil
}

func (state *memoryState) UpsertAchievement(_ context.Context, definition AchievementDefinition) error {
	state.achievements[definition.ID] = definition
	return nil
}

func (state *memoryState) GetAchievement(_ context.Context, achievementID string) (AchievementDefinition, error) {
	definition, exists := state.achievements[achievementID]
	if !exists {
		return AchievementDefinition{}, ErrAchievementNotFound
	}
	return definition, nil
}

func (state *memoryState) ListAchievements(context.Context) ([]AchievementDefinition, error) {
	definitions := make([]AchievementDefinition, 0, len(state.achievements))
	for _, definition := range state.achievements {
		definitions = append(definitions, definition)
	}
	sort.Slice(definitions, func(left, right int) bool { return definitions[left].ID < definitions[right].ID })
	return definitions, nil
}

func (state *memoryState) ListAchievementsByRequirement(ctx context.Context, requirementType RequirementType) ([]AchievementDefinition, error) {
	definitions, _ := state.ListAchievements(ctx)
	matching := make([]AchievementDefinition, 0, len(definitions))
	for _, definition := range definitions {
		if definition.RequirementType == requirementType {
			matching = append(matching, definition)
		}
	}
	return matching, nil
}

func progressKey(userID string, achievementID string) string {
	return userID + "|" + achievementID
}

func (state *memoryState) GetAchievementProgress(_ context.Context, userID string, achievementID string) (AchievementProgress, error) {
	progress, exists := state.progress[progressKey(userID, achievementID)]
	if !exists {
		return AchievementProgress{}, ErrProgressNotFound
	}
	return progress, nil
}

func (state *memoryState) SaveAchievementProgress(_ context.Context, progress AchievementProgress) error {
	key := progressKey(progress.UserID, progress.AchievementID)
	if existing, exists := state.progress[key]; exists && existing.IsCompleted && !progress.IsCompleted {
		return fmt.Errorf("completed progress %s cannot revert", key)
	}
	state.progress[key] = progress
	return nil
}

func (state *memoryState) ListAchievementProgress(_ context.Context, userID string) ([]AchievementProgress, error) {
	progressRows := make([]AchievementProgress, 0)
	for _, progress := range state.progress {
		if progress.UserID == userID {
			progressRows = append(progressRows, progress)
		}
	}
	sort.Slice(progressRows, func(left, right int) bool {
		return progressRows[left].AchievementID < progressRows[right].AchievementID
	})
	return progressRows, nil
}

func (state *memoryState) UpsertReward(_ context.Context, reward Reward) error {
	if existing, exists := state.rewards[reward.ID]; exists {
		reward.RedemptionCount = existing.RedemptionCount
	}
	state.rewards[reward.ID] = reward
	return nil
}

func (state *memoryState) GetReward(_ context.Context, rewardID string) (Reward, error) {
	reward, exists := state.rewards[rewardID]
	if !exists {
		return Reward{}, ErrRewardNotFound
	}
	return reward, nil
}

func (state *memoryState) ListRewards(context.Context) ([]Reward, error) {
	rewards := make([]Reward, 0, len(state.rewards))
	for _, reward := range state.rewards {
		rewards = append(rewards, reward)
	}
	sort.Slice(rewards, func(left, right int) bool { return rewards[left].ID < rewards[right].ID })
	return rewards, nil
}

func (state *memoryState) ClaimRewardStock(_ context.Context, rewardID string) error {
	reward, exists := state.rewards[rewardID]
	if !exists {
		return ErrRewardNotFound
	}
	if reward.Stock <= 0 {
		return ErrOutOfStock
	}
	reward.Stock--
	reward.RedemptionCount++
	state.rewards[rewardID] = reward
	return nil
}

func (state *memoryState) RestoreRewardStock(_ context.Context, rewardID string) error {
	reward, exists := state.rewards[rewardID]
	if !exists {
		return ErrRewardNotFound
	}
	reward.Stock++
	state.rewards[rewardID] = reward
	return nil
}

func (state *memoryState) CreateRedemption(_ context.Context, redemption Redemption) error {
	state.redemptions[redemption.ID] = redemption
	return nil
}

func (state *memoryState) GetRedemption(_ context.Context, redemptionID string) (Redemption, error) {
	redemption, exists := state.redemptions[redemptionID]
	if !exists {
		return Redemption{}, ErrRedemptionNotFound
	}
	return redemption, nil
}

func (state *memoryState) UpdateRedemptionStatus(_ context.Context, redemptionID string, from RedemptionStatus, to RedemptionStatus, at time.Time) error {
	redemption, exists := state.redemptions[redemptionID]
	if !exists {
		return ErrRedemptionNotFound
	}
	if redemption.Status != from {
		return ErrRedemptionClosed
	}
	redemption.Status = to
	redemption.UpdatedAt = at
	state.redemptions[redemptionID] = redemption
	return nil
}

func (state *memoryState) ListRedemptions(_ context.Context, userID string) ([]Redemption, error) {
	redemptions := make([]Redemption, 0)
	for _, redemption := range state.redemptions {
		if redemption.UserID == userID {
			redemptions = append(redemptions, redemption)
		}
	}
	sort.Slice(redemptions, func(left, right int) bool {
		if !redemptions[left].RedeemedAt.Equal(redemptions[right].RedeemedAt) {
			return redemptions[left].RedeemedAt.After(redemptions[right].RedeemedAt)
		}
		return redemptions[left].ID < redemptions[right].ID
	})
	return redemptions, nil
}

func (state *memoryState) RecordActivityDay(_ context.Context, userID string, day time.Time) error {
	days, exists := state.activity[userID]
	if !exists {
		days = make(map[string]time.Time)
		state.activity[userID] = days
	}
	days[day.Format(calendarDayLayout)] = day
	return nil
}

func (state *memoryState) ListActivityDays(_ context.Context, userID string, from time.Time, to time.Time) ([]time.Time, error) {
	days := make([]time.Time, 0)
	for _, day := range state.activity[userID] {
		if day.Before(from) || day.After(to) {
			continue
		}
		days = append(days, day)
	}
	sort.Slice(days, func(left, right int) bool { return days[left].Before(days[right]) })
	return days, nil
}

func (store *memoryStore) entriesFor(userID string) []LedgerEntry {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return append([]LedgerEntry(nil), store.state.entries[userID]...)
}

func (store *memoryStore) rewardFor(rewardID string) Reward {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.state.rewards[rewardID]
}

func (store *memoryStore) profileFor(userID string) Profile {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.state.profiles[userID]
}

func (store *memoryStore) transactions() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.txCount
}

func (store *memoryStore) injectConflicts(count int) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.conflicts = count
}

func (store *memoryStore) fail(err error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.failErr = err
}
