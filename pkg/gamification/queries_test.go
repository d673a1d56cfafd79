package gamification

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLeaderboardOrdersByLifetimeThenTenure(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	clock := newTestClock()
	service, err := NewService(store, clock.Now)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	ctx := context.Background()

	veteran := mustUserID(test, "veteran")
	mustAward(test, service, veteran, 800, "v-1")
	clock.Advance(time.Hour)
	newcomer := mustUserID(test, "newcomer")
	mustAward(test, service, newcomer, 800, "n-1")
	clock.Advance(time.Hour)
	leader := mustUserID(test, "leader")
	mustAward(test, service, leader, 3000, "l-1")
	clock.Advance(time.Hour)
	trailer := mustUserID(test, "trailer")
	mustAward(test, service, trailer, 10, "t-1")

	// Spending never moves the ranking.
	if _, err := service.Commit(ctx, leader, -2900, SourceAdminAdjustment, "", ""); err != nil {
		test.Fatalf("debit: %v", err)
	}

	top, err := service.GetLeaderboard(ctx, 3)
	if err != nil {
		test.Fatalf("leaderboard: %v", err)
	}
	expected := []string{"leader", "veteran", "newcomer"}
	if len(top) != len(expected) {
		test.Fatalf("expected %d rows, got %d", len(expected), len(top))
	}
	for index, userID := range expected {
		if top[index].UserID != userID || top[index].Rank != index+1 {
			test.Fatalf("row %d: expected %s, got %+v", index, userID, top[index])
		}
	}
	if top[0].Tier != "silver" || top[0].Level != 6 {
		test.Fatalf("expected derived level and tier on rows, got %+v", top[0])
	}

	rank, err := service.GetRank(ctx, trailer)
	if err != nil {
		test.Fatalf("rank: %v", err)
	}
	if rank.Rank != 4 {
		test.Fatalf("expected rank 4 outside the window, got %d", rank.Rank)
	}
	if _, err := service.GetRank(ctx, mustUserID(test, "stranger")); !errors.Is(err, ErrProfileNotFound) {
		test.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
	if _, err := service.GetLeaderboard(ctx, -1); !errors.Is(err, ErrInvalidPage) {
		test.Fatalf("expected ErrInvalidPage, got %v", err)
	}
}

func TestLeaderboardRebuildsFromStore(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	writer := mustNewService(test, store)
	mustAward(test, writer, mustUserID(test, "alpha"), 50, "a")
	mustAward(test, writer, mustUserID(test, "beta"), 70, "b")

	reader := mustNewService(test, store)
	top, err := reader.GetLeaderboard(context.Background(), 0)
	if err != nil {
		test.Fatalf("leaderboard: %v", err)
	}
	if len(top) != 2 || top[0].UserID != "beta" {
		test.Fatalf("expected rebuilt ranking, got %+v", top)
	}
	if reader.Leaderboard().BuiltAt().IsZero() {
		test.Fatalf("expected the board to record its build time")
	}
}

func TestLeaderboardIncludesStoredUsersAfterLocalCommit(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	first := mustNewService(test, store)
	mustAward(test, first, mustUserID(test, "alice"), 900, "a-1")

	second := mustNewService(test, store)
	mustAward(test, second, mustUserID(test, "bob"), 100, "b-1")
	top, err := second.GetLeaderboard(context.Background(), 0)
	if err != nil {
		test.Fatalf("leaderboard: %v", err)
	}
	if len(top) != 2 || top[0].UserID != "alice" || top[1].UserID != "bob" {
		test.Fatalf("expected stored users ranked alongside local commits, got %+v", top)
	}
}

// racingStore runs duringList once, after ListProfiles has read its rows.
type racingStore struct {
	*memoryStore
	duringList func()
}

func (store *racingStore) ListProfiles(ctx context.Context) ([]Profile, error) {
	profiles, err := store.memoryStore.ListProfiles(ctx)
	if hook := store.duringList; hook != nil {
		store.duringList = nil
		hook()
	}
	return profiles, err
}

func TestRefreshLeaderboardKeepsCommitsMadeDuringRead(test *testing.T) {
	test.Parallel()
	store := &racingStore{memoryStore: newMemoryStore()}
	service := mustNewService(test, store)
	carol := mustUserID(test, "carol")
	mustAward(test, service, carol, 100, "c-1")
	store.duringList = func() {
		mustAward(test, service, carol, 400, "c-2")
		mustAward(test, service, mustUserID(test, "dave"), 50, "d-1")
	}

	if err := service.RefreshLeaderboard(context.Background()); err != nil {
		test.Fatalf("refresh: %v", err)
	}
	rank, err := service.GetRank(context.Background(), carol)
	if err != nil {
		test.Fatalf("rank: %v", err)
	}
	if rank.LifetimeEarned != 500 || rank.Rank != 1 {
		test.Fatalf("refresh overwrote a newer standing: %+v", rank)
	}
	if service.Leaderboard().Len() != 2 {
		test.Fatalf("expected the user created during the read to stay ranked, got %d", service.Leaderboard().Len())
	}
}

func TestGetProfileDerivesStanding(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	service := mustNewService(test, store)
	userID := mustUserID(test, "profiled")
	ctx := context.Background()

	if _, err := service.GetProfile(ctx, userID); !errors.Is(err, ErrProfileNotFound) {
		test.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
	mustAward(test, service, userID, 4800, "backfill")
	if _, err := service.Commit(ctx, userID, -1000, SourceAdminAdjustment, "", ""); err != nil {
		test.Fatalf("debit: %v", err)
	}

	view, err := service.GetProfile(ctx, userID)
	if err != nil {
		test.Fatalf("get profile: %v", err)
	}
	if view.CurrentBalance != 3800 || view.LifetimeEarned != 4800 {
		test.Fatalf("unexpected balances %+v", view.Profile)
	}
	if view.Level != 9 || view.NextLevelPoints != 200 || view.Tier != "silver" || view.NextTier != "gold" || view.NextTierPoints != 5200 {
		test.Fatalf("unexpected standing %+v", view)
	}
	if view.Rank != 1 {
		test.Fatalf("expected rank 1, got %d", view.Rank)
	}
}

func TestLedgerHistoryPagesNewestFirst(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	service := mustNewService(test, store)
	userID := mustUserID(test, "historian")
	ctx := context.Background()
	for index := 0; index < 7; index++ {
		mustAward(test, service, userID, Points(index+1), "")
	}

	firstPage, err := service.GetLedgerHistory(ctx, userID, Page{Limit: 3})
	if err != nil {
		test.Fatalf("history: %v", err)
	}
	if len(firstPage) != 3 || firstPage[0].Sequence != 7 || firstPage[2].Sequence != 5 {
		test.Fatalf("unexpected first page %+v", firstPage)
	}
	secondPage, err := service.GetLedgerHistory(ctx, userID, Page{Limit: 3, BeforeSequence: firstPage[2].Sequence})
	if err != nil {
		test.Fatalf("history: %v", err)
	}
	if len(secondPage) != 3 || secondPage[0].Sequence != 4 || secondPage[2].Sequence != 2 {
		test.Fatalf("unexpected second page %+v", secondPage)
	}
	everything, err := service.GetLedgerHistory(ctx, userID, Page{})
	if err != nil || len(everything) != 7 {
		test.Fatalf("default page should hold every entry, got %d, %v", len(everything), err)
	}

	for _, page := range []Page{{Limit: -1}, {BeforeSequence: -3}} {
		if _, err := service.GetLedgerHistory(ctx, userID, page); !errors.Is(err, ErrInvalidPage) {
			test.Fatalf("page %+v: expected ErrInvalidPage, got %v", page, err)
		}
	}
}

func TestNormalizePageClampsLimit(test *testing.T) {
	test.Parallel()
	page, err := normalizePage(Page{Limit: 10000})
	if err != nil {
		test.Fatalf("normalize: %v", err)
	}
	if page.Limit != maxHistoryPageSize {
		test.Fatalf("expected limit %d, got %d", maxHistoryPageSize, page.Limit)
	}
	page, err = normalizePage(Page{})
	if err != nil || page.Limit != defaultHistoryPageSize {
		test.Fatalf("expected default limit, got %+v, %v", page, err)
	}
}

func TestVerifyLedgerDetectsDrift(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	service := mustNewService(test, store)
	userID := mustUserID(test, "audited")
	ctx := context.Background()
	mustAward(test, service, userID, 90, "a")
	mustAward(test, service, userID, 10, "b")

	audit, err := service.VerifyLedger(ctx, userID)
	if err != nil {
		test.Fatalf("verify: %v", err)
	}
	if !audit.Consistent || audit.CurrentBalance != 100 || audit.LastResultingBalance != 100 {
		test.Fatalf("expected consistent audit, got %+v", audit)
	}

	store.mutex.Lock()
	profile := store.state.profiles[userID.String()]
	profile.CurrentBalance = 150
	store.state.profiles[userID.String()] = profile
	store.mutex.Unlock()

	audit, err = service.VerifyLedger(ctx, userID)
	if err != nil {
		test.Fatalf("verify: %v", err)
	}
	if audit.Consistent {
		test.Fatalf("expected drift to be reported, got %+v", audit)
	}
}

func TestReasonForFallsBackToGenericMessage(test *testing.T) {
	test.Parallel()
	reason := ReasonFor(errors.New("driver exploded"))
	if reason.Code != ReasonInternal || reason.Message == "" {
		test.Fatalf("unexpected fallback %+v", reason)
	}
	wrapped := WrapError("redeem", "reward_id", "missing", ErrRewardNotFound)
	if ReasonFor(wrapped).Code != ReasonRewardNotFound {
		test.Fatalf("wrapped errors must keep their reason")
	}
	if !IsNotFound(wrapped) {
		test.Fatalf("wrapped not-found must classify as not found")
	}
}

func TestLedgerFactsAudit(test *testing.T) {
	test.Parallel()
	consistent := LedgerFacts{
		UserID:                 "athlete",
		CurrentBalance:         120,
		LastSequence:           3,
		SumOfDeltas:            120,
		EntryCount:             3,
		LatestSequence:         3,
		LatestResultingBalance: 120,
	}
	testCases := []struct {
		name   string
		mutate func(*LedgerFacts)
		want   bool
	}{
		{name: "consistent", mutate: func(*LedgerFacts) {}, want: true},
		{name: "empty profile", mutate: func(facts *LedgerFacts) { *facts = LedgerFacts{UserID: "new"} }, want: true},
		{name: "balance drift", mutate: func(facts *LedgerFacts) { facts.CurrentBalance = 150 }},
		{name: "sum drift", mutate: func(facts *LedgerFacts) { facts.SumOfDeltas = 90 }},
		{name: "sequence gap", mutate: func(facts *LedgerFacts) { facts.EntryCount = 2 }},
		{name: "stale cursor", mutate: func(facts *LedgerFacts) { facts.LastSequence = 2 }},
		{name: "resulting balance drift", mutate: func(facts *LedgerFacts) { facts.LatestResultingBalance = 100 }},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			facts := consistent
			testCase.mutate(&facts)
			if audit := facts.Audit(); audit.Consistent != testCase.want {
				test.Fatalf("expected consistent=%v, got %+v", testCase.want, audit)
			}
		})
	}
}
