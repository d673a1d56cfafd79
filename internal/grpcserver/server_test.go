package grpcserver

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/gamification/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/gamification/pkg/gamification"
	"github.com/glebarez/sqlite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"gorm.io/gorm"
)

const bufconnSize = 1 << 20

var serverTestTime = time.Date(2025, time.March, 3, 9, 30, 0, 0, time.UTC)

func startClient(test *testing.T) (*Client, *gamification.Service) {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(test.TempDir(), "grpc.db")), &gorm.Config{})
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		test.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := gormstore.AutoMigrate(db); err != nil {
		test.Fatalf("auto migrate: %v", err)
	}
	service, err := gamification.NewService(gormstore.New(db), func() time.Time { return serverTestTime })
	if err != nil {
		test.Fatalf("new service: %v", err)
	}

	listener := bufconn.Listen(bufconnSize)
	grpcServer := grpc.NewServer()
	RegisterGamificationServiceServer(grpcServer, NewServer(service))
	go func() { _ = grpcServer.Serve(listener) }()

	connection, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return listener.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		test.Fatalf("dial bufconn: %v", err)
	}
	test.Cleanup(func() {
		_ = connection.Close()
		grpcServer.Stop()
		_ = sqlDB.Close()
	})
	return NewClient(connection), service
}

func TestGRPCAwardRedeemAndQuery(test *testing.T) {
	test.Parallel()
	client, service := startClient(test)
	ctx := context.Background()
	if _, err := service.UpsertReward(ctx, gamification.Reward{ID: "towel", Name: "Towel", PointCost: 200, Stock: 3, IsActive: true}); err != nil {
		test.Fatalf("upsert reward: %v", err)
	}

	awarded, err := client.AwardPoints(ctx, &AwardPointsRequest{UserID: "member", Amount: 300, SourceKind: "workout_completion", SourceRef: "s-1"})
	if err != nil {
		test.Fatalf("award: %v", err)
	}
	if awarded.Entry.ResultingBalance != 300 || awarded.Entry.Sequence != 1 {
		test.Fatalf("unexpected entry %+v", awarded.Entry)
	}
	redeemed, err := client.Redeem(ctx, &RedeemRequest{UserID: "member", RewardID: "towel"})
	if err != nil {
		test.Fatalf("redeem: %v", err)
	}
	if redeemed.Redemption.Status != gamification.RedemptionPending || redeemed.Redemption.PointsCost != 200 {
		test.Fatalf("unexpected redemption %+v", redeemed.Redemption)
	}
	fulfilled, err := client.FulfillRedemption(ctx, &RedemptionRequest{RedemptionID: redeemed.Redemption.ID})
	if err != nil || fulfilled.Redemption.Status != gamification.RedemptionFulfilled {
		test.Fatalf("unexpected fulfil result %+v, %v", fulfilled, err)
	}

	profile, err := client.GetProfile(ctx, &UserRequest{UserID: "member"})
	if err != nil {
		test.Fatalf("profile: %v", err)
	}
	if profile.Profile.CurrentBalance != 100 || profile.Profile.LifetimeEarned != 300 || profile.Profile.Rank != 1 {
		test.Fatalf("unexpected profile %+v", profile.Profile)
	}
	history, err := client.GetLedgerHistory(ctx, &HistoryRequest{UserID: "member"})
	if err != nil || len(history.Entries) != 2 {
		test.Fatalf("unexpected history %+v, %v", history, err)
	}
	board, err := client.GetLeaderboard(ctx, &LeaderboardRequest{Limit: 10})
	if err != nil || len(board.Entries) != 1 || board.Entries[0].UserID != "member" {
		test.Fatalf("unexpected leaderboard %+v, %v", board, err)
	}
	audit, err := client.VerifyLedger(ctx, &UserRequest{UserID: "member"})
	if err != nil || !audit.Audit.Consistent {
		test.Fatalf("unexpected audit %+v, %v", audit, err)
	}
	rewards, err := client.ListRewards(ctx)
	if err != nil || len(rewards.Rewards) != 1 || rewards.Rewards[0].Stock != 2 {
		test.Fatalf("unexpected rewards %+v, %v", rewards, err)
	}
	redemptions, err := client.ListRedemptions(ctx, &UserRequest{UserID: "member"})
	if err != nil || len(redemptions.Redemptions) != 1 || redemptions.Redemptions[0].Status != gamification.RedemptionFulfilled {
		test.Fatalf("unexpected redemptions %+v, %v", redemptions, err)
	}
}

func TestGRPCProgressAndActivity(test *testing.T) {
	test.Parallel()
	client, service := startClient(test)
	ctx := context.Background()
	if _, err := service.UpsertAchievement(ctx, gamification.AchievementDefinition{
		ID: "squats", Name: "Squats", RequirementType: gamification.RequirementSpecificExercise, RequirementKey: "squat",
		RequirementValue: 5, PointValue: 40, Tier: gamification.AchievementTierBronze, IsActive: true,
	}); err != nil {
		test.Fatalf("upsert achievement: %v", err)
	}

	unlocked, err := client.RecordProgress(ctx, &RecordProgressRequest{UserID: "lifter", RequirementType: "specific_exercise", ExerciseKey: "squat", Metric: 6})
	if err != nil {
		test.Fatalf("record progress: %v", err)
	}
	if len(unlocked.Unlocked) != 1 || unlocked.Unlocked[0].Definition.ID != "squats" {
		test.Fatalf("unexpected unlocks %+v", unlocked.Unlocked)
	}
	streak, err := client.RecordActivity(ctx, &RecordActivityRequest{UserID: "lifter", ActivityDate: serverTestTime})
	if err != nil || streak.Streak.CurrentStreakDays != 1 {
		test.Fatalf("unexpected streak %+v, %v", streak, err)
	}
	calendar, err := client.GetActivityCalendar(ctx, &CalendarRequest{
		UserID: "lifter",
		From:   serverTestTime.AddDate(0, 0, -7),
		To:     serverTestTime,
	})
	if err != nil || len(calendar.Days) != 1 {
		test.Fatalf("unexpected calendar %+v, %v", calendar, err)
	}
	progress, err := client.GetAchievementProgress(ctx, &UserRequest{UserID: "lifter"})
	if err != nil || len(progress.Achievements) != 1 || !progress.Achievements[0].Progress.IsCompleted {
		test.Fatalf("unexpected progress %+v, %v", progress, err)
	}
	rank, err := client.GetRank(ctx, &UserRequest{UserID: "lifter"})
	if err != nil || rank.Entry.Rank != 1 || rank.Entry.LifetimeEarned != 40 {
		test.Fatalf("unexpected rank %+v, %v", rank, err)
	}
}

func TestGRPCErrorMapping(test *testing.T) {
	test.Parallel()
	client, service := startClient(test)
	ctx := context.Background()
	if _, err := service.UpsertReward(ctx, gamification.Reward{ID: "sold-out", Name: "Sold out", PointCost: 10, Stock: 0, IsActive: true}); err != nil {
		test.Fatalf("upsert reward: %v", err)
	}
	if _, err := client.AwardPoints(ctx, &AwardPointsRequest{UserID: "caller", Amount: 50, SourceKind: "workout_completion", SourceRef: "dup"}); err != nil {
		test.Fatalf("award: %v", err)
	}

	testCases := []struct {
		name         string
		call         func() error
		expectedCode codes.Code
		expectedText string
	}{
		{
			name: "invalid user",
			call: func() error {
				_, err := client.GetProfile(ctx, &UserRequest{UserID: " "})
				return err
			},
			expectedCode: codes.InvalidArgument,
			expectedText: gamification.ReasonInvalidUserID,
		},
		{
			name: "invalid source",
			call: func() error {
				_, err := client.AwardPoints(ctx, &AwardPointsRequest{UserID: "caller", Amount: 5, SourceKind: "gift"})
				return err
			},
			expectedCode: codes.InvalidArgument,
			expectedText: gamification.ReasonInvalidSource,
		},
		{
			name: "duplicate",
			call: func() error {
				_, err := client.AwardPoints(ctx, &AwardPointsRequest{UserID: "caller", Amount: 50, SourceKind: "workout_completion", SourceRef: "dup"})
				return err
			},
			expectedCode: codes.AlreadyExists,
			expectedText: gamification.ReasonDuplicateCommand,
		},
		{
			name: "out of stock",
			call: func() error {
				_, err := client.Redeem(ctx, &RedeemRequest{UserID: "caller", RewardID: "sold-out"})
				return err
			},
			expectedCode: codes.FailedPrecondition,
			expectedText: gamification.ReasonOutOfStock,
		},
		{
			name: "overdraft",
			call: func() error {
				_, err := client.Commit(ctx, &CommitRequest{UserID: "caller", Delta: -500, SourceKind: "admin_adjustment"})
				return err
			},
			expectedCode: codes.FailedPrecondition,
			expectedText: gamification.ReasonInsufficientBalance,
		},
		{
			name: "unknown reward",
			call: func() error {
				_, err := client.Redeem(ctx, &RedeemRequest{UserID: "caller", RewardID: "nope"})
				return err
			},
			expectedCode: codes.NotFound,
			expectedText: gamification.ReasonRewardNotFound,
		},
		{
			name: "unknown redemption",
			call: func() error {
				_, err := client.CancelRedemption(ctx, &RedemptionRequest{RedemptionID: "missing"})
				return err
			},
			expectedCode: codes.NotFound,
			expectedText: gamification.ReasonRedemptionNotFound,
		},
	}
	for _, testCase := range testCases {
		err := testCase.call()
		if status.Code(err) != testCase.expectedCode || ReasonCode(err) != testCase.expectedText {
			test.Fatalf("%s: expected %s/%s, got %v", testCase.name, testCase.expectedCode, testCase.expectedText, err)
		}
	}
}

func TestMapToGRPCErrorHidesInternalDetails(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		err          error
		expectedCode codes.Code
	}{
		{err: errors.New("pq: relation does not exist"), expectedCode: codes.Internal},
		{err: gamification.ErrBusy, expectedCode: codes.Aborted},
		{err: gamification.ErrConflict, expectedCode: codes.Aborted},
		{err: gamification.ErrUnavailable, expectedCode: codes.Unavailable},
		{err: context.Canceled, expectedCode: codes.Canceled},
	}
	for _, testCase := range testCases {
		mapped := mapToGRPCError(testCase.err)
		if status.Code(mapped) != testCase.expectedCode {
			test.Fatalf("%v: expected %s, got %s", testCase.err, testCase.expectedCode, status.Code(mapped))
		}
	}
	if ReasonCode(mapToGRPCError(errors.New("secret dsn"))) != gamification.ReasonInternal {
		test.Fatalf("internal errors must not leak their text")
	}
}
