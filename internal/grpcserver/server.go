package grpcserver

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/gamification/pkg/gamification"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "gamification.v1.GamificationService"

// GamificationServiceServer is the server API for the gamification service.
type GamificationServiceServer interface {
	AwardPoints(ctx context.Context, request *AwardPointsRequest) (*EntryResponse, error)
	Commit(ctx context.Context, request *CommitRequest) (*EntryResponse, error)
	ExpirePoints(ctx context.Context, request *ExpirePointsRequest) (*EntryResponse, error)
	RecordProgress(ctx context.Context, request *RecordProgressRequest) (*UnlockedResponse, error)
	RecordActivity(ctx context.Context, request *RecordActivityRequest) (*StreakResponse, error)
	Redeem(ctx context.Context, request *RedeemRequest) (*RedemptionResponse, error)
	FulfillRedemption(ctx context.Context, request *RedemptionRequest) (*RedemptionResponse, error)
	CancelRedemption(ctx context.Context, request *RedemptionRequest) (*RedemptionResponse, error)
	ExpireRedemption(ctx context.Context, request *RedemptionRequest) (*RedemptionResponse, error)
	GetProfile(ctx context.Context, request *UserRequest) (*ProfileResponse, error)
	GetLedgerHistory(ctx context.Context, request *HistoryRequest) (*HistoryResponse, error)
	GetLeaderboard(ctx context.Context, request *LeaderboardRequest) (*LeaderboardResponse, error)
	GetRank(ctx context.Context, request *UserRequest) (*RankResponse, error)
	GetAchievementProgress(ctx context.Context, request *UserRequest) (*AchievementProgressResponse, error)
	VerifyLedger(ctx context.Context, request *UserRequest) (*AuditResponse, error)
	ListRewards(ctx context.Context, request *ListRewardsRequest) (*RewardsResponse, error)
	ListRedemptions(ctx context.Context, request *UserRequest) (*RedemptionsResponse, error)
	GetActivityCalendar(ctx context.Context, request *CalendarRequest) (*CalendarResponse, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GamificationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("AwardPoints", GamificationServiceServer.AwardPoints),
		unary("Commit", GamificationServiceServer.Commit),
		unary("ExpirePoints", GamificationServiceServer.ExpirePoints),
		unary("RecordProgress", GamificationServiceServer.RecordProgress),
		unary("RecordActivity", GamificationServiceServer.RecordActivity),
		unary("Redeem", GamificationServiceServer.Redeem),
		unary("FulfillRedemption", GamificationServiceServer.FulfillRedemption),
		unary("CancelRedemption", GamificationServiceServer.CancelRedemption),
		unary("ExpireRedemption", GamificationServiceServer.ExpireRedemption),
		unary("GetProfile", GamificationServiceServer.GetProfile),
		unary("GetLedgerHistory", GamificationServiceServer.GetLedgerHistory),
		unary("GetLeaderboard", GamificationServiceServer.GetLeaderboard),
		unary("GetRank", GamificationServiceServer.GetRank),
		unary("GetAchievementProgress", GamificationServiceServer.GetAchievementProgress),
		unary("VerifyLedger", GamificationServiceServer.VerifyLedger),
		unary("ListRewards", GamificationServiceServer.ListRewards),
		unary("ListRedemptions", GamificationServiceServer.ListRedemptions),
		unary("GetActivityCalendar", GamificationServiceServer.GetActivityCalendar),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gamification/v1/gamification.proto",
}

func unary[Request any, Response any](method string, call func(GamificationServiceServer, context.Context, *Request) (*Response, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(server any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			request := new(Request)
			if err := decode(request); err != nil {
				return nil, status.Error(codes.InvalidArgument, gamification.ReasonInvalidRequest)
			}
			implementation := server.(GamificationServiceServer)
			if interceptor == nil {
				return call(implementation, ctx, request)
			}
			info := &grpc.UnaryServerInfo{Server: server, FullMethod: fullMethod}
			return interceptor(ctx, request, info, func(ctx context.Context, decoded any) (any, error) {
				return call(implementation, ctx, decoded.(*Request))
			})
		},
	}
}

// RegisterGamificationServiceServer registers implementation on registrar.
func RegisterGamificationServiceServer(registrar grpc.ServiceRegistrar, implementation GamificationServiceServer) {
	registrar.RegisterService(&serviceDesc, implementation)
}

// Server exposes the gamification service over gRPC.
type Server struct {
	service *gamification.Service
}

// NewServer constructs a gRPC server for the gamification service.
func NewServer(service *gamification.Service) *Server {
	return &Server{service: service}
}

func (server *Server) AwardPoints(ctx context.Context, request *AwardPointsRequest) (*EntryResponse, error) {
	userID, err := gamification.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	kind, err := gamification.ParseSourceKind(request.SourceKind)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	entry, operationError := server.service.AwardPoints(ctx, userID, gamification.Points(request.Amount), kind, request.SourceRef, request.Description)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &EntryResponse{Entry: entry}, nil
}

func (server *Server) Commit(ctx context.Context, request *CommitRequest) (*EntryResponse, error) {
	userID, err := gamification.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	kind, err := gamification.ParseSourceKind(request.SourceKind)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	entry, operationError := server.service.Commit(ctx, userID, gamification.Points(request.Delta), kind, request.SourceRef, request.Description)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &EntryResponse{Entry: entry}, nil
}

func (server *Server) ExpirePoints(ctx context.Context, request *ExpirePointsRequest) (*EntryResponse, error) {
	userID, err := gamification.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	entry, operationError := server.service.ExpirePoints(ctx, userID, request.SourceRef)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &EntryResponse{Entry: entry}, nil
}

func (server *Server) RecordProgress(ctx context.Context, request *RecordProgressRequest) (*UnlockedResponse, error) {
	userID, err := gamification.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	requirementType, err := gamification.ParseRequirementType(request.RequirementType)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	var unlocked []gamification.UnlockedAchievement
	var operationError error
	if requirementType == gamification.RequirementSpecificExercise {
		unlocked, operationError = server.service.RecordExerciseProgress(ctx, userID, request.ExerciseKey, request.Metric)
	} else {
		unlocked, operationError = server.service.RecordProgress(ctx, userID, requirementType, request.Metric)
	}
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &UnlockedResponse{Unlocked: unlocked}, nil
}

func (server *Server) RecordActivity(ctx context.Context, request *RecordActivityRequest) (*StreakResponse, error) {
	userID, err := gamification.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	state, operationError := server.service.RecordActivity(ctx, userID, request.ActivityDate)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &StreakResponse{Streak: state}, nil
}

func (server *Server) Redeem(ctx context.Context, request *RedeemRequest) (*RedemptionResponse, error) {
	userID, err := gamification.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	rewardID, err := gamification.NewRewardID(request.RewardID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	redemption, operationError := server.service.Redeem(ctx, userID, rewardID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &RedemptionResponse{Redemption: redemption}, nil
}

func (server *Server) FulfillRedemption(ctx context.Context, request *RedemptionRequest) (*RedemptionResponse, error) {
	return server.transition(ctx, request, server.service.FulfillRedemption)
}

func (server *Server) CancelRedemption(ctx context.Context, request *RedemptionRequest) (*RedemptionResponse, error) {
	return server.transition(ctx, request, server.service.CancelRedemption)
}

func (server *Server) ExpireRedemption(ctx context.Context, request *RedemptionRequest) (*RedemptionResponse, error) {
	return server.transition(ctx, request, server.service.ExpireRedemption)
}

func (server *Server) transition(ctx context.Context, request *RedemptionRequest, apply func(context.Context, gamification.RedemptionID) (gamification.Redemption, error)) (*RedemptionResponse, error) {
	redemptionID, err := gamification.NewRedemptionID(request.RedemptionID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	redemption, operationError := apply(ctx, redemptionID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &RedemptionResponse{Redemption: redemption}, nil
}

func (server *Server) GetProfile(ctx context.Context, request *UserRequest) (*ProfileResponse, error) {
	userID, err := gamification.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	profile, operationError := server.service.GetProfile(ctx, userID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &ProfileResponse{Profile: profile}, nil
}

func (server *Server) GetLedgerHistory(ctx context.Context, request *HistoryRequest) (*HistoryResponse, error) {
	userID, err := gamification.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	entries, operationError := server.service.GetLedgerHistory(ctx, userID, gamification.Page{BeforeSequence: request.BeforeSequence, Limit: request.Limit})
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &HistoryResponse{Entries: entries}, nil
}

func (server *Server) GetLeaderboard(ctx context.Context, request *LeaderboardRequest) (*LeaderboardResponse, error) {
	entries, operationError := server.service.GetLeaderboard(ctx, request.Limit)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &LeaderboardResponse{Entries: entries}, nil
}

func (server *Server) GetRank(ctx context.Context, request *UserRequest) (*RankResponse, error) {
	userID, err := gamification.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	entry, operationError := server.service.GetRank(ctx, userID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &RankResponse{Entry: entry}, nil
}

func (server *Server) GetAchievementProgress(ctx context.Context, request *UserRequest) (*AchievementProgressResponse, error) {
	userID, err := gamification.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	statuses, operationError := server.service.GetAchievementProgress(ctx, userID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &AchievementProgressResponse{Achievements: statuses}, nil
}

func (server *Server) VerifyLedger(ctx context.Context, request *UserRequest) (*AuditResponse, error) {
	userID, err := gamification.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	audit, operationError := server.service.VerifyLedger(ctx, userID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &AuditResponse{Audit: audit}, nil
}

func (server *Server) ListRewards(ctx context.Context, _ *ListRewardsRequest) (*RewardsResponse, error) {
	rewards, operationError := server.service.ListRewards(ctx)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &RewardsResponse{Rewards: rewards}, nil
}

func (server *Server) ListRedemptions(ctx context.Context, request *UserRequest) (*RedemptionsResponse, error) {
	userID, err := gamification.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	redemptions, operationError := server.service.ListRedemptions(ctx, userID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &RedemptionsResponse{Redemptions: redemptions}, nil
}

func (server *Server) GetActivityCalendar(ctx context.Context, request *CalendarRequest) (*CalendarResponse, error) {
	userID, err := gamification.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	days, operationError := server.service.GetActivityCalendar(ctx, userID, request.From, request.To)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &CalendarResponse{Days: days}, nil
}

// mapToGRPCError carries the stable reason code as the status message.
func mapToGRPCError(source error) error {
	reason := gamification.ReasonFor(source)
	switch {
	case gamification.IsValidationError(source):
		return status.Error(codes.InvalidArgument, reason.Code)
	case gamification.IsNotFound(source):
		return status.Error(codes.NotFound, reason.Code)
	case errors.Is(source, gamification.ErrDuplicateIdempotencyKey):
		return status.Error(codes.AlreadyExists, reason.Code)
	case gamification.IsBusinessRejection(source):
		return status.Error(codes.FailedPrecondition, reason.Code)
	case errors.Is(source, gamification.ErrUnavailable):
		return status.Error(codes.Unavailable, reason.Code)
	case errors.Is(source, gamification.ErrBusy), errors.Is(source, gamification.ErrConflict):
		return status.Error(codes.Aborted, reason.Code)
	case errors.Is(source, context.Canceled):
		return status.Error(codes.Canceled, source.Error())
	case errors.Is(source, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, source.Error())
	default:
		return status.Error(codes.Internal, gamification.ReasonInternal)
	}
}
