package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Client is the typed client collaborators use to reach the service.
type Client struct {
	connection grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(connection grpc.ClientConnInterface) *Client {
	return &Client{connection: connection}
}

// ReasonCode extracts the stable reason code from a call error.
func ReasonCode(err error) string {
	if err == nil {
		return ""
	}
	return status.Convert(err).Message()
}

func invoke[Response any](ctx context.Context, client *Client, method string, request any, options []grpc.CallOption) (*Response, error) {
	response := new(Response)
	callOptions := append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, options...)
	if err := client.connection.Invoke(ctx, "/"+ServiceName+"/"+method, request, response, callOptions...); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *Client) AwardPoints(ctx context.Context, request *AwardPointsRequest, options ...grpc.CallOption) (*EntryResponse, error) {
	return invoke[EntryResponse](ctx, client, "AwardPoints", request, options)
}

func (client *Client) Commit(ctx context.Context, request *CommitRequest, options ...grpc.CallOption) (*EntryResponse, error) {
	return invoke[EntryResponse](ctx, client, "Commit", request, options)
}

func (client *Client) ExpirePoints(ctx context.Context, request *ExpirePointsRequest, options ...grpc.CallOption) (*EntryResponse, error) {
	return invoke[EntryResponse](ctx, client, "ExpirePoints", request, options)
}

func (client *Client) RecordProgress(ctx context.Context, request *RecordProgressRequest, options ...grpc.CallOption) (*UnlockedResponse, error) {
	return invoke[UnlockedResponse](ctx, client, "RecordProgress", request, options)
}

func (client *Client) RecordActivity(ctx context.Context, request *RecordActivityRequest, options ...grpc.CallOption) (*StreakResponse, error) {
	return invoke[StreakResponse](ctx, client, "RecordActivity", request, options)
}

func (client *Client) Redeem(ctx context.Context, request *RedeemRequest, options ...grpc.CallOption) (*RedemptionResponse, error) {
	return invoke[RedemptionResponse](ctx, client, "Redeem", request, options)
}

func (client *Client) FulfillRedemption(ctx context.Context, request *RedemptionRequest, options ...grpc.CallOption) (*RedemptionResponse, error) {
	return invoke[RedemptionResponse](ctx, client, "FulfillRedemption", request, options)
}

func (client *Client) CancelRedemption(ctx context.Context, request *RedemptionRequest, options ...grpc.CallOption) (*RedemptionResponse, error) {
	return invoke[RedemptionResponse](ctx, client, "CancelRedemption", request, options)
}

func (client *Client) ExpireRedemption(ctx context.Context, request *RedemptionRequest, options ...grpc.CallOption) (*RedemptionResponse, error) {
	return invoke[RedemptionResponse](ctx, client, "ExpireRedemption", request, options)
}

func (client *Client) GetProfile(ctx context.Context, request *UserRequest, options ...grpc.CallOption) (*ProfileResponse, error) {
	return invoke[ProfileResponse](ctx, client, "GetProfile", request, options)
}

func (client *Client) GetLedgerHistory(ctx context.Context, request *HistoryRequest, options ...grpc.CallOption) (*HistoryResponse, error) {
	return invoke[HistoryResponse](ctx, client, "GetLedgerHistory", request, options)
}

func (client *Client) GetLeaderboard(ctx context.Context, request *LeaderboardRequest, options ...grpc.CallOption) (*LeaderboardResponse, error) {
	return invoke[LeaderboardResponse](ctx, client, "GetLeaderboard", request, options)
}

func (client *Client) GetRank(ctx context.Context, request *UserRequest, options ...grpc.CallOption) (*RankResponse, error) {
	return invoke[RankResponse](ctx, client, "GetRank", request, options)
}

func (client *Client) GetAchievementProgress(ctx context.Context, request *UserRequest, options ...grpc.CallOption) (*AchievementProgressResponse, error) {
	return invoke[AchievementProgressResponse](ctx, client, "GetAchievementProgress", request, options)
}

func (client *Client) VerifyLedger(ctx context.Context, request *UserRequest, options ...grpc.CallOption) (*AuditResponse, error) {
	return invoke[AuditResponse](ctx, client, "VerifyLedger", request, options)
}

func (client *Client) ListRewards(ctx context.Context, options ...grpc.CallOption) (*RewardsResponse, error) {
	return invoke[RewardsResponse](ctx, client, "ListRewards", &ListRewardsRequest{}, options)
}

func (client *Client) ListRedemptions(ctx context.Context, request *UserRequest, options ...grpc.CallOption) (*RedemptionsResponse, error) {
	return invoke[RedemptionsResponse](ctx, client, "ListRedemptions", request, options)
}

func (client *Client) GetActivityCalendar(ctx context.Context, request *CalendarRequest, options ...grpc.CallOption) (*CalendarResponse, error) {
	return invoke[CalendarResponse](ctx, client, "GetActivityCalendar", request, options)
}
