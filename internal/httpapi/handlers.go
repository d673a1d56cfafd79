package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/gamification/internal/broker"
	"github.com/MarkoPoloResearchLab/gamification/pkg/gamification"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	dateLayout          = "2006-01-02"
	defaultEventsLimit  = 50
	maxEventsLimit      = 500
	eventStreamRetryMs  = 3000
	userIDParam         = "userID"
	redemptionIDParam   = "redemptionID"
	transitionFulfill   = "fulfill"
	transitionCancel    = "cancel"
	transitionExpire    = "expire"
	errorCodeNotEnabled = "not_enabled"
)

type httpHandler struct {
	service *gamification.Service
	broker  *broker.Broker
	events  EventLister
	logger  *zap.Logger
	timeout time.Duration
}

type pointsRequest struct {
	Amount      int64  `json:"amount" binding:"required"`
	SourceKind  string `json:"source_kind" binding:"required"`
	SourceRef   string `json:"source_ref"`
	Description string `json:"description"`
}

type adjustmentRequest struct {
	Delta       int64  `json:"delta" binding:"required"`
	SourceKind  string `json:"source_kind"`
	SourceRef   string `json:"source_ref"`
	Description string `json:"description"`
}

type expirationRequest struct {
	SourceRef string `json:"source_ref"`
}

type progressRequest struct {
	RequirementType string `json:"requirement_type" binding:"required"`
	ExerciseKey     string `json:"exercise_key"`
	Metric          int64  `json:"metric"`
}

type activityRequest struct {
	ActivityDate string `json:"activity_date" binding:"required"`
}

type redeemRequest struct {
	RewardID string `json:"reward_id" binding:"required"`
}

type rewardRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	PointCost   int64  `json:"point_cost"`
	Stock       int64  `json:"stock"`
	IsActive    bool   `json:"is_active"`
}

type achievementRequest struct {
	Name             string `json:"name" binding:"required"`
	Description      string `json:"description"`
	RequirementType  string `json:"requirement_type" binding:"required"`
	RequirementKey   string `json:"requirement_key"`
	RequirementValue int64  `json:"requirement_value"`
	PointValue       int64  `json:"point_value"`
	Tier             string `json:"tier"`
	IsActive         bool   `json:"is_active"`
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.timeout)
}

func (handler *httpHandler) userID(ctx *gin.Context) (gamification.UserID, bool) {
	userID, err := gamification.NewUserID(ctx.Param(userIDParam))
	if err != nil {
		handler.writeError(ctx, err)
		return gamification.UserID{}, false
	}
	return userID, true
}

func (handler *httpHandler) handleAwardPoints(ctx *gin.Context) {
	userID, ok := handler.userID(ctx)
	if !ok {
		return
	}
	var request pointsRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		handler.writeBindError(ctx, err)
		return
	}
	kind, err := gamification.ParseSourceKind(request.SourceKind)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestContext, cancel := handler.requestContext(ctx)
	defer cancel()
	entry, err := handler.service.AwardPoints(requestContext, userID, gamification.Points(request.Amount), kind, request.SourceRef, request.Description)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"entry": entry})
}

func (handler *httpHandler) handleCommit(ctx *gin.Context) {
	userID, ok := handler.userID(ctx)
	if !ok {
		return
	}
	var request adjustmentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		handler.writeBindError(ctx, err)
		return
	}
	rawKind := request.SourceKind
	if strings.TrimSpace(rawKind) == "" {
		rawKind = gamification.SourceAdminAdjustment.String()
	}
	kind, err := gamification.ParseSourceKind(rawKind)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestContext, cancel := handler.requestContext(ctx)
	defer cancel()
	entry, err := handler.service.Commit(requestContext, userID, gamification.Points(request.Delta), kind, request.SourceRef, request.Description)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"entry": entry})
}

func (handler *httpHandler) handleExpirePoints(ctx *gin.Context) {
	userID, ok := handler.userID(ctx)
	if !ok {
		return
	}
	var request expirationRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		handler.writeBindError(ctx, err)
		return
	}
	requestContext, cancel := handler.requestContext(ctx)
	defer cancel()
	entry, err := handler.service.ExpirePoints(requestContext, userID, request.SourceRef)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"entry": entry})
}

func (handler *httpHandler) handleRecordProgress(ctx *gin.Context) {
	userID, ok := handler.userID(ctx)
	if !ok {
		return
	}
	var request progressRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		handler.writeBindError(ctx, err)
		return
	}
	requirementType, err := gamification.ParseRequirementType(request.RequirementType)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestContext, cancel := handler.requestContext(ctx)
	defer cancel()
	var unlocked []gamification.UnlockedAchievement
	if requirementType == gamification.RequirementSpecificExercise {
		unlocked, err = handler.service.RecordExerciseProgress(requestContext, userID, request.ExerciseKey, request.Metric)
	} else {
		unlocked, err = handler.service.RecordProgress(requestContext, userID, requirementType, request.Metric)
	}
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	if unlocked == nil {
		unlocked = []gamification.UnlockedAchievement{}
	}
	ctx.JSON(http.StatusOK, gin.H{"unlocked": unlocked})
}

func (handler *httpHandler) handleRecordActivity(ctx *gin.Context) {
	userID, ok := handler.userID(ctx)
	if !ok {
		return
	}
	var request activityRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		handler.writeBindError(ctx, err)
		return
	}
	activityDate, err := parseDate(request.ActivityDate)
	if err != nil {
		handler.writeError(ctx, fmt.Errorf("%w: %v", gamification.ErrInvalidActivityDate, err))
		return
	}
	requestContext, cancel := handler.requestContext(ctx)
	defer cancel()
	state, err := handler.service.RecordActivity(requestContext, userID, activityDate)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"streak": state})
}

func (handler *httpHandler) handleRedeem(ctx *gin.Context) {
	userID, ok := handler.userID(ctx)
	if !ok {
		return
	}
	var request redeemRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		handler.writeBindError(ctx, err)
		return
	}
	rewardID, err := gamification.NewRewardID(request.RewardID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestContext, cancel := handler.requestContext(ctx)
	defer cancel()
	redemption, err := handler.service.Redeem(requestContext, userID, rewardID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"redemption": redemption})
}

func (handler *httpHandler) handleTransition(action string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		redemptionID, err := gamification.NewRedemptionID(ctx.Param(redemptionIDParam))
		if err != nil {
			handler.writeError(ctx, err)
			return
		}
		apply := handler.service.FulfillRedemption
		switch action {
		case transitionCancel:
			apply = handler.service.CancelRedemption
		case transitionExpire:
			apply = handler.service.ExpireRedemption
		}
		requestContext, cancel := handler.requestContext(ctx)
		defer cancel()
		redemption, err := apply(requestContext, redemptionID)
		if err != nil {
			handler.writeError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"redemption": redemption})
	}
}

func (handler *httpHandler) handleGetRedemption(ctx *gin.Context) {
	redemptionID, err := gamification.NewRedemptionID(ctx.Param(redemptionIDParam))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestContext, cancel := handler.requestContext(ctx)
	defer cancel()
	redemption, err := handler.service.GetRedemption(requestContext, redemptionID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"redemption": redemption})
}

func (handler *httpHandler) handleListRedemptions(ctx *gin.Context) {
	userID, ok := handler.userID(ctx)
	if !ok {
		return
	}
	requestContext, cancel := handler.requestContext(ctx)
	defer cancel()
	redemptions, err := handler.service.ListRedemptions(requestContext, userID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"redemptions": redemptions})
}

func (handler *httpHandler) handleProfile(ctx *gin.Context) {
	userID, ok := handler.userID(ctx)
	if !ok {
		return
	}
	requestContext, cancel := handler.requestContext(ctx)
	defer cancel()
	profile, err := handler.service.GetProfile(requestContext, userID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"profile": profile})
}

func (handler *httpHandler) handleLedgerHistory(ctx *gin.Context) {
	userID, ok := handler.userID(ctx)
	if !ok {
		return
	}
	beforeSequence, err := queryInt64(ctx, "before_sequence")
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	limit, err := queryInt64(ctx, "limit")
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestContext, cancel := handler.requestContext(ctx)
	defer cancel()
	entries, err := handler.service.GetLedgerHistory(requestContext, userID, gamification.Page{BeforeSequence: beforeSequence, Limit: int(limit)})
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (handler *httpHandler) handleVerifyLedger(ctx *gin.Context) {
	userID, ok := handler.userID(ctx)
	if !ok {
		return
	}
	requestContext, cancel := handler.requestContext(ctx)
	defer cancel()
	audit, err := handler.service.VerifyLedger(requestContext, userID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"audit": audit})
}

func (handler *httpHandler) handleRank(ctx *gin.Context) {
	userID, ok := handler.userID(ctx)
	if !ok {
		return
	}
	requestContext, cancel := handler.requestContext(ctx)
	defer cancel()
	entry, err := handler.service.GetRank(requestContext, userID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"rank": entry})
}

func (handler *httpHandler) handleLeaderboard(ctx *gin.Context) {
	limit, err := queryInt64(ctx, "limit")
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestContext, cancel := handler.requestContext(ctx)
	defer cancel()
	entries, err := handler.service.GetLeaderboard(requestContext, int(limit))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (handler *httpHandler) handleAchievementProgress(ctx *gin.Context) {
	userID, ok := handler.userID(ctx)
	if !ok {
		return
	}
	requestContext, cancel := handler.requestContext(ctx)
	defer cancel()
	statuses, err := handler.service.GetAchievementProgress(requestContext, userID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"achievements": statuses})
}

func (handler *httpHandler) handleActivityCalendar(ctx *gin.Context) {
	userID, ok := handler.userID(ctx)
	if !ok {
		return
	}
	from, err := parseDate(ctx.Query("from"))
	if err != nil {
		handler.writeError(ctx, fmt.Errorf("%w: from: %v", gamification.ErrInvalidActivityDate, err))
		return
	}
	to, err := parseDate(ctx.Query("to"))
	if err != nil {
		handler.writeError(ctx, fmt.Errorf("%w: to: %v", gamification.ErrInvalidActivityDate, err))
		return
	}
	requestContext, cancel := handler.requestContext(ctx)
	defer cancel()
	days, err := handler.service.GetActivityCalendar(requestContext, userID, from, to)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	formatted := make([]string, 0, len(days))
	for _, day := range days {
		formatted = append(formatted, day.Format(dateLayout))
	}
	ctx.JSON(http.StatusOK, gin.H{"days": formatted})
}

func (handler *httpHandler) handleListRewards(ctx *gin.Context) {
	requestContext, cancel := handler.requestContext(ctx)
	defer cancel()
	rewards, err := handler.service.ListRewards(requestContext)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"rewards": rewards})
}

func (handler *httpHandler) handleUpsertReward(ctx *gin.Context) {
	var request rewardRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		handler.writeBindError(ctx, err)
		return
	}
	requestContext, cancel := handler.requestContext(ctx)
	defer cancel()
	reward, err := handler.service.UpsertReward(requestContext, gamification.Reward{
		ID:          ctx.Param("rewardID"),
		Name:        request.Name,
		Description: request.Description,
		PointCost:   gamification.Points(request.PointCost),
		Stock:       request.Stock,
		IsActive:    request.IsActive,
	})
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"reward": reward})
}

func (handler *httpHandler) handleListAchievements(ctx *gin.Context) {
	requestContext, cancel := handler.requestContext(ctx)
	defer cancel()
	definitions, err := handler.service.ListAchievements(requestContext)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"achievements": definitions})
}

func (handler *httpHandler) handleUpsertAchievement(ctx *gin.Context) {
	var request achievementRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		handler.writeBindError(ctx, err)
		return
	}
	requestContext, cancel := handler.requestContext(ctx)
	defer cancel()
	definition, err := handler.service.UpsertAchievement(requestContext, gamification.AchievementDefinition{
		ID:               ctx.Param("achievementID"),
		Name:             request.Name,
		Description:      request.Description,
		RequirementType:  gamification.RequirementType(request.RequirementType),
		RequirementKey:   request.RequirementKey,
		RequirementValue: request.RequirementValue,
		PointValue:       gamification.Points(request.PointValue),
		Tier:             gamification.AchievementTier(request.Tier),
		IsActive:         request.IsActive,
	})
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"achievement": definition})
}

func (handler *httpHandler) handleUserEvents(ctx *gin.Context) {
	if handler.events == nil {
		ctx.JSON(http.StatusNotFound, errorResponse(errorCodeNotEnabled, "The event log is not enabled."))
		return
	}
	userID, ok := handler.userID(ctx)
	if !ok {
		return
	}
	limit, err := queryInt64(ctx, "limit")
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	if limit <= 0 {
		limit = defaultEventsLimit
	}
	if limit > maxEventsLimit {
		limit = maxEventsLimit
	}
	requestContext, cancel := handler.requestContext(ctx)
	defer cancel()
	events, err := handler.events.ListEvents(requestContext, userID.String(), int(limit))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"events": events})
}

// handleEventStream relays broker events as server-sent events until the client leaves.
func (handler *httpHandler) handleEventStream(ctx *gin.Context) {
	if handler.broker == nil {
		ctx.JSON(http.StatusNotFound, errorResponse(errorCodeNotEnabled, "The event stream is not enabled."))
		return
	}
	userFilter := strings.TrimSpace(ctx.Query("user_id"))
	events, unsubscribe := handler.broker.Subscribe()
	defer unsubscribe()

	ctx.Header("Content-Type", "text/event-stream")
	ctx.Header("Cache-Control", "no-cache")
	ctx.Header("Connection", "keep-alive")
	ctx.Header("X-Accel-Buffering", "no")
	ctx.Status(http.StatusOK)
	ctx.Writer.WriteHeaderNow()
	fmt.Fprintf(ctx.Writer, "retry: %d\n\n", eventStreamRetryMs)
	ctx.Writer.Flush()

	requestContext := ctx.Request.Context()
	ctx.Stream(func(writer io.Writer) bool {
		select {
		case <-requestContext.Done():
			return false
		case event, open := <-events:
			if !open {
				return false
			}
			if userFilter != "" && event.UserID != userFilter {
				return true
			}
			ctx.SSEvent(string(event.Kind), event)
			return true
		}
	})
}

func (handler *httpHandler) writeBindError(ctx *gin.Context, err error) {
	handler.logger.Debug("rejected request body", zap.String("path", ctx.FullPath()), zap.Error(err))
	ctx.JSON(http.StatusBadRequest, errorResponse(gamification.ReasonInvalidRequest, "The request body is invalid."))
}

func (handler *httpHandler) writeError(ctx *gin.Context, err error) {
	statusCode := statusFor(err)
	reason := gamification.ReasonFor(err)
	if statusCode >= http.StatusInternalServerError {
		handler.logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
	}
	ctx.JSON(statusCode, errorResponse(reason.Code, reason.Message))
}

func statusFor(err error) int {
	switch {
	case gamification.IsValidationError(err):
		return http.StatusBadRequest
	case gamification.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, gamification.ErrDuplicateIdempotencyKey):
		return http.StatusConflict
	case gamification.IsBusinessRejection(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, gamification.ErrBusy), errors.Is(err, gamification.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, gamification.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

func queryInt64(ctx *gin.Context, name string) (int64, error) {
	raw := strings.TrimSpace(ctx.Query(name))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", gamification.ErrInvalidPage, name)
	}
	return value, nil
}

// parseDate accepts a calendar date or an RFC 3339 timestamp.
func parseDate(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, errors.New("missing date")
	}
	if parsed, err := time.Parse(dateLayout, trimmed); err == nil {
		return parsed, nil
	}
	return time.Parse(time.RFC3339, trimmed)
}
