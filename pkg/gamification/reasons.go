package gamification

import "errors"

// Reason is the caller-visible explanation for a failed command.
type Reason struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Stable reason codes shared by every transport.
const (
	ReasonInsufficientBalance = "insufficient_balance"
	ReasonInsufficientPoints  = "insufficient_points"
	ReasonOutOfStock          = "out_of_stock"
	ReasonRewardInactive      = "reward_inactive"
	ReasonRewardNotFound      = "reward_not_found"
	ReasonRedemptionNotFound  = "redemption_not_found"
	ReasonRedemptionClosed    = "redemption_closed"
	ReasonProfileNotFound     = "profile_not_found"
	ReasonAchievementNotFound = "achievement_not_found"
	ReasonNothingToExpire     = "nothing_to_expire"
	ReasonDuplicateCommand    = "duplicate_command"
	ReasonBusy                = "busy"
	ReasonConflict            = "conflict"
	ReasonUnavailable         = "unavailable"
	ReasonInternal            = "internal"
	ReasonInvalidUserID       = "invalid_user_id"
	ReasonInvalidRewardID     = "invalid_reward_id"
	ReasonInvalidAchievement  = "invalid_achievement"
	ReasonInvalidRedemptionID = "invalid_redemption_id"
	ReasonInvalidAmount       = "invalid_amount"
	ReasonInvalidSource       = "invalid_source"
	ReasonInvalidRequirement  = "invalid_requirement"
	ReasonInvalidMetric       = "invalid_metric"
	ReasonInvalidReward       = "invalid_reward"
	ReasonInvalidActivityDate = "invalid_activity_date"
	ReasonInvalidPage         = "invalid_page"
	ReasonInvalidRequest      = "invalid_request"
)

var reasonTable = []struct {
	err    error
	reason Reason
}{
	{ErrInsufficientPoints, Reason{ReasonInsufficientPoints, "You do not have enough points to redeem this reward."}},
	{ErrInsufficientBalance, Reason{ReasonInsufficientBalance, "The balance is too low for this deduction."}},
	{ErrOutOfStock, Reason{ReasonOutOfStock, "This reward is out of stock."}},
	{ErrRewardInactive, Reason{ReasonRewardInactive, "This reward is no longer available."}},
	{ErrRewardNotFound, Reason{ReasonRewardNotFound, "This reward does not exist."}},
	{ErrRedemptionNotFound, Reason{ReasonRedemptionNotFound, "This redemption does not exist."}},
	{ErrRedemptionClosed, Reason{ReasonRedemptionClosed, "This redemption has already been processed."}},
	{ErrProfileNotFound, Reason{ReasonProfileNotFound, "No points activity has been recorded for this user yet."}},
	{ErrAchievementNotFound, Reason{ReasonAchievementNotFound, "This achievement does not exist."}},
	{ErrNothingToExpire, Reason{ReasonNothingToExpire, "There are no points to expire."}},
	{ErrDuplicateIdempotencyKey, Reason{ReasonDuplicateCommand, "This command has already been applied."}},
	{ErrBusy, Reason{ReasonBusy, "Another update for this user is in progress. Please retry."}},
	{ErrConflict, Reason{ReasonConflict, "The update conflicted with another change. Please retry."}},
	{ErrUnavailable, Reason{ReasonUnavailable, "The points service is temporarily unavailable. Please retry."}},
	{ErrInvalidUserID, Reason{ReasonInvalidUserID, "A user id is required."}},
	{ErrInvalidRewardID, Reason{ReasonInvalidRewardID, "A reward id is required."}},
	{ErrInvalidAchievementID, Reason{ReasonInvalidAchievement, "An achievement id is required."}},
	{ErrInvalidAchievement, Reason{ReasonInvalidAchievement, "The achievement definition is invalid."}},
	{ErrInvalidAchievementTier, Reason{ReasonInvalidAchievement, "The achievement tier is invalid."}},
	{ErrInvalidRedemptionID, Reason{ReasonInvalidRedemptionID, "A redemption id is required."}},
	{ErrInvalidAmount, Reason{ReasonInvalidAmount, "The point amount is not allowed for this source."}},
	{ErrInvalidSource, Reason{ReasonInvalidSource, "The point source is not recognized."}},
	{ErrInvalidRequirementType, Reason{ReasonInvalidRequirement, "The achievement requirement type is not recognized."}},
	{ErrInvalidRequirementKey, Reason{ReasonInvalidRequirement, "The achievement requirement key is invalid."}},
	{ErrInvalidMetric, Reason{ReasonInvalidMetric, "Progress values must not be negative."}},
	{ErrInvalidReward, Reason{ReasonInvalidReward, "The reward definition is invalid."}},
	{ErrInvalidRedemptionState, Reason{ReasonInvalidRequest, "The redemption status is invalid."}},
	{ErrInvalidActivityDate, Reason{ReasonInvalidActivityDate, "An activity date is required."}},
	{ErrInvalidPage, Reason{ReasonInvalidPage, "The page request is invalid."}},
}

// ReasonFor maps err to a stable code and a human-readable message.
func ReasonFor(err error) Reason {
	for _, candidate := range reasonTable {
		if errors.Is(err, candidate.err) {
			return candidate.reason
		}
	}
	return Reason{Code: ReasonInternal, Message: "Something went wrong. Please retry."}
}
