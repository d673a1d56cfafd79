package gamification

import (
	"errors"
	"fmt"
)

// Validation errors.
var (
	ErrInvalidUserID          = errors.New("invalid user id")
	ErrInvalidRewardID        = errors.New("invalid reward id")
	ErrInvalidAchievementID   = errors.New("invalid achievement id")
	ErrInvalidRedemptionID    = errors.New("invalid redemption id")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidSource          = errors.New("invalid source kind")
	ErrInvalidRequirementType = errors.New("invalid requirement type")
	ErrInvalidRequirementKey  = errors.New("invalid requirement key")
	ErrInvalidMetric          = errors.New("invalid metric value")
	ErrInvalidAchievementTier = errors.New("invalid achievement tier")
	ErrInvalidRedemptionState = errors.New("invalid redemption status")
	ErrInvalidReward          = errors.New("invalid reward")
	ErrInvalidAchievement     = errors.New("invalid achievement")
	ErrInvalidActivityDate    = errors.New("invalid activity date")
	ErrInvalidPage            = errors.New("invalid page")
	ErrInvalidServiceConfig   = errors.New("invalid service config")
)

// Business-rule rejections. These are expected outcomes, not faults.
var (
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrInsufficientPoints      = errors.New("insufficient points")
	ErrOutOfStock              = errors.New("out of stock")
	ErrRewardInactive          = errors.New("reward inactive")
	ErrRewardNotFound          = errors.New("reward not found")
	ErrRedemptionNotFound      = errors.New("redemption not found")
	ErrRedemptionClosed        = errors.New("redemption closed")
	ErrProfileNotFound         = errors.New("profile not found")
	ErrAchievementNotFound     = errors.New("achievement not found")
	ErrNothingToExpire         = errors.New("nothing to expire")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// Contention and system faults.
var (
	ErrBusy        = errors.New("user is busy")
	ErrConflict    = errors.New("concurrent update conflict")
	ErrUnavailable = errors.New("storage unavailable")
)

// Store lookups that the service resolves into domain outcomes.
var (
	ErrEntryNotFound    = errors.New("ledger entry not found")
	ErrProgressNotFound = errors.New("achievement progress not found")
)

var businessRejections = []error{
	ErrInsufficientBalance,
	ErrInsufficientPoints,
	ErrOutOfStock,
	ErrRewardInactive,
	ErrRewardNotFound,
	ErrRedemptionNotFound,
	ErrRedemptionClosed,
	ErrProfileNotFound,
	ErrAchievementNotFound,
	ErrNothingToExpire,
	ErrDuplicateIdempotencyKey,
}

var validationErrors = []error{
	ErrInvalidUserID,
	ErrInvalidRewardID,
	ErrInvalidAchievementID,
	ErrInvalidRedemptionID,
	ErrInvalidAmount,
	ErrInvalidSource,
	ErrInvalidRequirementType,
	ErrInvalidRequirementKey,
	ErrInvalidMetric,
	ErrInvalidAchievementTier,
	ErrInvalidRedemptionState,
	ErrInvalidReward,
	ErrInvalidAchievement,
	ErrInvalidActivityDate,
	ErrInvalidPage,
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// IsBusinessRejection reports whether err is an expected, caller-handled outcome.
func IsBusinessRejection(err error) bool {
	return matchesAny(err, businessRejections)
}

// IsValidationError reports whether err was caused by bad caller input.
func IsValidationError(err error) bool {
	return matchesAny(err, validationErrors)
}

// IsRetryable reports whether the caller may retry the same command.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy) || errors.Is(err, ErrConflict) || errors.Is(err, ErrUnavailable)
}

func matchesAny(err error, candidates []error) bool {
	if err == nil {
		return false
	}
	for _, candidate := range candidates {
		if errors.Is(err, candidate) {
			return true
		}
	}
	return false
}
