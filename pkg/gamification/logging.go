package gamification

import (
	"context"
	"time"

	"github.com/MarkoPoloResearchLab/gamification/pkg/leaderboard"
	"github.com/MarkoPoloResearchLab/gamification/pkg/progression"
)

// Operation statuses reported in OperationLog.Status.
const (
	OperationStatusOK       = "ok"
	OperationStatusRejected = "rejected"
	OperationStatusError    = "error"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing operation.
type OperationLog struct {
	Operation  string
	UserID     string
	Reference  string
	SourceKind SourceKind
	Amount     Points
	// Status is ok, rejected (business rule) or error (fault).
	Status string
	Error  error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithPublisher wires the post-commit event publisher.
func WithPublisher(publisher Publisher) ServiceOption {
	return func(service *Service) {
		service.publisher = publisher
	}
}

// WithLeaderboard shares a leaderboard with other readers.
func WithLeaderboard(board *leaderboard.Board) ServiceOption {
	return func(service *Service) {
		service.board = board
	}
}

// WithCalculator overrides the default progression table.
func WithCalculator(calculator progression.Calculator) ServiceOption {
	return func(service *Service) {
		service.calculator = calculator
	}
}

// WithStreakBonusPolicy configures streak bonus credits.
func WithStreakBonusPolicy(policy StreakBonusPolicy) ServiceOption {
	return func(service *Service) {
		service.streakPolicy = policy
	}
}

// WithLockTimeout bounds how long a command waits for a user's lock.
func WithLockTimeout(timeout time.Duration) ServiceOption {
	return func(service *Service) {
		service.lockTimeout = timeout
	}
}
