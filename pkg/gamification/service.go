package gamification

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/MarkoPoloResearchLab/gamification/pkg/leaderboard"
	"github.com/MarkoPoloResearchLab/gamification/pkg/progression"
	"github.com/google/uuid"
)

// Service contains the engine's domain logic over a Store.
type Service struct {
	store        Store
	nowFn        func() time.Time
	logger       OperationLogger
	publisher    Publisher
	board        *leaderboard.Board
	boardLoaded  atomic.Bool
	calculator   progression.Calculator
	streakPolicy StreakBonusPolicy
	lockTimeout  time.Duration
	locks        *userLocks
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:       store,
		nowFn:       now,
		calculator:  progression.Default(),
		lockTimeout: defaultLockTimeout,
		locks:       newUserLocks(),
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.board == nil {
		service.board = leaderboard.New()
	}
	if service.calculator.PointsPerLevel() <= 0 {
		return nil, fmt.Errorf("%w: progression calculator is not configured", ErrInvalidServiceConfig)
	}
	if err := service.streakPolicy.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidServiceConfig, err)
	}
	if service.lockTimeout < 0 {
		return nil, fmt.Errorf("%w: lock timeout must not be negative", ErrInvalidServiceConfig)
	}
	return service, nil
}

// Calculator returns the progression table in use.
func (service *Service) Calculator() progression.Calculator {
	return service.calculator
}

func (service *Service) now() time.Time {
	return service.nowFn().UTC()
}

// runLocked holds userID's lock for the duration of fn. Events queued by
// afterCommit inside fn are published once the lock is released.
func (service *Service) runLocked(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	release, err := service.locks.acquire(ctx, userID, service.lockTimeout)
	if err != nil {
		return err
	}
	pending := &outbox{}
	func() {
		defer release()
		err = fn(context.WithValue(ctx, outboxKey{}, pending))
	}()
	service.publish(ctx, pending.events)
	return err
}

// transact runs fn in a store transaction, retrying optimistic conflicts.
// fn must reset any state it captures because it can run more than once.
func (service *Service) transact(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = service.store.WithTx(ctx, fn)
		if !errors.Is(err, ErrConflict) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}

func (service *Service) view(profile Profile) ProfileView {
	standing := service.calculator.Derive(profile.LifetimeEarned.Int64())
	view := ProfileView{
		Profile:         profile,
		Level:           standing.Level,
		Tier:            standing.Tier,
		NextTier:        standing.NextTier,
		NextLevelPoints: standing.NextLevelPoints,
		NextTierPoints:  standing.NextTierPoints,
	}
	if entry, ranked := service.board.RankOf(profile.UserID); ranked {
		view.Rank = entry.Rank
	}
	return view
}

// afterCommit patches the leaderboard and prepares events for publishing.
// It only runs once the underlying transaction has committed.
func (service *Service) afterCommit(ctx context.Context, profile Profile, events ...Event) {
	service.board.Upsert(memberOf(profile))
	if service.publisher == nil || len(events) == 0 {
		return
	}
	view := service.view(profile)
	prepared := make([]Event, 0, len(events))
	for _, event := range events {
		event.ID = uuid.NewString()
		event.UserID = profile.UserID
		event.OccurredAt = service.now()
		event.Profile = view
		prepared = append(prepared, event)
	}
	if pending, queued := ctx.Value(outboxKey{}).(*outbox); queued {
		pending.events = append(pending.events, prepared...)
		return
	}
	service.publish(ctx, prepared)
}

type outboxKey struct{}

// outbox collects the events of one locked section. Only the goroutine
// holding the user's lock appends to it.
type outbox struct {
	events []Event
}

func (service *Service) publish(ctx context.Context, events []Event) {
	if service.publisher == nil || len(events) == 0 {
		return
	}
	publishContext := context.WithoutCancel(ctx)
	for _, event := range events {
		if err := service.publisher.Publish(publishContext, event); err != nil {
			service.logOperation(publishContext, OperationLog{
				Operation: operationPublish,
				UserID:    event.UserID,
				Reference: event.Key,
				Error:     err,
			})
		}
	}
}

func entryEvent(entry LedgerEntry) Event {
	committed := entry
	return Event{Kind: entryEventKind(entry), Key: entry.ID, Entry: &committed}
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		switch {
		case entry.Error == nil:
			entry.Status = OperationStatusOK
		case IsBusinessRejection(entry.Error) || IsValidationError(entry.Error):
			entry.Status = OperationStatusRejected
		default:
			entry.Status = OperationStatusError
		}
	}
	service.logger.LogOperation(ctx, entry)
}
