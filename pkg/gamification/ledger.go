package gamification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// entryDraft is a ledger entry before sequence and balance are assigned.
type entryDraft struct {
	delta          Points
	kind           SourceKind
	sourceRef      string
	idempotencyKey string
	description    string
}

// draftBuilder derives the entry to append from the locked profile.
type draftBuilder func(profile Profile) (entryDraft, error)

func deriveIdempotencyKey(kind SourceKind, sourceRef string) string {
	if sourceRef == "" {
		return ""
	}
	return kind.String() + idempotencyKeyDelimiter + sourceRef
}

// Commit appends a signed ledger entry for userID. A non-empty sourceRef makes
// the command idempotent on (kind, sourceRef).
func (service *Service) Commit(ctx context.Context, userID UserID, delta Points, kind SourceKind, sourceRef string, description string) (LedgerEntry, error) {
	entry, operationError := service.commitValidated(ctx, userID, delta, kind, sourceRef, description)
	service.logOperation(ctx, OperationLog{
		Operation:  operationCommit,
		UserID:     userID.String(),
		Reference:  sourceRef,
		SourceKind: kind,
		Amount:     delta,
		Error:      operationError,
	})
	return entry, operationError
}

// AwardPoints credits a positive amount.
func (service *Service) AwardPoints(ctx context.Context, userID UserID, amount Points, kind SourceKind, sourceRef string, description string) (LedgerEntry, error) {
	var entry LedgerEntry
	var operationError error
	if amount <= 0 {
		operationError = fmt.Errorf("%w: award amount must be positive", ErrInvalidAmount)
	} else {
		entry, operationError = service.commitValidated(ctx, userID, amount, kind, sourceRef, description)
	}
	service.logOperation(ctx, OperationLog{
		Operation:  operationAward,
		UserID:     userID.String(),
		Reference:  sourceRef,
		SourceKind: kind,
		Amount:     amount,
		Error:      operationError,
	})
	return entry, operationError
}

// ExpirePoints debits the user's entire balance as an expiration entry.
// Lifetime earned is left untouched.
func (service *Service) ExpirePoints(ctx context.Context, userID UserID, sourceRef string) (LedgerEntry, error) {
	var entry LedgerEntry
	operationError := requireUserID(userID)
	if operationError == nil {
		entry, operationError = service.commitEntry(ctx, userID.String(), func(profile Profile) (entryDraft, error) {
			if profile.CurrentBalance <= 0 {
				return entryDraft{}, ErrNothingToExpire
			}
			return entryDraft{
				delta:          -profile.CurrentBalance,
				kind:           SourceExpiration,
				sourceRef:      sourceRef,
				idempotencyKey: deriveIdempotencyKey(SourceExpiration, sourceRef),
				description:    "Points expired",
			}, nil
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation:  operationExpire,
		UserID:     userID.String(),
		Reference:  sourceRef,
		SourceKind: SourceExpiration,
		Amount:     entry.Delta,
		Error:      operationError,
	})
	return entry, operationError
}

// SweepExpiredPoints expires the balances of users with no activity since
// now minus inactiveFor. It returns the number of users whose points expired.
func (service *Service) SweepExpiredPoints(ctx context.Context, inactiveFor time.Duration) (int, error) {
	if inactiveFor <= 0 {
		return 0, fmt.Errorf("%w: inactivity window must be positive", ErrInvalidServiceConfig)
	}
	cutoff := calendarDay(service.now().Add(-inactiveFor))
	profiles, err := service.store.ListExpirableProfiles(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	sourceRef := "sweep" + idempotencyKeyDelimiter + cutoff.Format(calendarDayLayout)
	expired := 0
	for _, profile := range profiles {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return expired, ctxErr
		}
		userID, err := NewUserID(profile.UserID)
		if err != nil {
			continue
		}
		_, expireErr := service.ExpirePoints(ctx, userID, sourceRef)
		switch {
		case expireErr == nil:
			expired++
		case IsBusinessRejection(expireErr):
		default:
			return expired, expireErr
		}
	}
	return expired, nil
}

func (service *Service) commitValidated(ctx context.Context, userID UserID, delta Points, kind SourceKind, sourceRef string, description string) (LedgerEntry, error) {
	if err := requireUserID(userID); err != nil {
		return LedgerEntry{}, err
	}
	if err := validateDelta(kind, delta); err != nil {
		return LedgerEntry{}, err
	}
	return service.commitEntry(ctx, userID.String(), func(Profile) (entryDraft, error) {
		return entryDraft{
			delta:          delta,
			kind:           kind,
			sourceRef:      sourceRef,
			idempotencyKey: deriveIdempotencyKey(kind, sourceRef),
			description:    description,
		}, nil
	})
}

// commitEntry locks the user, appends one entry and runs post-commit work.
func (service *Service) commitEntry(ctx context.Context, userID string, build draftBuilder) (LedgerEntry, error) {
	var entry LedgerEntry
	err := service.runLocked(ctx, userID, func(ctx context.Context) error {
		var profile Profile
		txErr := service.transact(ctx, func(ctx context.Context, transactionStore Store) error {
			now := service.now()
			current, err := transactionStore.GetOrCreateProfile(ctx, userID, now)
			if err != nil {
				return err
			}
			draft, err := build(current)
			if err != nil {
				return err
			}
			committed, err := appendEntry(ctx, transactionStore, &current, draft, now)
			if err != nil {
				return err
			}
			if err := saveProfile(ctx, transactionStore, &current); err != nil {
				return err
			}
			entry, profile = committed, current
			return nil
		})
		if txErr != nil {
			return txErr
		}
		service.afterCommit(ctx, profile, entryEvent(entry))
		if entry.SourceKind.raisesLifetime(entry.Delta) {
			service.settleLevelAchievements(ctx, userID)
		}
		return nil
	})
	if err != nil {
		return LedgerEntry{}, err
	}
	return entry, nil
}

// appendEntry inserts the next entry for profile and applies it to the
// in-memory profile. The caller persists the profile in the same transaction.
func appendEntry(ctx context.Context, transactionStore Store, profile *Profile, draft entryDraft, now time.Time) (LedgerEntry, error) {
	idempotencyKey := draft.idempotencyKey
	if idempotencyKey != "" {
		_, err := transactionStore.FindEntryByIdempotencyKey(ctx, profile.UserID, idempotencyKey)
		switch {
		case err == nil:
			return LedgerEntry{}, fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, idempotencyKey)
		case !errors.Is(err, ErrEntryNotFound):
			return LedgerEntry{}, err
		}
	} else {
		idempotencyKey = draft.kind.String() + idempotencyKeyDelimiter + uuid.NewString()
	}

	delta := draft.delta
	resultingBalance := profile.CurrentBalance + delta
	if delta > 0 && resultingBalance < profile.CurrentBalance {
		return LedgerEntry{}, fmt.Errorf("%w: balance overflow", ErrInvalidAmount)
	}
	if resultingBalance < 0 {
		if draft.kind != SourceExpiration {
			return LedgerEntry{}, fmt.Errorf("%w: balance %d, delta %d", ErrInsufficientBalance, profile.CurrentBalance, delta)
		}
		delta = -profile.CurrentBalance
		resultingBalance = 0
		if delta == 0 {
			return LedgerEntry{}, ErrNothingToExpire
		}
	}

	entry := LedgerEntry{
		ID:               uuid.NewString(),
		UserID:           profile.UserID,
		Sequence:         profile.LastSequence + 1,
		Delta:            delta,
		ResultingBalance: resultingBalance,
		SourceKind:       draft.kind,
		SourceRef:        draft.sourceRef,
		IdempotencyKey:   idempotencyKey,
		Description:      draft.description,
		CreatedAt:        now,
	}
	if err := transactionStore.InsertEntry(ctx, entry); err != nil {
		return LedgerEntry{}, err
	}
	profile.CurrentBalance = resultingBalance
	if draft.kind.raisesLifetime(delta) {
		profile.LifetimeEarned += delta
	}
	profile.LastSequence = entry.Sequence
	profile.UpdatedAt = now
	return entry, nil
}

func saveProfile(ctx context.Context, transactionStore Store, profile *Profile) error {
	if err := transactionStore.UpdateProfile(ctx, *profile); err != nil {
		return err
	}
	profile.Version++
	return nil
}

func requireUserID(userID UserID) error {
	if userID.String() == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return nil
}
