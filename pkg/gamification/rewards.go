package gamification

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Redeem exchanges the reward's current point cost for one unit of stock.
// Stock, ledger debit and the pending redemption commit together or not at all.
func (service *Service) Redeem(ctx context.Context, userID UserID, rewardID RewardID) (Redemption, error) {
	var redemption Redemption
	operationError := requireUserID(userID)
	if operationError == nil && rewardID.String() == "" {
		operationError = fmt.Errorf("%w: empty value", ErrInvalidRewardID)
	}
	if operationError == nil {
		redemption, operationError = service.redeem(ctx, userID.String(), rewardID.String())
	}
	service.logOperation(ctx, OperationLog{
		Operation:  operationRedeem,
		UserID:     userID.String(),
		Reference:  rewardID.String(),
		SourceKind: SourceRewardRedemption,
		Amount:     -redemption.PointsCost,
		Error:      operationError,
	})
	return redemption, operationError
}

func (service *Service) redeem(ctx context.Context, userID string, rewardID string) (Redemption, error) {
	var redemption Redemption
	err := service.runLocked(ctx, userID, func(ctx context.Context) error {
		var entry LedgerEntry
		var profile Profile
		txErr := service.transact(ctx, func(ctx context.Context, transactionStore Store) error {
			now := service.now()
			reward, err := transactionStore.GetReward(ctx, rewardID)
			if err != nil {
				return err
			}
			if !reward.IsActive {
				return fmt.Errorf("%w: %s", ErrRewardInactive, rewardID)
			}
			if reward.Stock <= 0 {
				return fmt.Errorf("%w: %s", ErrOutOfStock, rewardID)
			}
			current, err := transactionStore.GetOrCreateProfile(ctx, userID, now)
			if err != nil {
				return err
			}
			if current.CurrentBalance < reward.PointCost {
				return fmt.Errorf("%w: balance %d, cost %d", ErrInsufficientPoints, current.CurrentBalance, reward.PointCost)
			}
			if err := transactionStore.ClaimRewardStock(ctx, rewardID); err != nil {
				return err
			}
			pending := Redemption{
				ID:         uuid.NewString(),
				UserID:     userID,
				RewardID:   rewardID,
				PointsCost: reward.PointCost,
				Status:     RedemptionPending,
				RedeemedAt: now,
				UpdatedAt:  now,
			}
			if err := transactionStore.CreateRedemption(ctx, pending); err != nil {
				return err
			}
			debit, err := appendEntry(ctx, transactionStore, &current, entryDraft{
				delta:          -reward.PointCost,
				kind:           SourceRewardRedemption,
				sourceRef:      rewardID,
				idempotencyKey: SourceRewardRedemption.String() + idempotencyKeyDelimiter + pending.ID,
				description:    "Redeemed " + reward.Name,
			}, now)
			if err != nil {
				return err
			}
			if err := saveProfile(ctx, transactionStore, &current); err != nil {
				return err
			}
			redemption, entry, profile = pending, debit, current
			return nil
		})
		if txErr != nil {
			return txErr
		}
		service.afterCommit(ctx, profile, redemptionEvent(EventRewardRedeemed, redemption, &entry))
		return nil
	})
	if err != nil {
		return Redemption{}, err
	}
	return redemption, nil
}

// FulfillRedemption closes a pending redemption as delivered.
func (service *Service) FulfillRedemption(ctx context.Context, redemptionID RedemptionID) (Redemption, error) {
	return service.transitionRedemption(ctx, redemptionID, RedemptionFulfilled)
}

// CancelRedemption closes a pending redemption and refunds its frozen cost.
func (service *Service) CancelRedemption(ctx context.Context, redemptionID RedemptionID) (Redemption, error) {
	return service.transitionRedemption(ctx, redemptionID, RedemptionCancelled)
}

// ExpireRedemption closes a pending redemption that was never collected and
// refunds its frozen cost.
func (service *Service) ExpireRedemption(ctx context.Context, redemptionID RedemptionID) (Redemption, error) {
	return service.transitionRedemption(ctx, redemptionID, RedemptionExpired)
}

func (service *Service) transitionRedemption(ctx context.Context, redemptionID RedemptionID, target RedemptionStatus) (Redemption, error) {
	var redemption Redemption
	var refund *LedgerEntry
	operationError := func() error {
		if redemptionID.String() == "" {
			return fmt.Errorf("%w: empty value", ErrInvalidRedemptionID)
		}
		existing, err := service.store.GetRedemption(ctx, redemptionID.String())
		if err != nil {
			return err
		}
		redemption = existing
		return service.runLocked(ctx, existing.UserID, func(ctx context.Context) error {
			var profile Profile
			txErr := service.transact(ctx, func(ctx context.Context, transactionStore Store) error {
				refund = nil
				now := service.now()
				current, err := transactionStore.GetRedemption(ctx, redemptionID.String())
				if err != nil {
					return err
				}
				if current.Status != RedemptionPending {
					return fmt.Errorf("%w: %s is %s", ErrRedemptionClosed, current.ID, current.Status)
				}
				if err := transactionStore.UpdateRedemptionStatus(ctx, current.ID, RedemptionPending, target, now); err != nil {
					return err
				}
				current.Status = target
				current.UpdatedAt = now
				if target.refunds() {
					if err := transactionStore.RestoreRewardStock(ctx, current.RewardID); err != nil {
						return err
					}
				}
				owner, err := transactionStore.GetOrCreateProfile(ctx, current.UserID, now)
				if err != nil {
					return err
				}
				if target.refunds() {
					credit, err := appendEntry(ctx, transactionStore, &owner, entryDraft{
						delta:          current.PointsCost,
						kind:           SourceRewardRedemption,
						sourceRef:      current.RewardID,
						idempotencyKey: idempotencyPrefixRefund + idempotencyKeyDelimiter + current.ID,
						description:    "Refund for " + target.String() + " redemption",
					}, now)
					if err != nil {
						return err
					}
					if err := saveProfile(ctx, transactionStore, &owner); err != nil {
						return err
					}
					refund = &credit
				}
				redemption, profile = current, owner
				return nil
			})
			if txErr != nil {
				return txErr
			}
			service.afterCommit(ctx, profile, redemptionEvent(EventRedemptionUpdated, redemption, refund))
			return nil
		})
	}()
	var amount Points
	if refund != nil {
		amount = refund.Delta
	}
	service.logOperation(ctx, OperationLog{
		Operation:  operationRedemptionUpdate,
		UserID:     redemption.UserID,
		Reference:  redemptionID.String() + idempotencyKeyDelimiter + target.String(),
		SourceKind: SourceRewardRedemption,
		Amount:     amount,
		Error:      operationError,
	})
	if operationError != nil {
		return Redemption{}, operationError
	}
	return redemption, nil
}

// UpsertReward creates or replaces a catalog reward. The stored redemption
// count is kept.
func (service *Service) UpsertReward(ctx context.Context, reward Reward) (Reward, error) {
	reward.ID = strings.TrimSpace(reward.ID)
	reward.UpdatedAt = service.now()
	operationError := reward.Validate()
	if operationError == nil {
		operationError = service.store.UpsertReward(ctx, reward)
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationUpsertReward,
		Reference: reward.ID,
		Amount:    reward.PointCost,
		Error:     operationError,
	})
	if operationError != nil {
		return Reward{}, operationError
	}
	return service.store.GetReward(ctx, reward.ID)
}

// ListRewards returns the catalog.
func (service *Service) ListRewards(ctx context.Context) ([]Reward, error) {
	return service.store.ListRewards(ctx)
}

// GetRedemption returns one redemption.
func (service *Service) GetRedemption(ctx context.Context, redemptionID RedemptionID) (Redemption, error) {
	if redemptionID.String() == "" {
		return Redemption{}, fmt.Errorf("%w: empty value", ErrInvalidRedemptionID)
	}
	return service.store.GetRedemption(ctx, redemptionID.String())
}

// ListRedemptions returns the user's redemptions, newest first.
func (service *Service) ListRedemptions(ctx context.Context, userID UserID) ([]Redemption, error) {
	if err := requireUserID(userID); err != nil {
		return nil, err
	}
	return service.store.ListRedemptions(ctx, userID.String())
}

func redemptionEvent(kind EventKind, redemption Redemption, entry *LedgerEntry) Event {
	snapshot := redemption
	event := Event{
		Kind:       kind,
		Key:        redemption.ID + idempotencyKeyDelimiter + redemption.Status.String(),
		Redemption: &snapshot,
	}
	if entry != nil {
		committed := *entry
		event.Entry = &committed
	}
	return event
}
