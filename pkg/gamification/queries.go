package gamification

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/gamification/pkg/leaderboard"
)

// GetProfile returns the profile with its derived level, tier and rank.
func (service *Service) GetProfile(ctx context.Context, userID UserID) (ProfileView, error) {
	if err := requireUserID(userID); err != nil {
		return ProfileView{}, err
	}
	profile, err := service.store.GetProfile(ctx, userID.String())
	if err != nil {
		return ProfileView{}, err
	}
	if _, ranked := service.board.RankOf(profile.UserID); !ranked {
		service.board.Upsert(memberOf(profile))
	}
	return service.view(profile), nil
}

// GetLedgerHistory pages through the user's entries, newest first.
func (service *Service) GetLedgerHistory(ctx context.Context, userID UserID, page Page) ([]LedgerEntry, error) {
	if err := requireUserID(userID); err != nil {
		return nil, err
	}
	normalized, err := normalizePage(page)
	if err != nil {
		return nil, err
	}
	return service.store.ListEntries(ctx, userID.String(), normalized)
}

// GetLeaderboard returns the top limit users; zero means everyone.
func (service *Service) GetLeaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: negative limit", ErrInvalidPage)
	}
	if !service.boardLoaded.Load() {
		if err := service.RefreshLeaderboard(ctx); err != nil {
			return nil, err
		}
	}
	ranked := service.board.Top(limit)
	entries := make([]LeaderboardEntry, 0, len(ranked))
	for _, entry := range ranked {
		entries = append(entries, service.leaderboardEntry(entry))
	}
	return entries, nil
}

// GetRank returns the user's own leaderboard row regardless of any window.
func (service *Service) GetRank(ctx context.Context, userID UserID) (LeaderboardEntry, error) {
	if err := requireUserID(userID); err != nil {
		return LeaderboardEntry{}, err
	}
	entry, ranked := service.board.RankOf(userID.String())
	if !ranked {
		if err := service.RefreshLeaderboard(ctx); err != nil {
			return LeaderboardEntry{}, err
		}
		entry, ranked = service.board.RankOf(userID.String())
	}
	if !ranked {
		return LeaderboardEntry{}, fmt.Errorf("%w: %s", ErrProfileNotFound, userID)
	}
	return service.leaderboardEntry(entry), nil
}

// RefreshLeaderboard rebuilds the ranking from stored profiles. Commits that
// land while the profiles are read keep their newer standing.
func (service *Service) RefreshLeaderboard(ctx context.Context) error {
	mark := service.board.Mark()
	profiles, err := service.store.ListProfiles(ctx)
	if err != nil {
		return err
	}
	members := make([]leaderboard.Member, 0, len(profiles))
	for _, profile := range profiles {
		members = append(members, memberOf(profile))
	}
	service.board.ReplaceSince(mark, members)
	service.boardLoaded.Store(true)
	return nil
}

// Leaderboard exposes the shared ranking.
func (service *Service) Leaderboard() *leaderboard.Board {
	return service.board
}

// VerifyLedger audits the cached balance against the user's entries.
func (service *Service) VerifyLedger(ctx context.Context, userID UserID) (LedgerAudit, error) {
	if err := requireUserID(userID); err != nil {
		return LedgerAudit{}, err
	}
	var audit LedgerAudit
	err := service.runLocked(ctx, userID.String(), func(ctx context.Context) error {
		profile, err := service.store.GetProfile(ctx, userID.String())
		if err != nil {
			return err
		}
		sum, count, err := service.store.SumDeltas(ctx, userID.String())
		if err != nil {
			return err
		}
		latest, err := service.store.ListEntries(ctx, userID.String(), Page{Limit: 1})
		if err != nil {
			return err
		}
		facts := LedgerFacts{
			UserID:         profile.UserID,
			CurrentBalance: profile.CurrentBalance,
			LastSequence:   profile.LastSequence,
			SumOfDeltas:    sum,
			EntryCount:     count,
		}
		if len(latest) == 1 {
			facts.LatestSequence = latest[0].Sequence
			facts.LatestResultingBalance = latest[0].ResultingBalance
		}
		audit = facts.Audit()
		return nil
	})
	if err != nil {
		return LedgerAudit{}, err
	}
	return audit, nil
}

// LedgerFacts are the stored values a ledger audit compares. Stores produce
// them in bulk for the periodic audit.
type LedgerFacts struct {
	UserID                 string
	CurrentBalance         Points
	LastSequence           int64
	SumOfDeltas            Points
	EntryCount             int64
	LatestSequence         int64
	LatestResultingBalance Points
}

// Audit reports whether the cached balance and sequence agree with the entries.
func (facts LedgerFacts) Audit() LedgerAudit {
	sequenceMatches := facts.LatestSequence == facts.LastSequence && facts.LatestSequence == facts.EntryCount
	return LedgerAudit{
		UserID:               facts.UserID,
		CurrentBalance:       facts.CurrentBalance,
		SumOfDeltas:          facts.SumOfDeltas,
		LastResultingBalance: facts.LatestResultingBalance,
		EntryCount:           facts.EntryCount,
		Consistent: sequenceMatches &&
			facts.CurrentBalance >= 0 &&
			facts.CurrentBalance == facts.SumOfDeltas &&
			facts.LatestResultingBalance == facts.CurrentBalance,
	}
}

func (service *Service) leaderboardEntry(entry leaderboard.Entry) LeaderboardEntry {
	standing := service.calculator.Derive(entry.LifetimeEarned)
	return LeaderboardEntry{
		Rank:             entry.Rank,
		UserID:           entry.UserID,
		LifetimeEarned:   Points(entry.LifetimeEarned),
		Level:            standing.Level,
		Tier:             standing.Tier,
		ProfileCreatedAt: entry.ProfileCreatedAt,
	}
}

func memberOf(profile Profile) leaderboard.Member {
	return leaderboard.Member{
		UserID:           profile.UserID,
		LifetimeEarned:   profile.LifetimeEarned.Int64(),
		ProfileCreatedAt: profile.CreatedAt,
	}
}

func normalizePage(page Page) (Page, error) {
	if page.Limit < 0 {
		return Page{}, fmt.Errorf("%w: negative limit", ErrInvalidPage)
	}
	if page.BeforeSequence < 0 {
		return Page{}, fmt.Errorf("%w: negative cursor", ErrInvalidPage)
	}
	if page.Limit == 0 {
		page.Limit = defaultHistoryPageSize
	}
	page.Limit = min(page.Limit, maxHistoryPageSize)
	return page, nil
}

// IsNotFound reports whether err means the addressed record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProfileNotFound) ||
		errors.Is(err, ErrRewardNotFound) ||
		errors.Is(err, ErrRedemptionNotFound) ||
		errors.Is(err, ErrAchievementNotFound)
}
