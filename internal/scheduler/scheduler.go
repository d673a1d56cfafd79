// Package scheduler runs the periodic leaderboard refresh and point
// expiration sweep.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/gamification/pkg/gamification"
	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

const (
	jobLeaderboardRefresh = "leaderboard_refresh"
	jobExpirationSweep    = "expiration_sweep"
	jobLedgerAudit        = "ledger_audit"
)

// Maintainer is the slice of gamification.Service the jobs drive.
type Maintainer interface {
	RefreshLeaderboard(ctx context.Context) error
	SweepExpiredPoints(ctx context.Context, inactiveFor time.Duration) (int, error)
}

// LedgerScanner reads the audit facts of every ledger.
type LedgerScanner interface {
	ScanLedgers(ctx context.Context) ([]gamification.LedgerFacts, error)
}

// Config selects the jobs. A zero interval disables its job.
type Config struct {
	LeaderboardRefresh time.Duration
	ExpirationSweep    time.Duration
	// PointsExpireAfter is the inactivity window the sweep passes on.
	PointsExpireAfter time.Duration
	LedgerAudit       time.Duration
	Scanner           LedgerScanner
}

// Scheduler wraps a gocron scheduler.
type Scheduler struct {
	scheduler  gocron.Scheduler
	maintainer Maintainer
	config     Config
	logger     *zap.Logger
}

// New registers the configured jobs without starting them.
func New(maintainer Maintainer, config Config, logger *zap.Logger) (*Scheduler, error) {
	if maintainer == nil {
		return nil, errors.New("scheduler: maintainer required")
	}
	if config.ExpirationSweep > 0 && config.PointsExpireAfter <= 0 {
		return nil, errors.New("scheduler: expiration sweep needs a positive expiration window")
	}
	if config.LedgerAudit > 0 && config.Scanner == nil {
		return nil, errors.New("scheduler: ledger audit needs a scanner")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	scheduler := &Scheduler{scheduler: cron, maintainer: maintainer, config: config, logger: logger}
	if config.LeaderboardRefresh > 0 {
		if err := scheduler.register(jobLeaderboardRefresh, config.LeaderboardRefresh, scheduler.refreshLeaderboard); err != nil {
			return nil, err
		}
	}
	if config.ExpirationSweep > 0 {
		if err := scheduler.register(jobExpirationSweep, config.ExpirationSweep, scheduler.sweepExpiredPoints); err != nil {
			return nil, err
		}
	}
	if config.LedgerAudit > 0 {
		if err := scheduler.register(jobLedgerAudit, config.LedgerAudit, scheduler.auditLedgers); err != nil {
			return nil, err
		}
	}
	return scheduler, nil
}

func (scheduler *Scheduler) register(name string, interval time.Duration, task func(ctx context.Context)) error {
	_, err := scheduler.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = scheduler.scheduler.Shutdown()
		return fmt.Errorf("scheduler: register %s: %w", name, err)
	}
	return nil
}

// Start begins running jobs in the background.
func (scheduler *Scheduler) Start() {
	scheduler.scheduler.Start()
}

// Shutdown stops the jobs and waits for running ones to return.
func (scheduler *Scheduler) Shutdown() error {
	return scheduler.scheduler.Shutdown()
}

// JobNames lists the registered jobs.
func (scheduler *Scheduler) JobNames() []string {
	jobs := scheduler.scheduler.Jobs()
	names := make([]string, 0, len(jobs))
	for _, job := range jobs {
		names = append(names, job.Name())
	}
	return names
}

func (scheduler *Scheduler) refreshLeaderboard(ctx context.Context) {
	started := time.Now()
	if err := scheduler.maintainer.RefreshLeaderboard(ctx); err != nil {
		scheduler.logger.Error("leaderboard refresh failed", zap.Error(err))
		return
	}
	scheduler.logger.Debug("leaderboard refreshed", zap.Duration("took", time.Since(started)))
}

func (scheduler *Scheduler) sweepExpiredPoints(ctx context.Context) {
	expired, err := scheduler.maintainer.SweepExpiredPoints(ctx, scheduler.config.PointsExpireAfter)
	if err != nil {
		scheduler.logger.Error("expiration sweep failed", zap.Int("expired", expired), zap.Error(err))
		return
	}
	scheduler.logger.Info("expiration sweep finished", zap.Int("expired", expired))
}

// auditLedgers logs every ledger whose cached balance disagrees with its entries.
func (scheduler *Scheduler) auditLedgers(ctx context.Context) {
	facts, err := scheduler.config.Scanner.ScanLedgers(ctx)
	if err != nil {
		scheduler.logger.Error("ledger audit failed", zap.Error(err))
		return
	}
	inconsistent := 0
	for _, fact := range facts {
		audit := fact.Audit()
		if audit.Consistent {
			continue
		}
		inconsistent++
		scheduler.logger.Error("ledger inconsistent",
			zap.String("user_id", audit.UserID),
			zap.Int64("current_balance", audit.CurrentBalance.Int64()),
			zap.Int64("sum_of_deltas", audit.SumOfDeltas.Int64()),
			zap.Int64("last_resulting_balance", audit.LastResultingBalance.Int64()),
			zap.Int64("entry_count", audit.EntryCount),
		)
	}
	scheduler.logger.Info("ledger audit finished", zap.Int("profiles", len(facts)), zap.Int("inconsistent", inconsistent))
}
