// Package pgstore runs whole-table maintenance queries against PostgreSQL
// over a dedicated pgx pool, keeping them off the request-serving gorm pool.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/gamification/pkg/gamification"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	errorOperationStore  = "store"
	errorSubjectLedger   = "ledger"
	errorSubjectPool     = "pool"
	errorCodeConnect     = "connect"
	errorCodeScan        = "scan"
	errorCodeDecode      = "decode"
	pgConnectionClass    = "08"
	pgAdminShutdownCode  = "57P01"
	pgCannotConnectCode  = "57P03"
	defaultMaxPoolConns  = 2
	applicationNameParam = "application_name"
	applicationName      = "gamification-audit"

	sqlScanLedgers = `
		select p.user_id, p.current_balance, p.last_sequence,
			coalesce(sum(e.delta), 0)::bigint as sum_of_deltas,
			count(e.entry_id) as entry_count,
			coalesce(max(e.sequence), 0)::bigint as latest_sequence,
			coalesce((
				select l.resulting_balance from ledger_entries l
				where l.user_id = p.user_id
				order by l.sequence desc limit 1
			), 0)::bigint as latest_resulting_balance
		from profiles p
		left join ledger_entries e on e.user_id = p.user_id
		group by p.user_id, p.current_balance, p.last_sequence
		order by p.user_id
	`
)

var errMissingPool = errors.New("pgx pool required")

// Querier is the subset of pgxpool.Pool the auditor uses.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Auditor scans ledger consistency facts straight from PostgreSQL.
type Auditor struct {
	querier Querier
	close   func()
}

// New returns an Auditor over querier, typically a *pgxpool.Pool.
func New(querier Querier) (*Auditor, error) {
	if querier == nil {
		return nil, errMissingPool
	}
	return &Auditor{querier: querier, close: func() {}}, nil
}

// Open builds a small pool of its own for dsn.
func Open(ctx context.Context, dsn string) (*Auditor, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, wrapStoreError(errorSubjectPool, errorCodeConnect, err)
	}
	config.MaxConns = defaultMaxPoolConns
	if _, set := config.ConnConfig.RuntimeParams[applicationNameParam]; !set {
		config.ConnConfig.RuntimeParams[applicationNameParam] = applicationName
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, wrapStoreError(errorSubjectPool, errorCodeConnect, err)
	}
	return &Auditor{querier: pool, close: pool.Close}, nil
}

// Close releases the pool opened by Open.
func (auditor *Auditor) Close() {
	auditor.close()
}

// ScanLedgers reads the audit facts of every profile in one query.
func (auditor *Auditor) ScanLedgers(ctx context.Context) ([]gamification.LedgerFacts, error) {
	rows, err := auditor.querier.Query(ctx, sqlScanLedgers)
	if err != nil {
		return nil, wrapStoreError(errorSubjectLedger, errorCodeScan, err)
	}
	defer rows.Close()
	facts, err := scanFacts(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectLedger, errorCodeDecode, err)
	}
	return facts, nil
}

func scanFacts(rows pgx.Rows) ([]gamification.LedgerFacts, error) {
	facts := make([]gamification.LedgerFacts, 0, 64)
	for rows.Next() {
		var (
			userID                 string
			currentBalance         int64
			lastSequence           int64
			sumOfDeltas            int64
			entryCount             int64
			latestSequence         int64
			latestResultingBalance int64
		)
		if err := rows.Scan(
			&userID,
			&currentBalance,
			&lastSequence,
			&sumOfDeltas,
			&entryCount,
			&latestSequence,
			&latestResultingBalance,
		); err != nil {
			return nil, err
		}
		if strings.TrimSpace(userID) == "" {
			return nil, fmt.Errorf("%w: empty user id in profiles", gamification.ErrInvalidUserID)
		}
		facts = append(facts, gamification.LedgerFacts{
			UserID:                 userID,
			CurrentBalance:         gamification.Points(currentBalance),
			LastSequence:           lastSequence,
			SumOfDeltas:            gamification.Points(sumOfDeltas),
			EntryCount:             entryCount,
			LatestSequence:         latestSequence,
			LatestResultingBalance: gamification.Points(latestResultingBalance),
		})
	}
	return facts, rows.Err()
}

func wrapStoreError(subject string, code string, err error) error {
	if isUnavailable(err) {
		err = fmt.Errorf("%w: %v", gamification.ErrUnavailable, err)
	}
	return gamification.WrapError(errorOperationStore, subject, code, err)
}

func isUnavailable(err error) bool {
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, pgConnectionClass) ||
			pgErr.Code == pgAdminShutdownCode ||
			pgErr.Code == pgCannotConnectCode
	}
	return pgconn.Timeout(err)
}
