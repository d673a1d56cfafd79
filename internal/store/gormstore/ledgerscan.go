package gormstore

import (
	"context"

	"github.com/MarkoPoloResearchLab/gamification/pkg/gamification"
)

const errorCodeScan = "scan"

// sqlScanLedgers runs unchanged on SQLite and PostgreSQL.
const sqlScanLedgers = `
	select p.user_id, p.current_balance, p.last_sequence,
		coalesce(sum(e.delta), 0) as sum_of_deltas,
		count(e.entry_id) as entry_count,
		coalesce(max(e.sequence), 0) as latest_sequence,
		coalesce((
			select l.resulting_balance from ledger_entries l
			where l.user_id = p.user_id
			order by l.sequence desc limit 1
		), 0) as latest_resulting_balance
	from profiles p
	left join ledger_entries e on e.user_id = p.user_id
	group by p.user_id, p.current_balance, p.last_sequence
	order by p.user_id
`

type ledgerFactsRow struct {
	UserID                 string
	CurrentBalance         int64
	LastSequence           int64
	SumOfDeltas            int64
	EntryCount             int64
	LatestSequence         int64
	LatestResultingBalance int64
}

// ScanLedgers reads the audit facts of every profile in one query. It takes
// no locks, so a profile written mid-scan can look inconsistent.
func (store *Store) ScanLedgers(ctx context.Context) ([]gamification.LedgerFacts, error) {
	var rows []ledgerFactsRow
	if err := store.db.WithContext(ctx).Raw(sqlScanLedgers).Scan(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeScan, err)
	}
	facts := make([]gamification.LedgerFacts, 0, len(rows))
	for _, row := range rows {
		facts = append(facts, gamification.LedgerFacts{
			UserID:                 row.UserID,
			CurrentBalance:         gamification.Points(row.CurrentBalance),
			LastSequence:           row.LastSequence,
			SumOfDeltas:            gamification.Points(row.SumOfDeltas),
			EntryCount:             row.EntryCount,
			LatestSequence:         row.LatestSequence,
			LatestResultingBalance: gamification.Points(row.LatestResultingBalance),
		})
	}
	return facts, nil
}
