package gormstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/MarkoPoloResearchLab/gamification/pkg/gamification"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	errorSubjectEvent = "event"
	errorCodeEncode   = "encode"
	errorCodeDecode   = "decode"
)

// AuditLog persists committed events keyed by their dedup key.
// Redelivered events are dropped by the primary key.
type AuditLog struct {
	db    *gorm.DB
	nowFn func() time.Time
}

// NewAuditLog returns an AuditLog backed by db.
func NewAuditLog(db *gorm.DB, now func() time.Time) *AuditLog {
	if now == nil {
		now = time.Now
	}
	return &AuditLog{db: db, nowFn: now}
}

// Publish implements gamification.Publisher.
func (auditLog *AuditLog) Publish(ctx context.Context, event gamification.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return wrapStoreError(errorSubjectEvent, errorCodeEncode, err)
	}
	record := EventRecord{
		EventKey:   event.Key,
		EventID:    event.ID,
		Kind:       string(event.Kind),
		UserID:     event.UserID,
		Payload:    datatypes.JSON(payload),
		OccurredAt: event.OccurredAt.UTC(),
		RecordedAt: auditLog.nowFn().UTC(),
	}
	err = auditLog.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_key"}}, DoNothing: true}).
		Create(&record).Error
	if err != nil {
		return wrapStoreError(errorSubjectEvent, errorCodeInsert, err)
	}
	return nil
}

// ListEvents returns the user's recorded events newest first.
func (auditLog *AuditLog) ListEvents(ctx context.Context, userID string, limit int) ([]gamification.Event, error) {
	query := auditLog.db.WithContext(ctx).Where("user_id = ?", userID).Order("occurred_at DESC").Order("event_key")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []EventRecord
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectEvent, errorCodeList, err)
	}
	events := make([]gamification.Event, 0, len(rows))
	for _, row := range rows {
		var event gamification.Event
		if err := json.Unmarshal(row.Payload, &event); err != nil {
			return nil, wrapStoreError(errorSubjectEvent, errorCodeDecode, err)
		}
		events = append(events, event)
	}
	return events, nil
}
