// Package oplog reports gamification operations through zap.
package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/gamification/pkg/gamification"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const messageOperation = "gamification operation"

// Logger implements gamification.OperationLogger.
type Logger struct {
	logger *zap.Logger
}

// New returns a Logger writing to logger. A nil logger discards everything.
func New(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger}
}

// LogOperation writes one structured line per operation. Business rejections
// are expected outcomes and stay at info; faults go to error.
func (operationLogger *Logger) LogOperation(_ context.Context, entry gamification.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if entry.UserID != "" {
		fields = append(fields, zap.String("user_id", entry.UserID))
	}
	if entry.Reference != "" {
		fields = append(fields, zap.String("reference", entry.Reference))
	}
	if entry.SourceKind != "" {
		fields = append(fields, zap.String("source_kind", entry.SourceKind.String()))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount", entry.Amount.Int64()))
	}
	if entry.Error != nil {
		reason := gamification.ReasonFor(entry.Error)
		fields = append(fields, zap.String("reason", reason.Code), zap.Error(entry.Error))
	}
	operationLogger.logger.Log(levelFor(entry.Status), messageOperation, fields...)
}

func levelFor(status string) zapcore.Level {
	if status == gamification.OperationStatusError {
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}
