package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/roach88/disburse/internal/domain"
	"github.com/roach88/disburse/internal/notify"
	"github.com/roach88/disburse/internal/store"
)

// ManualOveraward is a ministry-entered ledger adjustment. A positive
// Amount adds debt, a negative one forgives it.
type ManualOveraward struct {
	StudentID int64
	ValueCode string
	Amount    decimal.Decimal
	Note      string
	AddedBy   string
}

// OverawardBalance returns the student's outstanding overaward per value
// code, summed over active ledger entries.
func (e *Engine) OverawardBalance(ctx context.Context, studentID int64) (map[string]decimal.Decimal, error) {
	balance, err := e.store.OverawardBalance(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("overaward balance: %w", err)
	}
	return balance, nil
}

// AddManualOveraward appends a Manual record entry. Such entries have no
// assessment, so reassessment rollbacks never reverse them.
func (e *Engine) AddManualOveraward(ctx context.Context, m ManualOveraward) (*domain.DisbursementOveraward, error) {
	opID := e.ids.Generate()
	log := e.logger.With(zap.String("operation_id", opID), zap.Int64("student_id", m.StudentID))

	switch {
	case m.StudentID <= 0:
		return nil, e.finish(log, "add overaward", newError(ErrCodeInvalidInput, nil, "student id must be positive"))
	case strings.TrimSpace(m.ValueCode) == "":
		return nil, e.finish(log, "add overaward", newError(ErrCodeInvalidInput, nil, "value code is required"))
	case m.Amount.IsZero():
		return nil, e.finish(log, "add overaward", newError(ErrCodeInvalidInput, nil, "amount must not be zero"))
	case strings.TrimSpace(m.AddedBy) == "":
		return nil, e.finish(log, "add overaward", newError(ErrCodeInvalidInput, nil, "added by is required"))
	}

	entry := &domain.DisbursementOveraward{
		StudentID:      m.StudentID,
		ValueCode:      domain.NormalizeCode(m.ValueCode),
		OverawardValue: m.Amount,
		OriginType:     domain.OriginManual,
		AddedBy:        m.AddedBy,
		AddedAt:        e.clock.Now(),
		Notes:          m.Note,
	}
	err := e.unitOfWork(ctx, func(ctx context.Context, tx *store.Tx) error {
		if err := tx.InsertOveraward(ctx, entry); err != nil {
			return fmt.Errorf("add overaward: %w", err)
		}
		return e.emit(ctx, tx, opID, notify.EventOverawardRecorded, strconv.FormatInt(m.StudentID, 10), map[string]any{
			"student_id":      m.StudentID,
			"value_code":      entry.ValueCode,
			"overaward_value": m.Amount.String(),
			"origin_type":     string(domain.OriginManual),
		})
	})
	if err != nil {
		return nil, e.finish(log, "add overaward", err)
	}

	log.Info("manual overaward recorded",
		zap.String("value_code", m.ValueCode),
		zap.String("amount", m.Amount.String()))
	return entry, nil
}
