package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/disburse/internal/domain"
	"github.com/roach88/disburse/internal/notify"
	"github.com/roach88/disburse/internal/store"
)

// RollbackResult counts what a rollback changed.
type RollbackResult struct {
	ReversedOverawards int64 `json:"reversed_overawards"`
	CancelledSchedules int64 `json:"cancelled_schedules"`
}

// Rollback reverses the unpaid state of the application that owns
// assessmentID: ledger entries not tied to committed money are reversed and
// Pending schedules are cancelled. Running it again changes nothing.
func (e *Engine) Rollback(ctx context.Context, assessmentID int64) (RollbackResult, error) {
	opID := e.ids.Generate()
	log := e.logger.With(zap.String("operation_id", opID), zap.Int64("assessment_id", assessmentID))

	var result RollbackResult
	err := e.unitOfWork(ctx, func(ctx context.Context, tx *store.Tx) error {
		ac, err := tx.LockAssessment(ctx, assessmentID)
		if store.IsNotFound(err) {
			return newError(ErrCodeAssessmentNotFound, idDetail("assessment_id", assessmentID),
				"assessment %d not found", assessmentID)
		}
		if err != nil {
			return fmt.Errorf("rollback: %w", err)
		}

		result, err = e.rollbackInTx(ctx, tx, ac.Application, e.clock.Now())
		if err != nil {
			return err
		}

		return e.emit(ctx, tx, opID, notify.EventAssessmentRollback,
			strconv.FormatInt(assessmentID, 10), map[string]any{
				"assessment_id":       assessmentID,
				"application_number":  ac.Application.ApplicationNumber,
				"reversed_overawards": result.ReversedOverawards,
				"cancelled_schedules": result.CancelledSchedules,
			})
	})
	if err != nil {
		return RollbackResult{}, e.finish(log, "rollback", err)
	}

	log.Info("rollback complete",
		zap.Int64("reversed_overawards", result.ReversedOverawards),
		zap.Int64("cancelled_schedules", result.CancelledSchedules))
	return result, nil
}

// rollbackInTx runs both halves of a rollback concurrently on tx. The
// transaction's connection serializes the statements; both must finish
// before the caller continues.
func (e *Engine) rollbackInTx(ctx context.Context, tx *store.Tx, app domain.Application, at time.Time) (RollbackResult, error) {
	var reversed, cancelled int64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := tx.ReverseUnpaidOverawards(gctx, app.StudentID, app.ApplicationNumber, at)
		reversed = n
		return err
	})
	g.Go(func() error {
		n, err := tx.CancelPendingSchedules(gctx, app.StudentID, app.ApplicationNumber)
		cancelled = n
		return err
	})
	if err := g.Wait(); err != nil {
		return RollbackResult{}, fmt.Errorf("rollback: %w", err)
	}

	return RollbackResult{ReversedOverawards: reversed, CancelledSchedules: cancelled}, nil
}

func idDetail(key string, id int64) map[string]string {
	return map[string]string{key: strconv.FormatInt(id, 10)}
}
