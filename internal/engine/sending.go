package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/roach88/disburse/internal/domain"
	"github.com/roach88/disburse/internal/notify"
	"github.com/roach88/disburse/internal/settlement"
	"github.com/roach88/disburse/internal/store"
)

// PrepareResult describes a schedule staged for sending.
type PrepareResult struct {
	OperationID string                         `json:"operation_id"`
	Schedule    *domain.DisbursementSchedule   `json:"schedule"`
	Deductions  []domain.DisbursementOveraward `json:"deductions"`
}

// PrepareForSending withholds the student's outstanding loan overaward from
// a confirmed Pending schedule and moves it to Ready to send. Every amount
// withheld is recorded as a negative Award deducted entry linked to the
// schedule, so the ledger balance drops by exactly what was withheld.
func (e *Engine) PrepareForSending(ctx context.Context, scheduleID int64) (*PrepareResult, error) {
	opID := e.ids.Generate()
	log := e.logger.With(zap.String("operation_id", opID), zap.Int64("schedule_id", scheduleID))

	result := &PrepareResult{OperationID: opID}
	err := e.unitOfWork(ctx, func(ctx context.Context, tx *store.Tx) error {
		sched, err := e.lockForSending(ctx, tx, scheduleID, domain.SchedulePending)
		if err != nil {
			return err
		}
		if sched.COEStatus != domain.COECompleted {
			return newError(ErrCodeInvalidState, map[string]string{
				"schedule_id": strconv.FormatInt(scheduleID, 10),
				"coe_status":  string(sched.COEStatus),
			}, "schedule %d COE is %s, not %s", scheduleID, sched.COEStatus, domain.COECompleted)
		}

		ac, err := tx.ReadAssessment(ctx, sched.AssessmentID)
		if err != nil {
			return fmt.Errorf("prepare for sending: %w", err)
		}
		balance, err := tx.OverawardBalance(ctx, ac.Application.StudentID)
		if err != nil {
			return fmt.Errorf("prepare for sending: %w", err)
		}

		result.Deductions = e.deductOverawards(sched, ac, balance)
		for _, v := range sched.Values {
			if err := tx.UpdateValueAmounts(ctx, v); err != nil {
				return fmt.Errorf("prepare for sending: %w", err)
			}
		}
		for i := range result.Deductions {
			if err := tx.InsertOveraward(ctx, &result.Deductions[i]); err != nil {
				return fmt.Errorf("prepare for sending: %w", err)
			}
		}

		if err := tx.AdvanceScheduleStatus(ctx, sched.ID, domain.SchedulePending, domain.ScheduleReadyToSend); err != nil {
			return fmt.Errorf("prepare for sending: %w", err)
		}
		sched.Status = domain.ScheduleReadyToSend
		result.Schedule = sched

		deducted := make(map[string]string, len(result.Deductions))
		for _, d := range result.Deductions {
			deducted[d.ValueCode] = d.OverawardValue.Neg().String()
		}
		return e.emit(ctx, tx, opID, notify.EventScheduleReady, strconv.FormatInt(sched.ID, 10), map[string]any{
			"schedule_id":        sched.ID,
			"assessment_id":      sched.AssessmentID,
			"student_id":         ac.Application.StudentID,
			"overaward_deducted": deducted,
		})
	})
	if err != nil {
		return nil, e.finish(log, "prepare for sending", err)
	}

	log.Info("schedule ready to send", zap.Int("deductions", len(result.Deductions)))
	return result, nil
}

// deductOverawards applies every positive loan balance to the schedule's
// lines of the same code, in value order, and returns the ledger entries
// for what was withheld.
func (e *Engine) deductOverawards(sched *domain.DisbursementSchedule, ac *store.AssessmentContext, balance map[string]decimal.Decimal) []domain.DisbursementOveraward {
	codes := make([]string, 0, len(balance))
	for code := range balance {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var deductions []domain.DisbursementOveraward
	for _, code := range codes {
		owed := balance[code]
		if !owed.IsPositive() {
			continue
		}

		var lines []*domain.DisbursementValue
		for i := range sched.Values {
			v := &sched.Values[i]
			if v.ValueCode == code && v.ValueType.IsLoan() {
				lines = append(lines, v)
			}
		}
		if len(lines) == 0 {
			continue
		}

		remaining := settlement.Settle(settlement.OverawardLines(lines), owed)
		withheld := owed.Sub(remaining)
		if !withheld.IsPositive() {
			continue
		}

		assessmentID, scheduleID := sched.AssessmentID, sched.ID
		deductions = append(deductions, domain.DisbursementOveraward{
			StudentID:      ac.Application.StudentID,
			AssessmentID:   &assessmentID,
			ScheduleID:     &scheduleID,
			ValueCode:      code,
			OverawardValue: withheld.Neg(),
			OriginType:     domain.OriginAwardDeducted,
			AddedBy:        SystemActor,
			AddedAt:        e.clock.Now(),
		})
	}
	return deductions
}

// MarkSent records that a Ready to send schedule left the program at
// sentAt. The effective amount of every line is fixed at its net value;
// from then on the schedule counts as paid for future reassessments.
func (e *Engine) MarkSent(ctx context.Context, scheduleID int64, sentAt time.Time) (*domain.DisbursementSchedule, error) {
	opID := e.ids.Generate()
	log := e.logger.With(zap.String("operation_id", opID), zap.Int64("schedule_id", scheduleID))

	if sentAt.IsZero() {
		sentAt = e.clock.Now()
	}

	var sched *domain.DisbursementSchedule
	err := e.unitOfWork(ctx, func(ctx context.Context, tx *store.Tx) error {
		var err error
		sched, err = e.lockForSending(ctx, tx, scheduleID, domain.ScheduleReadyToSend)
		if err != nil {
			return err
		}

		for i := range sched.Values {
			net := sched.Values[i].Net()
			sched.Values[i].EffectiveAmount = &net
			if err := tx.UpdateValueAmounts(ctx, sched.Values[i]); err != nil {
				return fmt.Errorf("mark sent: %w", err)
			}
		}
		if err := tx.MarkScheduleSent(ctx, sched.ID, sentAt); err != nil {
			return fmt.Errorf("mark sent: %w", err)
		}
		sent := sentAt.UTC()
		sched.Status = domain.ScheduleSent
		sched.DateSent = &sent

		return e.emit(ctx, tx, opID, notify.EventScheduleSent, strconv.FormatInt(sched.ID, 10), map[string]any{
			"schedule_id":     sched.ID,
			"assessment_id":   sched.AssessmentID,
			"document_number": sched.DocumentNumber,
			"date_sent":       store.FormatTime(sent),
		})
	})
	if err != nil {
		return nil, e.finish(log, "mark sent", err)
	}

	log.Info("schedule sent", zap.Int64("assessment_id", sched.AssessmentID))
	return sched, nil
}

// lockForSending locks a schedule that must be in the given status.
func (e *Engine) lockForSending(ctx context.Context, tx *store.Tx, scheduleID int64, want domain.ScheduleStatus) (*domain.DisbursementSchedule, error) {
	sched, err := tx.LockSchedule(ctx, scheduleID)
	if store.IsNotFound(err) {
		return nil, newError(ErrCodeEnrolmentNotFound, idDetail("schedule_id", scheduleID),
			"schedule %d not found", scheduleID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock schedule: %w", err)
	}
	if sched.Status != want {
		return nil, newError(ErrCodeInvalidState, map[string]string{
			"schedule_id": strconv.FormatInt(scheduleID, 10),
			"status":      string(sched.Status),
		}, "schedule %d is %s, not %s", scheduleID, sched.Status, want)
	}
	return sched, nil
}
