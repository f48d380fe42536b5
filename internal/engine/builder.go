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

// BuildResult is what CreateSchedules persisted.
type BuildResult struct {
	OperationID     string                         `json:"operation_id"`
	AssessmentID    int64                          `json:"assessment_id"`
	EntitlementHash string                         `json:"entitlement_hash"`
	Rollback        RollbackResult                 `json:"rollback"`
	Schedules       []domain.DisbursementSchedule  `json:"schedules"`
	Overawards      []domain.DisbursementOveraward `json:"overawards"`
}

// CreateSchedules persists the proposed schedules for an assessment,
// reconciled against everything already paid for the same application.
//
// In one unit of work it locks the assessment, checks that it has no
// schedules and that its trigger matches the application status, rolls back
// the application's unpaid state, settles the paid amounts against the new
// award lines (grants discard any remainder, loans may record it as a
// reassessment overaward), recomputes the provincial grant total line of
// each schedule and inserts everything.
func (e *Engine) CreateSchedules(ctx context.Context, assessmentID int64, proposed []domain.ProposedSchedule) (*BuildResult, error) {
	opID := e.ids.Generate()
	log := e.logger.With(zap.String("operation_id", opID), zap.Int64("assessment_id", assessmentID))

	if err := domain.ValidateSchedules(proposed); err != nil {
		return nil, e.finish(log, "create schedules",
			newError(ErrCodeInvalidInput, nil, "invalid entitlement: %v", err))
	}
	normalized := domain.NormalizeSchedules(proposed)
	hash, err := domain.EntitlementHash(normalized)
	if err != nil {
		return nil, e.finish(log, "create schedules", fmt.Errorf("create schedules: %w", err))
	}

	result := &BuildResult{OperationID: opID, AssessmentID: assessmentID, EntitlementHash: hash}
	err = e.unitOfWork(ctx, func(ctx context.Context, tx *store.Tx) error {
		ac, err := tx.LockAssessment(ctx, assessmentID)
		if store.IsNotFound(err) {
			return newError(ErrCodeAssessmentNotFound, idDetail("assessment_id", assessmentID),
				"assessment %d not found", assessmentID)
		}
		if err != nil {
			return fmt.Errorf("create schedules: %w", err)
		}

		n, err := tx.CountSchedules(ctx, assessmentID)
		if err != nil {
			return fmt.Errorf("create schedules: %w", err)
		}
		if n > 0 {
			return newError(ErrCodeSchedulesAlreadyExist, idDetail("assessment_id", assessmentID),
				"assessment %d already has %d schedules", assessmentID, n)
		}

		if err := checkBuildState(ac); err != nil {
			return err
		}

		now := e.clock.Now()
		result.Rollback, err = e.rollbackInTx(ctx, tx, ac.Application, now)
		if err != nil {
			return fmt.Errorf("create schedules: %w", err)
		}

		paid, err := tx.PaidByCode(ctx, ac.Application.StudentID, ac.Application.ApplicationNumber)
		if err != nil {
			return fmt.Errorf("create schedules: %w", err)
		}

		schedules := e.newSchedules(assessmentID, normalized)
		overawards := e.settlePaid(ac, schedules, paid, now)
		for i := range schedules {
			e.recomputeTotalGrant(&schedules[i])
		}

		for i := range schedules {
			if err := tx.InsertSchedule(ctx, &schedules[i]); err != nil {
				return fmt.Errorf("create schedules: %w", err)
			}
		}
		for i := range overawards {
			if err := tx.InsertOveraward(ctx, &overawards[i]); err != nil {
				return fmt.Errorf("create schedules: %w", err)
			}
		}
		if err := tx.SetEntitlementHash(ctx, assessmentID, hash); err != nil {
			return fmt.Errorf("create schedules: %w", err)
		}

		if err := e.emitBuild(ctx, tx, opID, ac, schedules, overawards); err != nil {
			return fmt.Errorf("create schedules: %w", err)
		}

		result.Schedules = schedules
		result.Overawards = overawards
		return nil
	})
	if err != nil {
		return nil, e.finish(log, "create schedules", err)
	}

	log.Info("schedules created",
		zap.Int("schedules", len(result.Schedules)),
		zap.Int("overawards", len(result.Overawards)),
		zap.Int64("reversed_overawards", result.Rollback.ReversedOverawards),
		zap.Int64("cancelled_schedules", result.Rollback.CancelledSchedules),
		zap.String("entitlement_hash", hash))
	return result, nil
}

// checkBuildState enforces the trigger/status pairing: an original
// assessment is built while the application is In Progress, a reassessment
// only once it is Completed.
func checkBuildState(ac *store.AssessmentContext) error {
	want := domain.ApplicationCompleted
	if !ac.Assessment.TriggerType.IsReassessment() {
		want = domain.ApplicationInProgress
	}
	if ac.Application.Status == want {
		return nil
	}
	return newError(ErrCodeInvalidState, map[string]string{
		"trigger_type":       string(ac.Assessment.TriggerType),
		"application_status": string(ac.Application.Status),
		"required_status":    string(want),
	}, "%s requires application status %s, got %s",
		ac.Assessment.TriggerType, want, ac.Application.Status)
}

// newSchedules turns the entitlement into schedule rows. Any supplied total
// grant line is dropped; it is always recomputed.
func (e *Engine) newSchedules(assessmentID int64, proposed []domain.ProposedSchedule) []domain.DisbursementSchedule {
	schedules := make([]domain.DisbursementSchedule, len(proposed))
	for i, p := range proposed {
		s := domain.DisbursementSchedule{
			AssessmentID:         assessmentID,
			DisbursementDate:     p.DisbursementDate,
			NegotiatedExpiryDate: p.NegotiatedExpiryDate,
			COEStatus:            domain.COERequired,
			Status:               domain.SchedulePending,
		}
		for _, v := range p.Values {
			if v.ValueType == domain.BCTotalGrant || v.ValueCode == e.policy.TotalGrantCode {
				continue
			}
			s.Values = append(s.Values, domain.DisbursementValue{
				ValueCode:   v.ValueCode,
				ValueType:   v.ValueType,
				ValueAmount: v.ValueAmount,
			})
		}
		schedules[i] = s
	}
	return schedules
}

// settlePaid subtracts what was already paid, per code, from the new lines
// in schedule order. It returns the overaward entries to record.
func (e *Engine) settlePaid(ac *store.AssessmentContext, schedules []domain.DisbursementSchedule, paid map[string]store.Paid, now time.Time) []domain.DisbursementOveraward {
	codes := make([]string, 0, len(paid))
	for code := range paid {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var overawards []domain.DisbursementOveraward
	for _, code := range codes {
		p := paid[code]
		if !p.Amount.IsPositive() {
			continue
		}

		typ := p.ValueType
		var lines []*domain.DisbursementValue
		for i := range schedules {
			if v, ok := schedules[i].Value(code); ok {
				lines = append(lines, v)
				typ = v.ValueType
			}
		}
		if !typ.IsLoan() && !typ.IsGrant() {
			continue
		}

		remaining := settlement.Settle(settlement.DisbursedLines(lines), p.Amount)
		if !e.policy.CreatesOveraward(typ, remaining) {
			continue
		}

		assessmentID := ac.Assessment.ID
		overawards = append(overawards, domain.DisbursementOveraward{
			StudentID:      ac.Application.StudentID,
			AssessmentID:   &assessmentID,
			ValueCode:      code,
			OverawardValue: remaining,
			OriginType:     domain.OriginReassessment,
			AddedBy:        SystemActor,
			AddedAt:        now,
		})
	}
	return overawards
}

// recomputeTotalGrant appends the provincial grant total line: the sum of
// the schedule's BC Grant lines after prior-payment deductions. Schedules
// without BC grants get no total line.
func (e *Engine) recomputeTotalGrant(s *domain.DisbursementSchedule) {
	total := decimal.Zero
	found := false
	for _, v := range s.Values {
		if v.ValueType != domain.BCGrant {
			continue
		}
		found = true
		total = total.Add(v.ValueAmount.Sub(v.DisbursedAmountSubtracted))
	}
	if !found {
		return
	}
	s.Values = append(s.Values, domain.DisbursementValue{
		ValueCode:   e.policy.TotalGrantCode,
		ValueType:   domain.BCTotalGrant,
		ValueAmount: total,
	})
}

func (e *Engine) emitBuild(ctx context.Context, tx *store.Tx, opID string, ac *store.AssessmentContext, schedules []domain.DisbursementSchedule, overawards []domain.DisbursementOveraward) error {
	ids := make([]int64, len(schedules))
	for i, s := range schedules {
		ids[i] = s.ID
	}
	aggregate := strconv.FormatInt(ac.Assessment.ID, 10)
	if err := e.emit(ctx, tx, opID, notify.EventSchedulesCreated, aggregate, map[string]any{
		"assessment_id":      ac.Assessment.ID,
		"student_id":         ac.Application.StudentID,
		"application_number": ac.Application.ApplicationNumber,
		"schedule_ids":       ids,
	}); err != nil {
		return err
	}
	for _, o := range overawards {
		if err := e.emit(ctx, tx, opID, notify.EventOverawardRecorded, aggregate, map[string]any{
			"student_id":      o.StudentID,
			"value_code":      o.ValueCode,
			"overaward_value": o.OverawardValue.String(),
			"origin_type":     string(o.OriginType),
		}); err != nil {
			return err
		}
	}
	return nil
}
