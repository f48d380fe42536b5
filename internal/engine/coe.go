package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/roach88/disburse/internal/domain"
	"github.com/roach88/disburse/internal/notify"
	"github.com/roach88/disburse/internal/store"
)

// ConfirmRequest is an institution's confirmation of enrolment for one
// schedule.
type ConfirmRequest struct {
	ScheduleID        int64
	TuitionRemittance decimal.Decimal
	Actor             string

	// ConfirmedAt is the confirmation date checked against the approval
	// window. Zero means now.
	ConfirmedAt time.Time

	// AllowOutsideApprovalPeriod skips the approval window check. Reserved
	// for ministry-initiated corrections.
	AllowOutsideApprovalPeriod bool
}

// ConfirmResult describes a confirmed enrolment.
type ConfirmResult struct {
	OperationID          string `json:"operation_id"`
	ScheduleID           int64  `json:"schedule_id"`
	DocumentNumber       int64  `json:"document_number"`
	ApplicationCompleted bool   `json:"application_completed"`
}

// DeclineRequest is an institution's refusal to confirm enrolment.
type DeclineRequest struct {
	ScheduleID int64
	Reason     string
	Actor      string
}

// DeclineResult describes a declined enrolment. CascadedScheduleIDs lists
// later schedules of the same assessment that were declined with it.
type DeclineResult struct {
	OperationID         string  `json:"operation_id"`
	ScheduleID          int64   `json:"schedule_id"`
	CascadedScheduleIDs []int64 `json:"cascaded_schedule_ids"`
}

// ConfirmEnrolment completes the COE of a schedule and assigns it the next
// document number.
//
// Preconditions, checked in this order inside the unit of work that
// consumes the document number:
//  1. the schedule exists
//  2. its COE is still Required
//  3. the application is in Enrolment or Completed
//  4. it is the first Required, non-cancelled schedule of the current assessment
//  5. the confirmation date is inside the approval window, unless overridden
//  6. the remittance is not negative and does not exceed the lesser of the
//     offering's tuition cap and the schedule's eligible net awards
//
// The first confirmation of an application moves it from Enrolment to
// Completed.
func (e *Engine) ConfirmEnrolment(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error) {
	opID := e.ids.Generate()
	log := e.logger.With(zap.String("operation_id", opID), zap.Int64("schedule_id", req.ScheduleID))

	if strings.TrimSpace(req.Actor) == "" {
		return nil, e.finish(log, "confirm enrolment", newError(ErrCodeInvalidInput, nil, "actor is required"))
	}

	now := e.clock.Now()
	confirmedAt := req.ConfirmedAt
	if confirmedAt.IsZero() {
		confirmedAt = now
	}

	result := &ConfirmResult{OperationID: opID, ScheduleID: req.ScheduleID}
	doc, err := e.seq.ConsumeNext(ctx, e.policy.DocumentSequence, func(ctx context.Context, tx *store.Tx, next int64) error {
		sched, ac, err := e.coePreconditions(ctx, tx, req.ScheduleID)
		if err != nil {
			return err
		}
		if !req.AllowOutsideApprovalPeriod {
			if err := e.checkApprovalWindow(sched, ac.Offering, confirmedAt); err != nil {
				return err
			}
		}
		if err := e.checkRemittance(sched, ac.Offering, req.TuitionRemittance); err != nil {
			return err
		}

		err = tx.CompleteCOE(ctx, sched.ID, store.COEConfirmation{
			DocumentNumber:    next,
			TuitionRemittance: req.TuitionRemittance,
			Actor:             req.Actor,
			At:                now,
		})
		if err != nil {
			return fmt.Errorf("confirm enrolment: %w", err)
		}

		moved, err := tx.AdvanceApplicationStatus(ctx, ac.Application.ID,
			domain.ApplicationEnrolment, domain.ApplicationCompleted)
		if err != nil {
			return fmt.Errorf("confirm enrolment: %w", err)
		}
		result.ApplicationCompleted = moved

		return e.emit(ctx, tx, opID, notify.EventCOEConfirmed, strconv.FormatInt(sched.ID, 10), map[string]any{
			"schedule_id":        sched.ID,
			"assessment_id":      sched.AssessmentID,
			"student_id":         ac.Application.StudentID,
			"application_number": ac.Application.ApplicationNumber,
			"document_number":    next,
			"tuition_remittance": req.TuitionRemittance.String(),
			"actor":              req.Actor,
		})
	})
	if err != nil {
		return nil, e.finish(log, "confirm enrolment", err)
	}
	result.DocumentNumber = doc

	log.Info("enrolment confirmed",
		zap.Int64("document_number", doc),
		zap.Bool("application_completed", result.ApplicationCompleted))
	return result, nil
}

// DeclineEnrolment declines the COE of a schedule. It has the same first
// four preconditions as ConfirmEnrolment. Declining a schedule also
// declines every later still-Required schedule of the same assessment,
// since funds are released in order.
func (e *Engine) DeclineEnrolment(ctx context.Context, req DeclineRequest) (*DeclineResult, error) {
	opID := e.ids.Generate()
	log := e.logger.With(zap.String("operation_id", opID), zap.Int64("schedule_id", req.ScheduleID))

	if strings.TrimSpace(req.Actor) == "" {
		return nil, e.finish(log, "decline enrolment", newError(ErrCodeInvalidInput, nil, "actor is required"))
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, e.finish(log, "decline enrolment", newError(ErrCodeInvalidInput, nil, "denial reason is required"))
	}

	result := &DeclineResult{OperationID: opID, ScheduleID: req.ScheduleID}
	err := e.unitOfWork(ctx, func(ctx context.Context, tx *store.Tx) error {
		sched, ac, err := e.coePreconditions(ctx, tx, req.ScheduleID)
		if err != nil {
			return err
		}

		now := e.clock.Now()
		if err := tx.DeclineCOE(ctx, sched.ID, req.Reason, req.Actor, now); err != nil {
			return fmt.Errorf("decline enrolment: %w", err)
		}
		cascaded, err := tx.DeclineRemainingCOEs(ctx, sched.AssessmentID, sched.ID, req.Reason, req.Actor, now)
		if err != nil {
			return fmt.Errorf("decline enrolment: %w", err)
		}
		result.CascadedScheduleIDs = cascaded

		return e.emit(ctx, tx, opID, notify.EventCOEDeclined, strconv.FormatInt(sched.ID, 10), map[string]any{
			"schedule_id":           sched.ID,
			"assessment_id":         sched.AssessmentID,
			"student_id":            ac.Application.StudentID,
			"application_number":    ac.Application.ApplicationNumber,
			"reason":                req.Reason,
			"actor":                 req.Actor,
			"cascaded_schedule_ids": cascaded,
		})
	})
	if err != nil {
		return nil, e.finish(log, "decline enrolment", err)
	}

	log.Info("enrolment declined", zap.Int64s("cascaded_schedule_ids", result.CascadedScheduleIDs))
	return result, nil
}

// coePreconditions locks the schedule and checks the preconditions shared
// by confirm and decline.
func (e *Engine) coePreconditions(ctx context.Context, tx *store.Tx, scheduleID int64) (*domain.DisbursementSchedule, *store.AssessmentContext, error) {
	sched, err := tx.LockSchedule(ctx, scheduleID)
	if store.IsNotFound(err) {
		return nil, nil, newError(ErrCodeEnrolmentNotFound, idDetail("schedule_id", scheduleID),
			"schedule %d not found", scheduleID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("coe: %w", err)
	}

	if sched.COEStatus != domain.COERequired {
		return nil, nil, newError(ErrCodeEnrolmentAlreadyCompleted, map[string]string{
			"schedule_id": strconv.FormatInt(scheduleID, 10),
			"coe_status":  string(sched.COEStatus),
		}, "schedule %d COE is already %s", scheduleID, sched.COEStatus)
	}

	ac, err := tx.ReadAssessment(ctx, sched.AssessmentID)
	if err != nil {
		return nil, nil, fmt.Errorf("coe: %w", err)
	}

	app := ac.Application
	if app.Status != domain.ApplicationEnrolment && app.Status != domain.ApplicationCompleted {
		return nil, nil, newError(ErrCodeInvalidState, map[string]string{
			"application_status": string(app.Status),
		}, "application must be in %s or %s, got %s",
			domain.ApplicationEnrolment, domain.ApplicationCompleted, app.Status)
	}
	if sched.Status == domain.ScheduleCancelled {
		return nil, nil, newError(ErrCodeInvalidState, idDetail("schedule_id", scheduleID),
			"schedule %d was cancelled by a reassessment", scheduleID)
	}

	current := sched.AssessmentID
	if app.CurrentAssessmentID != nil {
		current = *app.CurrentAssessmentID
	}
	firstID, ok, err := tx.FirstRequiredSchedule(ctx, current)
	if err != nil {
		return nil, nil, fmt.Errorf("coe: %w", err)
	}
	if !ok || firstID != sched.ID {
		details := idDetail("schedule_id", scheduleID)
		if ok {
			details["first_schedule_id"] = strconv.FormatInt(firstID, 10)
		}
		return nil, nil, newError(ErrCodeFirstCOENotComplete, details,
			"schedule %d is not the first schedule awaiting COE", scheduleID)
	}

	return sched, ac, nil
}

// checkApprovalWindow requires the confirmation date to fall between
// ApprovalWindowDays before the disbursement date and the study end date,
// both inclusive.
func (e *Engine) checkApprovalWindow(sched *domain.DisbursementSchedule, offering domain.Offering, at time.Time) error {
	day := truncateDay(at)
	start := truncateDay(sched.DisbursementDate).AddDate(0, 0, -e.policy.ApprovalWindowDays)
	end := truncateDay(offering.StudyEndDate)
	if !day.Before(start) && !day.After(end) {
		return nil
	}
	return newError(ErrCodeOutsideApprovalPeriod, map[string]string{
		"confirmation_date": day.Format(domain.DateLayout),
		"window_start":      start.Format(domain.DateLayout),
		"window_end":        end.Format(domain.DateLayout),
	}, "confirmation date %s is outside %s..%s",
		day.Format(domain.DateLayout), start.Format(domain.DateLayout), end.Format(domain.DateLayout))
}

// checkRemittance bounds the requested remittance by the offering's tuition
// cap and by the schedule's eligible awards net of withheld amounts.
func (e *Engine) checkRemittance(sched *domain.DisbursementSchedule, offering domain.Offering, requested decimal.Decimal) error {
	eligible := decimal.Zero
	for _, v := range sched.Values {
		if e.policy.IsRemittanceEligible(v.ValueType) {
			eligible = eligible.Add(v.Net())
		}
	}
	limit := decimal.Min(offering.TuitionCap(), eligible)

	if !requested.IsNegative() && requested.LessThanOrEqual(limit) {
		return nil
	}
	return newError(ErrCodeInvalidTuitionRemittanceAmount, map[string]string{
		"requested":   requested.String(),
		"maximum":     limit.String(),
		"tuition_cap": offering.TuitionCap().String(),
		"eligible":    eligible.String(),
	}, "tuition remittance %s must be between 0 and %s", requested, limit)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
