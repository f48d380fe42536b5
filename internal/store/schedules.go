package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/disburse/internal/domain"
)

const scheduleColumns = `
	s.id, s.student_assessment_id, s.disbursement_date, s.negotiated_expiry_date,
	s.document_number, s.coe_status, s.disbursement_schedule_status,
	s.tuition_remittance_requested_amount, s.coe_updated_by, s.coe_updated_at,
	s.coe_denied_reason, s.date_sent`

func scanSchedule(rows *sql.Rows) (domain.DisbursementSchedule, error) {
	var (
		s   domain.DisbursementSchedule
		doc sql.NullInt64
	)
	err := rows.Scan(
		&s.ID, &s.AssessmentID, dateColumn{&s.DisbursementDate}, dateColumn{&s.NegotiatedExpiryDate},
		&doc, &s.COEStatus, &s.Status,
		&s.TuitionRemittanceRequestedAmount, &s.COEUpdatedBy, timeColumn{&s.COEUpdatedAt},
		&s.COEDeniedReason, timeColumn{&s.DateSent},
	)
	if err != nil {
		return s, err
	}
	if doc.Valid {
		s.DocumentNumber = &doc.Int64
	}
	return s, nil
}

const valueColumns = `
	v.id, v.disbursement_schedule_id, v.value_code, v.value_type, v.value_amount,
	v.disbursed_amount_subtracted, v.overaward_amount_subtracted, v.effective_amount`

func scanValue(rows *sql.Rows) (domain.DisbursementValue, error) {
	var (
		v         domain.DisbursementValue
		effective decimal.NullDecimal
	)
	err := rows.Scan(
		&v.ID, &v.ScheduleID, &v.ValueCode, &v.ValueType, &v.ValueAmount,
		&v.DisbursedAmountSubtracted, &v.OverawardAmountSubtracted, &effective,
	)
	if err != nil {
		return v, err
	}
	if effective.Valid {
		v.EffectiveAmount = &effective.Decimal
	}
	return v, nil
}

// attachValues loads the award lines of the given schedules, in insertion
// order, into each schedule's Values.
func attachValues(ctx context.Context, q querier, schedules []domain.DisbursementSchedule, where string, args ...any) error {
	index := make(map[int64]int, len(schedules))
	for i := range schedules {
		index[schedules[i].ID] = i
	}
	return queryEach(ctx, q, func(rows *sql.Rows) error {
		v, err := scanValue(rows)
		if err != nil {
			return err
		}
		i, ok := index[v.ScheduleID]
		if !ok {
			return nil
		}
		schedules[i].Values = append(schedules[i].Values, v)
		return nil
	}, `SELECT `+valueColumns+`
		FROM disbursement_values v
		JOIN disbursement_schedules s ON s.id = v.disbursement_schedule_id
		WHERE `+where+`
		ORDER BY v.disbursement_schedule_id, v.id`, args...)
}

func readSchedules(ctx context.Context, q querier, assessmentID int64) ([]domain.DisbursementSchedule, error) {
	var out []domain.DisbursementSchedule
	err := queryEach(ctx, q, func(rows *sql.Rows) error {
		s, err := scanSchedule(rows)
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	}, `SELECT `+scheduleColumns+`
		FROM disbursement_schedules s
		WHERE s.student_assessment_id = ?
		ORDER BY s.disbursement_date, s.id`, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("read schedules: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}
	if err := attachValues(ctx, q, out, "s.student_assessment_id = ?", assessmentID); err != nil {
		return nil, fmt.Errorf("read schedule values: %w", err)
	}
	return out, nil
}

func readSchedule(ctx context.Context, q querier, id int64, suffix string) (*domain.DisbursementSchedule, error) {
	var s domain.DisbursementSchedule
	err := queryOne(ctx, q, func(rows *sql.Rows) error {
		var err error
		s, err = scanSchedule(rows)
		return err
	}, `SELECT `+scheduleColumns+` FROM disbursement_schedules s WHERE s.id = ?`+suffix, id)
	if err != nil {
		return nil, fmt.Errorf("read schedule %d: %w", id, err)
	}
	list := []domain.DisbursementSchedule{s}
	if err := attachValues(ctx, q, list, "s.id = ?", id); err != nil {
		return nil, fmt.Errorf("read schedule %d values: %w", id, err)
	}
	return &list[0], nil
}

// ReadSchedules returns an assessment's schedules ordered by disbursement
// date, each with its award lines.
func (s *Store) ReadSchedules(ctx context.Context, assessmentID int64) ([]domain.DisbursementSchedule, error) {
	return readSchedules(ctx, s, assessmentID)
}

// ReadSchedules is the in-transaction form of Store.ReadSchedules.
func (t *Tx) ReadSchedules(ctx context.Context, assessmentID int64) ([]domain.DisbursementSchedule, error) {
	return readSchedules(ctx, t, assessmentID)
}

// ReadSchedule returns one schedule with its award lines.
func (s *Store) ReadSchedule(ctx context.Context, id int64) (*domain.DisbursementSchedule, error) {
	return readSchedule(ctx, s, id, "")
}

// ReadSchedule is the in-transaction form of Store.ReadSchedule.
func (t *Tx) ReadSchedule(ctx context.Context, id int64) (*domain.DisbursementSchedule, error) {
	return readSchedule(ctx, t, id, "")
}

// LockSchedule reads a schedule and holds a row lock on it until the unit of
// work ends.
func (t *Tx) LockSchedule(ctx context.Context, id int64) (*domain.DisbursementSchedule, error) {
	return readSchedule(ctx, t, id, t.dialect.forUpdate())
}

// CountSchedules returns how many schedules an assessment owns, in any status.
func (t *Tx) CountSchedules(ctx context.Context, assessmentID int64) (int, error) {
	var n int
	err := queryOne(ctx, t, func(rows *sql.Rows) error {
		return rows.Scan(&n)
	}, `SELECT COUNT(*) FROM disbursement_schedules WHERE student_assessment_id = ?`, assessmentID)
	if err != nil {
		return 0, fmt.Errorf("count schedules: %w", err)
	}
	return n, nil
}

// InsertSchedule stores a schedule and all of its award lines, filling in
// the generated ids.
func (t *Tx) InsertSchedule(ctx context.Context, s *domain.DisbursementSchedule) error {
	id, err := t.insertID(ctx, `
		INSERT INTO disbursement_schedules
		(student_assessment_id, disbursement_date, negotiated_expiry_date, document_number,
		 coe_status, disbursement_schedule_status, tuition_remittance_requested_amount)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.AssessmentID, formatDate(s.DisbursementDate), formatDate(s.NegotiatedExpiryDate),
		nullableInt(s.DocumentNumber), string(s.COEStatus), string(s.Status),
		s.TuitionRemittanceRequestedAmount.String(),
	)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	s.ID = id

	for i := range s.Values {
		v := &s.Values[i]
		v.ScheduleID = id
		if err := v.Check(); err != nil {
			return fmt.Errorf("insert schedule: %w: %v", ErrInvariant, err)
		}
		vid, err := t.insertID(ctx, `
			INSERT INTO disbursement_values
			(disbursement_schedule_id, value_code, value_type, value_amount,
			 disbursed_amount_subtracted, overaward_amount_subtracted, effective_amount)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, v.ValueCode, string(v.ValueType), v.ValueAmount.String(),
			v.DisbursedAmountSubtracted.String(), v.OverawardAmountSubtracted.String(),
			nullableDecimal(v.EffectiveAmount),
		)
		if err != nil {
			return fmt.Errorf("insert value %s: %w", v.ValueCode, err)
		}
		v.ID = vid
	}
	return nil
}

// UpdateValueAmounts persists the subtractions and effective amount of one
// award line after checking its withholding invariant.
func (t *Tx) UpdateValueAmounts(ctx context.Context, v domain.DisbursementValue) error {
	if err := v.Check(); err != nil {
		return fmt.Errorf("update value: %w: %v", ErrInvariant, err)
	}
	res, err := t.ExecContext(ctx, `
		UPDATE disbursement_values
		SET disbursed_amount_subtracted = ?, overaward_amount_subtracted = ?, effective_amount = ?
		WHERE id = ?`,
		v.DisbursedAmountSubtracted.String(), v.OverawardAmountSubtracted.String(),
		nullableDecimal(v.EffectiveAmount), v.ID,
	)
	if err != nil {
		return fmt.Errorf("update value %s: %w", v.ValueCode, err)
	}
	return expectOne(res, "update value "+v.ValueCode)
}

// Paid is what already left the program for one award code.
type Paid struct {
	ValueType domain.ValueType
	Amount    decimal.Decimal
}

// PaidByCode sums, per award code, what already left the program for every
// assessment version of (studentID, applicationNumber): the effective amount
// plus any overaward withheld at send time, over Sent schedules only.
func (t *Tx) PaidByCode(ctx context.Context, studentID int64, applicationNumber string) (map[string]Paid, error) {
	paid := make(map[string]Paid)
	err := queryEach(ctx, t, func(rows *sql.Rows) error {
		var (
			code      string
			typ       domain.ValueType
			effective decimal.NullDecimal
			overaward decimal.Decimal
		)
		if err := rows.Scan(&code, &typ, &effective, &overaward); err != nil {
			return err
		}
		amount := overaward
		if effective.Valid {
			amount = amount.Add(effective.Decimal)
		}
		p := paid[code]
		p.ValueType = typ
		p.Amount = p.Amount.Add(amount)
		paid[code] = p
		return nil
	}, `
		SELECT v.value_code, v.value_type, v.effective_amount, v.overaward_amount_subtracted
		FROM disbursement_values v
		JOIN disbursement_schedules s ON s.id = v.disbursement_schedule_id
		JOIN student_assessments a ON a.id = s.student_assessment_id
		JOIN applications p ON p.id = a.application_id
		WHERE p.student_id = ? AND p.application_number = ?
		  AND s.disbursement_schedule_status = ?
		ORDER BY v.id`,
		studentID, applicationNumber, string(domain.ScheduleSent))
	if err != nil {
		return nil, fmt.Errorf("sum paid amounts: %w", err)
	}
	return paid, nil
}

// applicationAssessments selects the ids of every assessment version of one
// (student, application number).
const applicationAssessments = `
	SELECT a.id FROM student_assessments a
	JOIN applications p ON p.id = a.application_id
	WHERE p.student_id = ? AND p.application_number = ?`

// CancelPendingSchedules moves every Pending schedule of the application to
// Cancelled and returns how many changed.
func (t *Tx) CancelPendingSchedules(ctx context.Context, studentID int64, applicationNumber string) (int64, error) {
	res, err := t.ExecContext(ctx, `
		UPDATE disbursement_schedules SET disbursement_schedule_status = ?
		WHERE disbursement_schedule_status = ?
		  AND student_assessment_id IN (`+applicationAssessments+`)`,
		string(domain.ScheduleCancelled), string(domain.SchedulePending), studentID, applicationNumber)
	if err != nil {
		return 0, fmt.Errorf("cancel pending schedules: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cancel pending schedules: rows affected: %w", err)
	}
	return n, nil
}

// AdvanceScheduleStatus moves one schedule forward. The schedule must be in
// the from status.
func (t *Tx) AdvanceScheduleStatus(ctx context.Context, id int64, from, to domain.ScheduleStatus) error {
	if !from.CanAdvanceTo(to) {
		return fmt.Errorf("advance schedule %d: %w: %s -> %s is not a forward transition", id, ErrInvariant, from, to)
	}
	res, err := t.ExecContext(ctx, `
		UPDATE disbursement_schedules SET disbursement_schedule_status = ?
		WHERE id = ? AND disbursement_schedule_status = ?`,
		string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("advance schedule %d: %w", id, err)
	}
	return expectOne(res, fmt.Sprintf("advance schedule %d", id))
}

// MarkScheduleSent moves a Ready to send schedule to Sent and stamps the
// send time.
func (t *Tx) MarkScheduleSent(ctx context.Context, id int64, at time.Time) error {
	res, err := t.ExecContext(ctx, `
		UPDATE disbursement_schedules SET disbursement_schedule_status = ?, date_sent = ?
		WHERE id = ? AND disbursement_schedule_status = ?`,
		string(domain.ScheduleSent), formatTime(at), id, string(domain.ScheduleReadyToSend))
	if err != nil {
		return fmt.Errorf("mark schedule %d sent: %w", id, err)
	}
	return expectOne(res, fmt.Sprintf("mark schedule %d sent", id))
}

// FirstRequiredSchedule returns the id of the chronologically first schedule
// of the assessment whose COE is still Required, ignoring cancelled ones.
func (t *Tx) FirstRequiredSchedule(ctx context.Context, assessmentID int64) (int64, bool, error) {
	var id int64
	err := queryOne(ctx, t, func(rows *sql.Rows) error {
		return rows.Scan(&id)
	}, `
		SELECT id FROM disbursement_schedules
		WHERE student_assessment_id = ? AND coe_status = ? AND disbursement_schedule_status <> ?
		ORDER BY disbursement_date, id
		LIMIT 1`,
		assessmentID, string(domain.COERequired), string(domain.ScheduleCancelled))
	if IsNotFound(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("first required schedule: %w", err)
	}
	return id, true, nil
}

// COEConfirmation is what gets recorded when an enrolment is confirmed.
type COEConfirmation struct {
	DocumentNumber    int64
	TuitionRemittance decimal.Decimal
	Actor             string
	At                time.Time
}

// CompleteCOE records a confirmed enrolment on a Required schedule.
func (t *Tx) CompleteCOE(ctx context.Context, id int64, c COEConfirmation) error {
	res, err := t.ExecContext(ctx, `
		UPDATE disbursement_schedules
		SET coe_status = ?, document_number = ?, tuition_remittance_requested_amount = ?,
		    coe_updated_by = ?, coe_updated_at = ?
		WHERE id = ? AND coe_status = ?`,
		string(domain.COECompleted), c.DocumentNumber, c.TuitionRemittance.String(),
		c.Actor, formatTime(c.At), id, string(domain.COERequired))
	if err != nil {
		return fmt.Errorf("complete coe %d: %w", id, err)
	}
	return expectOne(res, fmt.Sprintf("complete coe %d", id))
}

// DeclineCOE records a declined enrolment on a Required schedule.
func (t *Tx) DeclineCOE(ctx context.Context, id int64, reason, actor string, at time.Time) error {
	res, err := t.ExecContext(ctx, `
		UPDATE disbursement_schedules
		SET coe_status = ?, coe_denied_reason = ?, coe_updated_by = ?, coe_updated_at = ?
		WHERE id = ? AND coe_status = ?`,
		string(domain.COEDeclined), reason, actor, formatTime(at), id, string(domain.COERequired))
	if err != nil {
		return fmt.Errorf("decline coe %d: %w", id, err)
	}
	return expectOne(res, fmt.Sprintf("decline coe %d", id))
}

// DeclineRemainingCOEs declines every other still-Required, non-cancelled
// schedule of the assessment and returns their ids in date order.
func (t *Tx) DeclineRemainingCOEs(ctx context.Context, assessmentID, exceptID int64, reason, actor string, at time.Time) ([]int64, error) {
	var ids []int64
	err := queryEach(ctx, t, func(rows *sql.Rows) error {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	}, `
		SELECT id FROM disbursement_schedules
		WHERE student_assessment_id = ? AND id <> ? AND coe_status = ? AND disbursement_schedule_status <> ?
		ORDER BY disbursement_date, id`,
		assessmentID, exceptID, string(domain.COERequired), string(domain.ScheduleCancelled))
	if err != nil {
		return nil, fmt.Errorf("find remaining coes: %w", err)
	}
	for _, id := range ids {
		if err := t.DeclineCOE(ctx, id, reason, actor, at); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func nullableDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}
