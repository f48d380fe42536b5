package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/disburse/internal/domain"
)

// InsertOveraward appends one ledger entry and fills in its id. Entries are
// always inserted active.
func (t *Tx) InsertOveraward(ctx context.Context, e *domain.DisbursementOveraward) error {
	if !e.State.IsActive() {
		return fmt.Errorf("insert overaward: %w: entry is already reversed", ErrInvariant)
	}
	id, err := t.insertID(ctx, `
		INSERT INTO disbursement_overawards
		(student_id, student_assessment_id, disbursement_schedule_id, disbursement_value_code,
		 overaward_value, origin_type, added_by, added_at, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.StudentID, nullableInt(e.AssessmentID), nullableInt(e.ScheduleID), e.ValueCode,
		e.OverawardValue.String(), string(e.OriginType), e.AddedBy, formatTime(e.AddedAt), e.Notes,
	)
	if err != nil {
		return fmt.Errorf("insert overaward: %w", err)
	}
	e.ID = id
	return nil
}

func listOverawards(ctx context.Context, q querier, studentID int64) ([]domain.DisbursementOveraward, error) {
	var out []domain.DisbursementOveraward
	err := queryEach(ctx, q, func(rows *sql.Rows) error {
		var (
			e                    domain.DisbursementOveraward
			assessment, schedule sql.NullInt64
			deletedAt            *time.Time
		)
		if err := rows.Scan(
			&e.ID, &e.StudentID, &assessment, &schedule, &e.ValueCode, &e.OverawardValue,
			&e.OriginType, &e.AddedBy, requiredTime{&e.AddedAt}, &e.Notes, timeColumn{&deletedAt},
		); err != nil {
			return err
		}
		if assessment.Valid {
			e.AssessmentID = &assessment.Int64
		}
		if schedule.Valid {
			e.ScheduleID = &schedule.Int64
		}
		if deletedAt != nil {
			e.State = domain.Reversed(*deletedAt)
		}
		out = append(out, e)
		return nil
	}, `
		SELECT id, student_id, student_assessment_id, disbursement_schedule_id, disbursement_value_code,
		       overaward_value, origin_type, added_by, added_at, notes, deleted_at
		FROM disbursement_overawards
		WHERE student_id = ?
		ORDER BY id`, studentID)
	if err != nil {
		return nil, fmt.Errorf("list overawards: %w", err)
	}
	return out, nil
}

// ListOverawards returns every ledger entry of a student, reversed ones
// included, in insertion order.
func (s *Store) ListOverawards(ctx context.Context, studentID int64) ([]domain.DisbursementOveraward, error) {
	return listOverawards(ctx, s, studentID)
}

// ListOverawards is the in-transaction form of Store.ListOverawards.
func (t *Tx) ListOverawards(ctx context.Context, studentID int64) ([]domain.DisbursementOveraward, error) {
	return listOverawards(ctx, t, studentID)
}

func overawardBalance(ctx context.Context, q querier, studentID int64) (map[string]decimal.Decimal, error) {
	balance := make(map[string]decimal.Decimal)
	err := queryEach(ctx, q, func(rows *sql.Rows) error {
		var (
			code  string
			value decimal.Decimal
		)
		if err := rows.Scan(&code, &value); err != nil {
			return err
		}
		balance[code] = balance[code].Add(value)
		return nil
	}, `
		SELECT disbursement_value_code, overaward_value
		FROM disbursement_overawards
		WHERE student_id = ? AND deleted_at IS NULL`, studentID)
	if err != nil {
		return nil, fmt.Errorf("overaward balance: %w", err)
	}
	return balance, nil
}

// OverawardBalance sums the student's active ledger entries per value code.
// Amounts are added exactly in Go, never by the database.
func (s *Store) OverawardBalance(ctx context.Context, studentID int64) (map[string]decimal.Decimal, error) {
	return overawardBalance(ctx, s, studentID)
}

// OverawardBalance is the in-transaction form of Store.OverawardBalance.
func (t *Tx) OverawardBalance(ctx context.Context, studentID int64) (map[string]decimal.Decimal, error) {
	return overawardBalance(ctx, t, studentID)
}

// ReverseUnpaidOverawards marks as reversed every active entry that came
// from an assessment of (studentID, applicationNumber) and is not tied to a
// schedule whose money is committed (Ready to send or Sent). Entries with no
// assessment, such as manual records, are never touched. Returns how many
// entries were reversed.
func (t *Tx) ReverseUnpaidOverawards(ctx context.Context, studentID int64, applicationNumber string, at time.Time) (int64, error) {
	res, err := t.ExecContext(ctx, `
		UPDATE disbursement_overawards SET deleted_at = ?
		WHERE deleted_at IS NULL
		  AND student_assessment_id IN (`+applicationAssessments+`)
		  AND (disbursement_schedule_id IS NULL OR disbursement_schedule_id NOT IN (
		        SELECT id FROM disbursement_schedules
		        WHERE disbursement_schedule_status IN (?, ?)))`,
		formatTime(at), studentID, applicationNumber,
		string(domain.ScheduleReadyToSend), string(domain.ScheduleSent))
	if err != nil {
		return 0, fmt.Errorf("reverse unpaid overawards: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reverse unpaid overawards: rows affected: %w", err)
	}
	return n, nil
}
