package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/disburse/internal/domain"
)

// AssessmentContext is an assessment together with the application it
// belongs to and the offering it was computed for.
type AssessmentContext struct {
	Assessment  domain.Assessment
	Application domain.Application
	Offering    domain.Offering
}

const selectAssessmentContext = `
	SELECT a.id, a.application_id, a.offering_id, a.trigger_type, a.entitlement_hash, a.created_at,
	       p.id, p.student_id, p.application_number, p.application_status, p.current_assessment_id,
	       o.id, o.study_start_date, o.study_end_date,
	       o.actual_tuition_costs, o.program_related_costs, o.mandatory_fees
	FROM student_assessments a
	JOIN applications p ON p.id = a.application_id
	JOIN offerings o ON o.id = a.offering_id
	WHERE a.id = ?`

func scanAssessmentContext(rows *sql.Rows) (*AssessmentContext, error) {
	var (
		c       AssessmentContext
		current sql.NullInt64
	)
	err := rows.Scan(
		&c.Assessment.ID, &c.Assessment.ApplicationID, &c.Assessment.OfferingID,
		&c.Assessment.TriggerType, &c.Assessment.EntitlementHash, requiredTime{&c.Assessment.CreatedAt},
		&c.Application.ID, &c.Application.StudentID, &c.Application.ApplicationNumber,
		&c.Application.Status, &current,
		&c.Offering.ID, dateColumn{&c.Offering.StudyStartDate}, dateColumn{&c.Offering.StudyEndDate},
		&c.Offering.ActualTuitionCosts, &c.Offering.ProgramRelatedCosts, &c.Offering.MandatoryFees,
	)
	if err != nil {
		return nil, err
	}
	if current.Valid {
		c.Application.CurrentAssessmentID = &current.Int64
	}
	return &c, nil
}

func readAssessment(ctx context.Context, q querier, id int64, suffix string) (*AssessmentContext, error) {
	var out *AssessmentContext
	err := queryOne(ctx, q, func(rows *sql.Rows) error {
		c, err := scanAssessmentContext(rows)
		out = c
		return err
	}, selectAssessmentContext+suffix, id)
	if err != nil {
		return nil, fmt.Errorf("read assessment %d: %w", id, err)
	}
	return out, nil
}

// ReadAssessment returns the assessment with its application and offering.
func (s *Store) ReadAssessment(ctx context.Context, id int64) (*AssessmentContext, error) {
	return readAssessment(ctx, s, id, "")
}

// ReadAssessment is the in-transaction form of Store.ReadAssessment.
func (t *Tx) ReadAssessment(ctx context.Context, id int64) (*AssessmentContext, error) {
	return readAssessment(ctx, t, id, "")
}

// LockAssessment reads the assessment and holds an exclusive lock on it (and
// its application row) until the unit of work ends. Returns ErrNotFound when
// the assessment does not exist.
func (t *Tx) LockAssessment(ctx context.Context, id int64) (*AssessmentContext, error) {
	return readAssessment(ctx, t, id, t.dialect.forUpdate())
}

// SetEntitlementHash records the fingerprint of the entitlement the
// assessment's schedules were built from.
func (t *Tx) SetEntitlementHash(ctx context.Context, assessmentID int64, hash string) error {
	res, err := t.ExecContext(ctx,
		`UPDATE student_assessments SET entitlement_hash = ? WHERE id = ?`, hash, assessmentID)
	if err != nil {
		return fmt.Errorf("set entitlement hash: %w", err)
	}
	return expectOne(res, "set entitlement hash")
}

const selectApplication = `
	SELECT id, student_id, application_number, application_status, current_assessment_id
	FROM applications WHERE id = ?`

func readApplication(ctx context.Context, q querier, id int64) (*domain.Application, error) {
	var app domain.Application
	err := queryOne(ctx, q, func(rows *sql.Rows) error {
		var current sql.NullInt64
		if err := rows.Scan(&app.ID, &app.StudentID, &app.ApplicationNumber, &app.Status, &current); err != nil {
			return err
		}
		if current.Valid {
			app.CurrentAssessmentID = &current.Int64
		}
		return nil
	}, selectApplication, id)
	if err != nil {
		return nil, fmt.Errorf("read application %d: %w", id, err)
	}
	return &app, nil
}

// ReadApplication returns one application.
func (s *Store) ReadApplication(ctx context.Context, id int64) (*domain.Application, error) {
	return readApplication(ctx, s, id)
}

// ReadApplication is the in-transaction form of Store.ReadApplication.
func (t *Tx) ReadApplication(ctx context.Context, id int64) (*domain.Application, error) {
	return readApplication(ctx, t, id)
}

// SetApplicationStatus moves an application to status.
func (t *Tx) SetApplicationStatus(ctx context.Context, applicationID int64, status domain.ApplicationStatus) error {
	res, err := t.ExecContext(ctx,
		`UPDATE applications SET application_status = ? WHERE id = ?`, string(status), applicationID)
	if err != nil {
		return fmt.Errorf("set application status: %w", err)
	}
	return expectOne(res, "set application status")
}

// AdvanceApplicationStatus moves an application from one status to another
// and reports whether it was in the from status.
func (t *Tx) AdvanceApplicationStatus(ctx context.Context, applicationID int64, from, to domain.ApplicationStatus) (bool, error) {
	res, err := t.ExecContext(ctx,
		`UPDATE applications SET application_status = ? WHERE id = ? AND application_status = ?`,
		string(to), applicationID, string(from))
	if err != nil {
		return false, fmt.Errorf("advance application status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("advance application status: rows affected: %w", err)
	}
	if n > 1 {
		return false, fmt.Errorf("advance application status: %w: affected %d rows", ErrInvariant, n)
	}
	return n == 1, nil
}

// SetCurrentAssessment points an application at its latest assessment.
func (t *Tx) SetCurrentAssessment(ctx context.Context, applicationID, assessmentID int64) error {
	res, err := t.ExecContext(ctx,
		`UPDATE applications SET current_assessment_id = ? WHERE id = ?`, assessmentID, applicationID)
	if err != nil {
		return fmt.Errorf("set current assessment: %w", err)
	}
	return expectOne(res, "set current assessment")
}

// InsertOffering stores an offering and returns its id.
func (t *Tx) InsertOffering(ctx context.Context, o domain.Offering) (int64, error) {
	id, err := t.insertID(ctx, `
		INSERT INTO offerings
		(study_start_date, study_end_date, actual_tuition_costs, program_related_costs, mandatory_fees)
		VALUES (?, ?, ?, ?, ?)`,
		formatDate(o.StudyStartDate), formatDate(o.StudyEndDate),
		o.ActualTuitionCosts.String(), o.ProgramRelatedCosts.String(), o.MandatoryFees.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert offering: %w", err)
	}
	return id, nil
}

// InsertApplication stores an application and returns its id. The current
// assessment is set by InsertAssessment.
func (t *Tx) InsertApplication(ctx context.Context, app domain.Application) (int64, error) {
	id, err := t.insertID(ctx, `
		INSERT INTO applications (student_id, application_number, application_status)
		VALUES (?, ?, ?)`,
		app.StudentID, app.ApplicationNumber, string(app.Status),
	)
	if err != nil {
		return 0, fmt.Errorf("insert application: %w", err)
	}
	return id, nil
}

// InsertAssessment stores an assessment, makes it the application's current
// assessment and returns its id.
func (t *Tx) InsertAssessment(ctx context.Context, a domain.Assessment) (int64, error) {
	id, err := t.insertID(ctx, `
		INSERT INTO student_assessments
		(application_id, offering_id, trigger_type, entitlement_hash, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		a.ApplicationID, a.OfferingID, string(a.TriggerType), a.EntitlementHash, formatTime(a.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert assessment: %w", err)
	}
	if err := t.SetCurrentAssessment(ctx, a.ApplicationID, id); err != nil {
		return 0, fmt.Errorf("insert assessment: %w", err)
	}
	return id, nil
}

// IsNotFound reports whether err means a requested row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
