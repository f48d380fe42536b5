// Package testutil holds fixtures shared by engine, harness and CLI tests:
// a controllable wall clock, deterministic operation ids and a seeded
// SQLite store.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/roach88/disburse/internal/domain"
	"github.com/roach88/disburse/internal/store"
)

// OpenStore opens a file-backed SQLite store in a temp dir and closes it
// when the test ends.
func OpenStore(t testing.TB) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "disburse.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// Dec parses a decimal literal and panics on malformed input.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Day parses a YYYY-MM-DD date and panics on malformed input.
func Day(s string) time.Time {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

// Offering is the fixture offering: a January to June term with a tuition
// cap of 3600.50.
func Offering() domain.Offering {
	return domain.Offering{
		StudyStartDate:      Day("2024-01-01"),
		StudyEndDate:        Day("2024-06-30"),
		ActualTuitionCosts:  Dec("3000"),
		ProgramRelatedCosts: Dec("500"),
		MandatoryFees:       Dec("100.50"),
	}
}

// Seeded identifies the rows created by SeedApplication.
type Seeded struct {
	StudentID         int64
	ApplicationNumber string
	OfferingID        int64
	ApplicationID     int64
	AssessmentID      int64
}

// SeedApplication creates the fixture offering, an application in the
// given status and its original assessment.
func SeedApplication(t testing.TB, s *store.Store, studentID int64, number string, status domain.ApplicationStatus) Seeded {
	t.Helper()
	out := Seeded{StudentID: studentID, ApplicationNumber: number}
	err := s.WithTx(context.Background(), 0, func(ctx context.Context, tx *store.Tx) error {
		var err error
		if out.OfferingID, err = tx.InsertOffering(ctx, Offering()); err != nil {
			return err
		}
		out.ApplicationID, err = tx.InsertApplication(ctx, domain.Application{
			StudentID: studentID, ApplicationNumber: number, Status: status,
		})
		if err != nil {
			return err
		}
		out.AssessmentID, err = tx.InsertAssessment(ctx, domain.Assessment{
			ApplicationID: out.ApplicationID,
			OfferingID:    out.OfferingID,
			TriggerType:   domain.TriggerOriginalAssessment,
			CreatedAt:     Epoch,
		})
		return err
	})
	require.NoError(t, err)
	return out
}

// SeedReassessment adds a new current assessment to the application with
// the given trigger. The application status is left alone.
func SeedReassessment(t testing.TB, s *store.Store, base Seeded, trigger domain.AssessmentTrigger) Seeded {
	t.Helper()
	out := base
	err := s.WithTx(context.Background(), 0, func(ctx context.Context, tx *store.Tx) error {
		var err error
		out.AssessmentID, err = tx.InsertAssessment(ctx, domain.Assessment{
			ApplicationID: base.ApplicationID,
			OfferingID:    base.OfferingID,
			TriggerType:   trigger,
			CreatedAt:     Epoch,
		})
		return err
	})
	require.NoError(t, err)
	return out
}

// SetApplicationStatus moves the application to status.
func SetApplicationStatus(t testing.TB, s *store.Store, applicationID int64, status domain.ApplicationStatus) {
	t.Helper()
	err := s.WithTx(context.Background(), 0, func(ctx context.Context, tx *store.Tx) error {
		return tx.SetApplicationStatus(ctx, applicationID, status)
	})
	require.NoError(t, err)
}

// Schedule builds a proposed schedule. Expiry is ten days after the
// disbursement date.
func Schedule(date string, values ...domain.ProposedValue) domain.ProposedSchedule {
	return domain.ProposedSchedule{
		DisbursementDate:     Day(date),
		NegotiatedExpiryDate: Day(date).AddDate(0, 0, 10),
		Values:               values,
	}
}

// Value builds a proposed award line.
func Value(code string, typ domain.ValueType, amount string) domain.ProposedValue {
	return domain.ProposedValue{ValueCode: code, ValueType: typ, ValueAmount: Dec(amount)}
}
