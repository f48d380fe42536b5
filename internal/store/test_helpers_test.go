package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/roach88/disburse/internal/domain"
)

var testNow = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(s string) time.Time {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

// withTx runs fn in a unit of work and fails the test on error.
func withTx(t *testing.T, s *Store, fn func(ctx context.Context, tx *Tx) error) {
	t.Helper()
	require.NoError(t, s.WithTx(context.Background(), 0, fn))
}

type seeded struct {
	offeringID    int64
	applicationID int64
	assessmentID  int64
}

// seedApplication creates an offering, an application and its original
// assessment.
func seedApplication(t *testing.T, s *Store, studentID int64, number string, status domain.ApplicationStatus) seeded {
	t.Helper()
	var out seeded
	withTx(t, s, func(ctx context.Context, tx *Tx) error {
		var err error
		out.offeringID, err = tx.InsertOffering(ctx, domain.Offering{
			StudyStartDate:      day("2024-01-01"),
			StudyEndDate:        day("2024-06-30"),
			ActualTuitionCosts:  dec("3000"),
			ProgramRelatedCosts: dec("500"),
			MandatoryFees:       dec("100.50"),
		})
		if err != nil {
			return err
		}
		out.applicationID, err = tx.InsertApplication(ctx, domain.Application{
			StudentID: studentID, ApplicationNumber: number, Status: status,
		})
		if err != nil {
			return err
		}
		out.assessmentID, err = tx.InsertAssessment(ctx, domain.Assessment{
			ApplicationID: out.applicationID, OfferingID: out.offeringID,
			TriggerType: domain.TriggerOriginalAssessment, CreatedAt: testNow,
		})
		return err
	})
	return out
}

// seedReassessment adds a new assessment version to an existing application.
func seedReassessment(t *testing.T, s *Store, base seeded) seeded {
	t.Helper()
	out := base
	withTx(t, s, func(ctx context.Context, tx *Tx) error {
		var err error
		out.assessmentID, err = tx.InsertAssessment(ctx, domain.Assessment{
			ApplicationID: base.applicationID, OfferingID: base.offeringID,
			TriggerType: domain.TriggerStudentAppeal, CreatedAt: testNow.Add(time.Hour),
		})
		return err
	})
	return out
}

func newSchedule(assessmentID int64, date string, values ...domain.DisbursementValue) *domain.DisbursementSchedule {
	return &domain.DisbursementSchedule{
		AssessmentID:         assessmentID,
		DisbursementDate:     day(date),
		NegotiatedExpiryDate: day(date).AddDate(0, 0, 10),
		COEStatus:            domain.COERequired,
		Status:               domain.SchedulePending,
		Values:               values,
	}
}

func line(code string, typ domain.ValueType, amount string) domain.DisbursementValue {
	return domain.DisbursementValue{ValueCode: code, ValueType: typ, ValueAmount: dec(amount)}
}

func insertSchedule(t *testing.T, s *Store, sched *domain.DisbursementSchedule) {
	t.Helper()
	withTx(t, s, func(ctx context.Context, tx *Tx) error {
		return tx.InsertSchedule(ctx, sched)
	})
}
