package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OverawardOrigin records why a ledger entry exists.
type OverawardOrigin string

const (
	// OriginReassessment is debt left over after a reassessment lowered a loan
	// below what was already paid.
	OriginReassessment OverawardOrigin = "Reassessment overaward"
	// OriginManual is a ministry-entered adjustment.
	OriginManual OverawardOrigin = "Manual record"
	// OriginAwardValueAdjusted is an adjustment after an award value changed.
	OriginAwardValueAdjusted OverawardOrigin = "Award value adjusted"
	// OriginLegacy is debt imported from the previous system.
	OriginLegacy OverawardOrigin = "Legacy overaward"
	// OriginAwardDeducted is debt repaid by withholding it from a disbursement.
	OriginAwardDeducted OverawardOrigin = "Award deducted"
)

// EntryState is the lifecycle of an overaward entry: Active, or Reversed at
// a point in time. The zero value is Active.
type EntryState struct {
	reversedAt time.Time
}

// Active is the state of an entry that counts towards the balance.
func Active() EntryState {
	return EntryState{}
}

// Reversed is the state of an entry that was rolled back at t.
func Reversed(t time.Time) EntryState {
	return EntryState{reversedAt: t.UTC()}
}

// IsActive reports whether the entry counts towards the balance.
func (s EntryState) IsActive() bool {
	return s.reversedAt.IsZero()
}

// ReversedAt returns when the entry was reversed.
func (s EntryState) ReversedAt() (time.Time, bool) {
	return s.reversedAt, !s.reversedAt.IsZero()
}

func (s EntryState) String() string {
	if s.IsActive() {
		return "active"
	}
	return "reversed@" + s.reversedAt.Format(time.RFC3339)
}

// DisbursementOveraward is a signed ledger entry. Positive values are debt
// owed by the student, negative values are repayments or adjustments.
type DisbursementOveraward struct {
	ID             int64
	StudentID      int64
	AssessmentID   *int64
	ScheduleID     *int64
	ValueCode      string
	OverawardValue decimal.Decimal
	OriginType     OverawardOrigin
	AddedBy        string
	AddedAt        time.Time
	Notes          string
	State          EntryState
}

// Balance sums active entries per value code.
func Balance(entries []DisbursementOveraward) map[string]decimal.Decimal {
	balance := make(map[string]decimal.Decimal)
	for _, e := range entries {
		if !e.State.IsActive() {
			continue
		}
		balance[e.ValueCode] = balance[e.ValueCode].Add(e.OverawardValue)
	}
	return balance
}
