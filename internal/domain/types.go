package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the persisted and wire format of calendar dates.
const DateLayout = "2006-01-02"

// AssessmentTrigger is the reason an assessment was produced.
type AssessmentTrigger string

const (
	TriggerOriginalAssessment       AssessmentTrigger = "Original assessment"
	TriggerScholasticStandingChange AssessmentTrigger = "Scholastic standing change"
	TriggerOfferingChange           AssessmentTrigger = "Offering change"
	TriggerStudentAppeal            AssessmentTrigger = "Student appeal"
	TriggerMinistryManual           AssessmentTrigger = "Ministry manual reassessment"
	TriggerRelatedApplicationChange AssessmentTrigger = "Related application changed"
	TriggerProgramChange            AssessmentTrigger = "Program change"
)

// IsReassessment reports whether the trigger re-evaluates an application that
// was already assessed.
func (t AssessmentTrigger) IsReassessment() bool {
	return t != TriggerOriginalAssessment
}

// ApplicationStatus is the lifecycle status of a student application.
type ApplicationStatus string

const (
	ApplicationDraft      ApplicationStatus = "Draft"
	ApplicationSubmitted  ApplicationStatus = "Submitted"
	ApplicationInProgress ApplicationStatus = "In Progress"
	ApplicationAssessment ApplicationStatus = "Assessment"
	ApplicationEnrolment  ApplicationStatus = "Enrolment"
	ApplicationCompleted  ApplicationStatus = "Completed"
	ApplicationCancelled  ApplicationStatus = "Cancelled"
)

// COEStatus is the confirmation of enrolment status of a schedule.
type COEStatus string

const (
	COERequired  COEStatus = "Required"
	COECompleted COEStatus = "Completed"
	COEDeclined  COEStatus = "Declined"
)

// ScheduleStatus is the payment status of a schedule.
type ScheduleStatus string

const (
	SchedulePending     ScheduleStatus = "Pending"
	ScheduleCancelled   ScheduleStatus = "Cancelled"
	ScheduleReadyToSend ScheduleStatus = "Ready to send"
	ScheduleSent        ScheduleStatus = "Sent"
)

// CanAdvanceTo reports whether moving from s to next is a forward transition.
func (s ScheduleStatus) CanAdvanceTo(next ScheduleStatus) bool {
	switch s {
	case SchedulePending:
		return next == ScheduleCancelled || next == ScheduleReadyToSend
	case ScheduleReadyToSend:
		return next == ScheduleSent
	default:
		return false
	}
}

// ValueType classifies an award line.
type ValueType string

const (
	CanadaLoan   ValueType = "Canada Loan"
	BCLoan       ValueType = "BC Loan"
	CanadaGrant  ValueType = "Canada Grant"
	BCGrant      ValueType = "BC Grant"
	BCTotalGrant ValueType = "BC Total Grant"
)

// ValueTypes lists every known value type.
var ValueTypes = []ValueType{CanadaLoan, BCLoan, CanadaGrant, BCGrant, BCTotalGrant}

// IsLoan reports whether the type is repayable.
func (v ValueType) IsLoan() bool {
	return v == CanadaLoan || v == BCLoan
}

// IsGrant reports whether the type is a grant line. The synthetic total line
// is not a grant in this sense.
func (v ValueType) IsGrant() bool {
	return v == CanadaGrant || v == BCGrant
}

// Valid reports whether v is a known value type.
func (v ValueType) Valid() bool {
	for _, known := range ValueTypes {
		if v == known {
			return true
		}
	}
	return false
}

// Offering holds the study period and costs an assessment was computed for.
type Offering struct {
	ID                  int64
	StudyStartDate      time.Time
	StudyEndDate        time.Time
	ActualTuitionCosts  decimal.Decimal
	ProgramRelatedCosts decimal.Decimal
	MandatoryFees       decimal.Decimal
}

// TuitionCap is the most an institution may request as tuition remittance
// for this offering.
func (o Offering) TuitionCap() decimal.Decimal {
	return o.ActualTuitionCosts.Add(o.ProgramRelatedCosts).Add(o.MandatoryFees)
}

// Application is one student application. ApplicationNumber is stable
// across every assessment version of the application.
type Application struct {
	ID                  int64
	StudentID           int64
	ApplicationNumber   string
	Status              ApplicationStatus
	CurrentAssessmentID *int64
}

// Assessment is one evaluation of an application.
type Assessment struct {
	ID              int64
	ApplicationID   int64
	OfferingID      int64
	TriggerType     AssessmentTrigger
	EntitlementHash string
	CreatedAt       time.Time
}

// DisbursementSchedule is one dated payment event of an assessment.
type DisbursementSchedule struct {
	ID                               int64
	AssessmentID                     int64
	DisbursementDate                 time.Time
	NegotiatedExpiryDate             time.Time
	DocumentNumber                   *int64
	COEStatus                        COEStatus
	Status                           ScheduleStatus
	TuitionRemittanceRequestedAmount decimal.Decimal
	COEUpdatedBy                     string
	COEUpdatedAt                     *time.Time
	COEDeniedReason                  string
	DateSent                         *time.Time
	Values                           []DisbursementValue
}

// Value returns the line with the given code.
func (s *DisbursementSchedule) Value(code string) (*DisbursementValue, bool) {
	for i := range s.Values {
		if s.Values[i].ValueCode == code {
			return &s.Values[i], true
		}
	}
	return nil, false
}

// DisbursementValue is one typed award line inside a schedule.
type DisbursementValue struct {
	ID                        int64
	ScheduleID                int64
	ValueCode                 string
	ValueType                 ValueType
	ValueAmount               decimal.Decimal
	DisbursedAmountSubtracted decimal.Decimal
	OverawardAmountSubtracted decimal.Decimal
	EffectiveAmount           *decimal.Decimal
}

// Withheld is the total kept back from the entitlement.
func (v DisbursementValue) Withheld() decimal.Decimal {
	return v.DisbursedAmountSubtracted.Add(v.OverawardAmountSubtracted)
}

// Net is the amount the line would release: entitlement minus withholdings.
func (v DisbursementValue) Net() decimal.Decimal {
	return v.ValueAmount.Sub(v.Withheld())
}

// Check verifies the withholding invariant of the line.
func (v DisbursementValue) Check() error {
	if v.DisbursedAmountSubtracted.IsNegative() || v.OverawardAmountSubtracted.IsNegative() {
		return fmt.Errorf("value %s: negative subtraction", v.ValueCode)
	}
	if v.Withheld().GreaterThan(v.ValueAmount) {
		return fmt.Errorf("value %s: withheld %s exceeds value %s", v.ValueCode, v.Withheld(), v.ValueAmount)
	}
	return nil
}
