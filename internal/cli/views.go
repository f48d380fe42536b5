package cli

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/disburse/internal/domain"
	"github.com/roach88/disburse/internal/store"
)

// JSON views of domain records. Amounts encode as decimal strings.

type valueView struct {
	Code                      string           `json:"code"`
	Type                      string           `json:"type"`
	ValueAmount               decimal.Decimal  `json:"value_amount"`
	DisbursedAmountSubtracted decimal.Decimal  `json:"disbursed_amount_subtracted"`
	OverawardAmountSubtracted decimal.Decimal  `json:"overaward_amount_subtracted"`
	EffectiveAmount           *decimal.Decimal `json:"effective_amount,omitempty"`
	Net                       decimal.Decimal  `json:"net"`
}

type scheduleView struct {
	ID                   int64           `json:"id"`
	AssessmentID         int64           `json:"assessment_id"`
	DisbursementDate     string          `json:"disbursement_date"`
	NegotiatedExpiryDate string          `json:"negotiated_expiry_date"`
	DocumentNumber       *int64          `json:"document_number,omitempty"`
	COEStatus            string          `json:"coe_status"`
	Status               string          `json:"status"`
	TuitionRemittance    decimal.Decimal `json:"tuition_remittance_requested_amount"`
	COEUpdatedBy         string          `json:"coe_updated_by,omitempty"`
	COEUpdatedAt         string          `json:"coe_updated_at,omitempty"`
	COEDeniedReason      string          `json:"coe_denied_reason,omitempty"`
	DateSent             string          `json:"date_sent,omitempty"`
	Values               []valueView     `json:"values"`
}

type overawardView struct {
	ID           int64           `json:"id"`
	StudentID    int64           `json:"student_id"`
	AssessmentID *int64          `json:"assessment_id,omitempty"`
	ScheduleID   *int64          `json:"schedule_id,omitempty"`
	Code         string          `json:"code"`
	Amount       decimal.Decimal `json:"amount"`
	Origin       string          `json:"origin"`
	AddedBy      string          `json:"added_by,omitempty"`
	AddedAt      string          `json:"added_at"`
	Notes        string          `json:"notes,omitempty"`
	State        string          `json:"state"`
}

func newScheduleView(s domain.DisbursementSchedule) scheduleView {
	v := scheduleView{
		ID:                   s.ID,
		AssessmentID:         s.AssessmentID,
		DisbursementDate:     s.DisbursementDate.Format(domain.DateLayout),
		NegotiatedExpiryDate: s.NegotiatedExpiryDate.Format(domain.DateLayout),
		DocumentNumber:       s.DocumentNumber,
		COEStatus:            string(s.COEStatus),
		Status:               string(s.Status),
		TuitionRemittance:    s.TuitionRemittanceRequestedAmount,
		COEUpdatedBy:         s.COEUpdatedBy,
		COEUpdatedAt:         formatOptionalTime(s.COEUpdatedAt),
		COEDeniedReason:      s.COEDeniedReason,
		DateSent:             formatOptionalTime(s.DateSent),
		Values:               make([]valueView, len(s.Values)),
	}
	for i, line := range s.Values {
		v.Values[i] = valueView{
			Code:                      line.ValueCode,
			Type:                      string(line.ValueType),
			ValueAmount:               line.ValueAmount,
			DisbursedAmountSubtracted: line.DisbursedAmountSubtracted,
			OverawardAmountSubtracted: line.OverawardAmountSubtracted,
			EffectiveAmount:           line.EffectiveAmount,
			Net:                       line.Net(),
		}
	}
	return v
}

func newScheduleViews(schedules []domain.DisbursementSchedule) []scheduleView {
	out := make([]scheduleView, len(schedules))
	for i, s := range schedules {
		out[i] = newScheduleView(s)
	}
	return out
}

func newOverawardView(e domain.DisbursementOveraward) overawardView {
	return overawardView{
		ID:           e.ID,
		StudentID:    e.StudentID,
		AssessmentID: e.AssessmentID,
		ScheduleID:   e.ScheduleID,
		Code:         e.ValueCode,
		Amount:       e.OverawardValue,
		Origin:       string(e.OriginType),
		AddedBy:      e.AddedBy,
		AddedAt:      store.FormatTime(e.AddedAt),
		Notes:        e.Notes,
		State:        e.State.String(),
	}
}

func newOverawardViews(entries []domain.DisbursementOveraward) []overawardView {
	out := make([]overawardView, len(entries))
	for i, e := range entries {
		out[i] = newOverawardView(e)
	}
	return out
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return store.FormatTime(*t)
}

// balanceView renders a balance map with its codes in order.
type balanceView map[string]decimal.Decimal

func (b balanceView) codes() []string {
	codes := make([]string, 0, len(b))
	for code := range b {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func writeSchedule(w io.Writer, s scheduleView) {
	doc := "-"
	if s.DocumentNumber != nil {
		doc = strconv.FormatInt(*s.DocumentNumber, 10)
	}
	fmt.Fprintf(w, "Schedule %d  %s  status=%s  coe=%s  document=%s\n",
		s.ID, s.DisbursementDate, s.Status, s.COEStatus, doc)
	for _, v := range s.Values {
		effective := "-"
		if v.EffectiveAmount != nil {
			effective = v.EffectiveAmount.String()
		}
		fmt.Fprintf(w, "  %-6s %-14s value=%s disbursed=%s overaward=%s effective=%s\n",
			v.Code, v.Type, v.ValueAmount, v.DisbursedAmountSubtracted, v.OverawardAmountSubtracted, effective)
	}
}

func writeBalance(w io.Writer, studentID int64, b balanceView) {
	if len(b) == 0 {
		fmt.Fprintf(w, "Student %d has no overaward balance.\n", studentID)
		return
	}
	fmt.Fprintf(w, "Overaward balance for student %d:\n", studentID)
	for _, code := range b.codes() {
		fmt.Fprintf(w, "  %-6s %s\n", code, b[code])
	}
}
