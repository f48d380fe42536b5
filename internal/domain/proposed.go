package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ProposedValue is one award line as computed by the entitlement engine.
type ProposedValue struct {
	ValueCode   string          `yaml:"code" json:"code"`
	ValueType   ValueType       `yaml:"type" json:"type"`
	ValueAmount decimal.Decimal `yaml:"amount" json:"amount"`
}

// ProposedSchedule is one payment date as computed by the entitlement engine.
// The amounts are taken as given; the engine only adjusts them for prior
// payments and outstanding overawards.
type ProposedSchedule struct {
	DisbursementDate     time.Time       `yaml:"disbursement_date" json:"disbursement_date"`
	NegotiatedExpiryDate time.Time       `yaml:"negotiated_expiry_date" json:"negotiated_expiry_date"`
	Values               []ProposedValue `yaml:"values" json:"values"`
}

var upper = cases.Upper(language.Und)

// NormalizeCode trims and upper-cases a value code.
func NormalizeCode(code string) string {
	return upper.String(strings.TrimSpace(code))
}

// NormalizeSchedules returns a copy of proposed with normalized value codes,
// ordered by disbursement date. The order of equal dates is preserved.
func NormalizeSchedules(proposed []ProposedSchedule) []ProposedSchedule {
	out := make([]ProposedSchedule, len(proposed))
	for i, p := range proposed {
		values := make([]ProposedValue, len(p.Values))
		for j, v := range p.Values {
			values[j] = ProposedValue{
				ValueCode:   NormalizeCode(v.ValueCode),
				ValueType:   v.ValueType,
				ValueAmount: v.ValueAmount,
			}
		}
		out[i] = ProposedSchedule{
			DisbursementDate:     p.DisbursementDate,
			NegotiatedExpiryDate: p.NegotiatedExpiryDate,
			Values:               values,
		}
	}
	// Insertion sort keeps equal dates stable and the lists are tiny.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].DisbursementDate.Before(out[j-1].DisbursementDate); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// ValidateSchedules checks the entitlement input. All problems are reported
// together.
func ValidateSchedules(proposed []ProposedSchedule) error {
	if len(proposed) == 0 {
		return errors.New("at least one schedule is required")
	}

	var errs []error
	types := make(map[string]ValueType)
	for i, p := range proposed {
		if p.DisbursementDate.IsZero() {
			errs = append(errs, fmt.Errorf("schedules[%d]: disbursement date is required", i))
		}
		if p.NegotiatedExpiryDate.IsZero() {
			errs = append(errs, fmt.Errorf("schedules[%d]: negotiated expiry date is required", i))
		} else if p.NegotiatedExpiryDate.Before(p.DisbursementDate) {
			errs = append(errs, fmt.Errorf("schedules[%d]: negotiated expiry date is before disbursement date", i))
		}

		seen := make(map[string]bool, len(p.Values))
		for j, v := range p.Values {
			code := NormalizeCode(v.ValueCode)
			switch {
			case code == "":
				errs = append(errs, fmt.Errorf("schedules[%d].values[%d]: code is required", i, j))
			case seen[code]:
				errs = append(errs, fmt.Errorf("schedules[%d].values[%d]: duplicate code %s", i, j, code))
			}
			seen[code] = true

			if prev, ok := types[code]; ok && code != "" && prev != v.ValueType {
				errs = append(errs, fmt.Errorf("schedules[%d].values[%d]: code %s is %q here but %q in an earlier schedule", i, j, code, v.ValueType, prev))
			} else if !ok {
				types[code] = v.ValueType
			}

			if !v.ValueType.Valid() {
				errs = append(errs, fmt.Errorf("schedules[%d].values[%d]: unknown type %q", i, j, v.ValueType))
			}
			if v.ValueAmount.IsNegative() {
				errs = append(errs, fmt.Errorf("schedules[%d].values[%d]: amount %s is negative", i, j, v.ValueAmount))
			}
		}
	}
	return errors.Join(errs...)
}
