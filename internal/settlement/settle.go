package settlement

import (
	"github.com/shopspring/decimal"

	"github.com/roach88/disburse/internal/domain"
)

// Line is one award line taking part in a settlement.
type Line interface {
	// Capacity is the most this line can absorb.
	Capacity() decimal.Decimal
	// Subtract records that amount was absorbed by this line.
	Subtract(amount decimal.Decimal)
}

// Settle distributes debit over lines in order and returns the part of the
// debit no line could absorb. A non-positive debit is a no-op.
func Settle(lines []Line, debit decimal.Decimal) decimal.Decimal {
	remaining := debit
	if !remaining.IsPositive() {
		return decimal.Zero
	}

	for _, line := range lines {
		capacity := line.Capacity()
		if !capacity.IsPositive() {
			continue
		}
		if capacity.GreaterThanOrEqual(remaining) {
			line.Subtract(remaining)
			return decimal.Zero
		}
		line.Subtract(capacity)
		remaining = remaining.Sub(capacity)
	}
	return remaining
}

type disbursedLine struct {
	v *domain.DisbursementValue
}

func (l disbursedLine) Capacity() decimal.Decimal {
	return l.v.ValueAmount.Sub(l.v.DisbursedAmountSubtracted)
}

func (l disbursedLine) Subtract(amount decimal.Decimal) {
	l.v.DisbursedAmountSubtracted = l.v.DisbursedAmountSubtracted.Add(amount)
}

// DisbursedLines adapts values for withholding money already paid by a prior
// version of the application. Capacity is the entitlement; absorbed amounts
// are added to DisbursedAmountSubtracted.
func DisbursedLines(values []*domain.DisbursementValue) []Line {
	lines := make([]Line, len(values))
	for i, v := range values {
		lines[i] = disbursedLine{v: v}
	}
	return lines
}

type overawardLine struct {
	v *domain.DisbursementValue
}

func (l overawardLine) Capacity() decimal.Decimal {
	return l.v.Net()
}

func (l overawardLine) Subtract(amount decimal.Decimal) {
	l.v.OverawardAmountSubtracted = l.v.OverawardAmountSubtracted.Add(amount)
}

// OverawardLines adapts values for recovering outstanding debt. Capacity is
// what is left after every withholding already applied; absorbed amounts are
// added to OverawardAmountSubtracted.
func OverawardLines(values []*domain.DisbursementValue) []Line {
	lines := make([]Line, len(values))
	for i, v := range values {
		lines[i] = overawardLine{v: v}
	}
	return lines
}
