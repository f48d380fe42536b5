package settlement

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/disburse/internal/domain"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func values(amounts ...string) []*domain.DisbursementValue {
	out := make([]*domain.DisbursementValue, len(amounts))
	for i, a := range amounts {
		out[i] = &domain.DisbursementValue{ValueCode: "BCSL", ValueType: domain.BCLoan, ValueAmount: d(a)}
	}
	return out
}

func TestSettle_FirstLineAbsorbsEverything(t *testing.T) {
	vs := values("1000")
	remaining := Settle(DisbursedLines(vs), d("1200"))

	assert.True(t, vs[0].DisbursedAmountSubtracted.Equal(d("1000")))
	assert.True(t, remaining.Equal(d("200")), "remaining = %s", remaining)
}

func TestSettle_SpreadsAcrossLinesInOrder(t *testing.T) {
	vs := values("500", "500")
	remaining := Settle(DisbursedLines(vs), d("700"))

	assert.True(t, vs[0].DisbursedAmountSubtracted.Equal(d("500")))
	assert.True(t, vs[1].DisbursedAmountSubtracted.Equal(d("200")))
	assert.True(t, remaining.IsZero())
}

func TestSettle_ExactCents(t *testing.T) {
	vs := values("0.10", "0.20")
	remaining := Settle(DisbursedLines(vs), d("0.30"))

	assert.True(t, vs[0].DisbursedAmountSubtracted.Equal(d("0.10")))
	assert.True(t, vs[1].DisbursedAmountSubtracted.Equal(d("0.20")))
	assert.True(t, remaining.IsZero(), "0.1+0.2 must settle 0.3 exactly, got %s", remaining)
}

func TestSettle_NonPositiveDebitIsNoop(t *testing.T) {
	for _, debit := range []string{"0", "-10"} {
		vs := values("100")
		remaining := Settle(DisbursedLines(vs), d(debit))
		assert.True(t, remaining.IsZero())
		assert.True(t, vs[0].DisbursedAmountSubtracted.IsZero())
	}
}

func TestSettle_NoLines(t *testing.T) {
	remaining := Settle(nil, d("42.42"))
	assert.True(t, remaining.Equal(d("42.42")))
}

func TestSettle_SkipsExhaustedLines(t *testing.T) {
	vs := values("0", "300")
	remaining := Settle(DisbursedLines(vs), d("100"))

	assert.True(t, vs[0].DisbursedAmountSubtracted.IsZero())
	assert.True(t, vs[1].DisbursedAmountSubtracted.Equal(d("100")))
	assert.True(t, remaining.IsZero())
}

// Two lines with capacities c1, c2 and debit d must yield
// s1 = min(c1, d), s2 = min(c2, max(0, d-c1)), remaining = max(0, d-c1-c2).
func TestSettle_TwoLineProperty(t *testing.T) {
	amounts := []string{"0", "0.01", "1", "99.99", "100", "250.50", "1000"}

	for _, c1 := range amounts {
		for _, c2 := range amounts {
			for _, debit := range amounts {
				vs := values(c1, c2)
				remaining := Settle(DisbursedLines(vs), d(debit))

				dc1, dc2, dd := d(c1), d(c2), d(debit)
				want1 := decimal.Min(dc1, dd)
				want2 := decimal.Min(dc2, decimal.Max(decimal.Zero, dd.Sub(dc1)))
				wantRemaining := decimal.Max(decimal.Zero, dd.Sub(dc1).Sub(dc2))

				require.True(t, vs[0].DisbursedAmountSubtracted.Equal(want1),
					"c1=%s c2=%s d=%s: s1=%s want %s", c1, c2, debit, vs[0].DisbursedAmountSubtracted, want1)
				require.True(t, vs[1].DisbursedAmountSubtracted.Equal(want2),
					"c1=%s c2=%s d=%s: s2=%s want %s", c1, c2, debit, vs[1].DisbursedAmountSubtracted, want2)
				require.True(t, remaining.Equal(wantRemaining),
					"c1=%s c2=%s d=%s: remaining=%s want %s", c1, c2, debit, remaining, wantRemaining)
			}
		}
	}
}

func TestOverawardLines_CapacityExcludesDisbursedSubtraction(t *testing.T) {
	vs := values("1000", "500")
	vs[0].DisbursedAmountSubtracted = d("800")

	remaining := Settle(OverawardLines(vs), d("450"))

	assert.True(t, vs[0].OverawardAmountSubtracted.Equal(d("200")))
	assert.True(t, vs[1].OverawardAmountSubtracted.Equal(d("250")))
	assert.True(t, remaining.IsZero())
	for _, v := range vs {
		require.NoError(t, v.Check())
	}
}

func TestOverawardLines_RemainderWhenLinesTooSmall(t *testing.T) {
	vs := values("100")
	vs[0].DisbursedAmountSubtracted = d("100")

	remaining := Settle(OverawardLines(vs), d("75.25"))

	assert.True(t, vs[0].OverawardAmountSubtracted.IsZero())
	assert.True(t, remaining.Equal(d("75.25")))
}
