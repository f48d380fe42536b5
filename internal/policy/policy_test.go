package policy

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/disburse/internal/domain"
)

func TestDefault(t *testing.T) {
	p := Default()
	assert.Equal(t, 21, p.ApprovalWindowDays)
	assert.Equal(t, 2*time.Minute, p.TransactionTimeout)
	assert.Equal(t, "BCSG", p.TotalGrantCode)
	assert.Equal(t, DefaultDocumentSequence, p.DocumentSequence)
	assert.True(t, p.IsRemittanceEligible(domain.BCGrant))
	assert.False(t, p.IsRemittanceEligible(domain.BCTotalGrant))
}

func TestCreatesOveraward_StrictlyGreater(t *testing.T) {
	p := Default()
	p.OverawardThresholds[domain.CanadaLoan] = decimal.RequireFromString("100")

	assert.False(t, p.CreatesOveraward(domain.CanadaLoan, decimal.RequireFromString("100")))
	assert.True(t, p.CreatesOveraward(domain.CanadaLoan, decimal.RequireFromString("100.01")))
	assert.True(t, p.CreatesOveraward(domain.BCLoan, decimal.RequireFromString("0.01")))
	assert.False(t, p.CreatesOveraward(domain.BCLoan, decimal.Zero))
	assert.False(t, p.CreatesOveraward(domain.CanadaGrant, decimal.RequireFromString("500")))
}

func TestDefault_ReturnsFreshMaps(t *testing.T) {
	a := Default()
	a.OverawardThresholds[domain.CanadaLoan] = decimal.NewFromInt(5)
	assert.True(t, Default().OverawardThresholds[domain.CanadaLoan].IsZero())
}

func TestLoad_EmptyPathIsDefault(t *testing.T) {
	p, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().ApprovalWindowDays, p.ApprovalWindowDays)
}

func TestLoad_YAML(t *testing.T) {
	p, err := Load(filepath.Join("testdata", "policy.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 30, p.ApprovalWindowDays)
	assert.Equal(t, 45*time.Second, p.TransactionTimeout)
	assert.Equal(t, "BCSG", p.TotalGrantCode)
	assert.True(t, p.OverawardThresholds[domain.CanadaLoan].Equal(decimal.RequireFromString("250")))
	assert.True(t, p.OverawardThresholds[domain.BCLoan].IsZero())
	assert.Equal(t, []domain.ValueType{domain.CanadaLoan, domain.BCLoan}, p.RemittanceEligible)
}

func TestLoad_CUE(t *testing.T) {
	p, err := Load(filepath.Join("testdata", "policy.cue"))
	require.NoError(t, err)

	assert.Equal(t, 14, p.ApprovalWindowDays)
	assert.Equal(t, "BCTG", p.TotalGrantCode)
	assert.Equal(t, "coe_documents", p.DocumentSequence)
	assert.True(t, p.OverawardThresholds[domain.BCLoan].Equal(decimal.RequireFromString("10.5")))
}

func TestParse_JSON(t *testing.T) {
	p, err := Parse("policy.json", []byte(`{"approval_window_days": 0, "transaction_timeout": "500ms"}`))
	require.NoError(t, err)
	assert.Equal(t, 0, p.ApprovalWindowDays)
	assert.Equal(t, 500*time.Millisecond, p.TransactionTimeout)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		file string
		data string
	}{
		{"unknown yaml field", "p.yaml", "approval_days: 3\n"},
		{"unknown json field", "p.json", `{"approval_days": 3}`},
		{"grant threshold", "p.yaml", "overaward_thresholds:\n  Canada Grant: \"1\"\n"},
		{"negative threshold", "p.json", `{"overaward_thresholds": {"BC Loan": "-1"}}`},
		{"bad timeout", "p.yaml", "transaction_timeout: soon\n"},
		{"zero timeout", "p.yaml", "transaction_timeout: 0s\n"},
		{"negative window", "p.cue", "approval_window_days: -1\n"},
		{"total line not remittable", "p.json", `{"remittance_eligible": ["BC Total Grant"]}`},
		{"lowercase grant code", "p.yaml", "total_grant_code: bcsg\n"},
		{"unsupported format", "p.toml", "x = 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.file, []byte(tt.data))
			require.Error(t, err)
			var le *LoadError
			assert.ErrorAs(t, err, &le)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read policy")
}
