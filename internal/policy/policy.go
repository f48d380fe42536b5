// Package policy holds the settlement rules that are configuration rather
// than mechanism: approval window, transaction timeout, overaward tolerances
// per loan type and the codes and sequences the engine writes.
package policy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/disburse/internal/domain"
)

const (
	DefaultApprovalWindowDays = 21
	DefaultTransactionTimeout = 2 * time.Minute
	DefaultTotalGrantCode     = "BCSG"
	DefaultDocumentSequence   = "disbursement_document_number"
)

// Policy is an immutable set of settlement rules.
type Policy struct {
	// ApprovalWindowDays is how many days before the disbursement date an
	// enrolment may be confirmed.
	ApprovalWindowDays int

	// TransactionTimeout bounds every unit of work.
	TransactionTimeout time.Duration

	// TotalGrantCode is the value code of the synthetic provincial grant
	// total line.
	TotalGrantCode string

	// OverawardThresholds is the tolerance per loan type. A settlement
	// remainder becomes a ledger entry only when it is strictly greater.
	OverawardThresholds map[domain.ValueType]decimal.Decimal

	// RemittanceEligible lists the award types tuition may be remitted from.
	RemittanceEligible []domain.ValueType

	// DocumentSequence names the counter document numbers are drawn from.
	DocumentSequence string
}

// Default returns the built-in policy.
func Default() Policy {
	return Policy{
		ApprovalWindowDays: DefaultApprovalWindowDays,
		TransactionTimeout: DefaultTransactionTimeout,
		TotalGrantCode:     DefaultTotalGrantCode,
		OverawardThresholds: map[domain.ValueType]decimal.Decimal{
			domain.CanadaLoan: decimal.Zero,
			domain.BCLoan:     decimal.Zero,
		},
		RemittanceEligible: []domain.ValueType{
			domain.CanadaLoan, domain.BCLoan, domain.CanadaGrant, domain.BCGrant,
		},
		DocumentSequence: DefaultDocumentSequence,
	}
}

// CreatesOveraward reports whether an unsettled loan remainder of the given
// type must be recorded as debt. Types without a configured threshold use a
// zero tolerance.
func (p Policy) CreatesOveraward(t domain.ValueType, remainder decimal.Decimal) bool {
	if !t.IsLoan() {
		return false
	}
	return remainder.GreaterThan(p.OverawardThresholds[t])
}

// IsRemittanceEligible reports whether tuition may be remitted from awards
// of type t.
func (p Policy) IsRemittanceEligible(t domain.ValueType) bool {
	for _, e := range p.RemittanceEligible {
		if e == t {
			return true
		}
	}
	return false
}
