package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/roach88/disburse/internal/domain"
)

// entitlementDocument is the on-disk shape of an entitlement file:
//
//	schedules:
//	  - disbursement_date: 2024-02-01
//	    negotiated_expiry_date: 2024-02-11
//	    values:
//	      - { code: CSLF, type: Canada Loan, amount: 1200 }
//
// Dates are read as text so YAML, JSON and CUE sources decode alike.
type entitlementDocument struct {
	Schedules []entitlementSchedule `yaml:"schedules"`
}

type entitlementSchedule struct {
	DisbursementDate     string             `yaml:"disbursement_date"`
	NegotiatedExpiryDate string             `yaml:"negotiated_expiry_date"`
	Values               []entitlementValue `yaml:"values"`
}

type entitlementValue struct {
	Code   string          `yaml:"code"`
	Type   string          `yaml:"type"`
	Amount decimal.Decimal `yaml:"amount"`
}

// LoadEntitlement reads proposed schedules from a .yaml, .yml, .json or .cue
// file. CUE sources are evaluated and exported to JSON first. The result is
// decoded but not validated; the engine validates it.
func LoadEntitlement(path string) ([]domain.ProposedSchedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entitlement: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		v := cuecontext.New().CompileBytes(data, cue.Filename(path))
		if err := v.Err(); err != nil {
			return nil, fmt.Errorf("compile entitlement: %w", err)
		}
		if data, err = v.MarshalJSON(); err != nil {
			return nil, fmt.Errorf("export entitlement: %w", err)
		}
	case ".yaml", ".yml", ".json":
	default:
		return nil, fmt.Errorf("unsupported entitlement file %q: want .yaml, .yml, .json or .cue", path)
	}

	// Strict field validation catches typos like "value:" vs "values:".
	var doc entitlementDocument
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse entitlement: %w", err)
	}

	out := make([]domain.ProposedSchedule, len(doc.Schedules))
	for i, s := range doc.Schedules {
		disbursement, err := parseDate(s.DisbursementDate)
		if err != nil {
			return nil, fmt.Errorf("schedules[%d].disbursement_date: %w", i, err)
		}
		expiry, err := parseDate(s.NegotiatedExpiryDate)
		if err != nil {
			return nil, fmt.Errorf("schedules[%d].negotiated_expiry_date: %w", i, err)
		}
		values := make([]domain.ProposedValue, len(s.Values))
		for j, v := range s.Values {
			values[j] = domain.ProposedValue{
				ValueCode:   v.Code,
				ValueType:   domain.ValueType(v.Type),
				ValueAmount: v.Amount,
			}
		}
		out[i] = domain.ProposedSchedule{
			DisbursementDate:     disbursement,
			NegotiatedExpiryDate: expiry,
			Values:               values,
		}
	}
	return out, nil
}

// parseDate accepts a calendar date or an RFC 3339 timestamp, which YAML
// produces when a date is written with a time.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date is required")
	}
	if t, err := time.Parse(domain.DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want %s", s, domain.DateLayout)
	}
	return t.UTC(), nil
}
