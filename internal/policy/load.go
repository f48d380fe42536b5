package policy

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/roach88/disburse/internal/domain"
)

//go:embed schema.cue
var schemaCUE string

// document is the on-disk shape of a policy file.
type document struct {
	ApprovalWindowDays  *int              `yaml:"approval_window_days" json:"approval_window_days,omitempty"`
	TransactionTimeout  string            `yaml:"transaction_timeout" json:"transaction_timeout,omitempty"`
	TotalGrantCode      string            `yaml:"total_grant_code" json:"total_grant_code,omitempty"`
	OverawardThresholds map[string]string `yaml:"overaward_thresholds" json:"overaward_thresholds,omitempty"`
	RemittanceEligible  []string          `yaml:"remittance_eligible" json:"remittance_eligible,omitempty"`
	DocumentSequence    string            `yaml:"document_sequence" json:"document_sequence,omitempty"`
}

// LoadError is a policy file problem, with the CUE source position when one
// is known.
type LoadError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load reads a policy from a .cue, .json, .yaml or .yml file. An empty path
// returns Default.
func Load(path string) (Policy, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	return Parse(filepath.Base(path), data)
}

// Parse decodes a policy; the format is chosen from name's extension. The
// document is always validated against the embedded CUE schema.
func Parse(name string, data []byte) (Policy, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Policy{}, fmt.Errorf("compile policy schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Policy"))

	var value cue.Value
	switch strings.ToLower(filepath.Ext(name)) {
	case ".cue", ".json":
		value = ctx.CompileBytes(data, cue.Filename(name))
	case ".yaml", ".yml":
		var doc document
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return Policy{}, &LoadError{Field: "yaml", Message: err.Error()}
		}
		value = ctx.Encode(doc)
	default:
		return Policy{}, &LoadError{Field: "file", Message: fmt.Sprintf("unsupported policy format %q", name)}
	}
	if err := value.Err(); err != nil {
		return Policy{}, formatCUEError(err)
	}

	unified := def.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return Policy{}, formatCUEError(err)
	}

	var doc document
	if err := unified.Decode(&doc); err != nil {
		return Policy{}, formatCUEError(err)
	}
	return doc.policy()
}

// policy applies defaults and converts the validated document.
func (d document) policy() (Policy, error) {
	p := Default()

	if d.ApprovalWindowDays != nil {
		p.ApprovalWindowDays = *d.ApprovalWindowDays
	}
	if d.TransactionTimeout != "" {
		timeout, err := time.ParseDuration(d.TransactionTimeout)
		if err != nil {
			return Policy{}, &LoadError{Field: "transaction_timeout", Message: err.Error()}
		}
		if timeout <= 0 {
			return Policy{}, &LoadError{Field: "transaction_timeout", Message: "must be positive"}
		}
		p.TransactionTimeout = timeout
	}
	if d.TotalGrantCode != "" {
		p.TotalGrantCode = d.TotalGrantCode
	}
	for typ, raw := range d.OverawardThresholds {
		threshold, err := decimal.NewFromString(raw)
		if err != nil {
			return Policy{}, &LoadError{Field: "overaward_thresholds." + typ, Message: err.Error()}
		}
		p.OverawardThresholds[domain.ValueType(typ)] = threshold
	}
	if d.RemittanceEligible != nil {
		p.RemittanceEligible = make([]domain.ValueType, len(d.RemittanceEligible))
		for i, t := range d.RemittanceEligible {
			p.RemittanceEligible[i] = domain.ValueType(t)
		}
	}
	if d.DocumentSequence != "" {
		p.DocumentSequence = d.DocumentSequence
	}
	return p, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &LoadError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return &LoadError{Field: "cue", Message: first.Error()}
}
