package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/roach88/disburse/internal/domain"
	"github.com/roach88/disburse/internal/engine"
)

// Scenario is one end-to-end disbursement test.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Policy is an optional policy file, relative to the scenario file.
	Policy string `yaml:"policy,omitempty"`

	// Now is where the wall clock starts. Default: testutil.Epoch.
	Now time.Time `yaml:"now,omitempty"`

	Setup      Setup       `yaml:"setup"`
	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`

	// dir is the directory the scenario was loaded from.
	dir string
}

// Setup is the state the upstream systems would have produced.
type Setup struct {
	Offerings    []OfferingSetup    `yaml:"offerings,omitempty"`
	Applications []ApplicationSetup `yaml:"applications"`
}

// OfferingSetup is a study period and its costs.
type OfferingSetup struct {
	Ref                 string          `yaml:"ref"`
	StudyStartDate      time.Time       `yaml:"study_start_date"`
	StudyEndDate        time.Time       `yaml:"study_end_date"`
	ActualTuitionCosts  decimal.Decimal `yaml:"actual_tuition_costs"`
	ProgramRelatedCosts decimal.Decimal `yaml:"program_related_costs"`
	MandatoryFees       decimal.Decimal `yaml:"mandatory_fees"`
}

// ApplicationSetup is an application with its original assessment.
type ApplicationSetup struct {
	Ref               string                   `yaml:"ref"`
	StudentID         int64                    `yaml:"student_id"`
	ApplicationNumber string                   `yaml:"application_number"`
	Status            domain.ApplicationStatus `yaml:"status"`

	// Offering is an offering ref. Default: the fixture offering.
	Offering string `yaml:"offering,omitempty"`
}

// Step actions.
const (
	ActionCreateSchedules = "create_schedules"
	ActionReassess        = "reassess"
	ActionRollback        = "rollback"
	ActionSetStatus       = "set_status"
	ActionConfirm         = "confirm"
	ActionDecline         = "decline"
	ActionPrepare         = "prepare"
	ActionMarkSent        = "mark_sent"
	ActionManualOveraward = "manual_overaward"
)

// Step is one operation of the scenario. Which fields apply depends on
// Action.
type Step struct {
	Action      string `yaml:"action"`
	Application string `yaml:"application,omitempty"`
	Assessment  string `yaml:"assessment,omitempty"`

	// At moves the wall clock before the step runs.
	At time.Time `yaml:"at,omitempty"`

	// reassess
	Ref     string                   `yaml:"ref,omitempty"`
	Trigger domain.AssessmentTrigger `yaml:"trigger,omitempty"`

	// create_schedules
	Schedules []domain.ProposedSchedule `yaml:"schedules,omitempty"`

	// confirm, decline, prepare, mark_sent
	Schedule                   int             `yaml:"schedule,omitempty"`
	Remittance                 decimal.Decimal `yaml:"remittance,omitempty"`
	ConfirmedAt                time.Time       `yaml:"confirmed_at,omitempty"`
	AllowOutsideApprovalPeriod bool            `yaml:"allow_outside_approval_period,omitempty"`
	Reason                     string          `yaml:"reason,omitempty"`
	Actor                      string          `yaml:"actor,omitempty"`

	// set_status
	Status domain.ApplicationStatus `yaml:"status,omitempty"`

	// manual_overaward
	StudentID int64           `yaml:"student_id,omitempty"`
	Code      string          `yaml:"code,omitempty"`
	Amount    decimal.Decimal `yaml:"amount,omitempty"`
	Note      string          `yaml:"note,omitempty"`

	ExpectError engine.ErrorCode `yaml:"expect_error,omitempty"`
}

// Assertion types.
const (
	AssertOverawardBalance  = "overaward_balance"
	AssertValue             = "value"
	AssertSchedule          = "schedule"
	AssertApplicationStatus = "application_status"
	AssertFinalState        = "final_state"
	AssertTraceCount        = "trace_count"
	AssertTraceOrder        = "trace_order"
)

// Assertion validates the final state or the trace.
type Assertion struct {
	Type string `yaml:"type"`

	Application string `yaml:"application,omitempty"`
	Assessment  string `yaml:"assessment,omitempty"`
	Schedule    int    `yaml:"schedule,omitempty"`
	StudentID   int64  `yaml:"student_id,omitempty"`
	Code        string `yaml:"code,omitempty"`

	// Field is the award line field checked by value assertions:
	// value_amount, disbursed_amount_subtracted, overaward_amount_subtracted,
	// effective_amount or net.
	Field string `yaml:"field,omitempty"`

	// Equals is the expected amount or status.
	Equals string `yaml:"equals,omitempty"`

	COEStatus      domain.COEStatus      `yaml:"coe_status,omitempty"`
	Status         domain.ScheduleStatus `yaml:"status,omitempty"`
	DocumentNumber *int64                `yaml:"document_number,omitempty"`

	// final_state
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`

	// trace_count, trace_order. Entries are "action" or "action:outcome".
	Action  string   `yaml:"action,omitempty"`
	Count   int      `yaml:"count,omitempty"`
	Actions []string `yaml:"actions,omitempty"`
}

var valueFields = map[string]bool{
	"value_amount":                true,
	"disbursed_amount_subtracted": true,
	"overaward_amount_subtracted": true,
	"effective_amount":            true,
	"net":                         true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	scenario.dir = filepath.Dir(path)

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and that every
// reference resolves.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Description == "" {
		return errors.New("description is required")
	}
	if len(s.Setup.Applications) == 0 {
		return errors.New("setup.applications is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return errors.New("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return errors.New("assertions list is required and must be non-empty")
	}

	offerings := make(map[string]bool)
	for i, o := range s.Setup.Offerings {
		if o.Ref == "" {
			return fmt.Errorf("setup.offerings[%d]: ref is required", i)
		}
		if o.StudyEndDate.Before(o.StudyStartDate) {
			return fmt.Errorf("setup.offerings[%d]: study ends before it starts", i)
		}
		offerings[o.Ref] = true
	}

	// Original assessments are named after their application.
	apps := make(map[string]bool)
	assessments := make(map[string]bool)
	for i, a := range s.Setup.Applications {
		switch {
		case a.Ref == "":
			return fmt.Errorf("setup.applications[%d]: ref is required", i)
		case apps[a.Ref]:
			return fmt.Errorf("setup.applications[%d]: duplicate ref %q", i, a.Ref)
		case a.StudentID <= 0:
			return fmt.Errorf("setup.applications[%d]: student_id must be positive", i)
		case a.ApplicationNumber == "":
			return fmt.Errorf("setup.applications[%d]: application_number is required", i)
		case a.Status == "":
			return fmt.Errorf("setup.applications[%d]: status is required", i)
		case a.Offering != "" && !offerings[a.Offering]:
			return fmt.Errorf("setup.applications[%d]: unknown offering %q", i, a.Offering)
		}
		apps[a.Ref] = true
		assessments[a.Ref] = true
	}

	for i, step := range s.Steps {
		if err := validateStep(step, apps, assessments); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		if step.Action == ActionReassess && step.Ref != "" {
			assessments[step.Ref] = true
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a, apps, assessments); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step, apps, assessments map[string]bool) error {
	needsApp := true
	switch step.Action {
	case ActionCreateSchedules:
		if len(step.Schedules) == 0 && step.ExpectError == "" {
			return errors.New("schedules are required")
		}
	case ActionReassess:
		if step.Trigger == "" || !step.Trigger.IsReassessment() {
			return fmt.Errorf("trigger %q is not a reassessment trigger", step.Trigger)
		}
		if step.Ref != "" && assessments[step.Ref] {
			return fmt.Errorf("duplicate assessment ref %q", step.Ref)
		}
	case ActionSetStatus:
		if step.Status == "" {
			return errors.New("status is required")
		}
	case ActionDecline:
		if step.Reason == "" && step.ExpectError == "" {
			return errors.New("reason is required")
		}
	case ActionManualOveraward:
		needsApp = false
		if step.StudentID <= 0 || step.Code == "" {
			return errors.New("student_id and code are required")
		}
	case ActionRollback, ActionConfirm, ActionPrepare, ActionMarkSent:
	case "":
		return errors.New("action is required")
	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}

	if needsApp && !apps[step.Application] {
		return fmt.Errorf("unknown application %q", step.Application)
	}
	if step.Assessment != "" && !assessments[step.Assessment] {
		return fmt.Errorf("unknown assessment %q", step.Assessment)
	}
	if step.Schedule < 0 {
		return errors.New("schedule index must be non-negative")
	}
	return nil
}

func validateAssertion(a Assertion, apps, assessments map[string]bool) error {
	needsApp := false
	switch a.Type {
	case AssertOverawardBalance:
		if a.StudentID <= 0 || a.Code == "" {
			return errors.New("student_id and code are required for overaward_balance")
		}
		if _, err := decimal.NewFromString(a.Equals); err != nil {
			return fmt.Errorf("equals must be a decimal: %w", err)
		}
	case AssertValue:
		needsApp = true
		if a.Code == "" || !valueFields[a.Field] {
			return fmt.Errorf("code and a known field are required for value, got field %q", a.Field)
		}
		if a.Equals != "null" {
			if _, err := decimal.NewFromString(a.Equals); err != nil {
				return fmt.Errorf("equals must be a decimal or null: %w", err)
			}
		}
	case AssertSchedule:
		needsApp = true
		if a.COEStatus == "" && a.Status == "" && a.DocumentNumber == nil {
			return errors.New("schedule assertion checks nothing")
		}
	case AssertApplicationStatus:
		needsApp = true
		if a.Equals == "" {
			return errors.New("equals is required for application_status")
		}
	case AssertFinalState:
		if a.Table == "" {
			return errors.New("table is required for final_state")
		}
		if len(a.Expect) == 0 {
			return errors.New("expect is required for final_state")
		}
	case AssertTraceCount:
		if a.Action == "" {
			return errors.New("action is required for trace_count")
		}
		if a.Count < 0 {
			return errors.New("count must be non-negative for trace_count")
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return errors.New("actions list is required for trace_order")
		}
	case "":
		return errors.New("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}

	if needsApp && !apps[a.Application] {
		return fmt.Errorf("unknown application %q", a.Application)
	}
	if a.Assessment != "" && !assessments[a.Assessment] {
		return fmt.Errorf("unknown assessment %q", a.Assessment)
	}
	return nil
}
