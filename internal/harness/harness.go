package harness

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/roach88/disburse/internal/domain"
	"github.com/roach88/disburse/internal/engine"
	"github.com/roach88/disburse/internal/policy"
	"github.com/roach88/disburse/internal/store"
	"github.com/roach88/disburse/internal/testutil"
)

// Harness executes one scenario against its own store.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	clock  *testutil.FixedClock
	logger *zap.Logger

	offerings   map[string]int64
	apps        map[string]*application
	assessments map[string]int64
}

type application struct {
	studentID     int64
	number        string
	applicationID int64
	offeringID    int64
	current       int64
}

// Option configures a scenario run.
type Option func(*runConfig)

type runConfig struct {
	logger *zap.Logger
}

// WithLogger routes engine logs of the run to l. Default: discarded.
func WithLogger(l *zap.Logger) Option {
	return func(c *runConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Create fresh in-memory database
// 2. Load the scenario's policy, if any
// 3. Create offerings, applications and original assessments
// 4. Execute steps, checking expected errors
// 5. Evaluate assertions
//
// An error is returned only when the scenario could not be executed; a
// failed expectation is reported in the Result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	p := policy.Default()
	if scenario.Policy != "" {
		path := scenario.Policy
		if !filepath.IsAbs(path) {
			path = filepath.Join(scenario.dir, path)
		}
		if p, err = policy.Load(path); err != nil {
			return nil, fmt.Errorf("failed to load policy: %w", err)
		}
	}

	clock := testutil.NewFixedClock(scenario.Now)
	h := &Harness{
		store: st,
		engine: engine.New(st,
			engine.WithPolicy(p),
			engine.WithClock(clock),
			engine.WithLogger(cfg.logger),
			engine.WithOperationIDs(testutil.NewSequentialIDs("op")),
			engine.WithEventIDs(testutil.NewSequentialEventIDs()),
		),
		clock:       clock,
		logger:      cfg.logger,
		offerings:   make(map[string]int64),
		apps:        make(map[string]*application),
		assessments: make(map[string]int64),
	}

	ctx := context.Background()
	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Action, err)
		}
	}

	for _, msg := range h.evaluateAssertions(ctx, result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// executeSetup writes what the upstream intake and assessment systems would
// have produced.
func (h *Harness) executeSetup(ctx context.Context, setup Setup) error {
	return h.store.WithTx(ctx, 0, func(ctx context.Context, tx *store.Tx) error {
		for _, o := range setup.Offerings {
			id, err := tx.InsertOffering(ctx, domain.Offering{
				StudyStartDate:      o.StudyStartDate,
				StudyEndDate:        o.StudyEndDate,
				ActualTuitionCosts:  o.ActualTuitionCosts,
				ProgramRelatedCosts: o.ProgramRelatedCosts,
				MandatoryFees:       o.MandatoryFees,
			})
			if err != nil {
				return err
			}
			h.offerings[o.Ref] = id
		}

		for _, a := range setup.Applications {
			offeringID, ok := h.offerings[a.Offering]
			if !ok {
				var err error
				if offeringID, err = tx.InsertOffering(ctx, testutil.Offering()); err != nil {
					return err
				}
			}
			appID, err := tx.InsertApplication(ctx, domain.Application{
				StudentID: a.StudentID, ApplicationNumber: a.ApplicationNumber, Status: a.Status,
			})
			if err != nil {
				return err
			}
			assessmentID, err := tx.InsertAssessment(ctx, domain.Assessment{
				ApplicationID: appID,
				OfferingID:    offeringID,
				TriggerType:   domain.TriggerOriginalAssessment,
				CreatedAt:     h.clock.Now(),
			})
			if err != nil {
				return err
			}
			h.apps[a.Ref] = &application{
				studentID:     a.StudentID,
				number:        a.ApplicationNumber,
				applicationID: appID,
				offeringID:    offeringID,
				current:       assessmentID,
			}
			h.assessments[a.Ref] = assessmentID
		}
		return nil
	})
}

// executeStep runs one step and records it in the trace. Only errors that
// are not precondition failures are returned.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	if !step.At.IsZero() {
		h.clock.Set(step.At)
	}

	event := TraceEvent{Step: i, Action: step.Action, Outcome: OutcomeOK}
	res, target, err := h.dispatch(ctx, step)
	event.Target = target
	switch {
	case err == nil:
		event.Result = res
	case engine.IsPrecondition(err):
		var e *engine.Error
		if errors.As(err, &e) {
			event.Outcome = string(e.Code)
		}
	default:
		return err
	}
	result.AddTrace(event)

	want := OutcomeOK
	if step.ExpectError != "" {
		want = string(step.ExpectError)
	}
	if event.Outcome != want {
		msg := fmt.Sprintf("steps[%d] %s: expected %s, got %s", i, step.Action, want, event.Outcome)
		if err != nil {
			msg += ": " + err.Error()
		}
		result.AddError(msg)
	}

	h.logger.Debug("scenario step",
		zap.Int("step", i),
		zap.String("action", step.Action),
		zap.String("outcome", event.Outcome))
	return nil
}

func (h *Harness) dispatch(ctx context.Context, step Step) (map[string]any, string, error) {
	if step.Action == ActionManualOveraward {
		entry, err := h.engine.AddManualOveraward(ctx, engine.ManualOveraward{
			StudentID: step.StudentID,
			ValueCode: step.Code,
			Amount:    step.Amount,
			Note:      step.Note,
			AddedBy:   actor(step.Actor),
		})
		target := "student/" + strconv.FormatInt(step.StudentID, 10)
		if err != nil {
			return nil, target, err
		}
		return map[string]any{"code": entry.ValueCode, "amount": entry.OverawardValue}, target, nil
	}

	app := h.apps[step.Application]
	assessmentID := app.current
	if step.Assessment != "" {
		assessmentID = h.assessments[step.Assessment]
	}
	target := step.Application

	switch step.Action {
	case ActionCreateSchedules:
		res, err := h.engine.CreateSchedules(ctx, assessmentID, step.Schedules)
		if err != nil {
			return nil, target, err
		}
		overawards := make([]any, len(res.Overawards))
		for i, o := range res.Overawards {
			overawards[i] = map[string]any{"code": o.ValueCode, "amount": o.OverawardValue}
		}
		return map[string]any{
			"schedules":           len(res.Schedules),
			"overawards":          overawards,
			"reversed_overawards": res.Rollback.ReversedOverawards,
			"cancelled_schedules": res.Rollback.CancelledSchedules,
		}, target, nil

	case ActionReassess:
		var id int64
		err := h.store.WithTx(ctx, 0, func(ctx context.Context, tx *store.Tx) error {
			var err error
			id, err = tx.InsertAssessment(ctx, domain.Assessment{
				ApplicationID: app.applicationID,
				OfferingID:    app.offeringID,
				TriggerType:   step.Trigger,
				CreatedAt:     h.clock.Now(),
			})
			return err
		})
		if err != nil {
			return nil, target, err
		}
		app.current = id
		if step.Ref != "" {
			h.assessments[step.Ref] = id
		}
		return map[string]any{"trigger": string(step.Trigger)}, target, nil

	case ActionRollback:
		res, err := h.engine.Rollback(ctx, assessmentID)
		if err != nil {
			return nil, target, err
		}
		return map[string]any{
			"reversed_overawards": res.ReversedOverawards,
			"cancelled_schedules": res.CancelledSchedules,
		}, target, nil

	case ActionSetStatus:
		err := h.store.WithTx(ctx, 0, func(ctx context.Context, tx *store.Tx) error {
			return tx.SetApplicationStatus(ctx, app.applicationID, step.Status)
		})
		if err != nil {
			return nil, target, err
		}
		return map[string]any{"status": string(step.Status)}, target, nil
	}

	sched, err := h.schedule(ctx, assessmentID, step.Schedule)
	if err != nil {
		return nil, target, err
	}
	target = fmt.Sprintf("%s#%d", step.Application, step.Schedule)

	switch step.Action {
	case ActionConfirm:
		res, err := h.engine.ConfirmEnrolment(ctx, engine.ConfirmRequest{
			ScheduleID:                 sched.ID,
			TuitionRemittance:          step.Remittance,
			Actor:                      actor(step.Actor),
			ConfirmedAt:                step.ConfirmedAt,
			AllowOutsideApprovalPeriod: step.AllowOutsideApprovalPeriod,
		})
		if err != nil {
			return nil, target, err
		}
		return map[string]any{
			"document_number":       res.DocumentNumber,
			"application_completed": res.ApplicationCompleted,
		}, target, nil

	case ActionDecline:
		res, err := h.engine.DeclineEnrolment(ctx, engine.DeclineRequest{
			ScheduleID: sched.ID, Reason: step.Reason, Actor: actor(step.Actor),
		})
		if err != nil {
			return nil, target, err
		}
		return map[string]any{"cascaded": len(res.CascadedScheduleIDs)}, target, nil

	case ActionPrepare:
		res, err := h.engine.PrepareForSending(ctx, sched.ID)
		if err != nil {
			return nil, target, err
		}
		deducted := make(map[string]any, len(res.Deductions))
		for _, d := range res.Deductions {
			deducted[d.ValueCode] = d.OverawardValue.Neg()
		}
		return map[string]any{"deducted": deducted}, target, nil

	case ActionMarkSent:
		sent, err := h.engine.MarkSent(ctx, sched.ID, h.clock.Now())
		if err != nil {
			return nil, target, err
		}
		return map[string]any{"effective": effectiveAmounts(sent)}, target, nil
	}

	return nil, target, fmt.Errorf("unknown action %q", step.Action)
}

// schedule returns the index-th schedule of an assessment in date order.
func (h *Harness) schedule(ctx context.Context, assessmentID int64, index int) (*domain.DisbursementSchedule, error) {
	schedules, err := h.store.ReadSchedules(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if index >= len(schedules) {
		return nil, fmt.Errorf("assessment %d has %d schedules, no index %d", assessmentID, len(schedules), index)
	}
	return &schedules[index], nil
}

func effectiveAmounts(s *domain.DisbursementSchedule) map[string]any {
	out := make(map[string]any, len(s.Values))
	codes := make([]string, 0, len(s.Values))
	for _, v := range s.Values {
		codes = append(codes, v.ValueCode)
	}
	sort.Strings(codes)
	for _, code := range codes {
		v, _ := s.Value(code)
		if v.EffectiveAmount != nil {
			out[code] = *v.EffectiveAmount
		}
	}
	return out
}

func actor(a string) string {
	if a == "" {
		return "scenario"
	}
	return a
}
