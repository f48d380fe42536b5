package harness

// OutcomeOK is the outcome of a step that succeeded.
const OutcomeOK = "ok"

// TraceEvent records one executed step.
type TraceEvent struct {
	Step    int            `json:"step"`
	Action  string         `json:"action"`
	Target  string         `json:"target,omitempty"`
	Outcome string         `json:"outcome"`
	Result  map[string]any `json:"result,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true when every step ended as expected and every assertion
	// held.
	Pass bool `json:"pass"`

	// Trace contains the executed steps in order. Used for trace
	// assertions and golden comparison.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step to the trace.
func (r *Result) AddTrace(e TraceEvent) {
	r.Trace = append(r.Trace, e)
}
