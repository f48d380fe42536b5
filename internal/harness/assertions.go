package harness

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/disburse/internal/domain"
	"github.com/roach88/disburse/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
// This prevents SQL injection via identifier interpolation.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Index    int          // Position of the assertion in the scenario
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "assertions[%d] failed: %s\n", e.Index, e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s -> %s\n", event.Step, event.Action, event.Target, event.Outcome)
		}
	}

	return buf.String()
}

// evaluateAssertions evaluates all assertions against the result and the
// final database state. Returns one message per failed assertion.
func (h *Harness) evaluateAssertions(ctx context.Context, result *Result, assertions []Assertion) []string {
	var failures []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertOverawardBalance:
			err = h.assertOverawardBalance(ctx, assertion)
		case AssertValue:
			err = h.assertValue(ctx, assertion)
		case AssertSchedule:
			err = h.assertSchedule(ctx, assertion)
		case AssertApplicationStatus:
			err = h.assertApplicationStatus(ctx, assertion)
		case AssertFinalState:
			err = assertFinalState(ctx, h.store, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		default:
			err = fmt.Errorf("unknown assertion type %q", assertion.Type)
		}

		if err == nil {
			continue
		}
		if ae, ok := err.(*AssertionError); ok {
			ae.Index = i
			failures = append(failures, ae.Error())
			continue
		}
		failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
	}

	return failures
}

func (h *Harness) assertOverawardBalance(ctx context.Context, a Assertion) error {
	balance, err := h.store.OverawardBalance(ctx, a.StudentID)
	if err != nil {
		return err
	}
	code := domain.NormalizeCode(a.Code)
	want := decimal.RequireFromString(a.Equals)
	got := balance[code]
	if !got.Equal(want) {
		return &AssertionError{
			Type:     AssertOverawardBalance,
			Expected: fmt.Sprintf("student %d %s balance %s", a.StudentID, code, want),
			Actual:   got.String(),
		}
	}
	return nil
}

func (h *Harness) assertValue(ctx context.Context, a Assertion) error {
	sched, err := h.assertedSchedule(ctx, a)
	if err != nil {
		return err
	}
	code := domain.NormalizeCode(a.Code)
	v, ok := sched.Value(code)
	if !ok {
		return &AssertionError{
			Type:     AssertValue,
			Expected: fmt.Sprintf("%s line %s on schedule %d", a.Application, code, a.Schedule),
			Actual:   "line not found",
		}
	}

	var got *decimal.Decimal
	switch a.Field {
	case "value_amount":
		got = &v.ValueAmount
	case "disbursed_amount_subtracted":
		got = &v.DisbursedAmountSubtracted
	case "overaward_amount_subtracted":
		got = &v.OverawardAmountSubtracted
	case "effective_amount":
		got = v.EffectiveAmount
	case "net":
		net := v.Net()
		got = &net
	}

	expected := fmt.Sprintf("%s#%d %s %s = %s", a.Application, a.Schedule, code, a.Field, a.Equals)
	if a.Equals == "null" {
		if got != nil {
			return &AssertionError{Type: AssertValue, Expected: expected, Actual: got.String()}
		}
		return nil
	}
	if got == nil {
		return &AssertionError{Type: AssertValue, Expected: expected, Actual: "null"}
	}
	if !got.Equal(decimal.RequireFromString(a.Equals)) {
		return &AssertionError{Type: AssertValue, Expected: expected, Actual: got.String()}
	}
	return nil
}

func (h *Harness) assertSchedule(ctx context.Context, a Assertion) error {
	sched, err := h.assertedSchedule(ctx, a)
	if err != nil {
		return err
	}
	target := fmt.Sprintf("%s#%d", a.Application, a.Schedule)

	if a.COEStatus != "" && sched.COEStatus != a.COEStatus {
		return &AssertionError{
			Type:     AssertSchedule,
			Expected: fmt.Sprintf("%s coe_status %s", target, a.COEStatus),
			Actual:   string(sched.COEStatus),
		}
	}
	if a.Status != "" && sched.Status != a.Status {
		return &AssertionError{
			Type:     AssertSchedule,
			Expected: fmt.Sprintf("%s status %s", target, a.Status),
			Actual:   string(sched.Status),
		}
	}
	if a.DocumentNumber != nil {
		actual := "none"
		if sched.DocumentNumber != nil {
			actual = fmt.Sprintf("%d", *sched.DocumentNumber)
		}
		if sched.DocumentNumber == nil || *sched.DocumentNumber != *a.DocumentNumber {
			return &AssertionError{
				Type:     AssertSchedule,
				Expected: fmt.Sprintf("%s document_number %d", target, *a.DocumentNumber),
				Actual:   actual,
			}
		}
	}
	return nil
}

func (h *Harness) assertApplicationStatus(ctx context.Context, a Assertion) error {
	app, err := h.store.ReadApplication(ctx, h.apps[a.Application].applicationID)
	if err != nil {
		return err
	}
	if string(app.Status) != a.Equals {
		return &AssertionError{
			Type:     AssertApplicationStatus,
			Expected: fmt.Sprintf("%s status %s", a.Application, a.Equals),
			Actual:   string(app.Status),
		}
	}
	return nil
}

// assertedSchedule resolves the schedule an assertion points at. The
// assessment defaults to the application's current one.
func (h *Harness) assertedSchedule(ctx context.Context, a Assertion) (*domain.DisbursementSchedule, error) {
	assessmentID := h.apps[a.Application].current
	if a.Assessment != "" {
		assessmentID = h.assessments[a.Assessment]
	}
	return h.schedule(ctx, assessmentID, a.Schedule)
}

// traceMatches reports whether a trace entry satisfies a pattern of the form
// "action" or "action:outcome".
func traceMatches(event TraceEvent, pattern string) bool {
	action, outcome, hasOutcome := strings.Cut(pattern, ":")
	if event.Action != action {
		return false
	}
	return !hasOutcome || event.Outcome == outcome
}

// assertTraceOrder checks if actions appear in the specified order.
// Actions don't need to be consecutive (intervening actions are allowed).
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	pos := 0
	for _, pattern := range assertion.Actions {
		found := false
		for pos < len(trace) {
			event := trace[pos]
			pos++
			if traceMatches(event, pattern) {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual:   fmt.Sprintf("%s not found after the preceding actions", pattern),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks if the action appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if traceMatches(event, assertion.Action) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks if exactly one row of a table matches the where
// clause and carries the expected values (subset semantics).
//
// Table and column names are validated against a whitelist pattern to
// prevent SQL injection via identifier interpolation.
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", assertion.Table, validIdentifier.String())
	}

	whereSQL, whereArgs, err := buildWhereClause(assertion.Where)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s", assertion.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := st.QueryContext(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "row not found",
		}
	}

	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	// More than one match means the assertion is ambiguous.
	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]any, len(columns))
	for i, col := range columns {
		if b, ok := values[i].([]byte); ok {
			values[i] = string(b)
		}
		actualRow[col] = values[i]
	}

	keys := make([]string, 0, len(assertion.Expect))
	for k := range assertion.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		expectedValue := assertion.Expect[key]
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}

		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}

	return nil
}

// buildWhereClause constructs parameterized WHERE clause from assertion.Where.
// Returns SQL fragment, arguments slice, and error. Keys are sorted for determinism.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))

	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		if where[key] == nil {
			clauses = append(clauses, key+" IS NULL")
			continue
		}
		clauses = append(clauses, key+" = ?")
		args = append(args, toSQLValue(where[key]))
	}

	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue converts a decoded YAML value to the form the store writes.
func toSQLValue(v any) any {
	switch val := v.(type) {
	case string, int, int64, bool:
		return val
	case time.Time:
		return domainText(val)
	case float64:
		return decimal.NewFromFloat(val).String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// domainText renders a time the way the store persists it.
func domainText(t time.Time) string {
	t = t.UTC()
	if t.Equal(t.Truncate(24 * time.Hour)) {
		return t.Format(domain.DateLayout)
	}
	return store.FormatTime(t)
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares an expected YAML value with a column value.
// Drivers return TEXT as string or []byte and booleans as integers; money
// columns compare as decimals so "200" matches "200.00".
func stateValuesEqual(expected, actual any) bool {
	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}

	switch exp := expected.(type) {
	case string:
		act, ok := actual.(string)
		if !ok {
			return false
		}
		if exp == act {
			return true
		}
		return decimalsEqual(exp, act)
	case float64:
		act, ok := actual.(string)
		return ok && decimalsEqual(decimal.NewFromFloat(exp).String(), act)
	case time.Time:
		act, ok := actual.(string)
		return ok && domainText(exp) == act
	case int:
		switch act := actual.(type) {
		case int64:
			return int64(exp) == act
		case int:
			return exp == act
		case string:
			return decimalsEqual(fmt.Sprint(exp), act)
		}
		return false
	case int64:
		act, ok := actual.(int64)
		return ok && exp == act
	case bool:
		if act, ok := actual.(bool); ok {
			return exp == act
		}
		if act, ok := actual.(int64); ok {
			return exp == (act != 0)
		}
		return false
	}

	return reflect.DeepEqual(expected, actual)
}

func decimalsEqual(a, b string) bool {
	da, err := decimal.NewFromString(a)
	if err != nil {
		return false
	}
	db, err := decimal.NewFromString(b)
	if err != nil {
		return false
	}
	return da.Equal(db)
}
