package harness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/disburse/internal/store"
	"github.com/roach88/disburse/internal/testutil"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Step: 0, Action: ActionCreateSchedules, Target: "app", Outcome: OutcomeOK},
		{Step: 1, Action: ActionConfirm, Target: "app#1", Outcome: "FIRST_COE_NOT_COMPLETE"},
		{Step: 2, Action: ActionConfirm, Target: "app#0", Outcome: OutcomeOK},
		{Step: 3, Action: ActionPrepare, Target: "app#0", Outcome: OutcomeOK},
	}
}

func TestTraceMatches(t *testing.T) {
	event := TraceEvent{Action: ActionConfirm, Outcome: "FIRST_COE_NOT_COMPLETE"}

	assert.True(t, traceMatches(event, "confirm"))
	assert.True(t, traceMatches(event, "confirm:FIRST_COE_NOT_COMPLETE"))
	assert.False(t, traceMatches(event, "confirm:ok"))
	assert.False(t, traceMatches(event, "decline"))
}

func TestAssertTraceOrder(t *testing.T) {
	tests := []struct {
		name    string
		actions []string
		wantErr bool
	}{
		{"in order", []string{"create_schedules", "confirm:ok", "prepare"}, false},
		{"intervening actions allowed", []string{"create_schedules", "prepare"}, false},
		{"outcome order", []string{"confirm:FIRST_COE_NOT_COMPLETE", "confirm:ok"}, false},
		{"wrong order", []string{"prepare", "create_schedules"}, true},
		{"outcome wrong order", []string{"confirm:ok", "confirm:FIRST_COE_NOT_COMPLETE"}, true},
		{"missing", []string{"create_schedules", "mark_sent"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertTraceOrder(sampleTrace(), Assertion{Type: AssertTraceOrder, Actions: tt.actions})
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var ae *AssertionError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, AssertTraceOrder, ae.Type)
			assert.Len(t, ae.Trace, 4)
		})
	}
}

func TestAssertTraceCount(t *testing.T) {
	tests := []struct {
		action  string
		count   int
		wantErr bool
	}{
		{"confirm", 2, false},
		{"confirm:ok", 1, false},
		{"prepare", 1, false},
		{"mark_sent", 0, false},
		{"confirm", 1, true},
		{"create_schedules", 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			err := assertTraceCount(sampleTrace(), Assertion{Type: AssertTraceCount, Action: tt.action, Count: tt.count})
			if tt.wantErr {
				var ae *AssertionError
				require.ErrorAs(t, err, &ae)
				assert.Contains(t, ae.Expected, tt.action)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Index:    2,
		Type:     AssertTraceCount,
		Expected: "1 occurrences of confirm",
		Actual:   "2 occurrences",
		Trace:    sampleTrace()[:2],
	}

	msg := err.Error()
	assert.Contains(t, msg, "assertions[2] failed: trace_count")
	assert.Contains(t, msg, "Expected: 1 occurrences of confirm")
	assert.Contains(t, msg, "Actual: 2 occurrences")
	assert.Contains(t, msg, "[1] confirm app#1 -> FIRST_COE_NOT_COMPLETE")
}

func TestBuildWhereClause(t *testing.T) {
	sql, args, err := buildWhereClause(nil)
	require.NoError(t, err)
	assert.Empty(t, sql)
	assert.Nil(t, args)

	sql, args, err = buildWhereClause(map[string]any{
		"student_id":  1,
		"origin_type": "Manual record",
		"deleted_at":  nil,
	})
	require.NoError(t, err)
	assert.Equal(t, "deleted_at IS NULL AND origin_type = ? AND student_id = ?", sql)
	assert.Equal(t, []any{"Manual record", 1}, args)
}

func TestBuildWhereClause_NoInterpolation(t *testing.T) {
	sql, args, err := buildWhereClause(map[string]any{"notes": "'; DROP TABLE notifications; --"})
	require.NoError(t, err)
	assert.Equal(t, "notes = ?", sql)
	assert.Equal(t, []any{"'; DROP TABLE notifications; --"}, args)
}

func TestBuildWhereClause_InvalidColumnName(t *testing.T) {
	for _, col := range []string{"a b", "1col", "x;--", ""} {
		_, _, err := buildWhereClause(map[string]any{col: 1})
		assert.Error(t, err, col)
	}
}

func TestToSQLValue(t *testing.T) {
	assert.Equal(t, "x", toSQLValue("x"))
	assert.Equal(t, 3, toSQLValue(3))
	assert.Equal(t, true, toSQLValue(true))
	assert.Equal(t, "12.5", toSQLValue(12.5))
	assert.Equal(t, "2024-04-01", toSQLValue(testutil.Day("2024-04-01")))
	assert.Equal(t, store.FormatTime(testutil.Epoch), toSQLValue(testutil.Epoch))
}

func TestFormatWhereClause(t *testing.T) {
	assert.Equal(t, "(no conditions)", formatWhereClause(nil))
	assert.Equal(t, "a=1 AND b=x", formatWhereClause(map[string]any{"b": "x", "a": 1}))
}

func TestStateValuesEqual(t *testing.T) {
	tests := []struct {
		name     string
		expected any
		actual   any
		want     bool
	}{
		{"strings", "Completed", "Completed", true},
		{"bytes", "Completed", []byte("Completed"), true},
		{"string mismatch", "Completed", "Required", false},
		{"decimal text", "200", "200.00", true},
		{"int against decimal text", 200, "200.00", true},
		{"float against decimal text", 500.25, "500.25", true},
		{"int against int64", 1, int64(1), true},
		{"int64", int64(1), int64(2), false},
		{"bool against int", true, int64(1), true},
		{"bool false", false, int64(1), false},
		{"date", testutil.Day("2024-04-01"), "2024-04-01", true},
		{"nil both", nil, nil, true},
		{"nil expected", nil, "x", false},
		{"nil actual", "x", nil, false},
		{"text is not a number", 5, "five", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stateValuesEqual(tt.expected, tt.actual))
		})
	}
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	return testutil.OpenStore(t)
}

func createTestTable(t *testing.T, st *store.Store) {
	t.Helper()
	_, err := st.DB().Exec(`
		CREATE TABLE test_items (
			item_id TEXT PRIMARY KEY,
			amount TEXT,
			status TEXT,
			active INTEGER,
			sent_at TEXT
		)
	`)
	require.NoError(t, err)
}

func TestAssertFinalState_RowFound_Pass(t *testing.T) {
	st := setupTestStore(t)
	createTestTable(t, st)

	_, err := st.DB().Exec(`INSERT INTO test_items (item_id, amount, status, active) VALUES (?, ?, ?, ?)`,
		"cslf", "850.00", "Sent", 1)
	require.NoError(t, err)

	err = assertFinalState(context.Background(), st, Assertion{
		Type:  AssertFinalState,
		Table: "test_items",
		Where: map[string]any{"item_id": "cslf", "sent_at": nil},
		Expect: map[string]any{
			"amount": 850,
			"status": "Sent",
			"active": true,
		},
	})
	assert.NoError(t, err)
}

func TestAssertFinalState_Failures(t *testing.T) {
	st := setupTestStore(t)
	createTestTable(t, st)
	_, err := st.DB().Exec(`INSERT INTO test_items (item_id, amount, status) VALUES (?, ?, ?), (?, ?, ?)`,
		"a", "5", "Pending", "b", "5", "Pending")
	require.NoError(t, err)

	tests := []struct {
		name      string
		assertion Assertion
		want      string
	}{
		{
			name:      "row not found",
			assertion: Assertion{Table: "test_items", Where: map[string]any{"item_id": "z"}, Expect: map[string]any{"amount": 5}},
			want:      "row not found",
		},
		{
			name:      "value mismatch",
			assertion: Assertion{Table: "test_items", Where: map[string]any{"item_id": "a"}, Expect: map[string]any{"amount": 10}},
			want:      `field "amount" = 5`,
		},
		{
			name:      "missing column",
			assertion: Assertion{Table: "test_items", Where: map[string]any{"item_id": "a"}, Expect: map[string]any{"nope": 1}},
			want:      "not present in result columns",
		},
		{
			name:      "ambiguous",
			assertion: Assertion{Table: "test_items", Where: map[string]any{"status": "Pending"}, Expect: map[string]any{"amount": 5}},
			want:      "multiple rows matched",
		},
		{
			name:      "table not found",
			assertion: Assertion{Table: "missing_table", Expect: map[string]any{"a": 1}},
			want:      "query error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.assertion.Type = AssertFinalState
			err := assertFinalState(context.Background(), st, tt.assertion)
			var ae *AssertionError
			require.ErrorAs(t, err, &ae)
			assert.Contains(t, ae.Actual, tt.want)
		})
	}
}

func TestAssertFinalState_InvalidTableName(t *testing.T) {
	st := setupTestStore(t)
	err := assertFinalState(context.Background(), st, Assertion{
		Type: AssertFinalState, Table: "users; DROP TABLE users", Expect: map[string]any{"a": 1},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid table name")
}

func TestEvaluateAssertions_ReportsIndex(t *testing.T) {
	h := &Harness{store: setupTestStore(t)}
	result := NewResult()
	result.AddTrace(TraceEvent{Step: 0, Action: ActionRollback, Outcome: OutcomeOK, Target: "app"})

	failures := h.evaluateAssertions(context.Background(), result, []Assertion{
		{Type: AssertTraceCount, Action: "rollback", Count: 1},
		{Type: AssertTraceCount, Action: "rollback", Count: 2},
		{Type: "bogus"},
	})
	require.Len(t, failures, 2)
	assert.Contains(t, failures[0], "assertions[1] failed: trace_count")
	assert.Contains(t, failures[1], `assertions[2]: unknown assertion type "bogus"`)
}

func TestDomainText(t *testing.T) {
	assert.Equal(t, "2024-02-01", domainText(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, store.FormatTime(testutil.Epoch), domainText(testutil.Epoch))
}
