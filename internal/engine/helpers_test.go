package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/roach88/disburse/internal/domain"
	"github.com/roach88/disburse/internal/notify"
	"github.com/roach88/disburse/internal/policy"
	"github.com/roach88/disburse/internal/store"
	"github.com/roach88/disburse/internal/testutil"
)

type harness struct {
	engine *Engine
	store  *store.Store
	clock  *testutil.FixedClock
	logs   *observer.ObservedLogs
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	s := testutil.OpenStore(t)
	clock := testutil.NewFixedClock(testutil.Epoch)
	core, logs := observer.New(zapcore.DebugLevel)

	base := []Option{
		WithClock(clock),
		WithLogger(zap.New(core)),
		WithOperationIDs(testutil.NewSequentialIDs("op")),
		WithEventIDs(testutil.NewSequentialEventIDs()),
	}
	return &harness{
		engine: New(s, append(base, opts...)...),
		store:  s,
		clock:  clock,
		logs:   logs,
	}
}

func requireCode(t *testing.T, err error, code ErrorCode, msgAndArgs ...any) {
	t.Helper()
	require.Error(t, err, msgAndArgs...)
	require.True(t, IsCode(err, code), "want %s, got %v", code, err)
}

func assertDec(t *testing.T, want string, got decimal.Decimal, labels ...string) {
	t.Helper()
	assert.True(t, testutil.Dec(want).Equal(got), "want %s, got %s %v", want, got, labels)
}

// create builds schedules and fails the test on error.
func (h *harness) create(t *testing.T, assessmentID int64, proposed ...domain.ProposedSchedule) *BuildResult {
	t.Helper()
	res, err := h.engine.CreateSchedules(context.Background(), assessmentID, proposed)
	require.NoError(t, err)
	return res
}

// confirm confirms a schedule with no remittance, dated on its
// disbursement date so the approval window always passes.
func (h *harness) confirm(t *testing.T, sched domain.DisbursementSchedule) *ConfirmResult {
	t.Helper()
	res, err := h.engine.ConfirmEnrolment(context.Background(), ConfirmRequest{
		ScheduleID:  sched.ID,
		Actor:       "institution-user",
		ConfirmedAt: sched.DisbursementDate,
	})
	require.NoError(t, err)
	return res
}

// pay takes every schedule of a build through COE, send staging and
// sending, in date order.
func (h *harness) pay(t *testing.T, build *BuildResult) {
	t.Helper()
	ctx := context.Background()
	for _, sched := range build.Schedules {
		h.confirm(t, sched)
		_, err := h.engine.PrepareForSending(ctx, sched.ID)
		require.NoError(t, err)
		_, err = h.engine.MarkSent(ctx, sched.ID, sched.DisbursementDate.Add(12*time.Hour))
		require.NoError(t, err)
	}
}

// originalPaid seeds an application, builds the original schedules and
// pays all of them. The application ends Completed.
func (h *harness) originalPaid(t *testing.T, studentID int64, number string, proposed ...domain.ProposedSchedule) testutil.Seeded {
	t.Helper()
	seed := testutil.SeedApplication(t, h.store, studentID, number, domain.ApplicationInProgress)
	build := h.create(t, seed.AssessmentID, proposed...)
	testutil.SetApplicationStatus(t, h.store, seed.ApplicationID, domain.ApplicationEnrolment)
	h.pay(t, build)
	return seed
}

func (h *harness) schedules(t *testing.T, assessmentID int64) []domain.DisbursementSchedule {
	t.Helper()
	out, err := h.store.ReadSchedules(context.Background(), assessmentID)
	require.NoError(t, err)
	return out
}

func (h *harness) balance(t *testing.T, studentID int64) map[string]decimal.Decimal {
	t.Helper()
	b, err := h.engine.OverawardBalance(context.Background(), studentID)
	require.NoError(t, err)
	return b
}

func (h *harness) pendingEvents(t *testing.T) []*notify.Event {
	t.Helper()
	events, err := notify.NewOutbox(h.store).ListPending(context.Background(), 1000)
	require.NoError(t, err)
	return events
}

func eventTypes(events []*notify.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.EventType
	}
	return out
}

func value(t *testing.T, sched domain.DisbursementSchedule, code string) domain.DisbursementValue {
	t.Helper()
	v, ok := sched.Value(code)
	require.True(t, ok, "schedule %d has no %s line", sched.ID, code)
	return *v
}

var (
	cslf = func(amount string) domain.ProposedValue { return testutil.Value("CSLF", domain.CanadaLoan, amount) }
	bcsl = func(amount string) domain.ProposedValue { return testutil.Value("BCSL", domain.BCLoan, amount) }
	bcag = func(amount string) domain.ProposedValue { return testutil.Value("BCAG", domain.BCGrant, amount) }
	csgp = func(amount string) domain.ProposedValue { return testutil.Value("CSGP", domain.CanadaGrant, amount) }
)

// testPolicy returns the default policy with its own threshold map.
func testPolicy() policy.Policy {
	return policy.Default()
}
