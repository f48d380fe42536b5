package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/roach88/disburse/internal/domain"
	"github.com/roach88/disburse/internal/notify"
	"github.com/roach88/disburse/internal/store"
	"github.com/roach88/disburse/internal/testutil"
)

func TestCreateSchedules_Original(t *testing.T) {
	h := newHarness(t)
	seed := testutil.SeedApplication(t, h.store, 1, "APP-1", domain.ApplicationInProgress)

	res := h.create(t, seed.AssessmentID,
		testutil.Schedule("2024-04-01", cslf("600"), bcsl("400")),
		testutil.Schedule("2024-02-01", cslf("600"), bcsl("400")),
	)

	assert.Equal(t, "op-0001", res.OperationID)
	assert.Len(t, res.EntitlementHash, 64)
	assert.Empty(t, res.Overawards)

	stored := h.schedules(t, seed.AssessmentID)
	require.Len(t, stored, 2)
	assert.Equal(t, testutil.Day("2024-02-01"), stored[0].DisbursementDate, "ordered by date")
	for _, s := range stored {
		assert.Equal(t, domain.COERequired, s.COEStatus)
		assert.Equal(t, domain.SchedulePending, s.Status)
		assert.Nil(t, s.DocumentNumber)
		for _, v := range s.Values {
			assert.True(t, v.DisbursedAmountSubtracted.IsZero())
			assert.True(t, v.OverawardAmountSubtracted.IsZero())
			assert.Nil(t, v.EffectiveAmount)
		}
	}

	ac, err := h.store.ReadAssessment(context.Background(), seed.AssessmentID)
	require.NoError(t, err)
	assert.Equal(t, res.EntitlementHash, ac.Assessment.EntitlementHash)
}

func TestCreateSchedules_NormalizesCodes(t *testing.T) {
	h := newHarness(t)
	seed := testutil.SeedApplication(t, h.store, 1, "APP-1", domain.ApplicationInProgress)

	h.create(t, seed.AssessmentID, testutil.Schedule("2024-02-01", testutil.Value(" cslf ", domain.CanadaLoan, "10")))

	value(t, h.schedules(t, seed.AssessmentID)[0], "CSLF")
}

func TestCreateSchedules_Preconditions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	one := []domain.ProposedSchedule{testutil.Schedule("2024-02-01", cslf("100"))}

	_, err := h.engine.CreateSchedules(ctx, 999, one)
	requireCode(t, err, ErrCodeAssessmentNotFound)

	_, err = h.engine.CreateSchedules(ctx, 999, nil)
	requireCode(t, err, ErrCodeInvalidInput)

	enrolment := testutil.SeedApplication(t, h.store, 2, "APP-2", domain.ApplicationEnrolment)
	_, err = h.engine.CreateSchedules(ctx, enrolment.AssessmentID, one)
	requireCode(t, err, ErrCodeInvalidState)

	reassessed := testutil.SeedReassessment(t, h.store,
		testutil.SeedApplication(t, h.store, 3, "APP-3", domain.ApplicationInProgress),
		domain.TriggerOfferingChange)
	_, err = h.engine.CreateSchedules(ctx, reassessed.AssessmentID, one)
	requireCode(t, err, ErrCodeInvalidState)

	fresh := testutil.SeedApplication(t, h.store, 4, "APP-4", domain.ApplicationInProgress)
	h.create(t, fresh.AssessmentID, one...)
	_, err = h.engine.CreateSchedules(ctx, fresh.AssessmentID, one)
	requireCode(t, err, ErrCodeSchedulesAlreadyExist)

	var engErr *Error
	require.True(t, errors.As(err, &engErr))
	assert.NotEmpty(t, engErr.Details["assessment_id"])
}

func TestCreateSchedules_InvalidInputListsEveryProblem(t *testing.T) {
	h := newHarness(t)
	seed := testutil.SeedApplication(t, h.store, 1, "APP-1", domain.ApplicationInProgress)

	bad := testutil.Schedule("2024-02-01",
		testutil.Value("CSLF", domain.CanadaLoan, "-1"),
		testutil.Value("XX", "Mystery", "1"),
	)
	_, err := h.engine.CreateSchedules(context.Background(), seed.AssessmentID, []domain.ProposedSchedule{bad})
	requireCode(t, err, ErrCodeInvalidInput)
	assert.Contains(t, err.Error(), "negative")
	assert.Contains(t, err.Error(), "unknown type")

	assert.Empty(t, h.schedules(t, seed.AssessmentID))
}

// CSLF entitlement drops from 1200 to 1000 after 1200
// was paid. The new line is fully withheld and 200 becomes debt.
func TestCreateSchedules_LoanReducedBelowPaidCreatesOveraward(t *testing.T) {
	h := newHarness(t)
	seed := h.originalPaid(t, 10, "APP-10", testutil.Schedule("2024-02-01", cslf("1200")))

	re := testutil.SeedReassessment(t, h.store, seed, domain.TriggerStudentAppeal)
	res := h.create(t, re.AssessmentID, testutil.Schedule("2024-03-01", cslf("1000")))

	line := value(t, h.schedules(t, re.AssessmentID)[0], "CSLF")
	assertDec(t, "1000", line.DisbursedAmountSubtracted)
	assert.True(t, line.Net().IsZero())

	require.Len(t, res.Overawards, 1)
	o := res.Overawards[0]
	assert.Equal(t, domain.OriginReassessment, o.OriginType)
	assert.Equal(t, SystemActor, o.AddedBy)
	require.NotNil(t, o.AssessmentID)
	assert.Equal(t, re.AssessmentID, *o.AssessmentID)
	assert.Nil(t, o.ScheduleID)
	assertDec(t, "200", o.OverawardValue)

	assertDec(t, "200", h.balance(t, 10)["CSLF"])
}

// BCSL 700 paid, new entitlement split 500/500. Paid
// amounts are withheld in date order and nothing is left over.
func TestCreateSchedules_PaidSpreadAcrossSchedulesInOrder(t *testing.T) {
	h := newHarness(t)
	seed := h.originalPaid(t, 11, "APP-11", testutil.Schedule("2024-02-01", bcsl("700")))

	re := testutil.SeedReassessment(t, h.store, seed, domain.TriggerScholasticStandingChange)
	res := h.create(t, re.AssessmentID,
		testutil.Schedule("2024-05-01", bcsl("500")),
		testutil.Schedule("2024-03-01", bcsl("500")),
	)
	assert.Empty(t, res.Overawards)

	stored := h.schedules(t, re.AssessmentID)
	require.Len(t, stored, 2)
	assertDec(t, "500", value(t, stored[0], "BCSL").DisbursedAmountSubtracted)
	assertDec(t, "200", value(t, stored[1], "BCSL").DisbursedAmountSubtracted)

	// Never pay twice: what was paid plus what is still releasable equals
	// the new entitlement.
	releasable := value(t, stored[0], "BCSL").Net().Add(value(t, stored[1], "BCSL").Net())
	assertDec(t, "1000", releasable.Add(testutil.Dec("700")))
	assert.Empty(t, h.balance(t, 11))
}

func TestCreateSchedules_GrantRemainderIsDiscarded(t *testing.T) {
	h := newHarness(t)
	seed := h.originalPaid(t, 12, "APP-12", testutil.Schedule("2024-02-01", bcag("300"), csgp("200")))

	re := testutil.SeedReassessment(t, h.store, seed, domain.TriggerStudentAppeal)
	res := h.create(t, re.AssessmentID, testutil.Schedule("2024-03-01", bcag("100")))

	assert.Empty(t, res.Overawards, "grants never create debt")
	sched := h.schedules(t, re.AssessmentID)[0]
	assertDec(t, "100", value(t, sched, "BCAG").DisbursedAmountSubtracted)
	assertDec(t, "0", value(t, sched, "BCSG").ValueAmount)
	assert.Empty(t, h.balance(t, 12))
}

func TestCreateSchedules_LoanMissingFromNewEntitlement(t *testing.T) {
	h := newHarness(t)
	seed := h.originalPaid(t, 13, "APP-13", testutil.Schedule("2024-02-01", cslf("400"), bcsl("300")))

	re := testutil.SeedReassessment(t, h.store, seed, domain.TriggerStudentAppeal)
	res := h.create(t, re.AssessmentID, testutil.Schedule("2024-03-01", cslf("400")))

	require.Len(t, res.Overawards, 1)
	assert.Equal(t, "BCSL", res.Overawards[0].ValueCode)
	assertDec(t, "300", res.Overawards[0].OverawardValue)
	assertDec(t, "400", value(t, h.schedules(t, re.AssessmentID)[0], "CSLF").DisbursedAmountSubtracted)
}

func TestCreateSchedules_ThresholdSuppressesSmallOverawards(t *testing.T) {
	p := testPolicy()
	p.OverawardThresholds[domain.CanadaLoan] = testutil.Dec("250")
	h := newHarness(t, WithPolicy(p))
	seed := h.originalPaid(t, 14, "APP-14", testutil.Schedule("2024-02-01", cslf("1200")))

	re := testutil.SeedReassessment(t, h.store, seed, domain.TriggerStudentAppeal)
	res := h.create(t, re.AssessmentID, testutil.Schedule("2024-03-01", cslf("1000")))

	assert.Empty(t, res.Overawards, "200 is within the 250 tolerance")
	assert.Empty(t, h.balance(t, 14))
}

func TestCreateSchedules_TotalGrantLineRecomputed(t *testing.T) {
	h := newHarness(t)
	seed := testutil.SeedApplication(t, h.store, 15, "APP-15", domain.ApplicationInProgress)

	h.create(t, seed.AssessmentID, testutil.Schedule("2024-02-01",
		bcag("300"),
		testutil.Value("BGPD", domain.BCGrant, "200.25"),
		csgp("100"),
		testutil.Value("BCSG", domain.BCTotalGrant, "999"),
		cslf("50"),
	))

	sched := h.schedules(t, seed.AssessmentID)[0]
	total := value(t, sched, "BCSG")
	assert.Equal(t, domain.BCTotalGrant, total.ValueType)
	assertDec(t, "500.25", total.ValueAmount)
	assert.Len(t, sched.Values, 5)
}

func TestCreateSchedules_NoTotalLineWithoutProvincialGrants(t *testing.T) {
	h := newHarness(t)
	seed := testutil.SeedApplication(t, h.store, 16, "APP-16", domain.ApplicationInProgress)

	h.create(t, seed.AssessmentID, testutil.Schedule("2024-02-01", cslf("50"), csgp("10")))

	_, ok := h.schedules(t, seed.AssessmentID)[0].Value("BCSG")
	assert.False(t, ok)
}

func TestCreateSchedules_ReassessmentCancelsPendingAndReversesUnpaidDebt(t *testing.T) {
	h := newHarness(t)
	seed := h.originalPaid(t, 17, "APP-17", testutil.Schedule("2024-02-01", cslf("1200")))

	first := testutil.SeedReassessment(t, h.store, seed, domain.TriggerStudentAppeal)
	h.create(t, first.AssessmentID,
		testutil.Schedule("2024-03-01", cslf("1000")),
		testutil.Schedule("2024-05-01", cslf("0")),
	)
	assertDec(t, "200", h.balance(t, 17)["CSLF"])

	// A second reassessment restores the loan. The 200 of debt came from
	// an assessment whose schedules never paid, so it is reversed.
	second := testutil.SeedReassessment(t, h.store, seed, domain.TriggerMinistryManual)
	res := h.create(t, second.AssessmentID, testutil.Schedule("2024-05-01", cslf("1500")))

	assert.Equal(t, int64(1), res.Rollback.ReversedOverawards)
	assert.Equal(t, int64(2), res.Rollback.CancelledSchedules)
	for _, s := range h.schedules(t, first.AssessmentID) {
		assert.Equal(t, domain.ScheduleCancelled, s.Status)
	}
	assertDec(t, "1200", value(t, h.schedules(t, second.AssessmentID)[0], "CSLF").DisbursedAmountSubtracted)
	assert.Empty(t, h.balance(t, 17))
}

func TestCreateSchedules_EmitsNotificationsAndLogs(t *testing.T) {
	h := newHarness(t)
	seed := testutil.SeedApplication(t, h.store, 18, "APP-18", domain.ApplicationInProgress)

	res := h.create(t, seed.AssessmentID, testutil.Schedule("2024-02-01", cslf("100")))

	events := h.pendingEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, "00000000-0000-0000-0000-000000000001", events[0].ID.String())
	assert.Equal(t, notify.EventSchedulesCreated, events[0].EventType)
	assert.Equal(t, res.OperationID, events[0].CorrelationID)
	assert.Contains(t, string(events[0].Payload), `"application_number":"APP-18"`)

	entries := h.logs.FilterMessage("schedules created").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, seed.AssessmentID, entries[0].ContextMap()["assessment_id"])
	assert.Equal(t, res.EntitlementHash, entries[0].ContextMap()["entitlement_hash"])

	_, err := h.engine.CreateSchedules(context.Background(), seed.AssessmentID,
		[]domain.ProposedSchedule{testutil.Schedule("2024-02-01", cslf("100"))})
	require.Error(t, err)
	warn := h.logs.FilterMessage("create schedules rejected").All()
	require.Len(t, warn, 1)
	assert.Equal(t, zapcore.WarnLevel, warn[0].Level)
}

type failingNotifier struct{}

func (failingNotifier) CreateWithTx(context.Context, *store.Tx, *notify.Event) error {
	return errors.New("outbox unavailable")
}

func TestCreateSchedules_NotificationFailureRollsBackEverything(t *testing.T) {
	h := newHarness(t, WithNotifier(failingNotifier{}))
	seed := testutil.SeedApplication(t, h.store, 19, "APP-19", domain.ApplicationInProgress)

	_, err := h.engine.CreateSchedules(context.Background(), seed.AssessmentID,
		[]domain.ProposedSchedule{testutil.Schedule("2024-02-01", cslf("100"))})
	require.Error(t, err)
	assert.False(t, IsPrecondition(err))
	assert.Contains(t, err.Error(), "outbox unavailable")

	assert.Empty(t, h.schedules(t, seed.AssessmentID))
	ac, err := h.store.ReadAssessment(context.Background(), seed.AssessmentID)
	require.NoError(t, err)
	assert.Empty(t, ac.Assessment.EntitlementHash)

	entries := h.logs.FilterMessage("create schedules failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
}

func TestCreateSchedules_ConcurrentBuildsSerialize(t *testing.T) {
	h := newHarness(t)
	seed := testutil.SeedApplication(t, h.store, 20, "APP-20", domain.ApplicationInProgress)
	proposed := []domain.ProposedSchedule{
		testutil.Schedule("2024-02-01", cslf("600"), bcag("100")),
		testutil.Schedule("2024-04-01", cslf("600")),
	}

	const workers = 8
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			_, err := h.engine.CreateSchedules(context.Background(), seed.AssessmentID, proposed)
			errs <- err
		}()
	}

	succeeded := 0
	for i := 0; i < workers; i++ {
		if err := <-errs; err == nil {
			succeeded++
		} else {
			requireCode(t, err, ErrCodeSchedulesAlreadyExist)
		}
	}
	assert.Equal(t, 1, succeeded)

	stored := h.schedules(t, seed.AssessmentID)
	require.Len(t, stored, 2)
	assert.Len(t, stored[0].Values, 3, "CSLF, BCAG and the total grant line")
	assert.Len(t, stored[1].Values, 1)
	assert.Len(t, h.pendingEvents(t), 1)
}

// Three assessment versions, each paid in full: down, then up again. What
// left the program per code always equals the latest entitlement and no
// debt remains once the increase absorbs it.
func TestCreateSchedules_NoDoublePaymentAcrossReassessments(t *testing.T) {
	h := newHarness(t)
	seed := h.originalPaid(t, 21, "APP-21", testutil.Schedule("2024-02-01", cslf("1000"), bcag("300")))

	down := testutil.SeedReassessment(t, h.store, seed, domain.TriggerStudentAppeal)
	h.pay(t, h.create(t, down.AssessmentID, testutil.Schedule("2024-03-01", cslf("800"), bcag("200"))))
	assertDec(t, "200", h.balance(t, 21)["CSLF"])

	up := testutil.SeedReassessment(t, h.store, down, domain.TriggerOfferingChange)
	h.pay(t, h.create(t, up.AssessmentID, testutil.Schedule("2024-04-01", cslf("1500"), bcag("500"))))

	sent := make(map[string]decimal.Decimal)
	for _, id := range []int64{seed.AssessmentID, down.AssessmentID, up.AssessmentID} {
		for _, s := range h.schedules(t, id) {
			require.Equal(t, domain.ScheduleSent, s.Status, "schedule %d", s.ID)
			for _, v := range s.Values {
				require.NotNil(t, v.EffectiveAmount, "schedule %d %s", s.ID, v.ValueCode)
				sent[v.ValueCode] = sent[v.ValueCode].Add(*v.EffectiveAmount)
			}
		}
	}
	assertDec(t, "1500", sent["CSLF"], "CSLF")
	assertDec(t, "500", sent["BCAG"], "BCAG")
	assert.Empty(t, h.balance(t, 21))
}
