package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/store/sqlite"
	"go.uber.org/zap/zaptest"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func posting(key string, date generic.TimePoint, v string) generic.Transaction {
	return generic.Transaction{
		ID:             generic.TransactionID(key),
		EntityID:       "emp-1",
		AccountID:      "retirement",
		ResourceType:   payroll.CodeRetirement,
		EffectiveAt:    date,
		Delta:          generic.NewAmountFromDecimal(decimal.RequireFromString(v), generic.UnitCurrency),
		Type:           generic.TxContribution,
		IdempotencyKey: key,
		Metadata:       map[string]string{"period": key},
	}
}

var (
	jan = generic.NewTimePoint(2025, time.January, 14)
	feb = generic.NewTimePoint(2025, time.February, 11)
	dec = generic.NewTimePoint(2024, time.December, 31)
)

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestStore_AppendAndLoad(t *testing.T) {
	// GIVEN: Postings appended out of date order
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Append(ctx, posting("p2", feb, "120.50")))
	require.NoError(t, s.Append(ctx, posting("p1", jan, "100")))

	// WHEN: Loading the account
	txs, err := s.Load(ctx, "emp-1", "retirement")
	require.NoError(t, err)

	// THEN: They come back ordered by date with every field intact
	require.Len(t, txs, 2)
	assert.Equal(t, generic.TransactionID("p1"), txs[0].ID)
	assert.Equal(t, generic.TransactionID("p2"), txs[1].ID)
	assert.True(t, txs[1].Delta.Value.Equal(decimal.RequireFromString("120.5")))
	assert.Equal(t, generic.UnitCurrency, txs[1].Delta.Unit)
	assert.Equal(t, "retirement", txs[1].ResourceType.ResourceID())
	assert.True(t, txs[1].EffectiveAt.Equal(feb))
	assert.Equal(t, "p2", txs[1].Metadata["period"])
}

func TestStore_DuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Append(ctx, posting("p1", jan, "100")))

	err := s.Append(ctx, posting("p1", jan, "100"))
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)

	ok, err := s.Exists(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Exists(ctx, "p9")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_AppendBatchIsAtomic(t *testing.T) {
	// GIVEN: A committed posting
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Append(ctx, posting("p1", jan, "100")))

	// WHEN: A batch contains a new posting and a duplicate of the committed one
	err := s.AppendBatch(ctx, []generic.Transaction{posting("p2", feb, "50"), posting("p1", jan, "100")})

	// THEN: Nothing from the batch is written
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)
	txs, err := s.Load(ctx, "emp-1", "retirement")
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestStore_AppendBatchRejectsRepeatedKey(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	err := s.AppendBatch(ctx, []generic.Transaction{posting("p1", jan, "1"), posting("p1", feb, "2")})

	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)
}

func TestStore_LoadRangeIsInclusive(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.AppendBatch(ctx, []generic.Transaction{
		posting("p0", dec, "10"), posting("p1", jan, "20"), posting("p2", feb, "30"),
	}))

	txs, err := s.LoadRange(ctx, "emp-1", "retirement", jan, feb)
	require.NoError(t, err)

	require.Len(t, txs, 2)
	assert.Equal(t, generic.TransactionID("p1"), txs[0].ID)
	assert.Equal(t, generic.TransactionID("p2"), txs[1].ID)
}

func TestStore_WithTxRollsBack(t *testing.T) {
	// GIVEN: A transaction that writes and then fails
	ctx := context.Background()
	s := newStore(t)
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx generic.Store) error {
		require.NoError(t, tx.Append(ctx, posting("p1", jan, "100")))
		seen, err := tx.Load(ctx, "emp-1", "retirement")
		require.NoError(t, err)
		assert.Len(t, seen, 1, "writes are visible inside the transaction")
		return boom
	})

	// THEN: The write is gone
	assert.ErrorIs(t, err, boom)
	ok, err := s.Exists(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_WithTxCommits(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.WithTx(ctx, func(tx generic.Store) error {
		return tx.AppendBatch(ctx, []generic.Transaction{posting("p1", jan, "1"), posting("p2", feb, "2")})
	}))

	total, err := generic.NewLedger(s).TotalInRange(ctx, "emp-1", "retirement", generic.CalendarYear(2025), generic.UnitCurrency)
	require.NoError(t, err)
	assert.True(t, total.Value.Equal(decimal.NewFromInt(3)))
}

func TestStore_Reset(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Append(ctx, posting("p1", jan, "1")))

	require.NoError(t, s.Reset(ctx))

	recent, err := s.RecentTransactions(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

// =============================================================================
// PLAN RECORDS
// =============================================================================

func TestStore_PlanRecords(t *testing.T) {
	// GIVEN: A plan saved twice through the repository
	ctx := context.Background()
	s := newStore(t)
	repo := factory.NewPlanRepository(s)

	_, err := repo.SavePlanJSON(ctx, payroll.Traditional401kJSON("401k", "Traditional 401(k)", "23000", "50", "5"))
	require.NoError(t, err)
	_, err = repo.SavePlanJSON(ctx, payroll.Traditional401kJSON("401k", "Traditional 401(k)", "23500", "50", "5"))
	require.NoError(t, err)
	_, err = repo.SavePlanJSON(ctx, payroll.GroupRRSPJSON("rrsp", "Group RRSP", "100"))
	require.NoError(t, err)

	// THEN: The second save replaced the first and bumped the version
	rec, err := s.GetPlanRecord(ctx, "401k")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Version)

	plan, err := repo.GetPlan(ctx, "401k")
	require.NoError(t, err)
	assert.True(t, plan.AnnualEmployeeLimit.Equal(decimal.NewFromInt(23500)))

	plans, err := repo.ListPlans(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, "rrsp", plans[0].ID, "ordered by name")

	_, err = repo.GetPlan(ctx, "missing")
	assert.ErrorIs(t, err, generic.ErrPlanNotFound)
}

// =============================================================================
// SERVICE OVER SQLITE
// =============================================================================

func TestStore_FinalizeSurvivesReopen(t *testing.T) {
	// GIVEN: A file-backed store with one finalized period
	ctx := context.Background()
	path := t.TempDir() + "/payroll.db"
	s, err := sqlite.New(path)
	require.NoError(t, err)

	repo := factory.NewPlanRepository(s)
	_, err = repo.SavePlanJSON(ctx, payroll.Traditional401kJSON("401k", "Traditional 401(k)", "23000", "50", "5"))
	require.NoError(t, err)

	in := payroll.PayPeriodInput{
		SubjectID:    "emp-1",
		PlanID:       "401k",
		Jurisdiction: payroll.Jurisdiction{Region: "us", Subregion: "CA"},
		PayFrequency: payroll.FrequencyBiweekly,
		HoursWorked:  decimal.NewFromInt(40),
		HourlyRate:   decimal.NewFromInt(50),
		PeriodStart:  generic.NewTimePoint(2025, time.March, 1),
		PeriodEnd:    generic.NewTimePoint(2025, time.March, 14),
	}
	engine := payroll.NewEngine(payroll.DefaultProfileTable())
	svc := payroll.NewService(engine, generic.NewLedger(s), repo, payroll.WithLogger(zaptest.NewLogger(t)))
	first, err := svc.Finalize(ctx, in)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// WHEN: The store is reopened and the period finalized again
	s, err = sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	svc = payroll.NewService(engine, generic.NewLedger(s), factory.NewPlanRepository(s), payroll.WithLogger(zaptest.NewLogger(t)))
	again, err := svc.Finalize(ctx, in)
	require.NoError(t, err)

	// THEN: The archived payslip is returned and YTD counts it once
	assert.True(t, again.AlreadyFinalized)
	assert.Equal(t, first.Payslip.ID, again.Payslip.ID)

	totals, err := svc.YTD(ctx, "emp-1", 2025)
	require.NoError(t, err)
	assert.True(t, totals.Get(payroll.CodeRetirement).Equal(decimal.NewFromInt(100)), "5%% default of 2000, got %s", totals.Get(payroll.CodeRetirement))
}
