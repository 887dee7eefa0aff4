package payroll_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/generic/store"
	"github.com/warp/payroll-engine/payroll"
	"go.uber.org/zap/zaptest"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type memoryPlans struct {
	mu    sync.Mutex
	plans map[string]payroll.RetirementPlan
}

func newMemoryPlans(plans ...*payroll.RetirementPlan) *memoryPlans {
	m := &memoryPlans{plans: make(map[string]payroll.RetirementPlan)}
	for _, p := range plans {
		m.plans[p.ID] = *p
	}
	return m
}

func (m *memoryPlans) SavePlan(_ context.Context, plan payroll.RetirementPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[plan.ID] = plan
	return nil
}

func (m *memoryPlans) GetPlan(_ context.Context, id string) (*payroll.RetirementPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, generic.ErrPlanNotFound
	}
	return &p, nil
}

func (m *memoryPlans) ListPlans(_ context.Context) ([]payroll.RetirementPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]payroll.RetirementPlan, 0, len(m.plans))
	for _, p := range m.plans {
		out = append(out, p)
	}
	return out, nil
}

func newTestService(t *testing.T, plans ...*payroll.RetirementPlan) *payroll.Service {
	ledger := generic.NewLedger(store.NewMemory())
	return payroll.NewService(
		payroll.NewEngine(payroll.DefaultProfileTable()),
		ledger,
		newMemoryPlans(plans...),
		payroll.WithLogger(zaptest.NewLogger(t)),
	)
}

// withRetirementLimit returns a service whose us/CA profile caps retirement
// contributions at limit.
func withRetirementLimit(t *testing.T, limit string, plans ...*payroll.RetirementPlan) *payroll.Service {
	t.Helper()
	base := payroll.DefaultProfileTable()
	ca, err := base.Lookup(payroll.Jurisdiction{Region: "us", Subregion: "CA"})
	require.NoError(t, err)
	limits := map[payroll.Code]decimal.Decimal{payroll.CodeRetirement: d(limit)}
	for c, v := range ca.AnnualLimits {
		if c != payroll.CodeRetirement {
			limits[c] = v
		}
	}
	ca.AnnualLimits = limits
	table, err := base.Merge(ca)
	require.NoError(t, err)

	return payroll.NewService(
		payroll.NewEngine(table),
		generic.NewLedger(store.NewMemory()),
		newMemoryPlans(plans...),
		payroll.WithLogger(zaptest.NewLogger(t)),
	)
}

// biweekly returns the n-th two-week period starting at start.
func biweekly(in payroll.PayPeriodInput, start generic.TimePoint, n int) payroll.PayPeriodInput {
	in.PeriodStart = start.AddDays(14 * n)
	in.PeriodEnd = in.PeriodStart.AddDays(13)
	return in
}

func retirementInput(planID, flat string) payroll.PayPeriodInput {
	in := input("us", "CA", "40", "50")
	in.PlanID = planID
	in.RetirementElection = &payroll.Election{Mode: payroll.ElectionFlat, Value: d(flat)}
	return in
}

// =============================================================================
// FINALIZE
// =============================================================================

func TestService_FinalizePostsYTD(t *testing.T) {
	// GIVEN: A 6% election on $2000 gross
	ctx := context.Background()
	svc := newTestService(t, plan401k("23000"))
	in := input("us", "CA", "40", "50")
	in.PlanID = "401k"
	in.RetirementElection = &payroll.Election{Mode: payroll.ElectionPercent, Value: d("6")}
	in.DeductionInputs = []payroll.DeductionInput{amount(payroll.CodeFederalTax, "210"), percent(payroll.CodeFICA, "6.2")}

	// WHEN: The period is finalized
	res, err := svc.Finalize(ctx, in)
	require.NoError(t, err)
	assert.False(t, res.AlreadyFinalized)
	assert.NotEmpty(t, res.Payslip.ID)
	assert.NotEmpty(t, res.Payslip.FinalizedAt)

	// THEN: YTD reflects exactly what the payslip withheld
	totals, err := svc.YTD(ctx, "emp-1", 2025)
	require.NoError(t, err)
	assertDec(t, "120", totals.Get(payroll.CodeRetirement))
	assertDec(t, "210", totals.Get(payroll.CodeFederalTax))
	assertDec(t, "124", totals.Get(payroll.CodeFICA))
	assertDec(t, "2000", totals.Get(payroll.AccountGross))
	assertDec(t, res.Payslip.NetPay.String(), totals.Get(payroll.AccountNet))
	assert.True(t, totals.Get(payroll.CodeMedicare).IsZero())
}

func TestService_FinalizeIsIdempotent(t *testing.T) {
	// GIVEN: A period finalized once
	ctx := context.Background()
	svc := newTestService(t, plan401k("23000"))
	in := retirementInput("401k", "120")
	first, err := svc.Finalize(ctx, in)
	require.NoError(t, err)

	// WHEN: The same period is finalized again
	second, err := svc.Finalize(ctx, in)
	require.NoError(t, err)

	// THEN: The archived payslip comes back and nothing is posted twice
	assert.True(t, second.AlreadyFinalized)
	assert.Equal(t, first.Payslip.ID, second.Payslip.ID)
	assertDec(t, first.Payslip.NetPay.String(), second.Payslip.NetPay)

	totals, err := svc.YTD(ctx, "emp-1", 2025)
	require.NoError(t, err)
	assertDec(t, "120", totals.Get(payroll.CodeRetirement))
}

func TestService_ConcurrentFinalizeCommitsOnce(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, plan401k("23000"))
	in := retirementInput("401k", "120")

	var wg sync.WaitGroup
	results := make([]payroll.FinalizeResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Finalize(ctx, in)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	fresh := 0
	for _, r := range results {
		if !r.AlreadyFinalized {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)

	totals, err := svc.YTD(ctx, "emp-1", 2025)
	require.NoError(t, err)
	assertDec(t, "120", totals.Get(payroll.CodeRetirement))
}

func TestService_CalculateNeverMutatesYTD(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, plan401k("23000"))

	for i := 0; i < 3; i++ {
		_, err := svc.Calculate(ctx, retirementInput("401k", "500"))
		require.NoError(t, err)
	}

	totals, err := svc.YTD(ctx, "emp-1", 2025)
	require.NoError(t, err)
	assert.Empty(t, totals.ByCode)
}

func TestService_LimitExhaustsAcrossPeriods(t *testing.T) {
	// GIVEN: A $300 limit and $120 per period
	ctx := context.Background()
	svc := newTestService(t, plan401k("300"))
	start := generic.NewTimePoint(2025, time.January, 1)

	var applied []string
	for n := 0; n < 4; n++ {
		res, err := svc.Finalize(ctx, biweekly(retirementInput("401k", "120"), start, n))
		require.NoError(t, err)
		applied = append(applied, res.Payslip.Deduction(payroll.CodeRetirement).StringFixed(2))
	}

	// THEN: The third period takes the remainder and the fourth nothing
	assert.Equal(t, []string{"120.00", "120.00", "60.00", "0.00"}, applied)

	totals, err := svc.YTD(ctx, "emp-1", 2025)
	require.NoError(t, err)
	assertDec(t, "300", totals.Get(payroll.CodeRetirement))
}

func TestService_LimitResetsWithNewYear(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, plan401k("200"))

	dec := biweekly(retirementInput("401k", "150"), generic.NewTimePoint(2024, time.December, 2), 0)
	_, err := svc.Finalize(ctx, dec)
	require.NoError(t, err)
	dec2 := biweekly(retirementInput("401k", "150"), generic.NewTimePoint(2024, time.December, 2), 1)
	res, err := svc.Finalize(ctx, dec2)
	require.NoError(t, err)
	assertDec(t, "50", res.Payslip.Deduction(payroll.CodeRetirement))

	jan := biweekly(retirementInput("401k", "150"), generic.NewTimePoint(2025, time.January, 6), 0)
	res, err = svc.Finalize(ctx, jan)
	require.NoError(t, err)
	assertDec(t, "150", res.Payslip.Deduction(payroll.CodeRetirement))

	totals, err := svc.YTD(ctx, "emp-1", 2025)
	require.NoError(t, err)
	assertDec(t, "150", totals.Get(payroll.CodeRetirement))
}

func TestService_ProfileRetirementLimit(t *testing.T) {
	// GIVEN: A jurisdiction capping retirement at $100 and no plan
	ctx := context.Background()
	svc := withRetirementLimit(t, "100")
	start := generic.NewTimePoint(2025, time.January, 6)

	for n, want := range []struct {
		applied string
		capped  bool
	}{{"80", false}, {"20", true}, {"0", true}} {
		in := biweekly(retirementInput("", "80"), start, n)

		// WHEN: Each period is previewed and then finalized
		preview, err := svc.Calculate(ctx, in)
		require.NoError(t, err)
		res, err := svc.Finalize(ctx, in)
		require.NoError(t, err, "period %d", n)

		// THEN: Calculate discloses the cap and Finalize commits the same amount
		assertDec(t, want.applied, preview.Deduction(payroll.CodeRetirement), "period %d", n)
		flag, ok := preview.CappedContributions[payroll.CodeRetirement]
		require.True(t, ok, "period %d", n)
		assert.Equal(t, want.capped, flag.Capped, "period %d", n)
		assertDec(t, want.applied, res.Payslip.Deduction(payroll.CodeRetirement), "period %d", n)
	}

	totals, err := svc.YTD(ctx, "emp-1", 2025)
	require.NoError(t, err)
	assertDec(t, "100", totals.Get(payroll.CodeRetirement))
}

func TestService_LowerOfProfileAndPlanLimit(t *testing.T) {
	ctx := context.Background()
	svc := withRetirementLimit(t, "100", plan401k("300"))

	res, err := svc.Finalize(ctx, retirementInput("401k", "150"))
	require.NoError(t, err)

	assertDec(t, "100", res.Payslip.Deduction(payroll.CodeRetirement))
	flag := res.Payslip.CappedContributions[payroll.CodeRetirement]
	assert.True(t, flag.Capped)
	assertDec(t, "0", flag.RemainingAfter)
}

func TestService_FiscalYearPlan(t *testing.T) {
	// GIVEN: A plan whose limit year starts in April
	ctx := context.Background()
	plan := plan401k("200")
	plan.LimitPeriod = generic.PeriodConfig{Type: generic.PeriodFiscalYear, FiscalYearStartMonth: time.April}
	svc := newTestService(t, plan)

	march := biweekly(retirementInput("401k", "150"), generic.NewTimePoint(2025, time.March, 3), 0)
	_, err := svc.Finalize(ctx, march)
	require.NoError(t, err)

	// WHEN: A period ending in April is calculated
	april := biweekly(retirementInput("401k", "150"), generic.NewTimePoint(2025, time.April, 7), 0)
	p, err := svc.Calculate(ctx, april)
	require.NoError(t, err)

	// THEN: The March contribution no longer counts
	assertDec(t, "150", p.Deduction(payroll.CodeRetirement))
	assert.False(t, p.HasWarning(payroll.WarningCapExceeded))
}

func TestService_PayslipsAreArchived(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	start := generic.NewTimePoint(2025, time.January, 1)

	for _, n := range []int{2, 0, 1} {
		_, err := svc.Finalize(ctx, biweekly(input("ca", "ON", "40", "30"), start, n))
		require.NoError(t, err)
	}

	slips, err := svc.Payslips(ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, slips, 3)
	for i, p := range slips {
		assert.True(t, p.PeriodStart.Equal(start.AddDays(14*i)))
		assertDec(t, "1200", p.GrossPay)
		assert.NoError(t, payroll.CheckReconciliation(p))
	}
}

func TestService_InvalidRequests(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Calculate(ctx, retirementInput("missing", "100"))
	assert.True(t, payroll.IsInvalidInput(err), "unknown plan")

	noPeriod := input("ca", "ON", "40", "30")
	noPeriod.PeriodStart, noPeriod.PeriodEnd = generic.TimePoint{}, generic.TimePoint{}
	_, err = svc.Finalize(ctx, noPeriod)
	assert.True(t, payroll.IsInvalidInput(err), "finalize without period")

	noSubject := input("ca", "ON", "40", "30")
	noSubject.SubjectID = ""
	_, err = svc.Calculate(ctx, noSubject)
	assert.True(t, payroll.IsInvalidInput(err), "missing subject")

	_, err = svc.YTD(ctx, "", 2025)
	assert.True(t, payroll.IsInvalidInput(err), "ytd without subject")
}
