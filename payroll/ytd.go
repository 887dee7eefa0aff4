/*
ytd.go - Year-to-date totals backed by the ledger

PURPOSE:
  Wraps the generic ledger with payroll posting rules. A finalized pay
  period becomes one batch: a contribution per non-zero deduction code,
  earning postings for gross, vacation, additions, reimbursements and net,
  and a period_close marker that archives the payslip itself.

IDEMPOTENCY:
  Every posting of a period shares the prefix finalize:{subject}:{start_end}.
  Posting the same period twice is rejected by the ledger as a whole batch,
  so a retried finalize can never double-count a contribution.

LIMIT YEARS:
  Totals are summed over the limit year of each code. Codes without a policy
  use the calendar year; a retirement plan may set a fiscal year instead.

SEE ALSO:
  - generic/ledger.go: Append-only log and duplicate key rejection
  - service.go: Serializes finalizes and re-checks headroom before Commit
*/
package payroll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// metaPayslip is the metadata key of the archived payslip on a period_close marker.
const metaPayslip = "payslip"

// YTDTotals is what a subject has had posted to each code in a year.
type YTDTotals struct {
	SubjectID string                   `json:"subject_id"`
	Year      int                      `json:"year"`
	ByCode    map[Code]decimal.Decimal `json:"by_code"`
}

// Get returns the total for c, zero when nothing was posted.
func (t YTDTotals) Get(c Code) decimal.Decimal {
	if t.ByCode == nil {
		return decimal.Zero
	}
	return t.ByCode[c]
}

// YTDAccumulator reads and posts payroll totals through the ledger.
type YTDAccumulator struct {
	ledger generic.Ledger
}

func NewYTDAccumulator(ledger generic.Ledger) *YTDAccumulator {
	return &YTDAccumulator{ledger: ledger}
}

// Totals returns calendar-year totals for every code with postings.
func (a *YTDAccumulator) Totals(ctx context.Context, subject string, year int) (YTDTotals, error) {
	return a.TotalsAsOf(ctx, subject, generic.NewTimePoint(year, 1, 1))
}

// TotalsAsOf returns totals for the limit year containing asOf. A policy for
// a code replaces the calendar year with the policy's limit year.
func (a *YTDAccumulator) TotalsAsOf(ctx context.Context, subject string, asOf generic.TimePoint, policies ...generic.LimitPolicy) (YTDTotals, error) {
	limitYears := make(map[generic.AccountID]generic.Period, len(policies))
	for _, p := range policies {
		limitYears[p.AccountID] = p.LimitYear(asOf)
	}

	totals := YTDTotals{
		SubjectID: subject,
		Year:      asOf.Year(),
		ByCode:    make(map[Code]decimal.Decimal),
	}
	for _, rt := range generic.ListResourcesByDomain(Domain) {
		code := Code(rt.ResourceID())
		if code == AccountPeriodClose {
			continue
		}
		period, ok := limitYears[generic.AccountID(code)]
		if !ok {
			period = generic.CalendarYear(asOf.Year())
		}
		sum, err := a.ledger.TotalInRange(ctx, generic.EntityID(subject), generic.AccountID(code), period, generic.UnitCurrency)
		if err != nil {
			return YTDTotals{}, fmt.Errorf("ytd %s for %s: %w", code, subject, err)
		}
		if !sum.IsZero() {
			totals.ByCode[code] = sum.Value
		}
	}
	return totals, nil
}

// Commit posts a finalized payslip. It returns false without error when the
// period was already committed.
func (a *YTDAccumulator) Commit(ctx context.Context, p Payslip) (bool, error) {
	txs, err := postings(p)
	if err != nil {
		return false, err
	}
	err = a.ledger.AppendBatch(ctx, txs)
	if errors.Is(err, generic.ErrDuplicateIdempotencyKey) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("commit %s: %w", finalizeKey(p.SubjectID, p.Period()), err)
	}
	return true, nil
}

// Payslips returns the archived payslips of a subject, oldest period first.
func (a *YTDAccumulator) Payslips(ctx context.Context, subject string) ([]Payslip, error) {
	markers, err := a.ledger.Transactions(ctx, generic.EntityID(subject), generic.AccountID(AccountPeriodClose))
	if err != nil {
		return nil, err
	}
	out := make([]Payslip, 0, len(markers))
	for _, tx := range markers {
		p, err := archived(tx)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PeriodStart.Before(out[j].PeriodStart)
	})
	return out, nil
}

// Finalized returns the archived payslip for a period, if any.
func (a *YTDAccumulator) Finalized(ctx context.Context, subject string, period generic.Period) (*Payslip, error) {
	markers, err := a.ledger.TransactionsInRange(ctx, generic.EntityID(subject), generic.AccountID(AccountPeriodClose), generic.Period{Start: period.End, End: period.End})
	if err != nil {
		return nil, err
	}
	key := finalizeKey(subject, period)
	for _, tx := range markers {
		if tx.IdempotencyKey != key {
			continue
		}
		p, err := archived(tx)
		if err != nil {
			return nil, err
		}
		return &p, nil
	}
	return nil, nil
}

func finalizeKey(subject string, period generic.Period) string {
	return "finalize:" + subject + ":" + period.Key()
}

// postings builds the batch for one finalized payslip.
func postings(p Payslip) ([]generic.Transaction, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("archive payslip: %w", err)
	}

	key := finalizeKey(p.SubjectID, p.Period())
	entity := generic.EntityID(p.SubjectID)
	at := p.PeriodEnd
	now := generic.Today()

	posting := func(code Code, typ generic.TransactionType, v decimal.Decimal) generic.Transaction {
		return generic.Transaction{
			ID:             generic.TransactionID(uuid.NewString()),
			EntityID:       entity,
			AccountID:      generic.AccountID(code),
			ResourceType:   code,
			EffectiveAt:    at,
			Delta:          generic.NewAmountFromDecimal(v, generic.UnitCurrency),
			Type:           typ,
			ReferenceID:    p.ID,
			IdempotencyKey: key + ":" + string(code),
			CreatedBy:      "payroll",
			CreatedAt:      now,
		}
	}

	byCode := make(map[Code]decimal.Decimal)
	var order []Code
	for _, l := range p.Deductions {
		if l.Amount.IsZero() {
			continue
		}
		if _, seen := byCode[l.Code]; !seen {
			order = append(order, l.Code)
		}
		byCode[l.Code] = byCode[l.Code].Add(l.Amount)
	}

	var txs []generic.Transaction
	for _, code := range order {
		txs = append(txs, posting(code, generic.TxContribution, byCode[code]))
	}

	earnings := []struct {
		code Code
		v    decimal.Decimal
	}{
		{AccountGross, p.GrossPay},
		{AccountVacation, p.VacationPay},
		{AccountTaxableAdditions, p.TaxableAdditions},
		{AccountReimbursements, p.NonTaxableReimbursements},
		{AccountNet, p.NetPay},
		{AccountEmployerMatch, p.EmployerContributions[CodeRetirement]},
	}
	for _, e := range earnings {
		if e.v.IsZero() {
			continue
		}
		txs = append(txs, posting(e.code, generic.TxEarning, e.v))
	}

	marker := posting(AccountPeriodClose, generic.TxPeriodClose, decimal.Zero)
	marker.IdempotencyKey = key
	marker.Reason = "pay period " + p.Period().String() + " finalized"
	marker.Metadata = map[string]string{metaPayslip: string(body)}
	return append(txs, marker), nil
}

func archived(tx generic.Transaction) (Payslip, error) {
	var p Payslip
	if err := json.Unmarshal([]byte(tx.Metadata[metaPayslip]), &p); err != nil {
		return Payslip{}, fmt.Errorf("archived payslip %s: %w", tx.ID, err)
	}
	return p, nil
}
