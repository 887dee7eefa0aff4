/*
balance.go - Remaining headroom under an annual limit

PURPOSE:
  Answers "how much more may be posted to this account this year?" by
  replaying the ledger for the limit year. Headroom is always derived from
  postings; nothing caches a running total.

COMPONENTS:
  Limit: The policy's annual ceiling
  Used:  Sum of postings in the limit year (contributions, adjustments, reversals)

  Remaining = max(0, Limit - Used)

SEE ALSO:
  - policy.go: LimitPolicy and the cap rule
  - payroll/service.go: Re-checks headroom before a finalized period is posted
*/
package generic

import "context"

// Headroom is the state of one account against its annual limit.
type Headroom struct {
	EntityID  EntityID
	AccountID AccountID
	Period    Period
	Limit     Amount
	Used      Amount
}

// Remaining returns what can still be posted in the period.
func (h Headroom) Remaining() Amount {
	return h.Limit.Sub(h.Used).ClampZero()
}

// Exhausted reports whether nothing more may be posted.
func (h Headroom) Exhausted() bool {
	return !h.Remaining().IsPositive()
}

// CanPost reports whether amount fits in the remaining headroom.
func (h Headroom) CanPost(amount Amount) bool {
	return !amount.GreaterThan(h.Remaining())
}

// HeadroomCalculator computes headroom from the ledger.
type HeadroomCalculator struct {
	Ledger Ledger
}

// Calculate returns the headroom of policy's account for the limit year containing asOf.
func (hc *HeadroomCalculator) Calculate(ctx context.Context, entityID EntityID, policy LimitPolicy, asOf TimePoint) (Headroom, error) {
	period := policy.LimitYear(asOf)
	used, err := hc.Ledger.TotalInRange(ctx, entityID, policy.AccountID, period, policy.Unit)
	if err != nil {
		return Headroom{}, err
	}
	return Headroom{
		EntityID:  entityID,
		AccountID: policy.AccountID,
		Period:    period,
		Limit:     policy.AnnualLimit,
		Used:      used,
	}, nil
}
