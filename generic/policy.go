/*
policy.go - Annual limit policies and cap arithmetic

PURPOSE:
  A LimitPolicy says how much may be posted to an account within one limit
  year. Retirement plans and statutory contributions with an annual maximum
  are both expressed this way.

CAP RULE:
  applied         = max(0, min(requested, limit - used))
  remaining_after = max(0, limit - used - applied)

  Once remaining_after reaches zero, every later request in the same limit
  year applies zero. When a policy is disabled the requested amount is
  applied unchanged and nothing is read from the ledger.

EXAMPLE:
  policy := LimitPolicy{
      AccountID:   "retirement",
      Unit:        UnitCurrency,
      AnnualLimit: NewAmount(23000, UnitCurrency),
      Enabled:     true,
  }
  result := policy.Apply(NewAmount(120, UnitCurrency), NewAmount(22900, UnitCurrency))
  // result.Applied = 100, result.RemainingAfter = 0, result.Capped = true
*/
package generic

// LimitPolicy defines an annual ceiling for one account.
type LimitPolicy struct {
	AccountID    AccountID
	Unit         Unit
	AnnualLimit  Amount
	Enabled      bool
	PeriodConfig PeriodConfig
}

// CapResult is the outcome of applying a LimitPolicy to one request.
type CapResult struct {
	Requested      Amount
	Applied        Amount
	RemainingAfter Amount
	Capped         bool
	Enforced       bool
}

// Apply caps requested against the headroom left after used.
func (p LimitPolicy) Apply(requested, used Amount) CapResult {
	if !p.Enabled {
		return CapResult{
			Requested:      requested,
			Applied:        requested,
			RemainingAfter: ZeroAmount(requested.Unit),
		}
	}

	headroom := p.AnnualLimit.Sub(used).ClampZero()
	applied := requested.Min(headroom).ClampZero()
	remaining := p.AnnualLimit.Sub(used).Sub(applied).ClampZero()

	return CapResult{
		Requested:      requested,
		Applied:        applied,
		RemainingAfter: remaining,
		Capped:         applied.LessThan(requested),
		Enforced:       true,
	}
}

// LimitYear returns the limit year containing date.
func (p LimitPolicy) LimitYear(date TimePoint) Period {
	return p.PeriodConfig.PeriodFor(date)
}
