package payroll

import "github.com/shopspring/decimal"

// GrossResult is the regular/overtime split at full precision.
type GrossResult struct {
	RegularHours        decimal.Decimal
	OvertimeHours       decimal.Decimal
	RegularPay          decimal.Decimal
	OvertimePay         decimal.Decimal
	GrossBeforeVacation decimal.Decimal
}

// CalculateGross splits hours at the profile's overtime threshold and prices
// overtime at the profile multiplier. Hours keep full precision; nothing is
// rounded here.
func CalculateGross(hours, rate decimal.Decimal, p Profile) (GrossResult, error) {
	if hours.IsNegative() {
		return GrossResult{}, invalid("hours_worked", "cannot be negative, got %s", hours)
	}
	if rate.IsNegative() {
		return GrossResult{}, invalid("hourly_rate", "cannot be negative, got %s", rate)
	}
	if !p.OvertimeThresholdHours.IsPositive() {
		return GrossResult{}, invalid("overtime_threshold_hours", "must be positive")
	}

	regularHours := decimal.Min(hours, p.OvertimeThresholdHours)
	overtimeHours := decimal.Max(decimal.Zero, hours.Sub(p.OvertimeThresholdHours))

	multiplier := p.OvertimeMultiplier
	if multiplier.IsZero() {
		multiplier = DefaultOvertimeMultiplier
	}

	regularPay := regularHours.Mul(rate)
	overtimePay := overtimeHours.Mul(rate).Mul(multiplier)

	return GrossResult{
		RegularHours:        regularHours,
		OvertimeHours:       overtimeHours,
		RegularPay:          regularPay,
		OvertimePay:         overtimePay,
		GrossBeforeVacation: regularPay.Add(overtimePay),
	}, nil
}
