package payroll

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// JURISDICTION PROFILE - Per-region constants
// =============================================================================

const (
	RegionCanada       = "ca"
	RegionUnitedStates = "us"
)

// Profile holds the constants one calculation needs for a subregion. It is
// resolved once per calculation and passed explicitly through every step.
type Profile struct {
	RegionCode    string `json:"region_code"`
	SubregionCode string `json:"subregion_code"`
	Name          string `json:"name"`

	OvertimeThresholdHours decimal.Decimal `json:"overtime_threshold_hours"`
	OvertimeMultiplier     decimal.Decimal `json:"overtime_multiplier"`

	DefaultVacationPercent         decimal.Decimal `json:"default_vacation_percent"`
	VacationIncludedInGrossDefault bool            `json:"vacation_included_in_gross_default"`

	ApplicableCodes []Code `json:"applicable_deduction_codes"`

	// BasicPersonalAmount is annual; zero disables the exemption.
	BasicPersonalAmount decimal.Decimal `json:"basic_personal_amount"`

	// AnnualLimits caps statutory codes against YTD. Absent codes are uncapped.
	AnnualLimits map[Code]decimal.Decimal `json:"annual_limits,omitempty"`
}

// Jurisdiction returns the lookup key of the profile.
func (p Profile) Jurisdiction() Jurisdiction {
	return Jurisdiction{Region: p.RegionCode, Subregion: p.SubregionCode}.normalized()
}

// Applies reports whether code is a deduction this jurisdiction levies.
func (p Profile) Applies(c Code) bool {
	for _, a := range p.ApplicableCodes {
		if a == c {
			return true
		}
	}
	return false
}

// BPAPerPeriod spreads the annual basic personal amount over the pay frequency.
func (p Profile) BPAPerPeriod(f PayFrequency) decimal.Decimal {
	n := f.PeriodsPerYear()
	if n == 0 || !p.BasicPersonalAmount.IsPositive() {
		return decimal.Zero
	}
	return p.BasicPersonalAmount.Div(decimal.NewFromInt(int64(n)))
}

// LimitPolicy returns the annual limit for code, if the profile caps it.
func (p Profile) LimitPolicy(c Code) (generic.LimitPolicy, bool) {
	limit, ok := p.AnnualLimits[c]
	if !ok {
		return generic.LimitPolicy{}, false
	}
	return generic.LimitPolicy{
		AccountID:    generic.AccountID(c),
		Unit:         generic.UnitCurrency,
		AnnualLimit:  generic.NewAmountFromDecimal(limit, generic.UnitCurrency),
		Enabled:      true,
		PeriodConfig: generic.PeriodConfig{Type: generic.PeriodCalendarYear},
	}, true
}

// Validate checks the profile's constants are usable.
func (p Profile) Validate() error {
	field := "profile " + p.Jurisdiction().String()
	switch {
	case p.RegionCode == "" || p.SubregionCode == "":
		return invalid(field, "region and subregion codes are required")
	case !p.OvertimeThresholdHours.IsPositive():
		return invalid(field, "overtime threshold must be positive")
	case p.OvertimeMultiplier.LessThan(decimal.NewFromInt(1)):
		return invalid(field, "overtime multiplier must be at least 1")
	case !percentInRange(p.DefaultVacationPercent):
		return invalid(field, "default vacation percent must be within [0, 100]")
	case p.BasicPersonalAmount.IsNegative():
		return invalid(field, "basic personal amount cannot be negative")
	}
	for _, c := range p.ApplicableCodes {
		if _, ok := CategoryOf(c); !ok {
			return invalid(field, "unknown deduction code %q", c)
		}
	}
	for c, limit := range p.AnnualLimits {
		if limit.IsNegative() {
			return invalid(field, "annual limit for %s cannot be negative", c)
		}
	}
	return nil
}

func percentInRange(d decimal.Decimal) bool {
	return !d.IsNegative() && !d.GreaterThan(decimal.NewFromInt(100))
}

// =============================================================================
// PROFILE TABLE
// =============================================================================

// ProfileTable is a read-only lookup of profiles by (region, subregion).
type ProfileTable struct {
	profiles map[Jurisdiction]Profile
}

// NewProfileTable validates and indexes profiles. Later entries replace earlier
// ones with the same jurisdiction.
func NewProfileTable(profiles ...Profile) (*ProfileTable, error) {
	t := &ProfileTable{profiles: make(map[Jurisdiction]Profile, len(profiles))}
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		p.RegionCode = p.Jurisdiction().Region
		p.SubregionCode = p.Jurisdiction().Subregion
		t.profiles[p.Jurisdiction()] = p
	}
	return t, nil
}

// Lookup returns the profile for j. Unknown jurisdictions fail closed.
func (t *ProfileTable) Lookup(j Jurisdiction) (Profile, error) {
	n := j.normalized()
	if n.Region == "" {
		return Profile{}, invalid("jurisdiction.region", "is required")
	}
	if n.Subregion == "" {
		return Profile{}, invalid("jurisdiction.subregion", "is required")
	}
	p, ok := t.profiles[n]
	if !ok {
		return Profile{}, invalid("jurisdiction", "no profile for %s", n)
	}
	return p, nil
}

// List returns all profiles sorted by region then subregion.
func (t *ProfileTable) List() []Profile {
	out := make([]Profile, 0, len(t.profiles))
	for _, p := range t.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RegionCode != out[j].RegionCode {
			return out[i].RegionCode < out[j].RegionCode
		}
		return out[i].SubregionCode < out[j].SubregionCode
	})
	return out
}

// Merge returns a new table with overlay profiles replacing matching entries.
func (t *ProfileTable) Merge(overlay ...Profile) (*ProfileTable, error) {
	all := make([]Profile, 0, len(t.profiles)+len(overlay))
	all = append(all, t.List()...)
	all = append(all, overlay...)
	return NewProfileTable(all...)
}

// =============================================================================
// DEFAULT PROFILES
// =============================================================================

var (
	canadianProvinces = map[string]string{
		"AB": "Alberta", "BC": "British Columbia", "MB": "Manitoba",
		"NB": "New Brunswick", "NL": "Newfoundland and Labrador", "NS": "Nova Scotia",
		"NT": "Northwest Territories", "NU": "Nunavut", "ON": "Ontario",
		"PE": "Prince Edward Island", "QC": "Quebec", "SK": "Saskatchewan", "YT": "Yukon",
	}

	usStates = map[string]string{
		"AL": "Alabama", "AK": "Alaska", "AZ": "Arizona", "AR": "Arkansas", "CA": "California",
		"CO": "Colorado", "CT": "Connecticut", "DE": "Delaware", "DC": "District of Columbia",
		"FL": "Florida", "GA": "Georgia", "HI": "Hawaii", "ID": "Idaho", "IL": "Illinois",
		"IN": "Indiana", "IA": "Iowa", "KS": "Kansas", "KY": "Kentucky", "LA": "Louisiana",
		"ME": "Maine", "MD": "Maryland", "MA": "Massachusetts", "MI": "Michigan", "MN": "Minnesota",
		"MS": "Mississippi", "MO": "Missouri", "MT": "Montana", "NE": "Nebraska", "NV": "Nevada",
		"NH": "New Hampshire", "NJ": "New Jersey", "NM": "New Mexico", "NY": "New York",
		"NC": "North Carolina", "ND": "North Dakota", "OH": "Ohio", "OK": "Oklahoma", "OR": "Oregon",
		"PA": "Pennsylvania", "RI": "Rhode Island", "SC": "South Carolina", "SD": "South Dakota",
		"TN": "Tennessee", "TX": "Texas", "UT": "Utah", "VT": "Vermont", "VA": "Virginia",
		"WA": "Washington", "WV": "West Virginia", "WI": "Wisconsin", "WY": "Wyoming",
	}

	// States with no wage income tax.
	noStateIncomeTax = map[string]bool{
		"AK": true, "FL": true, "NV": true, "NH": true, "SD": true,
		"TN": true, "TX": true, "WA": true, "WY": true,
	}

	canadianFortyHourWeek = map[string]bool{"QC": true, "MB": true}
)

// DefaultBasicPersonalAmount is the annual BPA applied to Canadian tax percents.
var DefaultBasicPersonalAmount = decimal.NewFromInt(15000)

// DefaultOvertimeMultiplier is time and a half.
var DefaultOvertimeMultiplier = decimal.RequireFromString("1.5")

// DefaultProfiles returns the compiled-in profile table contents.
func DefaultProfiles() []Profile {
	profiles := make([]Profile, 0, len(canadianProvinces)+len(usStates))

	for code, name := range canadianProvinces {
		threshold := decimal.NewFromInt(44)
		if canadianFortyHourWeek[code] {
			threshold = decimal.NewFromInt(40)
		}
		codes := []Code{CodeFederalTax, CodeProvincialTax, CodeCPP, CodeEI, CodeRetirement}
		if code == "QC" {
			codes = []Code{CodeFederalTax, CodeProvincialTax, CodeQPP, CodeEI, CodeRQAP, CodeRetirement}
		}
		profiles = append(profiles, Profile{
			RegionCode:                     RegionCanada,
			SubregionCode:                  code,
			Name:                           name,
			OvertimeThresholdHours:         threshold,
			OvertimeMultiplier:             DefaultOvertimeMultiplier,
			DefaultVacationPercent:         decimal.NewFromInt(4),
			VacationIncludedInGrossDefault: false,
			ApplicableCodes:                codes,
			BasicPersonalAmount:            DefaultBasicPersonalAmount,
		})
	}

	for code, name := range usStates {
		codes := []Code{CodeFederalTax}
		if !noStateIncomeTax[code] {
			codes = append(codes, CodeStateTax)
		}
		codes = append(codes, CodeFICA, CodeMedicare, CodeRetirement)
		profiles = append(profiles, Profile{
			RegionCode:                     RegionUnitedStates,
			SubregionCode:                  code,
			Name:                           name,
			OvertimeThresholdHours:         decimal.NewFromInt(40),
			OvertimeMultiplier:             DefaultOvertimeMultiplier,
			DefaultVacationPercent:         decimal.Zero,
			VacationIncludedInGrossDefault: true,
			ApplicableCodes:                codes,
		})
	}

	return profiles
}

// DefaultProfileTable returns a table of DefaultProfiles.
func DefaultProfileTable() *ProfileTable {
	t, err := NewProfileTable(DefaultProfiles()...)
	if err != nil {
		panic("payroll: invalid default profiles: " + err.Error())
	}
	return t
}

// ParseCode returns the code for s, which must be a known deduction code.
func ParseCode(s string) (Code, bool) {
	c := Code(strings.ToLower(strings.TrimSpace(s)))
	_, ok := CategoryOf(c)
	return c, ok
}
