package factory

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/payroll"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// JURISDICTION OVERLAY - YAML patches over the compiled-in profiles
// =============================================================================
//
// version: 1
// profiles:
//   - region: ca
//     subregion: ON
//     annual_limits:
//       cpp: 4034.10
//       ei: 1077.48
//   - region: us
//     subregion: PR
//     name: Puerto Rico
//     overtime_threshold_hours: 40
//     default_vacation_percent: 0
//     vacation_included_in_gross: true
//     applicable_codes: [federal_tax, fica, medicare, retirement]
//
// An entry for a known jurisdiction patches only the fields it sets. An
// entry for a new jurisdiction must carry everything a profile needs.

const overlayVersion = 1

type overlayFile struct {
	Version  int              `yaml:"version"`
	Profiles []ProfileOverlay `yaml:"profiles"`
}

// ProfileOverlay is one YAML profile entry. Unset fields keep the base value.
type ProfileOverlay struct {
	Region    string `yaml:"region"`
	Subregion string `yaml:"subregion"`
	Name      string `yaml:"name,omitempty"`

	OvertimeThresholdHours  *yamlDecimal `yaml:"overtime_threshold_hours,omitempty"`
	OvertimeMultiplier      *yamlDecimal `yaml:"overtime_multiplier,omitempty"`
	DefaultVacationPercent  *yamlDecimal `yaml:"default_vacation_percent,omitempty"`
	VacationIncludedInGross *bool        `yaml:"vacation_included_in_gross,omitempty"`
	BasicPersonalAmount     *yamlDecimal `yaml:"basic_personal_amount,omitempty"`

	ApplicableCodes []string               `yaml:"applicable_codes,omitempty"`
	AnnualLimits    map[string]yamlDecimal `yaml:"annual_limits,omitempty"`
}

// yamlDecimal reads a YAML scalar as an exact decimal, never via float64.
type yamlDecimal struct {
	decimal.Decimal
}

func (d *yamlDecimal) UnmarshalYAML(node *yaml.Node) error {
	v, err := decimal.NewFromString(node.Value)
	if err != nil {
		return errors.Wrapf(err, "line %d: %q is not a decimal", node.Line, node.Value)
	}
	d.Decimal = v
	return nil
}

// LoadProfiles reads an overlay file and applies it to base.
func LoadProfiles(path string, base *payroll.ProfileTable) (*payroll.ProfileTable, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read jurisdictions file")
	}
	return ParseProfiles(b, base)
}

// ProfileTable returns the built-in profiles with the overlay at path applied.
// An empty path means no overlay.
func ProfileTable(path string) (*payroll.ProfileTable, error) {
	base := payroll.DefaultProfileTable()
	if path == "" {
		return base, nil
	}
	return LoadProfiles(path, base)
}

// ParseProfiles applies a YAML overlay document to base.
func ParseProfiles(doc []byte, base *payroll.ProfileTable) (*payroll.ProfileTable, error) {
	var f overlayFile
	if err := yaml.Unmarshal(doc, &f); err != nil {
		return nil, errors.Wrap(err, "parse jurisdictions file")
	}
	if f.Version != overlayVersion {
		return nil, errors.Errorf("jurisdictions: unsupported version %d", f.Version)
	}

	profiles := make([]payroll.Profile, 0, len(f.Profiles))
	for i, o := range f.Profiles {
		p, err := o.apply(base)
		if err != nil {
			return nil, errors.Wrapf(err, "jurisdictions: profile %d", i)
		}
		profiles = append(profiles, p)
	}

	table, err := base.Merge(profiles...)
	if err != nil {
		return nil, errors.Wrap(err, "jurisdictions")
	}
	return table, nil
}

func (o ProfileOverlay) apply(base *payroll.ProfileTable) (payroll.Profile, error) {
	j := payroll.Jurisdiction{Region: o.Region, Subregion: o.Subregion}
	if strings.TrimSpace(o.Region) == "" || strings.TrimSpace(o.Subregion) == "" {
		return payroll.Profile{}, errors.New("region and subregion are required")
	}

	p, err := base.Lookup(j)
	if err != nil {
		p = payroll.Profile{
			RegionCode:         o.Region,
			SubregionCode:      o.Subregion,
			OvertimeMultiplier: payroll.DefaultOvertimeMultiplier,
		}
	}

	if o.Name != "" {
		p.Name = o.Name
	}
	if o.OvertimeThresholdHours != nil {
		p.OvertimeThresholdHours = o.OvertimeThresholdHours.Decimal
	}
	if o.OvertimeMultiplier != nil {
		p.OvertimeMultiplier = o.OvertimeMultiplier.Decimal
	}
	if o.DefaultVacationPercent != nil {
		p.DefaultVacationPercent = o.DefaultVacationPercent.Decimal
	}
	if o.VacationIncludedInGross != nil {
		p.VacationIncludedInGrossDefault = *o.VacationIncludedInGross
	}
	if o.BasicPersonalAmount != nil {
		p.BasicPersonalAmount = o.BasicPersonalAmount.Decimal
	}

	if o.ApplicableCodes != nil {
		codes := make([]payroll.Code, 0, len(o.ApplicableCodes))
		for _, s := range o.ApplicableCodes {
			c, ok := payroll.ParseCode(s)
			if !ok {
				return payroll.Profile{}, errors.Errorf("unknown deduction code %q", s)
			}
			codes = append(codes, c)
		}
		p.ApplicableCodes = codes
	}

	if o.AnnualLimits != nil {
		limits := make(map[payroll.Code]decimal.Decimal, len(p.AnnualLimits)+len(o.AnnualLimits))
		for c, v := range p.AnnualLimits {
			limits[c] = v
		}
		for s, v := range o.AnnualLimits {
			c, ok := payroll.ParseCode(s)
			if !ok {
				return payroll.Profile{}, errors.Errorf("annual limit for unknown code %q", s)
			}
			limits[c] = v.Decimal
		}
		p.AnnualLimits = limits
	}
	return p, nil
}
