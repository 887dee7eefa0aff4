/*
Package factory converts stored configuration into payroll values.

PURPOSE:
  Retirement plans are kept as JSON records so an admin can change an
  employer's plan without a deploy, and jurisdiction constants can be
  patched with a YAML overlay. This package parses both and validates the
  result before the engine ever sees it.

PLAN JSON:
  {
    "id": "401k-standard",
    "name": "Traditional 401(k)",
    "type": "401k_traditional",
    "enable_ytd_caps": true,
    "annual_employee_limit": "23000",
    "period_type": "calendar_year",
    "employer_match_percent": "50",
    "default_election": {"mode": "percent", "value": "5"}
  }

  Amounts may be JSON strings or numbers; both are read as exact decimals.

USAGE:
  f := factory.NewPlanFactory()
  plan, err := f.ParsePlan(payroll.Traditional401kJSON("401k", "401(k)", "23000", "50", "5"))

SEE ALSO:
  - payroll/plan.go: RetirementPlan
  - payroll/plans.go: Preset plan JSON
  - jurisdiction.go: YAML profile overlay
*/
package factory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PlanJSON is the JSON representation of a retirement plan.
type PlanJSON struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	Type                 string          `json:"type"`
	EnableYTDCaps        bool            `json:"enable_ytd_caps"`
	AnnualEmployeeLimit  decimal.Decimal `json:"annual_employee_limit"`
	PeriodType           string          `json:"period_type,omitempty"`
	FiscalYearStart      int             `json:"fiscal_year_start,omitempty"` // Month 1-12
	EmployerMatchPercent decimal.Decimal `json:"employer_match_percent"`
	DefaultElection      *ElectionJSON   `json:"default_election,omitempty"`
}

// ElectionJSON is a default contribution election.
type ElectionJSON struct {
	Mode  string          `json:"mode"`
	Value decimal.Decimal `json:"value"`
}

// =============================================================================
// PLAN FACTORY
// =============================================================================

// PlanFactory converts JSON plans to payroll.RetirementPlan.
type PlanFactory struct{}

func NewPlanFactory() *PlanFactory {
	return &PlanFactory{}
}

// ParsePlan parses and validates a JSON plan.
func (f *PlanFactory) ParsePlan(jsonStr string) (*payroll.RetirementPlan, error) {
	var pj PlanJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return nil, errors.Wrap(err, "failed to parse plan JSON")
	}
	return f.FromJSON(pj)
}

// FromJSON converts PlanJSON into a validated plan.
func (f *PlanFactory) FromJSON(pj PlanJSON) (*payroll.RetirementPlan, error) {
	plan := &payroll.RetirementPlan{
		ID:                   pj.ID,
		Name:                 pj.Name,
		Type:                 parsePlanType(pj.Type),
		EnableYTDCaps:        pj.EnableYTDCaps,
		AnnualEmployeeLimit:  pj.AnnualEmployeeLimit,
		LimitPeriod:          parsePeriodConfig(pj.PeriodType, pj.FiscalYearStart),
		EmployerMatchPercent: pj.EmployerMatchPercent,
		DefaultElection:      payroll.Election{Mode: payroll.ElectionNone},
	}
	if pj.DefaultElection != nil {
		plan.DefaultElection = payroll.Election{
			Mode:  payroll.ElectionMode(pj.DefaultElection.Mode),
			Value: pj.DefaultElection.Value,
		}
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// ToJSON converts a plan to PlanJSON.
func (f *PlanFactory) ToJSON(plan payroll.RetirementPlan) PlanJSON {
	pj := PlanJSON{
		ID:                   plan.ID,
		Name:                 plan.Name,
		Type:                 string(plan.Type),
		EnableYTDCaps:        plan.EnableYTDCaps,
		AnnualEmployeeLimit:  plan.AnnualEmployeeLimit,
		PeriodType:           string(plan.LimitPeriod.Type),
		EmployerMatchPercent: plan.EmployerMatchPercent,
	}
	if pj.PeriodType == "" {
		pj.PeriodType = string(generic.PeriodCalendarYear)
	}
	if plan.LimitPeriod.Type == generic.PeriodFiscalYear {
		pj.FiscalYearStart = int(plan.LimitPeriod.FiscalYearStartMonth)
	}
	if plan.DefaultElection.Mode != "" && plan.DefaultElection.Mode != payroll.ElectionNone {
		pj.DefaultElection = &ElectionJSON{
			Mode:  string(plan.DefaultElection.Mode),
			Value: plan.DefaultElection.Value,
		}
	}
	return pj
}

// =============================================================================
// PLAN REPOSITORY - payroll.PlanStore over JSON records
// =============================================================================

// PlanRecord is a stored plan with its JSON config.
type PlanRecord struct {
	ID         string
	Name       string
	ConfigJSON string
	Version    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RecordStore persists plan records. GetPlanRecord returns
// generic.ErrPlanNotFound for an unknown ID.
type RecordStore interface {
	SavePlanRecord(ctx context.Context, rec PlanRecord) error
	GetPlanRecord(ctx context.Context, id string) (*PlanRecord, error)
	ListPlanRecords(ctx context.Context) ([]PlanRecord, error)
}

// PlanRepository implements payroll.PlanStore on top of a RecordStore.
type PlanRepository struct {
	records RecordStore
	factory *PlanFactory
}

var _ payroll.PlanStore = (*PlanRepository)(nil)

func NewPlanRepository(records RecordStore) *PlanRepository {
	return &PlanRepository{records: records, factory: NewPlanFactory()}
}

// SavePlan validates the plan and stores it as JSON.
func (r *PlanRepository) SavePlan(ctx context.Context, plan payroll.RetirementPlan) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(r.factory.ToJSON(plan))
	if err != nil {
		return errors.Wrap(err, "encode plan")
	}
	return r.records.SavePlanRecord(ctx, PlanRecord{
		ID:         plan.ID,
		Name:       plan.Name,
		ConfigJSON: string(body),
		Version:    1,
	})
}

// SavePlanJSON parses, validates and stores a JSON plan.
func (r *PlanRepository) SavePlanJSON(ctx context.Context, jsonStr string) (*payroll.RetirementPlan, error) {
	plan, err := r.factory.ParsePlan(jsonStr)
	if err != nil {
		return nil, err
	}
	if err := r.SavePlan(ctx, *plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func (r *PlanRepository) GetPlan(ctx context.Context, id string) (*payroll.RetirementPlan, error) {
	rec, err := r.records.GetPlanRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	plan, err := r.factory.ParsePlan(rec.ConfigJSON)
	if err != nil {
		return nil, errors.Wrapf(err, "stored plan %s", id)
	}
	return plan, nil
}

func (r *PlanRepository) ListPlans(ctx context.Context) ([]payroll.RetirementPlan, error) {
	recs, err := r.records.ListPlanRecords(ctx)
	if err != nil {
		return nil, err
	}
	plans := make([]payroll.RetirementPlan, 0, len(recs))
	for _, rec := range recs {
		plan, err := r.factory.ParsePlan(rec.ConfigJSON)
		if err != nil {
			return nil, errors.Wrapf(err, "stored plan %s", rec.ID)
		}
		plans = append(plans, *plan)
	}
	return plans, nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parsePlanType(s string) payroll.PlanType {
	switch payroll.PlanType(s) {
	case payroll.Plan401kTraditional, payroll.PlanRRSPGroup:
		return payroll.PlanType(s)
	default:
		return payroll.PlanOther
	}
}

func parsePeriodConfig(periodType string, fiscalMonth int) generic.PeriodConfig {
	pc := generic.PeriodConfig{Type: generic.PeriodCalendarYear}
	if periodType == string(generic.PeriodFiscalYear) {
		pc.Type = generic.PeriodFiscalYear
		pc.FiscalYearStartMonth = time.January
		if fiscalMonth >= 1 && fiscalMonth <= 12 {
			pc.FiscalYearStartMonth = time.Month(fiscalMonth)
		}
	}
	return pc
}
