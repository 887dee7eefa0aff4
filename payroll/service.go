package payroll

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/payroll-engine/generic"
	"go.uber.org/zap"
)

// =============================================================================
// SERVICE - Authoritative calculation and finalize
// =============================================================================

// FinalizeResult is the outcome of a finalize. AlreadyFinalized is set when
// the period had been committed before and Payslip is the archived copy.
type FinalizeResult struct {
	Payslip          Payslip `json:"payslip"`
	AlreadyFinalized bool    `json:"already_finalized"`
}

// Service is the authoritative side of the engine. It resolves reference
// data, reads YTD from the ledger, and commits finalized periods.
type Service struct {
	engine   *Engine
	ytd      *YTDAccumulator
	headroom *generic.HeadroomCalculator
	plans    PlanStore
	logger   *zap.Logger

	// finalizeMu serializes finalizes so two periods never read the same headroom.
	finalizeMu sync.Mutex
	now        func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now, used as the as-of date when an input has no period.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func NewService(engine *Engine, ledger generic.Ledger, plans PlanStore, opts ...ServiceOption) *Service {
	s := &Service{
		engine:   engine,
		ytd:      NewYTDAccumulator(ledger),
		headroom: &generic.HeadroomCalculator{Ledger: ledger},
		plans:    plans,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Engine returns the calculation engine.
func (s *Service) Engine() *Engine {
	return s.engine
}

// Calculate runs an authoritative calculation. YTD is read, never written.
func (s *Service) Calculate(ctx context.Context, in PayPeriodInput) (Payslip, error) {
	p, _, err := s.calculate(ctx, in)
	if err != nil {
		return Payslip{}, err
	}
	p.ID = uuid.NewString()
	return p, nil
}

// Finalize calculates the period and commits it to the ledger. Finalizing a
// period that was already committed returns the archived payslip.
func (s *Service) Finalize(ctx context.Context, in PayPeriodInput) (FinalizeResult, error) {
	if err := in.Period().Validate(); err != nil {
		return FinalizeResult{}, invalid("period", "finalize requires period_start and period_end: %v", err)
	}

	s.finalizeMu.Lock()
	defer s.finalizeMu.Unlock()

	log := s.logger.With(zap.String("subject_id", in.SubjectID), zap.String("period", in.Period().Key()))

	if existing, err := s.ytd.Finalized(ctx, in.SubjectID, in.Period()); err != nil {
		return FinalizeResult{}, err
	} else if existing != nil {
		log.Info("period already finalized")
		return FinalizeResult{Payslip: *existing, AlreadyFinalized: true}, nil
	}

	p, policies, err := s.calculate(ctx, in)
	if err != nil {
		return FinalizeResult{}, err
	}
	if err := s.checkHeadroom(ctx, p, policies); err != nil {
		log.Warn("headroom changed before commit", zap.Error(err))
		return FinalizeResult{}, err
	}

	p.ID = uuid.NewString()
	p.FinalizedAt = s.now().UTC().Format(time.RFC3339)

	committed, err := s.ytd.Commit(ctx, p)
	if err != nil {
		log.Error("commit failed", zap.Error(err))
		return FinalizeResult{}, err
	}
	if !committed {
		existing, err := s.ytd.Finalized(ctx, in.SubjectID, in.Period())
		if err != nil {
			return FinalizeResult{}, err
		}
		if existing != nil {
			return FinalizeResult{Payslip: *existing, AlreadyFinalized: true}, nil
		}
		return FinalizeResult{}, generic.ErrDuplicateIdempotencyKey
	}

	log.Info("period finalized",
		zap.String("payslip_id", p.ID),
		zap.String("net_pay", p.NetPay.StringFixed(2)),
		zap.Int("warnings", len(p.Warnings)),
	)
	return FinalizeResult{Payslip: p}, nil
}

// YTD returns calendar-year totals for a subject.
func (s *Service) YTD(ctx context.Context, subject string, year int) (YTDTotals, error) {
	if subject == "" {
		return YTDTotals{}, invalid("subject_id", "is required")
	}
	return s.ytd.Totals(ctx, subject, year)
}

// Payslips returns the finalized payslips of a subject.
func (s *Service) Payslips(ctx context.Context, subject string) ([]Payslip, error) {
	if subject == "" {
		return nil, invalid("subject_id", "is required")
	}
	return s.ytd.Payslips(ctx, subject)
}

// Plan returns a plan by ID.
func (s *Service) Plan(ctx context.Context, id string) (*RetirementPlan, error) {
	return s.plans.GetPlan(ctx, id)
}

// calculate resolves reference data and runs the pipeline. It returns the
// limit policies that were applied so Finalize can re-check them.
func (s *Service) calculate(ctx context.Context, in PayPeriodInput) (Payslip, []generic.LimitPolicy, error) {
	if in.SubjectID == "" {
		return Payslip{}, nil, invalid("subject_id", "is required")
	}
	profile, err := s.engine.Profiles().Lookup(in.Jurisdiction)
	if err != nil {
		return Payslip{}, nil, err
	}

	var plan *RetirementPlan
	if in.PlanID != "" {
		plan, err = s.plans.GetPlan(ctx, in.PlanID)
		if generic.IsNotFound(err) {
			return Payslip{}, nil, invalid("plan_id", "unknown plan %q", in.PlanID)
		}
		if err != nil {
			return Payslip{}, nil, err
		}
	}

	policies := limitPolicies(profile, plan)
	asOf := in.PeriodEnd
	if asOf.IsZero() {
		asOf = generic.TimePoint{Time: s.now()}
	}
	ytd, err := s.ytd.TotalsAsOf(ctx, in.SubjectID, asOf, policies...)
	if err != nil {
		return Payslip{}, nil, err
	}

	p, err := Calculate(in, profile, plan, ytd)
	if err != nil {
		if !IsInvalidInput(err) {
			s.logger.Error("calculation failed", zap.String("subject_id", in.SubjectID), zap.Error(err))
		}
		return Payslip{}, nil, err
	}
	return p, policies, nil
}

// checkHeadroom verifies every capped amount still fits its limit year.
func (s *Service) checkHeadroom(ctx context.Context, p Payslip, policies []generic.LimitPolicy) error {
	entity := generic.EntityID(p.SubjectID)
	for _, policy := range policies {
		if !policy.Enabled {
			continue
		}
		amount := generic.NewAmountFromDecimal(p.Deduction(Code(policy.AccountID)), generic.UnitCurrency)
		if amount.IsZero() {
			continue
		}
		h, err := s.headroom.Calculate(ctx, entity, policy, p.PeriodEnd)
		if err != nil {
			return err
		}
		if !h.CanPost(amount) {
			return &generic.LimitExceededError{
				EntityID:  entity,
				AccountID: policy.AccountID,
				Limit:     h.Limit,
				Used:      h.Used,
				Requested: amount,
			}
		}
	}
	return nil
}

func limitPolicies(profile Profile, plan *RetirementPlan) []generic.LimitPolicy {
	codes := make([]Code, 0, len(profile.AnnualLimits))
	for c := range profile.AnnualLimits {
		if c != CodeRetirement {
			codes = append(codes, c)
		}
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })

	var out []generic.LimitPolicy
	for _, c := range codes {
		if p, ok := profile.LimitPolicy(c); ok {
			out = append(out, p)
		}
	}
	if p, ok := retirementPolicy(profile, plan); ok {
		out = append(out, p)
	}
	return out
}
