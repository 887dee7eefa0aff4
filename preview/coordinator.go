/*
Package preview keeps an instant local payslip in step with the
authoritative one.

STATE MACHINE:
  idle -> calculating -> awaiting_authoritative -> reconciled
                                                \-> unconfirmed

  Every Submit computes the local payslip synchronously with the same
  payroll.Calculate the service uses, publishes it, and sends the input to
  the Authority in the background. A Submit while a request is in flight
  marks that request stale. Stale requests are not cancelled; their response
  is dropped when it arrives.

ORDERING:
  Each Submit takes the next sequence number. A response is applied only
  when its sequence is still the latest, so an older authoritative payslip
  can never replace a newer local one.

FAILURES:
  A failed or timed out request is retried once. If the retry fails too, or
  the authoritative payslip does not reconcile, the local payslip stays on
  screen with a figures_unconfirmed warning.
*/
package preview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/warp/payroll-engine/payroll"
	"go.uber.org/zap"
)

// State is the coordinator state.
type State string

const (
	StateIdle                  State = "idle"
	StateCalculating           State = "calculating"
	StateAwaitingAuthoritative State = "awaiting_authoritative"
	StateReconciled            State = "reconciled"
	StateUnconfirmed           State = "unconfirmed"
)

// Source says which side produced a view's payslip.
type Source string

const (
	SourceLocal         Source = "local"
	SourceAuthoritative Source = "authoritative"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("preview: coordinator closed")

var errStale = errors.New("preview: request is stale")

// Authority produces the authoritative payslip for an input snapshot.
//
//go:generate mockgen -source=coordinator.go -destination=mocks/authority.go -package=mocks Authority
type Authority interface {
	Calculate(ctx context.Context, seq uint64, in payroll.PayPeriodInput) (payroll.Payslip, error)
}

// View is what the caller displays.
type View struct {
	Sequence uint64
	State    State
	Source   Source
	Payslip  payroll.Payslip
	Warnings []payroll.Warning
	// Err is set when the local calculation rejected the input, or when the
	// authoritative side failed and the view is unconfirmed.
	Err error
}

// Listener receives every published view in order. It is called with the
// coordinator locked and must not call back into the Coordinator.
type Listener func(View)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout bounds each authoritative attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// WithRetryDelay sets the pause before the single retry.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.retryDelay = d }
}

// WithListener registers the view listener.
func WithListener(l Listener) Option {
	return func(c *Coordinator) { c.listener = l }
}

// WithLogger sets the coordinator logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithReference sets the plan and YTD totals used by the local calculation.
func WithReference(plan *payroll.RetirementPlan, ytd payroll.YTDTotals) Option {
	return func(c *Coordinator) {
		c.plan = plan
		c.ytd = ytd
	}
}

const (
	DefaultTimeout    = 5 * time.Second
	DefaultRetryDelay = 250 * time.Millisecond
)

// Coordinator runs one payslip session.
type Coordinator struct {
	engine     *payroll.Engine
	authority  Authority
	listener   Listener
	logger     *zap.Logger
	timeout    time.Duration
	retryDelay time.Duration

	mu      sync.Mutex
	latest  uint64
	current View
	plan    *payroll.RetirementPlan
	ytd     payroll.YTDTotals
	closed  bool

	inflight sync.WaitGroup
}

func NewCoordinator(engine *payroll.Engine, authority Authority, opts ...Option) *Coordinator {
	c := &Coordinator{
		engine:     engine,
		authority:  authority,
		logger:     zap.NewNop(),
		timeout:    DefaultTimeout,
		retryDelay: DefaultRetryDelay,
		current:    View{State: StateIdle},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetReference replaces the plan and YTD totals for later local calculations.
func (c *Coordinator) SetReference(plan *payroll.RetirementPlan, ytd payroll.YTDTotals) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plan = plan
	c.ytd = ytd
}

// Current returns the latest published view.
func (c *Coordinator) Current() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Submit recalculates locally for a new input snapshot and starts the
// authoritative request. The returned view is the local one. An input the
// local calculation rejects is never sent to the authority.
func (c *Coordinator) Submit(ctx context.Context, in payroll.PayPeriodInput) (View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return View{}, ErrClosed
	}

	c.latest++
	seq := c.latest
	if c.current.State == StateAwaitingAuthoritative {
		c.logger.Debug("in-flight request is stale", zap.Uint64("stale_sequence", c.current.Sequence), zap.Uint64("sequence", seq))
	}
	c.publishLocked(View{Sequence: seq, State: StateCalculating, Source: SourceLocal, Payslip: c.current.Payslip})

	local, err := c.engine.Calculate(in, c.plan, c.ytd)
	if err != nil {
		c.publishLocked(View{Sequence: seq, State: StateIdle, Source: SourceLocal, Err: err})
		return c.current, err
	}

	c.publishLocked(View{
		Sequence: seq,
		State:    StateAwaitingAuthoritative,
		Source:   SourceLocal,
		Payslip:  local,
		Warnings: local.Warnings,
	})

	c.inflight.Add(1)
	go c.reconcile(ctx, seq, in, local)
	return c.current, nil
}

// Wait blocks until every in-flight authoritative request has finished.
func (c *Coordinator) Wait() {
	c.inflight.Wait()
}

// Close rejects further submits and waits for in-flight requests.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.inflight.Wait()
}

func (c *Coordinator) reconcile(ctx context.Context, seq uint64, in payroll.PayPeriodInput, local payroll.Payslip) {
	defer c.inflight.Done()

	authoritative, err := c.fetch(ctx, seq, in)

	c.mu.Lock()
	defer c.mu.Unlock()

	log := c.logger.With(zap.Uint64("sequence", seq), zap.Uint64("latest", c.latest))
	if seq < c.latest {
		log.Debug("dropping stale authoritative response")
		return
	}

	if err != nil {
		log.Warn("authoritative calculation unavailable", zap.Error(err))
		warnings := append(append([]payroll.Warning{}, local.Warnings...), payroll.Warning{
			Code:    payroll.WarningFiguresUnconfirmed,
			Message: "figures are a local estimate and have not been confirmed",
		})
		c.publishLocked(View{
			Sequence: seq,
			State:    StateUnconfirmed,
			Source:   SourceLocal,
			Payslip:  local,
			Warnings: warnings,
			Err:      fmt.Errorf("%w: %w", payroll.ErrAuthoritativeUnavailable, err),
		})
		return
	}

	if !authoritative.NetPay.Equal(local.NetPay) {
		log.Info("authoritative payslip differs from local",
			zap.String("local_net", local.NetPay.StringFixed(2)),
			zap.String("authoritative_net", authoritative.NetPay.StringFixed(2)),
		)
	}
	c.publishLocked(View{
		Sequence: seq,
		State:    StateReconciled,
		Source:   SourceAuthoritative,
		Payslip:  authoritative,
		Warnings: authoritative.Warnings,
	})
}

// fetch calls the authority with at most one retry. A request that went
// stale before an attempt is abandoned without calling out.
func (c *Coordinator) fetch(ctx context.Context, seq uint64, in payroll.PayPeriodInput) (payroll.Payslip, error) {
	var result payroll.Payslip
	attempt := 0

	op := func() error {
		attempt++
		if c.isStale(seq) {
			return backoff.Permanent(errStale)
		}

		actx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		p, err := c.authority.Calculate(actx, seq, in)
		if err != nil {
			c.logger.Debug("authoritative attempt failed", zap.Uint64("sequence", seq), zap.Int("attempt", attempt), zap.Error(err))
			if payroll.IsInvalidInput(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		if err := payroll.CheckReconciliation(p); err != nil {
			return err
		}
		result = p
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), 1), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return payroll.Payslip{}, err
	}
	return result, nil
}

func (c *Coordinator) isStale(seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return seq < c.latest
}

func (c *Coordinator) publishLocked(v View) {
	c.current = v
	if c.listener != nil {
		c.listener(v)
	}
}
