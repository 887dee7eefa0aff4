// Package client calls the payroll HTTP API. Client implements
// preview.Authority, so a preview coordinator can use a remote service as its
// authoritative side.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
	"go.uber.org/zap"
)

// HTTPError is a non-2xx response that did not map onto a payroll error.
type HTTPError struct {
	StatusCode int
	Method     string
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s failed with status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Client talks to one payroll API. It never retries; the caller decides.
type Client struct {
	baseURL     string
	http        *http.Client
	logger      *zap.Logger
	planFactory *factory.PlanFactory
}

// New returns a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		http:        &http.Client{Timeout: 30 * time.Second},
		logger:      zap.NewNop(),
		planFactory: factory.NewPlanFactory(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Calculate requests the authoritative payslip. The response must echo seq.
func (c *Client) Calculate(ctx context.Context, seq uint64, in payroll.PayPeriodInput) (payroll.Payslip, error) {
	var resp api.CalculationResponse
	if err := c.do(ctx, http.MethodPost, "/api/payroll/calculate", api.CalculationRequest{Sequence: seq, Input: in}, &resp); err != nil {
		return payroll.Payslip{}, err
	}
	if resp.Sequence != seq {
		return payroll.Payslip{}, errors.Wrapf(payroll.ErrAuthoritativeUnavailable, "response sequence %d, sent %d", resp.Sequence, seq)
	}
	return resp.Payslip, nil
}

// Finalize closes a pay period.
func (c *Client) Finalize(ctx context.Context, in payroll.PayPeriodInput) (payroll.FinalizeResult, error) {
	var resp api.FinalizeResponse
	if err := c.do(ctx, http.MethodPost, "/api/payroll/finalize", api.FinalizeRequest{Input: in}, &resp); err != nil {
		return payroll.FinalizeResult{}, err
	}
	return payroll.FinalizeResult{Payslip: resp.Payslip, AlreadyFinalized: resp.AlreadyFinalized}, nil
}

// YTD returns the posted totals of a subject for a calendar year.
func (c *Client) YTD(ctx context.Context, subject string, year int) (payroll.YTDTotals, error) {
	var totals payroll.YTDTotals
	path := fmt.Sprintf("/api/ytd/%s/%d", url.PathEscape(subject), year)
	if err := c.do(ctx, http.MethodGet, path, nil, &totals); err != nil {
		return payroll.YTDTotals{}, err
	}
	return totals, nil
}

// Plan fetches a retirement plan.
func (c *Client) Plan(ctx context.Context, id string) (*payroll.RetirementPlan, error) {
	var pj factory.PlanJSON
	if err := c.do(ctx, http.MethodGet, "/api/plans/"+url.PathEscape(id), nil, &pj); err != nil {
		return nil, err
	}
	plan, err := c.planFactory.FromJSON(pj)
	if err != nil {
		return nil, errors.Wrapf(err, "decode plan %s", id)
	}
	return plan, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return errors.Wrapf(payroll.ErrAuthoritativeUnavailable, "%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrapf(payroll.ErrAuthoritativeUnavailable, "decode %s response: %v", path, err)
		}
		return nil
	}
	return c.responseError(req, resp)
}

// responseError maps an error response back onto the payroll error taxonomy.
func (c *Client) responseError(req *http.Request, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body api.ErrorResponse
	_ = json.Unmarshal(raw, &body)

	switch resp.StatusCode {
	case http.StatusBadRequest:
		if body.Field != "" {
			return &payroll.InvalidInputError{Field: body.Field, Reason: body.Details}
		}
		return errors.Wrap(payroll.ErrInvalidInput, firstNonEmpty(body.Details, body.Error))
	case http.StatusNotFound:
		return errors.Wrap(generic.ErrPlanNotFound, firstNonEmpty(body.Details, body.Error))
	}

	httpErr := &HTTPError{
		StatusCode: resp.StatusCode,
		Method:     req.Method,
		URL:        req.URL.String(),
		Body:       string(raw),
	}
	return fmt.Errorf("%w: %w", payroll.ErrAuthoritativeUnavailable, httpErr)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
