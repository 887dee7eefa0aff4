/*
handlers.go - HTTP API handlers for the payroll service

PURPOSE:
  Exposes the authoritative payroll calculation over REST. Handles HTTP
  request/response and JSON, and delegates every figure to payroll.Service,
  which runs the same Calculate the local preview runs.

ENDPOINTS:
  Payroll:
    POST   /api/payroll/calculate              Authoritative payslip for one input
    POST   /api/payroll/finalize               Close a period and post it to YTD
    GET    /api/payroll/payslips/{subject}     Finalized payslips of a subject

  YTD:
    GET    /api/ytd/{subject}/{year}           Posted totals per code

  Jurisdictions:
    GET    /api/jurisdictions                  All profiles
    GET    /api/jurisdictions/{region}/{sub}   One profile

  Plans:
    GET    /api/plans                          List retirement plans
    POST   /api/plans                          Create or replace a plan from JSON
    GET    /api/plans/{id}                     Get one plan

  Scenarios:
    GET    /api/scenarios                      List demo scenarios
    POST   /api/scenarios/{id}/run             Run a demo scenario

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid input (the offending field is named)
  - 404: Unknown plan or jurisdiction path
  - 409: Finalize would exceed an annual limit
  - 500: Internal errors, including a payslip that fails reconciliation

SECURITY NOTE:
  No authentication. The service is meant to sit behind the product's own
  gateway.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo payroll scenarios
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
	"go.uber.org/zap"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the optional maintenance surface of the backing store.
type Store interface {
	Ping(ctx context.Context) error
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *payroll.Service
	Plans   *factory.PlanRepository
	Store   Store
	Logger  *zap.Logger

	planFactory *factory.PlanFactory
}

// NewHandler creates a handler. store may be nil, which disables the health
// check ping and the reset endpoint.
func NewHandler(svc *payroll.Service, plans *factory.PlanRepository, store Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Service:     svc,
		Plans:       plans,
		Store:       store,
		Logger:      logger,
		planFactory: factory.NewPlanFactory(),
	}
}

// =============================================================================
// PAYROLL HANDLERS
// =============================================================================

// Calculate returns the authoritative payslip without touching YTD.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	var req CalculationRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.Service.Calculate(r.Context(), req.Input)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CalculationResponse{
		Sequence: req.Sequence,
		Payslip:  p,
		Flags:    p.Flags(),
	})
}

// Finalize closes the pay period and posts it to the ledger.
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	var req FinalizeRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Service.Finalize(r.Context(), req.Input)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.AlreadyFinalized {
		status = http.StatusOK
	}
	writeJSON(w, status, FinalizeResponse{
		Payslip:          res.Payslip,
		AlreadyFinalized: res.AlreadyFinalized,
		Flags:            res.Payslip.Flags(),
	})
}

// ListPayslips returns the finalized payslips of a subject.
func (h *Handler) ListPayslips(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	payslips, err := h.Service.Payslips(r.Context(), subject)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PayslipListResponse{SubjectID: subject, Payslips: payslips})
}

// GetYTD returns what has been posted for a subject in a calendar year.
func (h *Handler) GetYTD(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year < 1 {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}

	totals, err := h.Service.YTD(r.Context(), chi.URLParam(r, "subject"), year)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

// =============================================================================
// JURISDICTION HANDLERS
// =============================================================================

// ListJurisdictions returns every profile.
func (h *Handler) ListJurisdictions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Service.Engine().Profiles().List())
}

// GetJurisdiction returns one profile.
func (h *Handler) GetJurisdiction(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.Engine().Profiles().Lookup(payroll.Jurisdiction{
		Region:    chi.URLParam(r, "region"),
		Subregion: chi.URLParam(r, "subregion"),
	})
	if err != nil {
		writeError(w, http.StatusNotFound, "Jurisdiction not found", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// =============================================================================
// PLAN HANDLERS
// =============================================================================

// ListPlans returns all retirement plans.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.Plans.ListPlans(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	dtos := make([]factory.PlanJSON, len(plans))
	for i, p := range plans {
		dtos[i] = h.planFactory.ToJSON(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePlan validates and stores a plan given as JSON.
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return
	}

	plan, err := h.Plans.SavePlanJSON(r.Context(), string(body))
	if err != nil {
		var syntax *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntax) || errors.As(err, &typeErr) {
			writeError(w, http.StatusBadRequest, "Invalid JSON", err)
			return
		}
		h.writeServiceError(w, r, err)
		return
	}

	h.Logger.Info("plan saved", zap.String("plan_id", plan.ID), zap.String("request_id", middleware.GetReqID(r.Context())))
	writeJSON(w, http.StatusCreated, h.planFactory.ToJSON(*plan))
}

// GetPlan returns one plan.
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.Plans.GetPlan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.planFactory.ToJSON(*plan))
}

// =============================================================================
// MAINTENANCE
// =============================================================================

// Health reports whether the store answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Store != nil {
		if err := h.Store.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		writeError(w, http.StatusNotImplemented, "Reset not supported", nil)
		return
	}
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// writeServiceError maps the payroll error taxonomy onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var inv *payroll.InvalidInputError
	var limit *generic.LimitExceededError
	var violation *payroll.ReconciliationViolationError

	switch {
	case errors.As(err, &inv):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid input", Field: inv.Field, Details: inv.Reason})
	case payroll.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, "Invalid input", err)
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.As(err, &limit):
		writeError(w, http.StatusConflict, "Annual limit exceeded", err)
	case errors.As(err, &violation):
		h.Logger.Error("payslip failed reconciliation",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("expected", violation.Expected.String()),
			zap.String("actual", violation.Actual.String()),
		)
		writeError(w, http.StatusInternalServerError, "Payslip failed reconciliation", nil)
	default:
		h.Logger.Error("request failed", zap.String("request_id", middleware.GetReqID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error", nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
