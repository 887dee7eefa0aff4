/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Payslips, inputs and
  YTD totals already carry JSON tags in the payroll package and are sent as
  they are; the types here wrap them with request metadata.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Calculation:
    CalculationRequest, CalculationResponse

  Finalize:
    FinalizeRequest, FinalizeResponse

  Plans:
    factory.PlanJSON is the plan wire format

  Scenarios:
    ScenarioDTO, ScenarioResultDTO

AMOUNTS:
  Every currency and hour value is a decimal string ("1057.40"), never a
  JSON float.

SEE ALSO:
  - handlers.go: Uses these types
  - client/client.go: Sends and reads these types
*/
package api

import (
	"github.com/warp/payroll-engine/payroll"
)

// CalculationRequest asks for the authoritative payslip of one input
// snapshot. Sequence is echoed back so the caller can discard stale answers.
type CalculationRequest struct {
	Sequence uint64                 `json:"sequence"`
	Input    payroll.PayPeriodInput `json:"input"`
}

// CalculationResponse is the authoritative payslip with its disclosure flags.
type CalculationResponse struct {
	Sequence uint64          `json:"sequence"`
	Payslip  payroll.Payslip `json:"payslip"`
	Flags    payroll.Flags   `json:"flags"`
}

// FinalizeRequest closes a pay period for one subject.
type FinalizeRequest struct {
	Input payroll.PayPeriodInput `json:"input"`
}

// FinalizeResponse is the committed payslip. AlreadyFinalized is true when
// the period had been closed before and nothing new was posted.
type FinalizeResponse struct {
	Payslip          payroll.Payslip `json:"payslip"`
	AlreadyFinalized bool            `json:"already_finalized"`
	Flags            payroll.Flags   `json:"flags"`
}

// PayslipListResponse lists the finalized payslips of a subject.
type PayslipListResponse struct {
	SubjectID string            `json:"subject_id"`
	Payslips  []payroll.Payslip `json:"payslips"`
}

// ScenarioDTO represents a demo payroll scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// ScenarioResultDTO is a scenario's input and the payslip it produced.
type ScenarioResultDTO struct {
	Scenario ScenarioDTO            `json:"scenario"`
	Input    payroll.PayPeriodInput `json:"input"`
	Payslip  payroll.Payslip        `json:"payslip"`
	Flags    payroll.Flags          `json:"flags"`
}

// ErrorResponse is the body of every non-2xx response. Field is set for
// invalid input.
type ErrorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}
