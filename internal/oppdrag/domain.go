package oppdrag

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates the lifecycle of a payment order.
type Status string

const (
	// StatusCreated means persisted locally but not handed to the transport.
	StatusCreated Status = "CREATED"
	// StatusSent means the request queue accepted the order.
	StatusSent Status = "SENT"
	// StatusConfirmed means the mainframe accepted the order.
	StatusConfirmed Status = "CONFIRMED"
	// StatusFailed means the mainframe rejected the order.
	StatusFailed Status = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusSent, StatusConfirmed, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusCreated:
		return to == StatusSent
	case StatusSent:
		return to == StatusConfirmed || to == StatusFailed
	}
	return false
}

// LineType distinguishes disbursement lines from stop instructions.
type LineType string

const (
	// LineDisbursement pays Amount for the period.
	LineDisbursement LineType = "DISBURSEMENT"
	// LineStop stops payment from PeriodFrom.
	LineStop LineType = "STOP"
)

// PaymentLine is one period/amount instruction. Lines are never edited after
// insert; a change is a new line pointing at the one it supersedes.
type PaymentLine struct {
	ID               int64
	OrderID          int64
	PeriodFrom       time.Time
	PeriodTo         *time.Time
	Amount           decimal.NullDecimal
	Type             LineType
	SupersedesLineID *int64
	CreatedAt        time.Time
}

// Validate checks the structural invariants of a line.
func (l PaymentLine) Validate() error {
	if l.PeriodFrom.IsZero() {
		return fmt.Errorf("%w: line period from required", ErrInvalidOrder)
	}
	if l.PeriodTo != nil && l.PeriodTo.Before(l.PeriodFrom) {
		return fmt.Errorf("%w: line period to before period from", ErrInvalidOrder)
	}
	switch l.Type {
	case LineDisbursement:
		if !l.Amount.Valid {
			return fmt.Errorf("%w: disbursement line without amount", ErrInvalidOrder)
		}
	case LineStop:
		if l.Amount.Valid {
			return fmt.Errorf("%w: stop line with amount", ErrInvalidOrder)
		}
	default:
		return fmt.Errorf("%w: unknown line type %q", ErrInvalidOrder, l.Type)
	}
	return nil
}

// FailureDetail keeps the rejection returned on a kvittering.
type FailureDetail struct {
	Severity    string
	MessageCode string
	Text        string
}

// PaymentOrder is one disbursement instruction derived from a decision.
type PaymentOrder struct {
	ID                int64
	CaseID            string
	DecisionID        string
	BehandlingID      string
	RecipientID       string
	CaseWorkerID      string
	ApproverID        string
	ReconciliationKey time.Time
	Status            Status
	Failure           *FailureDetail
	Lines             []PaymentLine
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Total sums disbursement amounts across lines.
func (o PaymentOrder) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range o.Lines {
		if l.Type == LineDisbursement && l.Amount.Valid {
			sum = sum.Add(l.Amount.Decimal)
		}
	}
	return sum
}

// Instruction is one period/amount (or stop) request on a decision.
type Instruction struct {
	PeriodFrom       time.Time
	PeriodTo         *time.Time
	Amount           *decimal.Decimal
	Stop             bool
	SupersedesLineID *int64
}

// Decision is the finalized decision handed over by the case flow.
type Decision struct {
	CaseID       string
	DecisionID   string
	BehandlingID string
	RecipientID  string
	CaseWorkerID string
	ApproverID   string
	Instructions []Instruction
}

// Validate ensures the decision can be turned into an order.
func (d Decision) Validate() error {
	if strings.TrimSpace(d.CaseID) == "" {
		return fmt.Errorf("%w: case id required", ErrInvalidDecision)
	}
	if strings.TrimSpace(d.DecisionID) == "" {
		return fmt.Errorf("%w: decision id required", ErrInvalidDecision)
	}
	if strings.TrimSpace(d.RecipientID) == "" {
		return fmt.Errorf("%w: recipient id required", ErrInvalidDecision)
	}
	if strings.TrimSpace(d.CaseWorkerID) == "" || strings.TrimSpace(d.ApproverID) == "" {
		return fmt.Errorf("%w: case worker and approver required", ErrInvalidDecision)
	}
	if len(d.Instructions) == 0 {
		return fmt.Errorf("%w: at least one instruction required", ErrInvalidDecision)
	}
	for i, in := range d.Instructions {
		if in.Stop && in.Amount != nil {
			return fmt.Errorf("%w: instruction %d stops payment and carries an amount", ErrInvalidDecision, i)
		}
		if !in.Stop && in.Amount == nil {
			return fmt.Errorf("%w: instruction %d has no amount", ErrInvalidDecision, i)
		}
		if in.PeriodFrom.IsZero() {
			return fmt.Errorf("%w: instruction %d has no period from", ErrInvalidDecision, i)
		}
	}
	return nil
}

// Lines converts instructions into unsaved lines, in order.
func (d Decision) Lines() []PaymentLine {
	lines := make([]PaymentLine, 0, len(d.Instructions))
	for _, in := range d.Instructions {
		line := PaymentLine{
			PeriodFrom:       in.PeriodFrom,
			PeriodTo:         in.PeriodTo,
			SupersedesLineID: in.SupersedesLineID,
		}
		if in.Stop {
			line.Type = LineStop
		} else {
			line.Type = LineDisbursement
			line.Amount = decimal.NullDecimal{Decimal: *in.Amount, Valid: true}
		}
		lines = append(lines, line)
	}
	return lines
}

// ListFilter narrows order queries.
type ListFilter struct {
	Status Status
	CaseID string
	Limit  int
}

var (
	// ErrNotFound is returned when no order matches.
	ErrNotFound = errors.New("oppdrag: order not found")
	// ErrInvalidDecision is returned for decisions that cannot be settled.
	ErrInvalidDecision = errors.New("oppdrag: invalid decision")
	// ErrInvalidOrder marks structurally invalid orders. It is a programming
	// fault, not something to retry.
	ErrInvalidOrder = errors.New("oppdrag: invalid order")
	// ErrDuplicateDecision is returned when an order already exists for a decision.
	ErrDuplicateDecision = errors.New("oppdrag: order already exists for decision")
	// ErrStaleTransition is returned when the row was not in the expected status.
	ErrStaleTransition = errors.New("oppdrag: status changed concurrently")
	// ErrInvalidTransition is returned for edges outside the state machine.
	ErrInvalidTransition = errors.New("oppdrag: invalid status transition")
	// ErrSend wraps transport failures; the order stays CREATED.
	ErrSend = errors.New("oppdrag: send failed")
	// ErrNotResendable is returned when resending an order that left CREATED.
	ErrNotResendable = errors.New("oppdrag: order is not in CREATED")
	// ErrMalformedReceipt is returned for kvitteringer that cannot be used.
	ErrMalformedReceipt = errors.New("oppdrag: malformed kvittering")
	// ErrLineChain is returned when a supersede reference is invalid.
	ErrLineChain = errors.New("oppdrag: invalid line chain")
)
