package oppdrag

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DecisionPayload is the JSON form of a finalized decision, shared by the
// HTTP intake and the settle task.
type DecisionPayload struct {
	CaseID       string               `json:"caseId" validate:"required,max=30"`
	DecisionID   string               `json:"decisionId" validate:"required,max=30"`
	BehandlingID string               `json:"behandlingId" validate:"max=30"`
	RecipientID  string               `json:"recipientId" validate:"required,max=11"`
	CaseWorkerID string               `json:"caseWorkerId" validate:"required,max=8"`
	ApproverID   string               `json:"approverId" validate:"required,max=8"`
	Instructions []InstructionPayload `json:"instructions" validate:"required,min=1,dive"`
}

// InstructionPayload is one period line of a DecisionPayload. Dates are
// calendar dates in YYYY-MM-DD.
type InstructionPayload struct {
	PeriodFrom       string           `json:"periodFrom" validate:"required,datetime=2006-01-02"`
	PeriodTo         string           `json:"periodTo,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Amount           *decimal.Decimal `json:"amount,omitempty"`
	Stop             bool             `json:"stop,omitempty"`
	SupersedesLineID *int64           `json:"supersedesLineId,omitempty" validate:"omitempty,gt=0"`
}

// Decision converts the payload. Dates are parsed as UTC calendar days.
func (p DecisionPayload) Decision() (Decision, error) {
	d := Decision{
		CaseID:       p.CaseID,
		DecisionID:   p.DecisionID,
		BehandlingID: p.BehandlingID,
		RecipientID:  p.RecipientID,
		CaseWorkerID: p.CaseWorkerID,
		ApproverID:   p.ApproverID,
		Instructions: make([]Instruction, 0, len(p.Instructions)),
	}
	for i, in := range p.Instructions {
		from, err := time.Parse(time.DateOnly, in.PeriodFrom)
		if err != nil {
			return Decision{}, fmt.Errorf("%w: instruction %d periodFrom: %v", ErrInvalidDecision, i, err)
		}
		instr := Instruction{PeriodFrom: from, Amount: in.Amount, Stop: in.Stop, SupersedesLineID: in.SupersedesLineID}
		if in.PeriodTo != "" {
			to, err := time.Parse(time.DateOnly, in.PeriodTo)
			if err != nil {
				return Decision{}, fmt.Errorf("%w: instruction %d periodTo: %v", ErrInvalidDecision, i, err)
			}
			instr.PeriodTo = &to
		}
		d.Instructions = append(d.Instructions, instr)
	}
	return d, d.Validate()
}

// NewDecisionPayload renders a decision back to its JSON form.
func NewDecisionPayload(d Decision) DecisionPayload {
	p := DecisionPayload{
		CaseID:       d.CaseID,
		DecisionID:   d.DecisionID,
		BehandlingID: d.BehandlingID,
		RecipientID:  d.RecipientID,
		CaseWorkerID: d.CaseWorkerID,
		ApproverID:   d.ApproverID,
		Instructions: make([]InstructionPayload, 0, len(d.Instructions)),
	}
	for _, in := range d.Instructions {
		ip := InstructionPayload{
			PeriodFrom:       in.PeriodFrom.Format(time.DateOnly),
			Amount:           in.Amount,
			Stop:             in.Stop,
			SupersedesLineID: in.SupersedesLineID,
		}
		if in.PeriodTo != nil {
			ip.PeriodTo = in.PeriodTo.Format(time.DateOnly)
		}
		p.Instructions = append(p.Instructions, ip)
	}
	return p
}
