// Package avstemming runs grensesnittavstemming: the periodic report to the
// mainframe of every order placed in a window, and its audit trail.
package avstemming

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Period is the half-open window [From, To) of reconciliation keys.
type Period struct {
	From time.Time
	To   time.Time
}

// Validate rejects empty or inverted windows.
func (p Period) Validate() error {
	if !p.From.Before(p.To) {
		return fmt.Errorf("%w: from %s is not before to %s", ErrInvalidPeriod,
			p.From.Format(time.RFC3339Nano), p.To.Format(time.RFC3339Nano))
	}
	return nil
}

// Contains reports whether key lies in the window.
func (p Period) Contains(key time.Time) bool {
	return !key.Before(p.From) && key.Before(p.To)
}

// Bucket aggregates the orders of one outcome.
type Bucket struct {
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

func (b *Bucket) add(amount decimal.Decimal) {
	b.Count++
	b.Amount = b.Amount.Add(amount)
}

// Summary is the serialized digest kept on a record.
type Summary struct {
	Total     Bucket `json:"total"`
	Confirmed Bucket `json:"confirmed"`
	Failed    Bucket `json:"failed"`
	Missing   Bucket `json:"missing"`
	Messages  int    `json:"messages"`
}

// Record is one completed run. Records are only ever inserted.
type Record struct {
	ID         int64
	RunID      string
	Period     Period
	OrderCount int
	Summary    Summary
	CreatedAt  time.Time
}

var (
	// ErrInvalidPeriod is returned for empty, inverted or overlapping windows.
	ErrInvalidPeriod = errors.New("avstemming: invalid period")
	// ErrTransmit is returned when a frame could not be published. No record is
	// written and the next run retries the same window.
	ErrTransmit = errors.New("avstemming: transmit failed")
	// ErrNoRecord is returned when no run has completed yet.
	ErrNoRecord = errors.New("avstemming: no record")
)
