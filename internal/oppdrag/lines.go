package oppdrag

import (
	"fmt"
	"sort"
)

// LineChain indexes the immutable lines of one case by id. Each line may be
// superseded at most once, so every chain has a single head.
type LineChain struct {
	lines        map[int64]PaymentLine
	supersededBy map[int64]int64
}

// NewLineChain builds the index and rejects broken references.
func NewLineChain(lines []PaymentLine) (*LineChain, error) {
	c := &LineChain{
		lines:        make(map[int64]PaymentLine, len(lines)),
		supersededBy: make(map[int64]int64),
	}
	sorted := append([]PaymentLine(nil), lines...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for _, l := range sorted {
		if l.ID == 0 {
			return nil, fmt.Errorf("%w: unsaved line in chain", ErrLineChain)
		}
		if l.SupersedesLineID != nil {
			prev := *l.SupersedesLineID
			if _, ok := c.lines[prev]; !ok {
				return nil, fmt.Errorf("%w: line %d supersedes unknown line %d", ErrLineChain, l.ID, prev)
			}
			if other, taken := c.supersededBy[prev]; taken {
				return nil, fmt.Errorf("%w: line %d already superseded by %d", ErrLineChain, prev, other)
			}
			c.supersededBy[prev] = l.ID
		}
		c.lines[l.ID] = l
	}
	return c, nil
}

// Len returns the number of indexed lines.
func (c *LineChain) Len() int {
	return len(c.lines)
}

// Current returns the unsuperseded lines ordered by id.
func (c *LineChain) Current() []PaymentLine {
	out := make([]PaymentLine, 0, len(c.lines))
	for id, l := range c.lines {
		if _, superseded := c.supersededBy[id]; !superseded {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Head follows the chain starting at id and returns its latest line.
func (c *LineChain) Head(id int64) (PaymentLine, bool) {
	l, ok := c.lines[id]
	if !ok {
		return PaymentLine{}, false
	}
	for {
		next, superseded := c.supersededBy[l.ID]
		if !superseded {
			return l, true
		}
		l = c.lines[next]
	}
}

// Check validates that candidate lines only supersede current lines and do
// not collide on the same target.
func (c *LineChain) Check(candidates []PaymentLine) error {
	targets := make(map[int64]struct{})
	for i, l := range candidates {
		if l.SupersedesLineID == nil {
			continue
		}
		prev := *l.SupersedesLineID
		if _, ok := c.lines[prev]; !ok {
			return fmt.Errorf("%w: instruction %d supersedes unknown line %d", ErrLineChain, i, prev)
		}
		if next, taken := c.supersededBy[prev]; taken {
			return fmt.Errorf("%w: instruction %d supersedes line %d which line %d already replaced", ErrLineChain, i, prev, next)
		}
		if _, dup := targets[prev]; dup {
			return fmt.Errorf("%w: line %d superseded twice in one decision", ErrLineChain, prev)
		}
		targets[prev] = struct{}{}
	}
	return nil
}
