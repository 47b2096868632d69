package oppdrag

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/settlement-bridge/internal/oppdrag/wire"
)

type memoryRepo struct {
	mu         sync.Mutex
	orders     map[int64]PaymentOrder
	lines      map[int64][]PaymentLine
	nextOrder  int64
	nextLine   int64
	insertErr  error
	transition []string
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		orders: make(map[int64]PaymentOrder),
		lines:  make(map[int64][]PaymentLine),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) withLines(o PaymentOrder) *PaymentOrder {
	o.Lines = append([]PaymentLine(nil), r.lines[o.ID]...)
	return &o
}

func (r *memoryRepo) Get(_ context.Context, id int64) (*PaymentOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.withLines(o), nil
}

func (r *memoryRepo) FindByDecision(_ context.Context, decisionID string) (*PaymentOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.DecisionID == decisionID {
			return r.withLines(o), nil
		}
	}
	return nil, ErrNotFound
}

func (r *memoryRepo) List(_ context.Context, filter ListFilter) ([]PaymentOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PaymentOrder
	for _, o := range r.orders {
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.CaseID != "" && o.CaseID != filter.CaseID {
			continue
		}
		out = append(out, *r.withLines(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *memoryRepo) LinesForCase(_ context.Context, caseID string) ([]PaymentLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PaymentLine
	for id, o := range r.orders {
		if o.CaseID == caseID {
			out = append(out, r.lines[id]...)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) PriorOrders(_ context.Context, caseID string, beforeID int64) (PriorOrders, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var p PriorOrders
	for id, o := range r.orders {
		if o.CaseID != caseID || id >= beforeID {
			continue
		}
		switch o.Status {
		case StatusSent, StatusConfirmed:
			p.Delivered++
		case StatusCreated:
			p.Pending++
		}
	}
	return p, nil
}

func (r *memoryRepo) OrdersInKeyRange(_ context.Context, from, to time.Time) ([]PaymentOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PaymentOrder
	for _, o := range r.orders {
		if !o.ReconciliationKey.Before(from) && o.ReconciliationKey.Before(to) {
			out = append(out, *r.withLines(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReconciliationKey.Before(out[j].ReconciliationKey) })
	return out, nil
}

func (r *memoryRepo) status(id int64) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders[id].Status
}

func (t *memoryTx) InsertOrder(_ context.Context, o PaymentOrder) (int64, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return 0, r.insertErr
	}
	for _, existing := range r.orders {
		if existing.DecisionID == o.DecisionID {
			return 0, ErrDuplicateDecision
		}
	}
	r.nextOrder++
	o.ID = r.nextOrder
	o.Lines = nil
	r.orders[o.ID] = o
	return o.ID, nil
}

func (t *memoryTx) InsertLine(_ context.Context, l PaymentLine) (int64, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	if l.SupersedesLineID != nil {
		for _, lines := range r.lines {
			for _, existing := range lines {
				if existing.SupersedesLineID != nil && *existing.SupersedesLineID == *l.SupersedesLineID {
					return 0, ErrLineChain
				}
			}
		}
	}
	r.nextLine++
	l.ID = r.nextLine
	r.lines[l.OrderID] = append(r.lines[l.OrderID], l)
	return l.ID, nil
}

func (t *memoryTx) TransitionStatus(_ context.Context, id int64, from, to Status, failure *FailureDetail) error {
	if !CanTransition(from, to) {
		return ErrInvalidTransition
	}
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok || o.Status != from {
		return ErrStaleTransition
	}
	o.Status = to
	o.Failure = failure
	r.orders[id] = o
	r.transition = append(r.transition, string(from)+"->"+string(to))
	return nil
}

type recordingSender struct {
	mu   sync.Mutex
	sent []wire.Oppdrag
	err  error
}

func (s *recordingSender) Send(_ context.Context, o wire.Oppdrag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, o)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

var errQueueDown = errors.New("queue unavailable")
