package oppdrag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/settlement-bridge/internal/platform/db"
)

// Repository defines persistence for orders and their lines.
type Repository interface {
	// Read operations
	Get(ctx context.Context, id int64) (*PaymentOrder, error)
	FindByDecision(ctx context.Context, decisionID string) (*PaymentOrder, error)
	List(ctx context.Context, filter ListFilter) ([]PaymentOrder, error)
	LinesForCase(ctx context.Context, caseID string) ([]PaymentLine, error)
	PriorOrders(ctx context.Context, caseID string, beforeID int64) (PriorOrders, error)
	OrdersInKeyRange(ctx context.Context, from, to time.Time) ([]PaymentOrder, error)

	// Write operations (transactional)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the writes allowed inside a unit of work.
type TxRepository interface {
	InsertOrder(ctx context.Context, order PaymentOrder) (int64, error)
	InsertLine(ctx context.Context, line PaymentLine) (int64, error)
	TransitionStatus(ctx context.Context, id int64, from, to Status, failure *FailureDetail) error
}

// PriorOrders counts earlier orders of a case by how far they got.
type PriorOrders struct {
	Delivered int
	Pending   int
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a pgx backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx runs fn in a read-committed transaction; every status transition
// is a guarded single-row update, so no wider isolation is needed.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const orderColumns = `
	id, case_id, decision_id, behandling_id, recipient_id, case_worker_id,
	approver_id, reconciliation_key, status, failure_severity, failure_code,
	failure_text, created_at, updated_at`

func scanOrder(row pgx.Row) (PaymentOrder, error) {
	var (
		o                    PaymentOrder
		severity, code, text *string
	)
	err := row.Scan(
		&o.ID, &o.CaseID, &o.DecisionID, &o.BehandlingID, &o.RecipientID, &o.CaseWorkerID,
		&o.ApproverID, &o.ReconciliationKey, &o.Status, &severity, &code,
		&text, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return PaymentOrder{}, err
	}
	if severity != nil {
		o.Failure = &FailureDetail{Severity: *severity}
		if code != nil {
			o.Failure.MessageCode = *code
		}
		if text != nil {
			o.Failure.Text = *text
		}
	}
	return o, nil
}

// Get retrieves an order with its lines.
func (r *repository) Get(ctx context.Context, id int64) (*PaymentOrder, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM oppdrag WHERE id = $1`, id)
}

// FindByDecision retrieves the order created for a decision.
func (r *repository) FindByDecision(ctx context.Context, decisionID string) (*PaymentOrder, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM oppdrag WHERE decision_id = $1`, decisionID)
}

func (r *repository) getOne(ctx context.Context, query string, arg any) (*PaymentOrder, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	lines, err := loadLines(ctx, r.pool, []int64{o.ID})
	if err != nil {
		return nil, err
	}
	o.Lines = lines[o.ID]
	return &o, nil
}

// List returns orders matching the filter, newest first.
func (r *repository) List(ctx context.Context, filter ListFilter) ([]PaymentOrder, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.CaseID != "" {
		args = append(args, filter.CaseID)
		where = append(where, fmt.Sprintf("case_id = $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)

	query := `SELECT ` + orderColumns + ` FROM oppdrag`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT $%d`, len(args))
	return r.queryOrders(ctx, query, args...)
}

// OrdersInKeyRange returns every order, in any status, whose reconciliation
// key lies in [from, to).
func (r *repository) OrdersInKeyRange(ctx context.Context, from, to time.Time) ([]PaymentOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM oppdrag
		WHERE reconciliation_key >= $1 AND reconciliation_key < $2
		ORDER BY reconciliation_key, id`
	return r.queryOrders(ctx, query, from, to)
}

func (r *repository) queryOrders(ctx context.Context, query string, args ...any) ([]PaymentOrder, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		orders []PaymentOrder
		ids    []int64
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return orders, nil
	}

	lines, err := loadLines(ctx, r.pool, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Lines = lines[orders[i].ID]
	}
	return orders, nil
}

// LinesForCase returns every line ever written for a case.
func (r *repository) LinesForCase(ctx context.Context, caseID string) ([]PaymentLine, error) {
	query := `
		SELECT l.id, l.oppdrag_id, l.period_from, l.period_to, l.amount::text,
		       l.line_type, l.supersedes_line_id, l.created_at
		FROM oppdrag_linje l
		JOIN oppdrag o ON o.id = l.oppdrag_id
		WHERE o.case_id = $1
		ORDER BY l.id
	`
	rows, err := r.pool.Query(ctx, query, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PaymentLine
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

// PriorOrders counts the orders of caseID created before beforeID.
func (r *repository) PriorOrders(ctx context.Context, caseID string, beforeID int64) (PriorOrders, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status IN ('SENT', 'CONFIRMED')),
			COUNT(*) FILTER (WHERE status = 'CREATED')
		FROM oppdrag
		WHERE case_id = $1 AND id < $2
	`
	var p PriorOrders
	if err := r.pool.QueryRow(ctx, query, caseID, beforeID).Scan(&p.Delivered, &p.Pending); err != nil {
		return PriorOrders{}, err
	}
	return p, nil
}

func loadLines(ctx context.Context, q querier, orderIDs []int64) (map[int64][]PaymentLine, error) {
	query := `
		SELECT id, oppdrag_id, period_from, period_to, amount::text,
		       line_type, supersedes_line_id, created_at
		FROM oppdrag_linje
		WHERE oppdrag_id = ANY($1)
		ORDER BY oppdrag_id, line_no
	`
	rows, err := q.Query(ctx, query, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]PaymentLine, len(orderIDs))
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		out[line.OrderID] = append(out[line.OrderID], line)
	}
	return out, rows.Err()
}

func scanLine(row pgx.Row) (PaymentLine, error) {
	var (
		l      PaymentLine
		amount *string
	)
	if err := row.Scan(&l.ID, &l.OrderID, &l.PeriodFrom, &l.PeriodTo, &amount, &l.Type, &l.SupersedesLineID, &l.CreatedAt); err != nil {
		return PaymentLine{}, err
	}
	if amount != nil {
		d, err := decimal.NewFromString(*amount)
		if err != nil {
			return PaymentLine{}, fmt.Errorf("oppdrag: line %d amount: %w", l.ID, err)
		}
		l.Amount = decimal.NullDecimal{Decimal: d, Valid: true}
	}
	return l, nil
}

// InsertOrder stores a new order. A second order for the same decision is
// rejected by the unique index on decision_id.
func (t *txRepository) InsertOrder(ctx context.Context, o PaymentOrder) (int64, error) {
	query := `
		INSERT INTO oppdrag (
			case_id, decision_id, behandling_id, recipient_id, case_worker_id,
			approver_id, reconciliation_key, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	var id int64
	err := t.tx.QueryRow(ctx, query,
		o.CaseID, o.DecisionID, o.BehandlingID, o.RecipientID, o.CaseWorkerID,
		o.ApproverID, o.ReconciliationKey, o.Status,
	).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, ErrDuplicateDecision
		}
		return 0, err
	}
	return id, nil
}

// InsertLine appends a line to an order.
func (t *txRepository) InsertLine(ctx context.Context, l PaymentLine) (int64, error) {
	query := `
		INSERT INTO oppdrag_linje (
			oppdrag_id, line_no, period_from, period_to, amount, line_type, supersedes_line_id
		) VALUES (
			$1,
			(SELECT COALESCE(MAX(line_no), 0) + 1 FROM oppdrag_linje WHERE oppdrag_id = $1),
			$2, $3, $4::numeric, $5, $6
		)
		RETURNING id
	`
	var amount *string
	if l.Amount.Valid {
		s := l.Amount.Decimal.String()
		amount = &s
	}
	var id int64
	err := t.tx.QueryRow(ctx, query, l.OrderID, l.PeriodFrom, l.PeriodTo, amount, l.Type, l.SupersedesLineID).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: line %v already superseded", ErrLineChain, l.SupersedesLineID)
		}
		return 0, err
	}
	return id, nil
}

// TransitionStatus moves one order from -> to. The update only matches when
// the row is still in from.
func (t *txRepository) TransitionStatus(ctx context.Context, id int64, from, to Status, failure *FailureDetail) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	var severity, code, text *string
	if failure != nil {
		severity, code, text = &failure.Severity, &failure.MessageCode, &failure.Text
	}
	query := `
		UPDATE oppdrag
		SET status = $1, failure_severity = $2, failure_code = $3, failure_text = $4, updated_at = now()
		WHERE id = $5 AND status = $6
	`
	tag, err := t.tx.Exec(ctx, query, to, severity, code, text, id, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleTransition
	}
	return nil
}
