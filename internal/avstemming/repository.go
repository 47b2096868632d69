package avstemming

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/settlement-bridge/internal/platform/db"
)

// Repository persists reconciliation records.
type Repository interface {
	LatestRecord(ctx context.Context) (Record, error)
	InsertRecord(ctx context.Context, rec Record) (Record, error)
	ListRecords(ctx context.Context, limit int) ([]Record, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns a pgx backed record store.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const recordColumns = `id, run_id::text, period_from, period_to, order_count, summary, created_at`

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.RunID, &rec.Period.From, &rec.Period.To, &rec.OrderCount, &rec.Summary, &rec.CreatedAt)
	return rec, err
}

// LatestRecord returns the record with the latest period end.
func (r *repository) LatestRecord(ctx context.Context) (Record, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM avstemming ORDER BY period_to DESC LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNoRecord
	}
	return rec, err
}

// InsertRecord appends a record. The unique index on period_from turns a
// second run over the same window into ErrInvalidPeriod.
func (r *repository) InsertRecord(ctx context.Context, rec Record) (Record, error) {
	query := `
		INSERT INTO avstemming (run_id, period_from, period_to, order_count, summary)
		VALUES ($1::uuid, $2, $3, $4, $5)
		RETURNING ` + recordColumns
	out, err := scanRecord(r.pool.QueryRow(ctx, query,
		rec.RunID, rec.Period.From, rec.Period.To, rec.OrderCount, rec.Summary))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Record{}, ErrInvalidPeriod
		}
		return Record{}, err
	}
	return out, nil
}

// ListRecords returns the most recent records first.
func (r *repository) ListRecords(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM avstemming ORDER BY period_to DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
