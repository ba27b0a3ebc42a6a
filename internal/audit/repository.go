package audit

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads the append-only audit_entries table.
type Repository interface {
	Window(ctx context.Context, filters Filters, limit, offset int) ([]Entry, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the pgx-backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Window(ctx context.Context, filters Filters, limit, offset int) ([]Entry, error) {
	query := `SELECT id, entity, entity_id, action, old_values, new_values, triggered_by, created_at
FROM audit_entries WHERE 1=1`
	args := []any{}
	argCount := 0

	if filters.Entity != "" {
		argCount++
		query += ` AND entity = $` + strconv.Itoa(argCount)
		args = append(args, filters.Entity)
	}
	if filters.EntityID > 0 {
		argCount++
		query += ` AND entity_id = $` + strconv.Itoa(argCount)
		args = append(args, filters.EntityID)
	}
	if filters.Action != "" {
		argCount++
		query += ` AND action = $` + strconv.Itoa(argCount)
		args = append(args, filters.Action)
	}
	if !filters.From.IsZero() {
		argCount++
		query += ` AND created_at >= $` + strconv.Itoa(argCount)
		args = append(args, filters.From)
	}
	if !filters.To.IsZero() {
		argCount++
		query += ` AND created_at <= $` + strconv.Itoa(argCount)
		args = append(args, filters.To)
	}

	query += ` ORDER BY created_at DESC, id DESC`
	argCount++
	query += ` LIMIT $` + strconv.Itoa(argCount)
	args = append(args, limit)
	argCount++
	query += ` OFFSET $` + strconv.Itoa(argCount)
	args = append(args, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var oldRaw, newRaw []byte
		if err := rows.Scan(&e.ID, &e.Entity, &e.EntityID, &e.Action, &oldRaw, &newRaw, &e.TriggeredBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(oldRaw) > 0 {
			if err := json.Unmarshal(oldRaw, &e.OldValues); err != nil {
				return nil, err
			}
		}
		if len(newRaw) > 0 {
			if err := json.Unmarshal(newRaw, &e.NewValues); err != nil {
				return nil, err
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
