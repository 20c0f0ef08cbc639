package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository reads audit_logs from PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const timelineWindow = `SELECT occurred_at, actor, action, entity, entity_id, meta
FROM audit_logs
WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR occurred_at <= $2)
  AND ($3::text IS NULL OR actor = $3)
  AND ($4::text IS NULL OR entity = $4)
  AND ($5::text IS NULL OR entity_id = $5)
  AND ($6::text IS NULL OR action = $6)
ORDER BY occurred_at DESC, id DESC
OFFSET $7 LIMIT $8`

// TimelineWindow implements Repository.
func (r *PGRepository) TimelineWindow(ctx context.Context, arg WindowParams) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, timelineWindow,
		arg.FromAt, arg.ToAt, arg.Actor, arg.Entity, arg.EntityID, arg.Action, arg.OffsetRows, arg.LimitRows)
	if err != nil {
		return nil, fmt.Errorf("audit: timeline: %w", err)
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var (
			e    Entry
			meta []byte
		)
		if err := rows.Scan(&e.At, &e.Actor, &e.Action, &e.Entity, &e.EntityID, &meta); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Meta); err != nil {
				return nil, fmt.Errorf("audit: decode meta: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ Repository = (*PGRepository)(nil)
