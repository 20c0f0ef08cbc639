package settings

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/automata-backoffice/backoffice/internal/platform/db"
	"github.com/automata-backoffice/backoffice/internal/shared"
)

// PGStore keeps settings in the settings table.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewStore constructs a PostgreSQL store.
func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// List returns every setting ordered by key.
func (s *PGStore) List(ctx context.Context) ([]Setting, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value, description, setting_group FROM settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Setting
	for rows.Next() {
		var st Setting
		if err := rows.Scan(&st.Key, &st.Value, &st.Description, &st.Group); err != nil {
			return nil, err
		}
		list = append(list, st)
	}
	return list, rows.Err()
}

// Find fetches a single setting.
func (s *PGStore) Find(ctx context.Context, key string) (Setting, error) {
	var st Setting
	err := s.pool.QueryRow(ctx, `SELECT key, value, description, setting_group FROM settings WHERE key = $1`, key).
		Scan(&st.Key, &st.Value, &st.Description, &st.Group)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Setting{}, shared.ErrNotFound
		}
		return Setting{}, err
	}
	return st, nil
}

// Upsert inserts or replaces a setting.
func (s *PGStore) Upsert(ctx context.Context, st Setting) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO settings (key, value, description, setting_group) VALUES ($1, $2, $3, $4)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, description = EXCLUDED.description,
	setting_group = EXCLUDED.setting_group, updated_at = NOW()`,
		st.Key, st.Value, st.Description, st.Group)
	return err
}

// InsertMissing adds absent keys in one transaction.
func (s *PGStore) InsertMissing(ctx context.Context, list []Setting) (int, error) {
	added := 0
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, st := range list {
			tag, err := tx.Exec(ctx, `INSERT INTO settings (key, value, description, setting_group) VALUES ($1, $2, $3, $4)
ON CONFLICT (key) DO NOTHING`, st.Key, st.Value, st.Description, st.Group)
			if err != nil {
				return err
			}
			added += int(tag.RowsAffected())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

var _ Store = (*PGStore)(nil)
