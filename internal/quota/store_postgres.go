package quota

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps quota records in the user_daily_quotas table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// GetOrCreate returns the record for (userID, day), inserting a zeroed row
// first if none exists yet.
func (s *PostgresStore) GetOrCreate(ctx context.Context, userID uuid.UUID, day string, maxDaily int) (Record, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_daily_quotas (user_id, day, max_daily_quota)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, day) DO NOTHING`, userID, day, maxDaily)
	if err != nil {
		return Record{}, fmt.Errorf("ensuring quota record: %w", err)
	}

	var rec Record
	err = s.pool.QueryRow(ctx,
		`SELECT user_id, to_char(day, 'YYYY-MM-DD'), generated_count, max_daily_quota,
		        current_card_exists, current_card_id, version, created_at, updated_at
		 FROM user_daily_quotas WHERE user_id = $1 AND day = $2`, userID, day,
	).Scan(&rec.UserID, &rec.Day, &rec.GeneratedCount, &rec.MaxDaily,
		&rec.CurrentCardExists, &rec.CurrentCardID, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("fetching quota record: %w", err)
	}
	return rec, nil
}

// UpdateVersioned commits rec with a conditional write on the version read by
// the caller. Zero rows affected means another writer got there first.
func (s *PostgresStore) UpdateVersioned(ctx context.Context, rec Record) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_daily_quotas
		 SET generated_count = $4,
		     current_card_exists = $5,
		     current_card_id = $6,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE user_id = $1 AND day = $2 AND version = $3`,
		rec.UserID, rec.Day, rec.Version,
		rec.GeneratedCount, rec.CurrentCardExists, rec.CurrentCardID)
	if err != nil {
		return fmt.Errorf("updating quota record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}
