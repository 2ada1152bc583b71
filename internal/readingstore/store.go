package readingstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/influx-north/internal/infrastructure/database"
	"github.com/nerrad567/influx-north/internal/reading"
)

// MaxFetchLimit caps the number of readings returned by one Fetch.
const MaxFetchLimit = 10000

// StoredReading is a buffered reading together with its position.
type StoredReading struct {
	ID        int64
	Reading   *reading.Reading
	CreatedAt time.Time
}

// Readings returns the readings of a block in order.
func Readings(block []StoredReading) []*reading.Reading {
	out := make([]*reading.Reading, len(block))
	for i := range block {
		out[i] = block[i].Reading
	}
	return out
}

// Store is the reading buffer used by ingest and the north task.
type Store interface {
	Append(ctx context.Context, readings []*reading.Reading) ([]int64, error)
	Fetch(ctx context.Context, afterID int64, limit int) ([]StoredReading, error)
	Position(ctx context.Context, stream string) (int64, error)
	SetPosition(ctx context.Context, stream string, id int64) error
	Purge(ctx context.Context, upToID int64) (int64, error)
	Count(ctx context.Context) (int64, error)
	Backlog(ctx context.Context, stream string) (int64, error)
}

// SQLiteStore implements Store on the readings and streams tables.
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore creates a store on a migrated database.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Append inserts readings in one transaction and returns their IDs in order.
func (s *SQLiteStore) Append(ctx context.Context, readings []*reading.Reading) ([]int64, error) {
	if len(readings) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(readings))
	now := time.Now().UTC().Format(time.RFC3339Nano)

	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO readings (asset, user_ts, reading, created_at) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer stmt.Close()

		for i, r := range readings {
			if r == nil {
				return fmt.Errorf("reading %d: %w", i, ErrNilReading)
			}
			if err := r.Validate(); err != nil {
				return fmt.Errorf("reading %d: %w", i, err)
			}
			body, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("encoding reading %d: %w", i, err)
			}
			res, err := stmt.ExecContext(ctx,
				r.Asset, r.Timestamp.UTC().Format(time.RFC3339Nano), string(body), now)
			if err != nil {
				return fmt.Errorf("inserting reading %d: %w", i, err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("reading insert id: %w", err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Fetch returns up to limit readings with ID greater than afterID, ascending.
func (s *SQLiteStore) Fetch(ctx context.Context, afterID int64, limit int) ([]StoredReading, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	if limit > MaxFetchLimit {
		limit = MaxFetchLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, reading, created_at FROM readings WHERE id > ? ORDER BY id LIMIT ?`,
		afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	var block []StoredReading
	for rows.Next() {
		var (
			sr        StoredReading
			body      string
			createdAt string
		)
		if err := rows.Scan(&sr.ID, &body, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		r := &reading.Reading{}
		if err := json.Unmarshal([]byte(body), r); err != nil {
			return nil, fmt.Errorf("decoding reading %d: %w", sr.ID, err)
		}
		sr.Reading = r
		sr.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt) //nolint:errcheck // Format is controlled
		block = append(block, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}
	return block, nil
}

// Position returns the last delivered reading ID for stream, or 0 if the
// stream has never delivered anything.
func (s *SQLiteStore) Position(ctx context.Context, stream string) (int64, error) {
	if stream == "" {
		return 0, ErrEmptyStream
	}

	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_object FROM streams WHERE name = ?`, stream,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying stream position: %w", err)
	}
	return id, nil
}

// SetPosition records id as the last delivered reading for stream.
func (s *SQLiteStore) SetPosition(ctx context.Context, stream string, id int64) error {
	if stream == "" {
		return ErrEmptyStream
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO streams (name, last_object, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET last_object = excluded.last_object, updated_at = excluded.updated_at`,
		stream, id, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("updating stream position: %w", err)
	}
	return nil
}

// Purge deletes readings with ID up to and including upToID and returns how
// many rows were removed.
func (s *SQLiteStore) Purge(ctx context.Context, upToID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM readings WHERE id <= ?`, upToID)
	if err != nil {
		return 0, fmt.Errorf("purging readings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purged row count: %w", err)
	}
	return n, nil
}

// Count returns the number of buffered readings.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM readings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting readings: %w", err)
	}
	return n, nil
}

// Backlog returns the number of readings after the stream's position.
func (s *SQLiteStore) Backlog(ctx context.Context, stream string) (int64, error) {
	pos, err := s.Position(ctx, stream)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM readings WHERE id > ?`, pos,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting backlog: %w", err)
	}
	return n, nil
}
