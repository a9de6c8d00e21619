// Package postgres persists sequencer state: balance deltas, periodic
// snapshots and published commits.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"swapsequencer/internal/ledger"
	"swapsequencer/internal/model"
)

// Store provides Postgres persistence for one module instance.
type Store struct {
	pool   *pgxpool.Pool
	module string
}

func NewStore(ctx context.Context, dsn, module string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	if module == "" {
		return nil, fmt.Errorf("module id is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, module: module}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// SaveChanges upserts a batch of balance deltas and advances the stored
// cursor in the same round trip.
func (s *Store) SaveChanges(ctx context.Context, cursor int64, changes []ledger.ChangeRecord) error {
	if len(changes) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range changes {
		batch.Queue(`
			INSERT INTO balances (
				module, class, tick, address, balance, supply, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, now(), now())
			ON CONFLICT (module, class, tick, address)
			DO UPDATE SET
				balance = EXCLUDED.balance,
				supply = EXCLUDED.supply,
				updated_at = now()
		`,
			s.module,
			string(c.Class),
			c.Tick,
			c.Address,
			c.Balance,
			c.Supply,
		)
	}
	batch.Queue(`
		INSERT INTO sequencer_state (module, cursor, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (module) DO UPDATE
		SET cursor = EXCLUDED.cursor, updated_at = now()
	`, s.module, cursor)

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// SaveSnapshot stores a full state capture keyed by cursor.
func (s *Store) SaveSnapshot(ctx context.Context, cursor int64, data *model.SnapshotData) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO snapshots (module, cursor, data, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (module, cursor) DO UPDATE
		SET data = EXCLUDED.data
	`, s.module, cursor, encoded)
	return err
}

// LoadLatestSnapshot returns the deepest stored snapshot, ok=false when
// none exists yet.
func (s *Store) LoadLatestSnapshot(ctx context.Context) (*model.SnapshotData, bool, error) {
	var encoded []byte
	row := s.pool.QueryRow(ctx, `
		SELECT data FROM snapshots WHERE module=$1 ORDER BY cursor DESC LIMIT 1
	`, s.module)
	if err := row.Scan(&encoded); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var data model.SnapshotData
	if err := json.Unmarshal(encoded, &data); err != nil {
		return nil, false, fmt.Errorf("parse snapshot: %w", err)
	}
	return &data, true, nil
}

// SaveCommit records a published commit inscription.
func (s *Store) SaveCommit(ctx context.Context, inscriptionID, parent, content string) error {
	if inscriptionID == "" {
		return fmt.Errorf("inscription id required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO commits (module, inscription_id, parent, content, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (module, inscription_id) DO NOTHING
	`, s.module, inscriptionID, parent, content)
	return err
}

// LoadCursor returns the last persisted confirmed cursor.
func (s *Store) LoadCursor(ctx context.Context) (int64, bool, error) {
	var cursor int64
	row := s.pool.QueryRow(ctx, `SELECT cursor FROM sequencer_state WHERE module=$1`, s.module)
	if err := row.Scan(&cursor); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return cursor, true, nil
}
