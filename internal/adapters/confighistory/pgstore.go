package confighistory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/nimbusdns/resolvcore/internal/core/domain"
)

// PgStore is the durable ConfigVersionStore backed by PostgreSQL, reached
// through database/sql and the jackc/pgx/v5 stdlib driver. The caller is
// responsible for opening db with the pgx stdlib driver registered
// (`_ "github.com/jackc/pgx/v5/stdlib"`) and for having applied the
// config_snapshots schema.
type PgStore struct {
	db *sql.DB
}

// NewPgStore wraps an already-open *sql.DB.
func NewPgStore(db *sql.DB) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) Save(ctx context.Context, snap domain.Snapshot) error {
	cfgJSON, err := json.Marshal(snap.Config)
	if err != nil {
		return domain.WrapError(domain.KindPersistence, "failed to marshal config snapshot", err)
	}
	query := `INSERT INTO config_snapshots (id, config, created_at, reason) VALUES ($1, $2, $3, $4)`
	if _, err := s.db.ExecContext(ctx, query, snap.ID, cfgJSON, snap.CreatedAt, snap.Reason); err != nil {
		return domain.WrapError(domain.KindPersistence, "failed to save config snapshot", err)
	}
	return nil
}

func (s *PgStore) List(ctx context.Context, limit int) ([]domain.Snapshot, error) {
	query := `SELECT id, config, created_at, reason FROM config_snapshots ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.WrapError(domain.KindPersistence, "failed to list config snapshots", err)
	}
	defer rows.Close()

	var snaps []domain.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (s *PgStore) Latest(ctx context.Context) (domain.Snapshot, error) {
	query := `SELECT id, config, created_at, reason FROM config_snapshots ORDER BY created_at DESC LIMIT 1`
	row := s.db.QueryRowContext(ctx, query)
	return scanSnapshotRow(row)
}

func (s *PgStore) Rollback(ctx context.Context, id string) (domain.Config, error) {
	query := `SELECT config FROM config_snapshots WHERE id = $1`
	var cfgJSON []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(&cfgJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Config{}, domain.NewError(domain.KindPersistence, "no snapshot with id "+id)
	}
	if err != nil {
		return domain.Config{}, domain.WrapError(domain.KindPersistence, "failed to read config snapshot", err)
	}
	var cfg domain.Config
	if err := json.Unmarshal(cfgJSON, &cfg); err != nil {
		return domain.Config{}, domain.WrapError(domain.KindPersistence, "failed to unmarshal config snapshot", err)
	}
	return cfg, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(rows *sql.Rows) (domain.Snapshot, error) {
	return scanSnapshotRow(rows)
}

func scanSnapshotRow(row rowScanner) (domain.Snapshot, error) {
	var snap domain.Snapshot
	var cfgJSON []byte
	if err := row.Scan(&snap.ID, &cfgJSON, &snap.CreatedAt, &snap.Reason); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Snapshot{}, domain.NewError(domain.KindPersistence, "no config snapshots recorded")
		}
		return domain.Snapshot{}, domain.WrapError(domain.KindPersistence, "failed to read config snapshot", err)
	}
	if err := json.Unmarshal(cfgJSON, &snap.Config); err != nil {
		return domain.Snapshot{}, domain.WrapError(domain.KindPersistence, "failed to unmarshal config snapshot", err)
	}
	return snap, nil
}
