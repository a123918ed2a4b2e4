package tradefeature

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Persister is satisfied by both the file-backed Store and PostgresStore,
// so callers can point the journal at either backend interchangeably.
type Persister interface {
	Upsert(rec Record) error
	Load() ([]Record, error)
	Query(symbol string, from, to time.Time) ([]Record, error)
}

// PostgresStore is a Postgres-backed alternative to Store, grounded on the
// teacher's own "sql.Open("pgx", dsn) against a trades table" idiom
// (cmd/daily-stats/main.go, cmd/clear-trades/main.go) rather than a
// hand-rolled file format, with the feature snapshot kept as jsonb instead
// of being flattened into columns.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects to dsn (a postgres:// URL, same DSN shape the
// teacher's CLIs hardcode) and ensures the journal table exists.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("tradefeature: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("tradefeature: ping postgres: %w", err)
	}
	p := &PostgresStore{db: db}
	if err := p.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// IsPostgresDSN reports whether path names a Postgres connection string
// rather than a filesystem path for the journal.
func IsPostgresDSN(path string) bool {
	return strings.HasPrefix(path, "postgres://") || strings.HasPrefix(path, "postgresql://")
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) ensureSchema() error {
	_, err := p.db.Exec(`
CREATE TABLE IF NOT EXISTS trade_features (
	transaction_id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	signal_date DATE NOT NULL,
	entry_dt DATE NOT NULL,
	exit_dt DATE NOT NULL,
	qty DOUBLE PRECISION NOT NULL,
	exit_reason TEXT NOT NULL,
	return_rate DOUBLE PRECISION NOT NULL,
	feature_snapshot JSONB NOT NULL,
	feature_snapshot_original JSONB,
	params_snapshot JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("tradefeature: ensure schema: %w", err)
	}
	return nil
}

// Upsert mirrors Store.Upsert's semantics via INSERT ... ON CONFLICT:
// feature_snapshot_original and created_at are set only on first insert
// and never touched by the DO UPDATE SET clause.
func (p *PostgresStore) Upsert(rec Record) error {
	now := rec.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	original := rec.FeatureSnapshotOriginal
	if original == nil {
		original = rec.FeatureSnapshot
	}

	snapshot, err := json.Marshal(rec.FeatureSnapshot)
	if err != nil {
		return fmt.Errorf("tradefeature: marshal feature_snapshot: %w", err)
	}
	originalSnapshot, err := json.Marshal(original)
	if err != nil {
		return fmt.Errorf("tradefeature: marshal feature_snapshot_original: %w", err)
	}
	params, err := json.Marshal(rec.ParamsSnapshot)
	if err != nil {
		return fmt.Errorf("tradefeature: marshal params_snapshot: %w", err)
	}

	_, err = p.db.Exec(`
INSERT INTO trade_features (
	transaction_id, symbol, signal_date, entry_dt, exit_dt, qty,
	exit_reason, return_rate, feature_snapshot, feature_snapshot_original,
	params_snapshot, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (transaction_id) DO UPDATE SET
	symbol = EXCLUDED.symbol,
	signal_date = EXCLUDED.signal_date,
	entry_dt = EXCLUDED.entry_dt,
	exit_dt = EXCLUDED.exit_dt,
	qty = EXCLUDED.qty,
	exit_reason = EXCLUDED.exit_reason,
	return_rate = EXCLUDED.return_rate,
	feature_snapshot = EXCLUDED.feature_snapshot,
	params_snapshot = EXCLUDED.params_snapshot,
	updated_at = EXCLUDED.updated_at`,
		rec.TransactionID, rec.Symbol, rec.SignalDate, rec.EntryDt, rec.ExitDt, rec.Qty,
		rec.ExitReason, rec.ReturnRate, snapshot, originalSnapshot,
		params, createdAt, now,
	)
	if err != nil {
		return fmt.Errorf("tradefeature: upsert: %w", err)
	}
	return nil
}

// Load returns every record in the journal, oldest entry_dt first.
func (p *PostgresStore) Load() ([]Record, error) {
	return p.query("SELECT "+selectColumns+" FROM trade_features ORDER BY entry_dt")
}

// Query mirrors Store.Query's symbol/date-range filter contract.
func (p *PostgresStore) Query(symbol string, from, to time.Time) ([]Record, error) {
	q := "SELECT " + selectColumns + " FROM trade_features WHERE 1=1"
	var args []any
	n := 1
	if symbol != "" {
		q += fmt.Sprintf(" AND split_part(symbol, '.', 1) = split_part($%d, '.', 1)", n)
		args = append(args, symbol)
		n++
	}
	if !from.IsZero() {
		q += fmt.Sprintf(" AND entry_dt >= $%d", n)
		args = append(args, from)
		n++
	}
	if !to.IsZero() {
		q += fmt.Sprintf(" AND entry_dt <= $%d", n)
		args = append(args, to)
		n++
	}
	q += " ORDER BY entry_dt"
	return p.query(q, args...)
}

const selectColumns = `transaction_id, symbol, signal_date, entry_dt, exit_dt, qty,
	exit_reason, return_rate, feature_snapshot, feature_snapshot_original,
	params_snapshot, created_at, updated_at`

func (p *PostgresStore) query(q string, args ...any) ([]Record, error) {
	rows, err := p.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("tradefeature: query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var snapshot, original, params []byte
		if err := rows.Scan(
			&r.TransactionID, &r.Symbol, &r.SignalDate, &r.EntryDt, &r.ExitDt, &r.Qty,
			&r.ExitReason, &r.ReturnRate, &snapshot, &original, &params,
			&r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("tradefeature: scan row: %w", err)
		}
		if err := json.Unmarshal(snapshot, &r.FeatureSnapshot); err != nil {
			return nil, fmt.Errorf("tradefeature: unmarshal feature_snapshot: %w", err)
		}
		if len(original) > 0 {
			if err := json.Unmarshal(original, &r.FeatureSnapshotOriginal); err != nil {
				return nil, fmt.Errorf("tradefeature: unmarshal feature_snapshot_original: %w", err)
			}
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &r.ParamsSnapshot); err != nil {
				return nil, fmt.Errorf("tradefeature: unmarshal params_snapshot: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
