// Package storage is the SQLite-backed ledger, instrument cache, and
// system config store (§6). Schema-as-const, single-writer connection
// pool, and UPSERT-on-conflict style are grounded on
// AlejandroRuiz99-polybot/internal/adapters/storage/sqlite.go.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rkulkarni/tradecore/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS instrument_master (
    token          INTEGER PRIMARY KEY,
    trading_symbol TEXT    NOT NULL,
    segment        TEXT    NOT NULL DEFAULT '',
    lot_size       INTEGER NOT NULL DEFAULT 1,
    tick_size      REAL    NOT NULL DEFAULT 0.05,
    freeze_qty     INTEGER NOT NULL DEFAULT 1800
);

CREATE TABLE IF NOT EXISTS order_ledger (
    internal_id      TEXT PRIMARY KEY,
    exchange_id      TEXT    NOT NULL DEFAULT '',
    token            INTEGER NOT NULL,
    side             TEXT    NOT NULL,
    type             TEXT    NOT NULL,
    product          TEXT    NOT NULL DEFAULT '',
    quantity         INTEGER NOT NULL,
    price            REAL    NOT NULL DEFAULT 0,
    status           TEXT    NOT NULL,
    rejection_reason TEXT    NOT NULL DEFAULT '',
    strategy_tag     TEXT    NOT NULL DEFAULT '',
    parent_id        TEXT    NOT NULL DEFAULT '',
    filled_qty       INTEGER NOT NULL DEFAULT 0,
    raw_request      TEXT    NOT NULL DEFAULT '',
    raw_response     TEXT    NOT NULL DEFAULT '',
    created_at       DATETIME NOT NULL,
    updated_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS system_config (
    key        TEXT PRIMARY KEY,
    payload    TEXT NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_token  ON order_ledger(token);
CREATE INDEX IF NOT EXISTS idx_ledger_status ON order_ledger(status);
`

const (
	configKeyCurrentState  = "current_state"
	configKeyStrategy      = "strategy_config"
)

// Store is the single SQLite-backed persistence layer for all three
// tables; SQLite is single-writer so the pool is capped at one connection,
// matching the teacher's discipline.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.Open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.Open: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// UpsertInstruments replaces or inserts the instrument master rows used to
// hydrate internal/instrument.Cache on boot.
func (s *Store) UpsertInstruments(ctx context.Context, instruments []domain.Instrument) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.UpsertInstruments: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO instrument_master (token, trading_symbol, segment, lot_size, tick_size, freeze_qty)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET
			trading_symbol = excluded.trading_symbol,
			segment        = excluded.segment,
			lot_size       = excluded.lot_size,
			tick_size      = excluded.tick_size,
			freeze_qty     = excluded.freeze_qty
	`)
	if err != nil {
		return fmt.Errorf("storage.UpsertInstruments: prepare: %w", err)
	}
	defer stmt.Close()

	for _, in := range instruments {
		if _, err := stmt.ExecContext(ctx, in.Token, in.TradingSymbol, in.Segment, in.LotSize, in.TickSize, in.FreezeQty); err != nil {
			return fmt.Errorf("storage.UpsertInstruments: exec: %w", err)
		}
	}
	return tx.Commit()
}

// LoadInstruments reads the full instrument master table.
func (s *Store) LoadInstruments(ctx context.Context) ([]domain.Instrument, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT token, trading_symbol, segment, lot_size, tick_size, freeze_qty FROM instrument_master`)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadInstruments: %w", err)
	}
	defer rows.Close()

	var out []domain.Instrument
	for rows.Next() {
		var in domain.Instrument
		if err := rows.Scan(&in.Token, &in.TradingSymbol, &in.Segment, &in.LotSize, &in.TickSize, &in.FreezeQty); err != nil {
			return nil, fmt.Errorf("storage.LoadInstruments: scan: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// SaveOrder upserts one order_ledger row by internal_id (§4.11 step 4e:
// ledger writes never block the strategy loop, so callers fire this off
// in its own goroutine).
func (s *Store) SaveOrder(order domain.Order) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO order_ledger (internal_id, exchange_id, token, side, type, product, quantity, price, status,
			rejection_reason, strategy_tag, parent_id, filled_qty, raw_request, raw_response, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(internal_id) DO UPDATE SET
			exchange_id      = excluded.exchange_id,
			status           = excluded.status,
			rejection_reason = excluded.rejection_reason,
			filled_qty       = excluded.filled_qty,
			raw_response     = excluded.raw_response,
			updated_at       = excluded.updated_at
	`,
		order.InternalID, order.ExchangeID, order.Token, string(order.Side), string(order.Type), order.Product,
		order.Quantity, order.Price, string(order.Status), order.RejectionReason, order.StrategyTag, order.ParentID,
		order.FilledQty, order.RawRequest, order.RawResponse, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		// a dropped ledger write is logged, not retried: the in-memory
		// strategy state remains authoritative for the running process.
		slog.Error("storage: save order failed", "internalId", order.InternalID, "error", err)
	}
}

// SaveEngineConfig persists the boot-time/hot-reload engine configuration
// under the fixed "current_state" key (§6 two fixed keys).
func (s *Store) SaveEngineConfig(ctx context.Context, cfg domain.EngineConfig) error {
	return s.saveConfig(ctx, configKeyCurrentState, cfg)
}

// LoadEngineConfig reads back the persisted engine configuration, if any.
func (s *Store) LoadEngineConfig(ctx context.Context) (domain.EngineConfig, bool, error) {
	var cfg domain.EngineConfig
	ok, err := s.loadConfig(ctx, configKeyCurrentState, &cfg)
	return cfg, ok, err
}

// SaveStrategyParams persists hot-tunable strategy parameters under the
// fixed "strategy_config" key.
func (s *Store) SaveStrategyParams(ctx context.Context, params map[string]float64) error {
	return s.saveConfig(ctx, configKeyStrategy, params)
}

// LoadStrategyParams reads back persisted strategy parameters, if any.
func (s *Store) LoadStrategyParams(ctx context.Context) (map[string]float64, bool, error) {
	var params map[string]float64
	ok, err := s.loadConfig(ctx, configKeyStrategy, &params)
	return params, ok, err
}

func (s *Store) saveConfig(ctx context.Context, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage.saveConfig: marshal: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO system_config (key, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
	`, key, string(payload), time.Now())
	if err != nil {
		return fmt.Errorf("storage.saveConfig: %w", err)
	}
	return nil
}

func (s *Store) loadConfig(ctx context.Context, key string, out any) (bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM system_config WHERE key = ?`, key).Scan(&payload)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage.loadConfig: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return false, fmt.Errorf("storage.loadConfig: unmarshal: %w", err)
	}
	return true, nil
}
