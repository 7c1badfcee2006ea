package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_rebalancer/internal/domain"
)

// SQLiteStore is the rebalance journal. Decimals are stored as TEXT so no
// precision is lost.
type SQLiteStore struct {
	db *sql.DB
}

var _ domain.RebalanceJournal = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS rebalance_cycles (
			id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			status TEXT NOT NULL,
			nominal TEXT NOT NULL DEFAULT '0',
			trade_count INTEGER NOT NULL DEFAULT 0,
			message TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_started_at ON rebalance_cycles(started_at);`,
		`CREATE TABLE IF NOT EXISTS cycle_trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			asset_type TEXT NOT NULL,
			amount TEXT NOT NULL,
			limit_price TEXT,
			post_only BOOLEAN NOT NULL DEFAULT 0,
			reduce_only BOOLEAN NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cycle_trades_cycle ON cycle_trades(cycle_id);`,
		`CREATE TABLE IF NOT EXISTS order_updates (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			type TEXT NOT NULL,
			order_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			side TEXT NOT NULL DEFAULT '',
			amount TEXT NOT NULL DEFAULT '0',
			filled TEXT NOT NULL DEFAULT '0',
			limit_price TEXT,
			message TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_order_updates_cycle ON order_updates(cycle_id);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func (s *SQLiteStore) StartCycle(ctx context.Context, c domain.CycleRecord) error {
	query := `INSERT INTO rebalance_cycles (id, started_at, status, nominal, trade_count, message)
			  VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, c.ID, c.StartedAt.UTC(), c.Status, c.Nominal.String(), c.TradeCount, c.Message)
	return err
}

// FinishCycle stores the final state of a cycle, inserting it if StartCycle
// never made it to the database.
func (s *SQLiteStore) FinishCycle(ctx context.Context, c domain.CycleRecord) error {
	var finished sql.NullTime
	if c.FinishedAt != nil {
		finished = sql.NullTime{Time: c.FinishedAt.UTC(), Valid: true}
	}
	query := `INSERT INTO rebalance_cycles (id, started_at, finished_at, status, nominal, trade_count, message)
			  VALUES (?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(id) DO UPDATE SET
			  finished_at=excluded.finished_at,
			  status=excluded.status,
			  nominal=excluded.nominal,
			  trade_count=excluded.trade_count,
			  message=excluded.message`
	_, err := s.db.ExecContext(ctx, query, c.ID, c.StartedAt.UTC(), finished, c.Status, c.Nominal.String(), c.TradeCount, c.Message)
	return err
}

func (s *SQLiteStore) SaveTrades(ctx context.Context, cycleID string, trades []domain.Trade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO cycle_trades (cycle_id, symbol, asset_type, amount, limit_price, post_only, reduce_only)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range trades {
		if _, err := stmt.ExecContext(ctx, cycleID, t.Symbol, t.AssetType.String(), t.Amount.String(), nullString(t.LimitPrice), t.PostOnly, t.ReduceOnly); err != nil {
			return fmt.Errorf("insert trade %s: %w", t.Symbol, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) SaveOrderUpdate(ctx context.Context, cycleID string, u domain.OrderUpdate) error {
	rec := domain.OrderUpdateRecord{
		Symbol:    u.Symbol,
		Type:      u.Type,
		Amount:    decimal.Zero,
		Filled:    decimal.Zero,
		Message:   u.Message,
		CreatedAt: u.Time,
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if o := u.Order; o != nil {
		rec.OrderID = o.ID
		rec.Status = o.Status
		rec.Side = o.Side
		rec.Amount = o.Amount
		rec.Filled = o.Filled
		rec.LimitPrice = o.LimitPrice
	}

	query := `INSERT INTO order_updates (cycle_id, symbol, type, order_id, status, side, amount, filled, limit_price, message, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		cycleID, rec.Symbol, rec.Type, rec.OrderID, rec.Status, rec.Side,
		rec.Amount.String(), rec.Filled.String(), nullString(rec.LimitPrice), rec.Message, rec.CreatedAt.UTC())
	return err
}

const cycleColumns = `id, started_at, finished_at, status, nominal, trade_count, message`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCycle(row rowScanner) (*domain.CycleRecord, error) {
	var (
		c        domain.CycleRecord
		finished sql.NullTime
		nominal  string
	)
	if err := row.Scan(&c.ID, &c.StartedAt, &finished, &c.Status, &nominal, &c.TradeCount, &c.Message); err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		c.FinishedAt = &t
	}
	var err error
	if c.Nominal, err = decimal.NewFromString(nominal); err != nil {
		return nil, fmt.Errorf("cycle %s nominal: %w", c.ID, err)
	}
	return &c, nil
}

func (s *SQLiteStore) ListCycles(ctx context.Context, limit int) ([]domain.CycleRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + cycleColumns + ` FROM rebalance_cycles ORDER BY started_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cycles []domain.CycleRecord
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, *c)
	}
	return cycles, rows.Err()
}

// GetCycle returns nil without an error when the cycle does not exist.
func (s *SQLiteStore) GetCycle(ctx context.Context, id string) (*domain.CycleRecord, error) {
	query := `SELECT ` + cycleColumns + ` FROM rebalance_cycles WHERE id = ?`
	c, err := scanCycle(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteStore) ListTrades(ctx context.Context, cycleID string) ([]domain.Trade, error) {
	query := `SELECT symbol, asset_type, amount, limit_price, post_only, reduce_only FROM cycle_trades WHERE cycle_id = ? ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var (
			t         domain.Trade
			assetType string
			amount    string
			limit     sql.NullString
		)
		if err := rows.Scan(&t.Symbol, &assetType, &amount, &limit, &t.PostOnly, &t.ReduceOnly); err != nil {
			return nil, err
		}
		if t.AssetType, err = domain.ParseAssetType(assetType); err != nil {
			return nil, err
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		if t.LimitPrice, err = parseNull(limit); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *SQLiteStore) ListOrderUpdates(ctx context.Context, cycleID string) ([]domain.OrderUpdateRecord, error) {
	query := `SELECT id, cycle_id, symbol, type, order_id, status, side, amount, filled, limit_price, message, created_at
			  FROM order_updates WHERE cycle_id = ? ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.OrderUpdateRecord
	for rows.Next() {
		var (
			r              domain.OrderUpdateRecord
			amount, filled string
			limit          sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.CycleID, &r.Symbol, &r.Type, &r.OrderID, &r.Status, &r.Side, &amount, &filled, &limit, &r.Message, &r.CreatedAt); err != nil {
			return nil, err
		}
		if r.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		if r.Filled, err = decimal.NewFromString(filled); err != nil {
			return nil, err
		}
		if r.LimitPrice, err = parseNull(limit); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullString(d decimal.NullDecimal) sql.NullString {
	if !d.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: d.Decimal.String(), Valid: true}
}

func parseNull(s sql.NullString) (decimal.NullDecimal, error) {
	if !s.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}
