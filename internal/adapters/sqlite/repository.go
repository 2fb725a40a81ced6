package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"perpagent/internal/domain"
	"perpagent/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the ports.TradeRepository and ports.StatusRepository
// interfaces using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/perpagent.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Open database connection
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Set connection pool settings (important for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
// NOTE: This is a basic approach. A proper migration tool is recommended for production.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trade_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		position_id TEXT NOT NULL,
		asset TEXT NOT NULL,
		side TEXT NOT NULL,
		margin REAL NOT NULL,
		leverage INTEGER NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		net_pnl REAL NOT NULL,
		fees REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP NOT NULL,
		close_reason TEXT NULL
	);

	CREATE TABLE IF NOT EXISTS status_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		taken_at TIMESTAMP NOT NULL,
		balance REAL NOT NULL,
		equity REAL NOT NULL,
		available_margin REAL NOT NULL,
		open_positions INTEGER NOT NULL,
		closed_trades INTEGER NOT NULL,
		total_net_pnl REAL NOT NULL
	);
	-- Add indexes for common lookups
	CREATE INDEX IF NOT EXISTS idx_trade_history_asset_exit_time ON trade_history (asset, exit_time);
	CREATE INDEX IF NOT EXISTS idx_status_snapshots_taken_at ON status_snapshots (taken_at);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- TradeRepository Implementation ---

// RecordTrade saves a closed trade and returns its assigned ID.
func (r *Repository) RecordTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trade_history (position_id, asset, side, margin, leverage, entry_price,
	                           exit_price, net_pnl, fees, entry_time, exit_time, close_reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var closeReason sql.NullString
	if trade.CloseReason != "" {
		closeReason = sql.NullString{String: string(trade.CloseReason), Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		trade.PositionID, trade.Asset, trade.Side, trade.Margin, trade.Leverage, trade.EntryPrice,
		trade.ExitPrice, trade.NetPnL, trade.Fees, trade.EntryTime, trade.ExitTime, closeReason)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade history for asset %s: %w", trade.Asset, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade history %s: %w", trade.Asset, err)
	}
	trade.ID = id
	r.logger.Debug(ctx, "Trade history created", map[string]interface{}{"tradeID": id, "asset": trade.Asset, "netPnl": trade.NetPnL})
	return id, nil
}

// RecentTrades retrieves the most recent trades, newest first.
func (r *Repository) RecentTrades(ctx context.Context, limit int) ([]domain.Trade, error) {
	const query = `
	SELECT id, position_id, asset, side, margin, leverage, entry_price,
	       exit_price, net_pnl, fees, entry_time, exit_time, close_reason
	FROM trade_history
	ORDER BY exit_time DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent trades: %w", err)
	}
	defer rows.Close()

	trades := make([]domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade history during RecentTrades: %w", err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade history rows: %w", err)
	}
	return trades, nil
}

// --- StatusRepository Implementation ---

// RecordStatus saves a periodic status snapshot.
func (r *Repository) RecordStatus(ctx context.Context, snap ports.StatusSnapshot) error {
	const query = `
	INSERT INTO status_snapshots (taken_at, balance, equity, available_margin,
	                              open_positions, closed_trades, total_net_pnl)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		snap.TakenAt, snap.Balance, snap.Equity, snap.AvailableMargin,
		snap.OpenPositions, snap.ClosedTrades, snap.TotalNetPnL)
	if err != nil {
		return fmt.Errorf("failed to insert status snapshot: %w", err)
	}
	return nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanTrade scans a row into a domain.Trade struct.
func scanTrade(s scanner) (domain.Trade, error) {
	var t domain.Trade
	var side string
	var closeReason sql.NullString
	err := s.Scan(
		&t.ID, &t.PositionID, &t.Asset, &side, &t.Margin, &t.Leverage, &t.EntryPrice,
		&t.ExitPrice, &t.NetPnL, &t.Fees, &t.EntryTime, &t.ExitTime, &closeReason)
	if err != nil {
		return domain.Trade{}, err // Handle sql.ErrNoRows in the caller
	}
	t.Side = domain.Side(side)
	if closeReason.Valid {
		t.CloseReason = domain.CloseReason(closeReason.String)
	}
	return t, nil
}
