package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLStore is the relational (Path B) snapshot store: one row per open
// position and trade, a singleton trading_state row, and an append-only
// state_snapshots audit table. Every write happens inside a single
// immediate transaction.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens (creating if necessary) the embedded database at
// dsn, enables WAL mode and NORMAL synchronous durability, and applies
// schema migrations.
func OpenSQLStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous=NORMAL`); err != nil {
		return nil, fmt.Errorf("setting synchronous mode: %w", err)
	}
	s := &SQLStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("applying migrations: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS positions (
			ticket TEXT PRIMARY KEY,
			direction INTEGER NOT NULL,
			entry_time TEXT NOT NULL,
			entry_price REAL NOT NULL,
			volume REAL NOT NULL,
			initial_stop_loss REAL NOT NULL,
			current_stop_loss REAL NOT NULL,
			take_profit REAL NOT NULL,
			tp1_price REAL NOT NULL,
			tp2_price REAL NOT NULL,
			tp3_price REAL NOT NULL,
			tp_state TEXT NOT NULL,
			tp_state_changed_at TEXT,
			bars_held_after_tp1 INTEGER NOT NULL DEFAULT 0,
			bars_held_after_tp2 INTEGER NOT NULL DEFAULT 0,
			pattern_snapshot TEXT
		);
		CREATE TABLE IF NOT EXISTS trades (
			ticket TEXT PRIMARY KEY,
			entry_time TEXT NOT NULL,
			exit_time TEXT NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			initial_sl REAL NOT NULL,
			take_profit REAL NOT NULL,
			volume REAL NOT NULL,
			gross_pl REAL NOT NULL,
			commission REAL NOT NULL,
			swap REAL NOT NULL,
			net_pl REAL NOT NULL,
			exit_reason TEXT NOT NULL,
			is_winner INTEGER NOT NULL,
			pattern_snapshot TEXT
		);
		CREATE TABLE IF NOT EXISTS trading_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			last_trade_time TEXT,
			total_trades INTEGER NOT NULL DEFAULT 0,
			winning_trades INTEGER NOT NULL DEFAULT 0,
			losing_trades INTEGER NOT NULL DEFAULT 0,
			total_profit REAL NOT NULL DEFAULT 0,
			last_regime_state TEXT,
			saved_at TEXT
		);
		CREATE TABLE IF NOT EXISTS state_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at TEXT NOT NULL,
			data TEXT NOT NULL
		);
	`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR IGNORE INTO schema_migrations (version, applied_at) VALUES (1, ?)`,
		time.Now().UTC().Format(time.RFC3339))
	return err
}

// PositionRow is the relational shape of a Position, decoupled from
// internal/position to avoid an import cycle; callers adapt their own
// Position type into this at the call site.
type PositionRow struct {
	Ticket                           string
	Direction                        int
	EntryTime                        time.Time
	EntryPrice, Volume               float64
	InitialStopLoss, CurrentStopLoss float64
	TakeProfit                       float64
	TP1Price, TP2Price, TP3Price     float64
	TPState                          string
	TPStateChangedAt                 time.Time
	BarsHeldAfterTP1, BarsHeldAfterTP2 int
	PatternSnapshot                  map[string]any
}

// TradeRow is the relational shape of a closed trade.
type TradeRow struct {
	Ticket                string
	EntryTime, ExitTime   time.Time
	EntryPrice, ExitPrice float64
	InitialSL, TakeProfit float64
	Volume                float64
	GrossPL, Commission, Swap, NetPL float64
	ExitReason            string
	IsWinner              bool
	PatternSnapshot       map[string]any
}

// TradingStateRow is the singleton totals/cooldown row.
type TradingStateRow struct {
	LastTradeTime                          time.Time
	TotalTrades, WinningTrades, LosingTrades int
	TotalProfit                            float64
	LastRegimeState                        map[string]any
}

// WriteSnapshot performs the full DELETE-and-reinsert write inside a
// single BEGIN IMMEDIATE transaction, with an audit copy appended to
// state_snapshots, and rolls back on any failure.
//
// database/sql's Tx always opens a plain deferred BEGIN before the
// caller gets a chance to run anything, so there is no way to upgrade
// an sql.Tx to immediate locking after the fact. Instead this reserves
// a single connection from the pool and drives BEGIN IMMEDIATE /
// COMMIT / ROLLBACK on it directly, guaranteeing every statement below
// runs on that same connection.
func (s *SQLStore) WriteSnapshot(positions []PositionRow, trades []TradeRow, state TradingStateRow, rawJSON []byte) error {
	ctx := context.Background()
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return fmt.Errorf("beginning immediate transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			conn.ExecContext(ctx, `ROLLBACK`)
		}
	}()

	if _, err := conn.ExecContext(ctx, `DELETE FROM positions`); err != nil {
		return fmt.Errorf("clearing positions: %w", err)
	}
	for _, p := range positions {
		snap, err := json.Marshal(p.PatternSnapshot)
		if err != nil {
			return fmt.Errorf("marshaling pattern snapshot: %w", err)
		}
		_, err = conn.ExecContext(ctx, `INSERT INTO positions
			(ticket, direction, entry_time, entry_price, volume, initial_stop_loss, current_stop_loss,
			 take_profit, tp1_price, tp2_price, tp3_price, tp_state, tp_state_changed_at,
			 bars_held_after_tp1, bars_held_after_tp2, pattern_snapshot)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			p.Ticket, p.Direction, p.EntryTime.Format(time.RFC3339), p.EntryPrice, p.Volume,
			p.InitialStopLoss, p.CurrentStopLoss, p.TakeProfit, p.TP1Price, p.TP2Price, p.TP3Price,
			p.TPState, p.TPStateChangedAt.Format(time.RFC3339), p.BarsHeldAfterTP1, p.BarsHeldAfterTP2, string(snap))
		if err != nil {
			return fmt.Errorf("inserting position %s: %w", p.Ticket, err)
		}
	}

	if _, err := conn.ExecContext(ctx, `DELETE FROM trades`); err != nil {
		return fmt.Errorf("clearing trades: %w", err)
	}
	for _, tr := range trades {
		snap, err := json.Marshal(tr.PatternSnapshot)
		if err != nil {
			return fmt.Errorf("marshaling pattern snapshot: %w", err)
		}
		winner := 0
		if tr.IsWinner {
			winner = 1
		}
		_, err = conn.ExecContext(ctx, `INSERT INTO trades
			(ticket, entry_time, exit_time, entry_price, exit_price, initial_sl, take_profit, volume,
			 gross_pl, commission, swap, net_pl, exit_reason, is_winner, pattern_snapshot)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			tr.Ticket, tr.EntryTime.Format(time.RFC3339), tr.ExitTime.Format(time.RFC3339),
			tr.EntryPrice, tr.ExitPrice, tr.InitialSL, tr.TakeProfit, tr.Volume,
			tr.GrossPL, tr.Commission, tr.Swap, tr.NetPL, tr.ExitReason, winner, string(snap))
		if err != nil {
			return fmt.Errorf("inserting trade %s: %w", tr.Ticket, err)
		}
	}

	regimeJSON, err := json.Marshal(state.LastRegimeState)
	if err != nil {
		return fmt.Errorf("marshaling regime state: %w", err)
	}
	_, err = conn.ExecContext(ctx, `INSERT INTO trading_state (id, last_trade_time, total_trades, winning_trades, losing_trades, total_profit, last_regime_state, saved_at)
		VALUES (1,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			last_trade_time=excluded.last_trade_time, total_trades=excluded.total_trades,
			winning_trades=excluded.winning_trades, losing_trades=excluded.losing_trades,
			total_profit=excluded.total_profit, last_regime_state=excluded.last_regime_state,
			saved_at=excluded.saved_at`,
		state.LastTradeTime.Format(time.RFC3339), state.TotalTrades, state.WinningTrades,
		state.LosingTrades, state.TotalProfit, string(regimeJSON), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upserting trading_state: %w", err)
	}

	if _, err := conn.ExecContext(ctx, `INSERT INTO state_snapshots (created_at, data) VALUES (?,?)`,
		time.Now().UTC().Format(time.RFC3339), string(rawJSON)); err != nil {
		return fmt.Errorf("appending state_snapshots row: %w", err)
	}

	if _, err := conn.ExecContext(ctx, `COMMIT`); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	committed = true
	return nil
}

// LoadPositions returns every row in positions, ordered by ticket for a
// deterministic read order; the empty slice (not an error) if the table
// has no rows.
func (s *SQLStore) LoadPositions() ([]PositionRow, error) {
	rows, err := s.db.Query(`SELECT ticket, direction, entry_time, entry_price, volume, initial_stop_loss,
		current_stop_loss, take_profit, tp1_price, tp2_price, tp3_price, tp_state, tp_state_changed_at,
		bars_held_after_tp1, bars_held_after_tp2, pattern_snapshot FROM positions ORDER BY ticket`)
	if err != nil {
		return nil, fmt.Errorf("querying positions: %w", err)
	}
	defer rows.Close()

	var out []PositionRow
	for rows.Next() {
		var p PositionRow
		var entryTime string
		var changedAt, snap sql.NullString
		if err := rows.Scan(&p.Ticket, &p.Direction, &entryTime, &p.EntryPrice, &p.Volume,
			&p.InitialStopLoss, &p.CurrentStopLoss, &p.TakeProfit, &p.TP1Price, &p.TP2Price, &p.TP3Price,
			&p.TPState, &changedAt, &p.BarsHeldAfterTP1, &p.BarsHeldAfterTP2, &snap); err != nil {
			return nil, fmt.Errorf("scanning position row: %w", err)
		}
		if p.EntryTime, err = time.Parse(time.RFC3339, entryTime); err != nil {
			return nil, fmt.Errorf("parsing entry_time for %s: %w", p.Ticket, err)
		}
		if changedAt.Valid && changedAt.String != "" {
			if p.TPStateChangedAt, err = time.Parse(time.RFC3339, changedAt.String); err != nil {
				return nil, fmt.Errorf("parsing tp_state_changed_at for %s: %w", p.Ticket, err)
			}
		}
		if snap.Valid && snap.String != "" && snap.String != "null" {
			if err := json.Unmarshal([]byte(snap.String), &p.PatternSnapshot); err != nil {
				return nil, fmt.Errorf("unmarshaling pattern snapshot for %s: %w", p.Ticket, err)
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LoadTrades returns every row in trades, ordered by exit_time so callers
// can rebuild trade history in chronological order.
func (s *SQLStore) LoadTrades() ([]TradeRow, error) {
	rows, err := s.db.Query(`SELECT ticket, entry_time, exit_time, entry_price, exit_price, initial_sl,
		take_profit, volume, gross_pl, commission, swap, net_pl, exit_reason, is_winner, pattern_snapshot
		FROM trades ORDER BY exit_time`)
	if err != nil {
		return nil, fmt.Errorf("querying trades: %w", err)
	}
	defer rows.Close()

	var out []TradeRow
	for rows.Next() {
		var tr TradeRow
		var entryTime, exitTime string
		var winner int
		var snap sql.NullString
		if err := rows.Scan(&tr.Ticket, &entryTime, &exitTime, &tr.EntryPrice, &tr.ExitPrice,
			&tr.InitialSL, &tr.TakeProfit, &tr.Volume, &tr.GrossPL, &tr.Commission, &tr.Swap, &tr.NetPL,
			&tr.ExitReason, &winner, &snap); err != nil {
			return nil, fmt.Errorf("scanning trade row: %w", err)
		}
		if tr.EntryTime, err = time.Parse(time.RFC3339, entryTime); err != nil {
			return nil, fmt.Errorf("parsing entry_time for %s: %w", tr.Ticket, err)
		}
		if tr.ExitTime, err = time.Parse(time.RFC3339, exitTime); err != nil {
			return nil, fmt.Errorf("parsing exit_time for %s: %w", tr.Ticket, err)
		}
		tr.IsWinner = winner != 0
		if snap.Valid && snap.String != "" && snap.String != "null" {
			if err := json.Unmarshal([]byte(snap.String), &tr.PatternSnapshot); err != nil {
				return nil, fmt.Errorf("unmarshaling pattern snapshot for %s: %w", tr.Ticket, err)
			}
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// LoadTradingState returns the singleton trading_state row, or the zero
// value with a nil error if no snapshot has ever been written.
func (s *SQLStore) LoadTradingState() (TradingStateRow, error) {
	var row TradingStateRow
	var lastTradeTime, regimeJSON sql.NullString
	err := s.db.QueryRow(`SELECT last_trade_time, total_trades, winning_trades, losing_trades,
		total_profit, last_regime_state FROM trading_state WHERE id = 1`).
		Scan(&lastTradeTime, &row.TotalTrades, &row.WinningTrades, &row.LosingTrades, &row.TotalProfit, &regimeJSON)
	if err == sql.ErrNoRows {
		return TradingStateRow{}, nil
	}
	if err != nil {
		return TradingStateRow{}, fmt.Errorf("querying trading_state: %w", err)
	}
	if lastTradeTime.Valid && lastTradeTime.String != "" {
		if row.LastTradeTime, err = time.Parse(time.RFC3339, lastTradeTime.String); err != nil {
			return TradingStateRow{}, fmt.Errorf("parsing last_trade_time: %w", err)
		}
	}
	if regimeJSON.Valid && regimeJSON.String != "" && regimeJSON.String != "null" {
		if err := json.Unmarshal([]byte(regimeJSON.String), &row.LastRegimeState); err != nil {
			return TradingStateRow{}, fmt.Errorf("unmarshaling regime state: %w", err)
		}
	}
	return row, nil
}

// LatestSnapshotJSON returns the most recent state_snapshots row's data,
// the fallback used when structured tables are empty.
func (s *SQLStore) LatestSnapshotJSON() ([]byte, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM state_snapshots ORDER BY id DESC LIMIT 1`).Scan(&data)
	if err != nil {
		return nil, err
	}
	return []byte(data), nil
}

// HasStructuredData reports whether the positions table or the
// trading_state table carries any rows, used to pick between load-path (1) and (2) in the recovery
// order.
func (s *SQLStore) HasStructuredData() (bool, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM positions`).Scan(&count); err != nil {
		return false, err
	}
	if count > 0 {
		return true, nil
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM trading_state`).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// Close closes the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
