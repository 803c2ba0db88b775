// Command goldcore runs the headless gold-core trading loop: load
// config, recover persisted state, poll the broker bridge for closed
// bars, run them through the decision pipeline, and serve the ops
// surface (/healthz, /metrics, /why-no-trade) alongside it.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"goldcore/internal/broker"
	"goldcore/internal/config"
	"goldcore/internal/decision"
	"goldcore/internal/persistence"
	"goldcore/internal/position"
	"goldcore/internal/risk"
	"goldcore/internal/telemetry"
	"goldcore/internal/tp"
)

const (
	exitOK            = 0
	exitUncaught      = 1
	exitConfigInvalid = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	headless := flag.Bool("headless", true, "run without any interactive UI")
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	pollSeconds := flag.Int("poll", 30, "seconds between broker polls for a newly closed bar")
	opsAddr := flag.String("ops-addr", ":9400", "listen address for the health/metrics/why-no-trade ops surface")
	flag.Parse()
	_ = headless // headless is the only supported mode; the flag exists for discoverability/compatibility.

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
		return exitConfigInvalid
	}

	log := telemetry.NewLogger(true, zerolog.InfoLevel)
	telemetry.Init()

	writer := persistence.NewAtomicWriter(cfg.Data.StateFile, cfg.Data.BackupDir, 5*time.Second, 10, log)
	writer.Start()
	defer writer.Stop()

	sqlStore, err := persistence.OpenSQLStore(cfg.Data.DBURL)
	if err != nil {
		log.Error().Err(err).Msg("failed to open sqlite store, continuing on JSON snapshot only")
	} else {
		defer sqlStore.Close()
	}

	store := position.NewStore(compositePersister{json: writer, sql: sqlStore, log: log})
	recoverState(store, sqlStore, cfg, log)

	engine := decision.Engine{Config: decision.Config{
		MinBarsBetween:       cfg.Strategy.MinBarsBetween,
		AtrMultiplierStop:    cfg.Strategy.AtrMultiplierStop,
		RiskRewardRatioLong:  cfg.Strategy.RiskRewardRatioLong,
		MomentumATRThreshold: cfg.Strategy.MomentumAtrThreshold,
		EnableMomentumFilter: cfg.Strategy.EnableMomentumFilter,
		QualityScoreThreshold: cfg.Strategy.QualityScoreThreshold,
		CooldownBars:         int(cfg.Strategy.CooldownHours),
		PyramidingLimit:      cfg.Strategy.Pyramiding,
		ATRMin:               0,
		Risk: risk.Model{
			RiskPercent:      cfg.Risk.RiskPercent,
			CommissionPerLot: cfg.Risk.CommissionPerLot,
		},
	}}

	bridge := broker.NoopBridge{}
	if err := bridge.Connect(context.Background()); err != nil {
		log.Warn().Err(err).Msg("broker bridge did not connect at startup, will keep polling")
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	opsServer := telemetry.NewOpsServer(func() telemetry.HealthStatus {
		return telemetry.HealthStatus{
			BrokerConnected:    false, // NoopBridge never connects; a real bridge reports its own state here
			LastPersistWriteOK: true,
		}
	})
	httpServer := &http.Server{Addr: *opsAddr, Handler: opsServer}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("ops server stopped unexpectedly")
		}
	}()

	done := make(chan error, 1)
	go func() {
		done <- pollLoop(ctx, bridge, engine, cfg, log, time.Duration(*pollSeconds)*time.Second)
	}()

	var runErr error
	select {
	case runErr = <-done:
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal, flushing state")
		cancel()
		<-done
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = bridge.Disconnect(context.Background())
	writer.Flush()

	if runErr != nil && runErr != context.Canceled {
		log.Error().Err(runErr).Msg("poll loop exited with error")
		return exitUncaught
	}
	return exitOK
}

// pollLoop is the explicit "fetch bars, evaluate, act" cycle. Pattern
// detection is an external collaborator this core does not implement, so
// every evaluated bar here carries a nil Pattern and is expected to stop
// at PATTERN_DETECTION; a deployment that wires a real pattern detector
// and broker bridge drives the identical loop with populated inputs.
func pollLoop(ctx context.Context, bridge broker.Bridge, engine decision.Engine, cfg *config.Config, log zerolog.Logger, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			account, err := bridge.GetAccountInfo(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("broker unavailable this poll cycle, requesting reconnect")
				telemetry.RecordBrokerReconnect()
				if cerr := bridge.Connect(ctx); cerr != nil {
					log.Warn().Err(cerr).Msg("broker reconnect failed")
				}
				continue
			}
			symbol, err := bridge.GetSymbolInfo(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("failed to fetch symbol info this poll cycle")
				continue
			}
			series, err := bridge.GetBars(ctx, cfg.Data.BarsToFetch)
			if err != nil {
				log.Warn().Err(err).Msg("failed to fetch bars this poll cycle")
				continue
			}

			out := engine.Evaluate(decision.Input{
				BarIndex: series.ClosedIndex(),
				Account:  decision.AccountState{Equity: account.Equity},
				Direction: 1,
				Symbol: risk.SymbolInfo{
					ContractSize: symbol.ContractSize,
					VolumeStep:   symbol.VolumeStep,
					VolumeMin:    symbol.VolumeMin,
					VolumeMax:    symbol.VolumeMax,
				},
				Source: decision.SourceLive,
			})
			telemetry.RecordDecision(string(out.Decision), string(out.Stage), string(out.FailCode))
			telemetry.RecordLastDecision(out)
			telemetry.SetEquity(account.Equity)
		}
	}
}

// recoverState applies the persisted-state recovery order. Step 1,
// structured database rows, takes priority over everything else and is
// handled here directly, since turning PositionRow/TradeRow DTOs back
// into a position.Snapshot needs both packages and internal/persistence
// stays decoupled from internal/position. Steps 2 through 5 (the DB's
// latest blob, the JSON file, its backups, empty state) are delegated
// to persistence.Recover.
func recoverState(store *position.Store, sqlStore *persistence.SQLStore, cfg *config.Config, log zerolog.Logger) {
	if sqlStore != nil {
		if has, err := sqlStore.HasStructuredData(); err != nil {
			log.Warn().Err(err).Msg("failed to probe structured database tables, falling back to snapshot recovery")
		} else if has {
			snap, err := loadSnapshotFromSQL(sqlStore)
			if err != nil {
				log.Error().Err(err).Msg("failed to load structured database rows, falling back to snapshot recovery")
			} else {
				log.Info().Msg("recovered state from structured database tables")
				store.LoadFromSnapshot(snap)
				return
			}
		}
	}

	doc, err := persistence.Recover(sqlStore, cfg.Data.StateFile, cfg.Data.BackupDir, log)
	if err != nil {
		log.Warn().Err(err).Msg("starting from empty position store")
		return
	}
	body, err := json.Marshal(doc)
	if err != nil {
		log.Error().Err(err).Msg("failed to re-marshal recovered snapshot")
		return
	}
	var snap position.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		log.Error().Err(err).Msg("failed to decode recovered snapshot")
		return
	}
	store.LoadFromSnapshot(snap)
}

// loadSnapshotFromSQL reassembles a position.Snapshot from the
// positions, trades, and trading_state rows of the relational store.
func loadSnapshotFromSQL(sqlStore *persistence.SQLStore) (position.Snapshot, error) {
	rows, err := sqlStore.LoadPositions()
	if err != nil {
		return position.Snapshot{}, fmt.Errorf("loading positions: %w", err)
	}
	trades, err := sqlStore.LoadTrades()
	if err != nil {
		return position.Snapshot{}, fmt.Errorf("loading trades: %w", err)
	}
	state, err := sqlStore.LoadTradingState()
	if err != nil {
		return position.Snapshot{}, fmt.Errorf("loading trading state: %w", err)
	}

	open := make([]position.Position, 0, len(rows))
	for _, p := range rows {
		open = append(open, position.Position{
			Ticket:             p.Ticket,
			Direction:          p.Direction,
			EntryTime:          p.EntryTime,
			EntryPrice:         p.EntryPrice,
			Volume:             p.Volume,
			InitialStopLoss:    p.InitialStopLoss,
			CurrentStopLoss:    p.CurrentStopLoss,
			TakeProfit:         p.TakeProfit,
			TP1Price:           p.TP1Price,
			TP2Price:           p.TP2Price,
			TP3Price:           p.TP3Price,
			TPState:            tp.State(p.TPState),
			TPStateChangedAt:   p.TPStateChangedAt,
			BarsHeldAfterTP1:   p.BarsHeldAfterTP1,
			BarsHeldAfterTP2:   p.BarsHeldAfterTP2,
			PatternSnapshot:    p.PatternSnapshot,
		})
	}

	history := make([]position.TradeHistoryEntry, 0, len(trades))
	for _, t := range trades {
		history = append(history, position.TradeHistoryEntry{
			Ticket:          t.Ticket,
			EntryTime:       t.EntryTime,
			ExitTime:        t.ExitTime,
			EntryPrice:      t.EntryPrice,
			ExitPrice:       t.ExitPrice,
			InitialSL:       t.InitialSL,
			TakeProfit:      t.TakeProfit,
			Volume:          t.Volume,
			GrossPL:         t.GrossPL,
			Commission:      t.Commission,
			Swap:            t.Swap,
			NetPL:           t.NetPL,
			ExitReason:      t.ExitReason,
			IsWinner:        t.IsWinner,
			PatternSnapshot: t.PatternSnapshot,
		})
	}

	var regime any
	if state.LastRegimeState != nil {
		regime = state.LastRegimeState
	}

	return position.Snapshot{
		OpenPositions: open,
		TradeHistory:  history,
		LastTradeTime: state.LastTradeTime,
		Totals: position.Totals{
			Trades:  state.TotalTrades,
			Winners: state.WinningTrades,
			Losers:  state.LosingTrades,
			Profit:  state.TotalProfit,
		},
		LastRegime: regime,
	}, nil
}

// compositePersister fans a position.Store snapshot out to both
// redundant storage paths on every mutation: the JSON atomic writer
// (Path A) and the relational SQLite store (Path B). sql may be nil,
// in which case only Path A is written (the sqlite store failed to
// open at startup).
type compositePersister struct {
	json *persistence.AtomicWriter
	sql  *persistence.SQLStore
	log  zerolog.Logger
}

// QueueWrite implements position.Persister.
func (p compositePersister) QueueWrite(snapshot any) {
	p.json.QueueWriteAny(snapshot)
	if p.sql == nil {
		return
	}
	snap, ok := snapshot.(position.Snapshot)
	if !ok {
		p.log.Error().Msg("snapshot is not a position.Snapshot, skipping sqlite write")
		return
	}
	if err := p.writeSQL(snap); err != nil {
		p.log.Error().Err(err).Msg("sqlite snapshot write failed")
	}
}

func (p compositePersister) writeSQL(snap position.Snapshot) error {
	rawJSON, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	positions := make([]persistence.PositionRow, 0, len(snap.OpenPositions))
	for _, pos := range snap.OpenPositions {
		positions = append(positions, persistence.PositionRow{
			Ticket:             pos.Ticket,
			Direction:          pos.Direction,
			EntryTime:          pos.EntryTime,
			EntryPrice:         pos.EntryPrice,
			Volume:             pos.Volume,
			InitialStopLoss:    pos.InitialStopLoss,
			CurrentStopLoss:    pos.CurrentStopLoss,
			TakeProfit:         pos.TakeProfit,
			TP1Price:           pos.TP1Price,
			TP2Price:           pos.TP2Price,
			TP3Price:           pos.TP3Price,
			TPState:            string(pos.TPState),
			TPStateChangedAt:   pos.TPStateChangedAt,
			BarsHeldAfterTP1:   pos.BarsHeldAfterTP1,
			BarsHeldAfterTP2:   pos.BarsHeldAfterTP2,
			PatternSnapshot:    pos.PatternSnapshot,
		})
	}

	trades := make([]persistence.TradeRow, 0, len(snap.TradeHistory))
	for _, t := range snap.TradeHistory {
		trades = append(trades, persistence.TradeRow{
			Ticket:          t.Ticket,
			EntryTime:       t.EntryTime,
			ExitTime:        t.ExitTime,
			EntryPrice:      t.EntryPrice,
			ExitPrice:       t.ExitPrice,
			InitialSL:       t.InitialSL,
			TakeProfit:      t.TakeProfit,
			Volume:          t.Volume,
			GrossPL:         t.GrossPL,
			Commission:      t.Commission,
			Swap:            t.Swap,
			NetPL:           t.NetPL,
			ExitReason:      t.ExitReason,
			IsWinner:        t.IsWinner,
			PatternSnapshot: t.PatternSnapshot,
		})
	}

	regime, _ := snap.LastRegime.(map[string]any)
	state := persistence.TradingStateRow{
		LastTradeTime:   snap.LastTradeTime,
		TotalTrades:     snap.Totals.Trades,
		WinningTrades:   snap.Totals.Winners,
		LosingTrades:    snap.Totals.Losers,
		TotalProfit:     snap.Totals.Profit,
		LastRegimeState: regime,
	}

	return p.sql.WriteSnapshot(positions, trades, state, rawJSON)
}
