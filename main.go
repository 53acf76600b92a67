package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"trading-agent/internal/account"
	"trading-agent/internal/api"
	"trading-agent/internal/backtest"
	"trading-agent/internal/broker"
	"trading-agent/internal/engine"
	"trading-agent/internal/events"
	"trading-agent/internal/ledger"
	"trading-agent/internal/market"
	"trading-agent/internal/monitor"
	"trading-agent/internal/reconcile"
	"trading-agent/internal/risk"
	"trading-agent/internal/screener"
	"trading-agent/internal/strategy"
	"trading-agent/pkg/alpaca"
	"trading-agent/pkg/config"
	"trading-agent/pkg/db"
	"trading-agent/pkg/ident"
)

var errMissingAlpacaKeys = errors.New("ALPACA_API_KEY and ALPACA_API_SECRET are required for this configuration")

// markedFeed wraps a feed and remembers the latest close per symbol.
// The paper broker reads fills from it, which keeps the fill on the
// same bar close the engine just fetched: the cache is updated inside
// FetchBars, before the cycle evaluates, never behind it.
type markedFeed struct {
	inner market.Feed
	mu    sync.RWMutex
	last  map[string]float64
}

func newMarkedFeed(inner market.Feed) *markedFeed {
	return &markedFeed{inner: inner, last: make(map[string]float64)}
}

func (f *markedFeed) FetchBars(ctx context.Context, symbols []string, lookback int) (map[string][]market.Bar, error) {
	data, err := f.inner.FetchBars(ctx, symbols, lookback)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	for sym, bars := range data {
		if px := market.LatestClose(bars); px > 0 {
			f.last[sym] = px
		}
	}
	f.mu.Unlock()
	return data, nil
}

func (f *markedFeed) Price(symbol string) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	px, ok := f.last[symbol]
	return px, ok
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ config load failed: %v", err)
	}

	log.Printf("🚀 Starting trading agent (mode=%s)", cfg.Mode)

	if cfg.Mode == config.ModeBacktest {
		if err := runBacktest(cfg); err != nil {
			log.Fatalf("❌ backtest failed: %v", err)
		}
		return
	}

	if err := run(cfg); err != nil {
		log.Fatalf("❌ %v", err)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	version := os.Getenv("APP_VERSION")
	if version == "" {
		version = "v1.0-dev"
	}
	nodeID := ident.NodeID()
	log.Printf("🔖 node=%s version=%s", nodeID, version)

	// Core services
	bus := events.NewBus()
	metrics := monitor.NewSystemMetrics()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return err
	}
	log.Printf("💾 Using database %s", cfg.DBPath)

	// In-memory state seeded from DB
	acct := account.NewManager(database, cfg.PaperInitialCash)
	if err := acct.Load(ctx); err != nil {
		return err
	}
	if !cfg.TradingEnabled {
		acct.Disable("disabled by configuration")
	}

	book := ledger.NewManager(database)
	if err := book.Load(ctx); err != nil {
		return err
	}

	riskMgr, err := risk.NewManager(risk.Config{
		MaxOrderNotional:    cfg.MaxOrderNotional,
		MaxDailyLoss:        cfg.MaxDailyLoss,
		MinConfidence:       cfg.MinConfidence,
		StopLossPct:         cfg.StopLossPct,
		OversizePolicy:      cfg.OversizePolicy,
		UseDailyLossLimit:   true,
		UseOrderNotionalCap: true,
	})
	if err != nil {
		return err
	}
	rc := riskMgr.GetConfig()
	log.Printf("🛡️ Risk: max_order=%.0f max_daily_loss=%.0f policy=%s", rc.MaxOrderNotional, rc.MaxDailyLoss, rc.OversizePolicy)

	strat, err := buildStrategy(cfg)
	if err != nil {
		return err
	}
	if saved, err := database.GetStrategyState(ctx, strat.ID()); err != nil {
		log.Printf("⚠️ strategy state load: %v", err)
	} else if len(saved) > 0 {
		if err := strat.SetState(saved); err != nil {
			log.Printf("⚠️ strategy state restore: %v", err)
		} else {
			log.Printf("✓ Restored state for strategy %s", strat.ID())
		}
	}

	// Brokerage client, shared by feed, broker and reconciliation
	var client *alpaca.Client
	if cfg.AlpacaAPIKey != "" {
		client = alpaca.NewClient(cfg.AlpacaAPIKey, cfg.AlpacaAPISecret, cfg.AlpacaBaseURL)
	}
	if cfg.Mode == config.ModeLive && client == nil {
		return errMissingAlpacaKeys
	}

	// Market data
	var feed *markedFeed
	if cfg.UseMockFeed {
		mock := &market.MockFeed{
			Bus:     bus,
			Symbols: cfg.Symbols,
			Seed:    cfg.MockSeed,
		}
		mock.Start(ctx)
		feed = newMarkedFeed(mock)
		log.Println("📡 Feed: mock")
	} else {
		if client == nil {
			return errMissingAlpacaKeys
		}
		feed = newMarkedFeed(market.NewAlpacaFeed(client, "1Min"))
		log.Println("📡 Feed: alpaca 1Min bars")
	}

	symbols := cfg.Symbols
	if cfg.UseDailySelection && cfg.UniverseFile != "" {
		universe, err := screener.LoadUniverse(cfg.UniverseFile)
		if err != nil {
			return err
		}
		var daily market.Feed = feed
		if client != nil {
			daily = market.NewAlpacaFeed(client, "1Day")
		}
		selector, err := screener.NewSelector(universe, daily, database, screener.Config{
			TopN:         cfg.ScreenerTopN,
			MinMovePct:   cfg.ScreenerMinMove,
			MinAvgVolume: cfg.ScreenerMinVolume,
			Fallback:     cfg.Symbols,
		})
		if err != nil {
			return err
		}
		picks, err := selector.SelectDaily(ctx, time.Now().Format("2006-01-02"))
		if err != nil {
			log.Printf("⚠️ daily selection failed, using configured symbols: %v", err)
		} else if len(picks) > 0 {
			symbols = picks
		}
	}
	log.Printf("📈 Trading symbols: %v", symbols)

	// Execution venue
	var venue broker.Broker
	if cfg.Mode == config.ModeLive {
		venue = broker.NewAlpaca(client)
		log.Println("🏦 Broker: alpaca (live orders)")
	} else {
		venue = broker.NewPaper(cfg.PaperInitialCash, cfg.PaperSlippageBps, cfg.PaperFeeRate, feed.Price, bus)
		log.Printf("🏦 Broker: paper (cash=%.0f slippage=%.1fbps fee=%.4f)", cfg.PaperInitialCash, cfg.PaperSlippageBps, cfg.PaperFeeRate)
	}

	var journal *broker.Journal
	if cfg.EnableOrderJournal {
		journal, err = broker.NewJournal(cfg.OrderJournalDir)
		if err != nil {
			return err
		}
		defer journal.Close()
		if unresolved, err := journal.Recover(); err != nil {
			log.Printf("⚠️ journal recovery: %v", err)
		} else if len(unresolved) > 0 {
			log.Printf("⚠️ %d unresolved order(s) in journal; audit before resuming", len(unresolved))
			for _, o := range unresolved {
				log.Printf("  unresolved: %s %s %s qty=%.4f", o.ID, o.Side, o.Symbol, o.Qty)
			}
		}
	}

	// Position reconciliation against the brokerage (live only)
	if cfg.Mode == config.ModeLive {
		recon := reconcile.NewService(&reconcile.AlpacaSource{Client: client}, book, 5*time.Minute)
		if report, err := recon.Reconcile(ctx); err != nil {
			log.Printf("⚠️ startup reconciliation: %v", err)
		} else if !report.Clean() {
			log.Printf("⚠️ startup reconciliation found %d difference(s)", len(report.Diffs))
		}
		recon.Start(ctx)
	}

	// Market-hours gate
	var marketOpen func(context.Context) bool
	if cfg.MarketHoursOnly && client != nil {
		marketOpen = func(ctx context.Context) bool {
			clock, err := client.GetClock(ctx)
			if err != nil {
				log.Printf("⚠️ market clock check: %v", err)
				return true
			}
			return clock.IsOpen
		}
	}

	rules := &monitor.Rules{
		MaxDrawdownPct:  10,
		MaxDataFailures: 5,
		Bus:             bus,
	}
	alerts := &monitor.Monitor{Bus: bus}
	alerts.Start(ctx)

	trader, err := engine.NewTrader(engine.TraderConfig{
		Symbols:       symbols,
		LookbackBars:  cfg.LookbackBars,
		CycleInterval: time.Duration(cfg.CycleIntervalSec) * time.Second,
		MinConfidence: cfg.MinConfidence,
		Feed:          feed,
		Strategy:      strat,
		Risk:          riskMgr,
		Ledger:        book,
		Account:       acct,
		Broker:        venue,
		Journal:       journal,
		DB:            database,
		Bus:           bus,
		Metrics:       metrics,
		Rules:         rules,
		MarketOpen:    marketOpen,
	})
	if err != nil {
		return err
	}

	engService := engine.NewImpl(engine.Config{
		Trader:  trader,
		RiskMgr: riskMgr,
		Account: acct,
		Ledger:  book,
		DB:      database,
		Metrics: metrics,
		Meta: engine.SystemStatus{
			Mode:     cfg.Mode,
			Version:  version,
			NodeID:   nodeID,
			Symbols:  symbols,
			Strategy: strat.Name(),
			Broker:   venue.Name(),
		},
	})

	server := api.NewServer(
		bus,
		database,
		engService,
		metrics,
		api.SystemMeta{
			Mode:    cfg.Mode,
			Version: version,
			NodeID:  nodeID,
		},
		cfg.JWTSecret,
		cfg.KillToken,
	)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("❌ API server error: %v", err)
		}
	}()
	log.Printf("🌐 API listening on :%s", cfg.Port)

	go trader.Run(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("🛑 Shutting down")
	cancel()

	// Persist indicator state so the restart does not re-fire entries.
	saveCtx, saveCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer saveCancel()
	if state, err := strat.GetState(); err != nil {
		log.Printf("⚠️ strategy state snapshot: %v", err)
	} else if err := database.SaveStrategyState(saveCtx, strat.ID(), state); err != nil {
		log.Printf("⚠️ strategy state save: %v", err)
	}
	return nil
}

// buildStrategy prefers the YAML strategy file and falls back to an
// SMA crossover assembled from individual env settings.
func buildStrategy(cfg *config.Config) (strategy.Strategy, error) {
	if cfg.StrategyConfigPath != "" {
		configs, err := strategy.LoadConfig(cfg.StrategyConfigPath)
		if err != nil {
			return nil, err
		}
		chosen, err := strategy.FirstEnabled(configs)
		if err != nil {
			return nil, err
		}
		strat, err := strategy.Build(chosen)
		if err != nil {
			return nil, err
		}
		log.Printf("🧠 Strategy: %s (%s, from %s)", strat.Name(), strat.ID(), cfg.StrategyConfigPath)
		return strat, nil
	}

	strat, err := strategy.NewSMACross("sma-cross-default", strategy.SMAParams{
		ShortWindow:     cfg.ShortWindow,
		LongWindow:      cfg.LongWindow,
		VolumeThreshold: cfg.VolumeThreshold,
		StopLossPct:     cfg.StopLossPct,
		FlattenAt:       cfg.FlattenTime,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("🧠 Strategy: %s (short=%d long=%d)", strat.Name(), cfg.ShortWindow, cfg.LongWindow)
	return strat, nil
}

func runBacktest(cfg *config.Config) error {
	series, err := market.LoadBarsDir(cfg.BacktestDataDir, cfg.Symbols)
	if err != nil {
		return err
	}
	series = market.ClipSeries(series, cfg.BacktestStart, cfg.BacktestEnd)

	strat, err := buildStrategy(cfg)
	if err != nil {
		return err
	}

	var database *db.Database
	if cfg.DBPath != "" {
		database, err = db.New(cfg.DBPath)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := db.ApplyMigrations(database); err != nil {
			return err
		}
	}

	runner, err := backtest.NewRunner(backtest.Config{
		Series:   series,
		Strategy: strat,
		RiskConfig: risk.Config{
			MaxOrderNotional:    cfg.MaxOrderNotional,
			MaxDailyLoss:        cfg.MaxDailyLoss,
			MinConfidence:       cfg.MinConfidence,
			StopLossPct:         cfg.StopLossPct,
			OversizePolicy:      cfg.OversizePolicy,
			UseDailyLossLimit:   true,
			UseOrderNotionalCap: true,
		},
		StartCash:     cfg.PaperInitialCash,
		SlippageBps:   cfg.PaperSlippageBps,
		FeeRate:       cfg.PaperFeeRate,
		LookbackBars:  cfg.LookbackBars,
		MinConfidence: cfg.MinConfidence,
		DB:            database,
	})
	if err != nil {
		return err
	}

	summary, err := runner.Run(context.Background())
	if err != nil {
		return err
	}
	log.Print("\n" + summary.Report())
	return nil
}
