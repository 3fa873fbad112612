// dscd runs the DSC engine as a standalone daemon: price feeds in,
// engine state persisted, account reads and the event stream out over
// HTTP/WebSocket, metrics on a separate port. In dev mode it uses
// in-memory tokens so the whole system runs without external ledgers.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/database"
	"github.com/luxfi/database/leveldb"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"

	"github.com/luxfi/dsc/pkg/api"
	"github.com/luxfi/dsc/pkg/dsc"
	"github.com/luxfi/dsc/pkg/feeds"
	"github.com/luxfi/dsc/pkg/metrics"
	"github.com/luxfi/dsc/pkg/store"
	"github.com/luxfi/dsc/pkg/stream"
)

type config struct {
	apiPort      int
	metricsPort  int
	natsURL      string
	dataDir      string
	snapshotTick time.Duration
	priceMaxAge  time.Duration
	wethPrice    string
	wbtcPrice    string
}

func main() {
	cfg := config{}
	flag.IntVar(&cfg.apiPort, "port", 8081, "API/WebSocket port")
	flag.IntVar(&cfg.metricsPort, "metrics-port", 9090, "Prometheus metrics port")
	flag.StringVar(&cfg.natsURL, "nats", "", "NATS URL for live price feeds and event stream (empty = static dev feeds)")
	flag.StringVar(&cfg.dataDir, "data-dir", "", "Snapshot database path (empty = in-memory)")
	flag.DurationVar(&cfg.snapshotTick, "snapshot-interval", 30*time.Second, "How often to persist a ledger snapshot")
	flag.DurationVar(&cfg.priceMaxAge, "price-max-age", dsc.DefaultPriceMaxAge, "Staleness bound for feed observations")
	flag.StringVar(&cfg.wethPrice, "weth-price", "2000", "Static dev price for weth (USD)")
	flag.StringVar(&cfg.wbtcPrice, "wbtc-price", "50000", "Static dev price for wbtc (USD)")
	flag.Parse()

	logger := log.Root().New("module", "dscd")

	if err := run(cfg, logger); err != nil {
		logger.Error("Fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg config, logger log.Logger) error {
	// NATS connection, if requested
	var nc *nats.Conn
	if cfg.natsURL != "" {
		var err error
		nc, err = nats.Connect(cfg.natsURL)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
		logger.Info("Connected to NATS", "url", cfg.natsURL)
	}

	// Price feeds: live NATS ticks or static dev prices
	assetIDs := []string{"weth", "wbtc"}
	priceFeeds := make([]dsc.PriceFeed, 0, len(assetIDs))
	if nc != nil {
		for _, assetID := range assetIDs {
			feed, err := feeds.SubscribeNATSFeed(nc, "dsc.prices."+assetID, logger.New("asset", assetID))
			if err != nil {
				return fmt.Errorf("subscribe %s feed: %w", assetID, err)
			}
			defer feed.Close()
			priceFeeds = append(priceFeeds, feed)
		}
	} else {
		for _, price := range []string{cfg.wethPrice, cfg.wbtcPrice} {
			quote, err := decimal.NewFromString(price)
			if err != nil {
				return fmt.Errorf("parse dev price %q: %w", price, err)
			}
			feed := feeds.NewStaticFeed()
			feed.SetPrice(quote, time.Now())
			priceFeeds = append(priceFeeds, feed)
		}
	}

	// Event sinks: bus for the API, metrics, optional NATS stream
	bus := dsc.NewEventBus()
	defer bus.Close()
	m := metrics.New("dsc", logger.New("module", "metrics"))
	sinks := dsc.MultiSink{bus, m}
	if nc != nil {
		sinks = append(sinks, stream.NewPublisher(nc, "dsc.events", logger.New("module", "stream")))
	}

	engine, err := dsc.NewEngine(dsc.Config{
		AssetIDs:    assetIDs,
		Tokens:      []dsc.CollateralToken{newDevToken(), newDevToken()},
		PriceFeeds:  priceFeeds,
		StableCoin:  newDevStable(),
		Logger:      logger.New("module", "engine"),
		PriceMaxAge: cfg.priceMaxAge,
		Sink:        sinks,
		OnFailure:   m.ObserveFailure,
	})
	if err != nil {
		return err
	}

	// Snapshot persistence
	db := openDatabase(cfg.dataDir, logger)
	defer db.Close()
	st := store.New(db, logger.New("module", "store"))
	snap, err := st.Load()
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if len(snap.Accounts) > 0 {
		engine.RestoreSnapshot(snap)
		logger.Info("Restored ledger snapshot", "accounts", len(snap.Accounts))
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	// Periodic snapshot + gauge refresh
	go func() {
		ticker := time.NewTicker(cfg.snapshotTick)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := st.Save(engine.Snapshot()); err != nil {
					logger.Error("Snapshot save failed", "error", err)
				}
				m.SetTotalDebt(engine.TotalDebt())
			}
		}
	}()

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		addr := fmt.Sprintf(":%d", cfg.metricsPort)
		logger.Info("Metrics server starting", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("Metrics server failed", "error", err)
		}
	}()

	// API server
	server := api.NewServer(engine, bus.Subscribe(), logger.New("module", "api"), api.Config{
		Port:         cfg.apiPort,
		WriteTimeout: 10 * time.Second,
		PongTimeout:  60 * time.Second,
		PingPeriod:   54 * time.Second,
	})
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("API server failed", "error", err)
		}
	}()

	<-stop
	logger.Info("Shutting down")
	close(done)
	server.Stop()

	// Final snapshot before exit
	if err := st.Save(engine.Snapshot()); err != nil {
		logger.Error("Final snapshot save failed", "error", err)
	}
	return nil
}

func openDatabase(dataDir string, logger log.Logger) database.Database {
	if dataDir == "" {
		logger.Info("Using in-memory database")
		return memdb.New()
	}
	db, err := leveldb.New(dataDir, 0, 0, 0)
	if err != nil {
		logger.Warn("Database open failed, falling back to memory", "path", dataDir, "error", err)
		return memdb.New()
	}
	logger.Info("Database opened", "path", dataDir)
	return db
}

// devToken is an in-memory collateral token for standalone operation.
type devToken struct {
	mu       sync.Mutex
	balances map[dsc.Account]*uint256.Int
}

func newDevToken() *devToken {
	return &devToken{balances: make(map[dsc.Account]*uint256.Int)}
}

func (t *devToken) balance(account dsc.Account) *uint256.Int {
	b, ok := t.balances[account]
	if !ok {
		// Dev accounts start with a large faucet balance
		b = new(uint256.Int).Mul(uint256.NewInt(1_000_000), dsc.Precision)
		t.balances[account] = b
	}
	return b
}

func (t *devToken) TransferFrom(from, to dsc.Account, amount *uint256.Int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	src := t.balance(from)
	if src.Lt(amount) {
		return false
	}
	src.Sub(src, amount)
	dst := t.balance(to)
	dst.Add(dst, amount)
	return true
}

func (t *devToken) Transfer(to dsc.Account, amount *uint256.Int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	dst := t.balance(to)
	dst.Add(dst, amount)
	return true
}

// devStable is an in-memory stable-unit ledger for standalone
// operation.
type devStable struct {
	mu       sync.Mutex
	balances map[dsc.Account]*uint256.Int
}

func newDevStable() *devStable {
	return &devStable{balances: make(map[dsc.Account]*uint256.Int)}
}

func (s *devStable) balance(account dsc.Account) *uint256.Int {
	b, ok := s.balances[account]
	if !ok {
		b = uint256.NewInt(0)
		s.balances[account] = b
	}
	return b
}

func (s *devStable) Mint(to dsc.Account, amount *uint256.Int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.balance(to)
	b.Add(b, amount)
	return true
}

func (s *devStable) Burn(amount *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.balance(dsc.DefaultEngineAccount)
	if !b.Lt(amount) {
		b.Sub(b, amount)
	}
}

func (s *devStable) TransferFrom(from, to dsc.Account, amount *uint256.Int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.balance(from)
	if src.Lt(amount) {
		return false
	}
	src.Sub(src, amount)
	dst := s.balance(to)
	dst.Add(dst, amount)
	return true
}
