package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/holiman/uint256"

	"lendledger/core/events"
	nhbstate "lendledger/core/state"
	"lendledger/crypto"
	"lendledger/gateway/middleware"
	"lendledger/gateway/routes"
	"lendledger/native/bank"
	"lendledger/native/lending"
	"lendledger/observability"
	"lendledger/observability/logging"
	"lendledger/services/lendingd/config"
	"lendledger/services/lendingd/journal"
	"lendledger/storage"
)

const custodyModule = "lending"

var genesisKey = []byte("lendingd/genesis-applied")

// node holds every long-lived component of the daemon.
type node struct {
	db         storage.Database
	state      *nhbstate.Manager
	asset      *bank.Token
	collateral *bank.Token
	engine     *lending.Engine
	sequencer  *lending.Sequencer
	feed       *events.Feed
	journal    *journal.Journal
	handler    http.Handler
}

func buildNode(cfg config.Config, logger *slog.Logger) (*node, error) {
	db, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	n := &node{db: db, state: nhbstate.NewManager(db)}
	if err := n.init(cfg, logger); err != nil {
		_ = n.Close()
		return nil, err
	}
	return n, nil
}

func (n *node) init(cfg config.Config, logger *slog.Logger) error {
	for _, token := range []config.TokenConfig{cfg.Assets.Asset, cfg.Assets.Collateral} {
		if n.state.TokenExists(token.Symbol) {
			continue
		}
		if err := n.state.RegisterToken(token.Symbol, token.Name, token.Decimals); err != nil {
			return fmt.Errorf("register %s: %w", token.Symbol, err)
		}
	}
	custody := crypto.ModuleAddress(custodyModule)
	var err error
	if n.asset, err = bank.NewToken(n.state, cfg.Assets.Asset.Symbol, custody); err != nil {
		return err
	}
	if n.collateral, err = bank.NewToken(n.state, cfg.Assets.Collateral.Symbol, custody); err != nil {
		return err
	}
	if err := n.applyGenesis(cfg, logger); err != nil {
		return err
	}

	n.engine, err = n.restoreEngine(cfg, logger)
	if err != nil {
		return err
	}
	n.feed = events.NewFeed(cfg.EventBacklog)
	emitters := events.MultiEmitter{n.feed, logging.EventLogger(logger), n.metricsEmitter()}
	if cfg.JournalEnabled() {
		n.journal, err = journal.Open(cfg.Journal.Driver, cfg.Journal.DSN, logger)
		if err != nil {
			return err
		}
		emitters = append(emitters, n.journal)
	}
	n.engine.SetState(n.state)
	n.engine.SetGateways(n.asset, n.collateral)
	n.engine.SetEmitter(emitters)
	n.sequencer = lending.NewSequencer(n.engine, lending.WithObserver(observability.Lending()))
	n.recordPool()

	stdLogger := slog.NewLogLogger(logger.Handler(), slog.LevelInfo)
	limits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for key, limit := range cfg.RateLimits {
		limits[key] = middleware.RateLimit{RatePerSecond: limit.RatePerSecond, Burst: limit.Burst}
	}
	n.handler, err = routes.New(routes.Config{
		ServiceName: "lendingd",
		Lending:     n.sequencer,
		Tokens:      []*bank.Token{n.asset, n.collateral},
		Feed:        n.feed,
		Journal:     n.journal,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  time.Duration(cfg.Auth.ClockSkewSeconds) * time.Second,
		}, stdLogger),
		RateLimiter: middleware.NewRateLimiter(limits, stdLogger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: "lendingd",
			Enabled:     true,
			LogRequests: cfg.Environment == "dev",
		}, stdLogger),
		RequestTimeout: time.Duration(cfg.RequestTimeout) * time.Second,
	})
	return err
}

// restoreEngine prefers settings persisted by earlier admin operations over
// the configured bootstrap values.
func (n *node) restoreEngine(cfg config.Config, logger *slog.Logger) (*lending.Engine, error) {
	settings, ok, err := n.state.LendingSettings()
	if err != nil {
		return nil, fmt.Errorf("load lending settings: %w", err)
	}
	if ok {
		logger.Info("restored lending settings", "operator", settings.Operator.String())
		return lending.NewEngineFromSettings(*settings)
	}
	operator, err := crypto.DecodeAddress(cfg.Operator)
	if err != nil {
		return nil, fmt.Errorf("operator: %w", err)
	}
	params, err := cfg.Lending.RiskParameters()
	if err != nil {
		return nil, err
	}
	return lending.NewEngine(operator, params)
}

func (n *node) applyGenesis(cfg config.Config, logger *slog.Logger) error {
	var applied uint64
	ok, err := n.state.KVGet(genesisKey, &applied)
	if err != nil {
		return fmt.Errorf("load genesis marker: %w", err)
	}
	if ok && applied == 1 {
		return nil
	}
	for _, entry := range cfg.Genesis {
		addr, err := crypto.DecodeAddress(entry.Address)
		if err != nil {
			return fmt.Errorf("genesis address: %w", err)
		}
		amount, err := uint256.FromDecimal(entry.Amount)
		if err != nil {
			return fmt.Errorf("genesis amount: %w", err)
		}
		token := n.asset
		if entry.Symbol == n.collateral.Symbol() {
			token = n.collateral
		}
		if amount.IsZero() {
			continue
		}
		if err := token.Mint(addr, amount); err != nil {
			return fmt.Errorf("genesis mint %s: %w", entry.Symbol, err)
		}
		logger.Info("genesis balance minted", "symbol", token.Symbol(), "address", addr.String(), "amount", amount.Dec())
	}
	return n.state.KVPut(genesisKey, uint64(1))
}

func (n *node) metricsEmitter() events.Emitter {
	metrics := observability.Lending()
	return events.EmitterFunc(func(evt events.Event) {
		metrics.RecordEvent(evt.EventType())
		n.recordPool()
	})
}

func (n *node) recordPool() {
	pool, err := n.state.LendingPool()
	if err != nil {
		return
	}
	count, err := n.state.LendingLoanSequence()
	if err != nil {
		return
	}
	observability.Lending().RecordPool(pool, count)
}

// Close releases the journal and storage handles.
func (n *node) Close() error {
	var errs []error
	if n.journal != nil {
		errs = append(errs, n.journal.Close())
	}
	if n.db != nil {
		n.db.Close()
	}
	return errors.Join(errs...)
}

var _ io.Closer = (*node)(nil)
