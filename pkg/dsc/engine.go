package dsc

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/luxfi/log"
)

// Config wires an Engine. AssetIDs, Tokens and PriceFeeds are parallel
// lists in registration order; a length mismatch is fatal.
type Config struct {
	AssetIDs   []string
	Tokens     []CollateralToken
	PriceFeeds []PriceFeed
	StableCoin StableCoin

	Logger        log.Logger
	PriceMaxAge   time.Duration
	EngineAccount Account
	Sink          EventSink
	Now           func() time.Time

	// OnFailure, when set, is called with a stable reason label every
	// time an operation is rejected. Metrics hook.
	OnFailure func(reason string)
}

// registeredAsset binds a collateral identifier to its token transfer
// surface and its price oracle. Immutable after construction.
type registeredAsset struct {
	id     string
	token  CollateralToken
	feed   PriceFeed
	oracle *OracleAdapter
}

// Engine owns the position ledger and the asset registry and enforces
// the solvency invariant across every mutation. All mutating
// operations are serialized by a reentrancy gate; a nested call made
// from inside an external transfer fails with ErrReentrantCall instead
// of deadlocking. State is mutated before external transfer calls and
// rolled back in full if any step of an operation fails.
type Engine struct {
	logger    log.Logger
	stable    StableCoin
	self      Account
	sink      EventSink
	now       func() time.Time
	onFailure func(reason string)

	assets   map[string]*registeredAsset
	assetIDs []string

	mu     sync.RWMutex
	ledger *positionLedger

	// opMu spans a whole operation, external transfer calls included,
	// so Snapshot and RestoreSnapshot never see state that may still
	// roll back. mu alone only covers individual ledger touches.
	opMu    sync.Mutex
	entered atomic.Bool
}

// NewEngine validates the registry configuration and builds the engine.
func NewEngine(cfg Config) (*Engine, error) {
	if len(cfg.AssetIDs) != len(cfg.PriceFeeds) || len(cfg.AssetIDs) != len(cfg.Tokens) {
		return nil, ErrConfigurationMismatch
	}
	if cfg.StableCoin == nil {
		return nil, fmt.Errorf("%w: stablecoin reference is required", ErrConfigurationMismatch)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Root().New("module", "dsc")
	}
	self := cfg.EngineAccount
	if self == "" {
		self = DefaultEngineAccount
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	e := &Engine{
		logger:    logger,
		stable:    cfg.StableCoin,
		self:      self,
		sink:      cfg.Sink,
		now:       now,
		onFailure: cfg.OnFailure,
		assets:    make(map[string]*registeredAsset, len(cfg.AssetIDs)),
		assetIDs:  make([]string, 0, len(cfg.AssetIDs)),
		ledger:    newPositionLedger(),
	}
	for i, id := range cfg.AssetIDs {
		if cfg.Tokens[i] == nil || cfg.PriceFeeds[i] == nil {
			return nil, fmt.Errorf("%w: asset %q has a nil token or feed", ErrConfigurationMismatch, id)
		}
		if _, dup := e.assets[id]; dup {
			return nil, fmt.Errorf("%w: duplicate asset %q", ErrConfigurationMismatch, id)
		}
		adapter := NewOracleAdapter(cfg.PriceFeeds[i], cfg.PriceMaxAge)
		adapter.now = now
		e.assets[id] = &registeredAsset{
			id:     id,
			token:  cfg.Tokens[i],
			feed:   cfg.PriceFeeds[i],
			oracle: adapter,
		}
		e.assetIDs = append(e.assetIDs, id)
	}
	return e, nil
}

// journal accumulates the rollback snapshots and pending events of one
// operation. Events are delivered only if the operation commits.
type journal struct {
	snaps  []*positionSnapshot
	events []Event
}

func (e *Engine) record(j *journal, ev Event) {
	ev.ID = uuid.New()
	ev.Timestamp = e.now()
	j.events = append(j.events, ev)
}

// run executes one externally reachable mutating operation: it takes
// the reentrancy gate, snapshots every involved account, and restores
// all of them if fn fails. The state mutex is never held across an
// external token call; exclusivity among mutators comes from the gate.
func (e *Engine) run(accounts []Account, fn func(j *journal) error) error {
	if !e.entered.CompareAndSwap(false, true) {
		return e.fail(ErrReentrantCall)
	}
	defer e.entered.Store(false)
	e.opMu.Lock()
	defer e.opMu.Unlock()

	j := &journal{}
	e.mu.Lock()
	seen := make(map[Account]bool, len(accounts))
	for _, account := range accounts {
		if !seen[account] {
			seen[account] = true
			j.snaps = append(j.snaps, e.ledger.snapshot(account))
		}
	}
	e.mu.Unlock()

	if err := fn(j); err != nil {
		e.mu.Lock()
		for i := len(j.snaps) - 1; i >= 0; i-- {
			e.ledger.restore(j.snaps[i])
		}
		e.mu.Unlock()
		return e.fail(err)
	}

	for _, ev := range j.events {
		e.logger.Info(string(ev.Type),
			"account", string(ev.Account), "to", string(ev.To),
			"asset", ev.Asset, "amount", ev.Amount.Dec())
		if e.sink != nil {
			e.sink.Publish(ev)
		}
	}
	return nil
}

// DepositCollateral pulls amount of the registered asset from the
// caller and credits their position.
func (e *Engine) DepositCollateral(from Account, assetID string, amount *uint256.Int) error {
	return e.run([]Account{from}, func(j *journal) error {
		return e.depositCollateral(j, from, assetID, amount)
	})
}

// DepositCollateralAndMintDSC composes a deposit and a mint as one
// atomic operation.
func (e *Engine) DepositCollateralAndMintDSC(from Account, assetID string, amount, mintAmount *uint256.Int) error {
	return e.run([]Account{from}, func(j *journal) error {
		if err := e.depositCollateral(j, from, assetID, amount); err != nil {
			return err
		}
		return e.mintDSC(j, from, mintAmount)
	})
}

// RedeemCollateral pushes amount of the asset back to the caller. The
// caller's health factor is gated after the transfer, so the operation
// fails as a whole if it would leave the position undercollateralized.
func (e *Engine) RedeemCollateral(from Account, assetID string, amount *uint256.Int) error {
	return e.run([]Account{from}, func(j *journal) error {
		if err := e.redeemCollateral(j, from, from, assetID, amount); err != nil {
			return err
		}
		return e.requireHealthy(from)
	})
}

// RedeemCollateralForDSC burns burnAmount of the caller's debt and then
// redeems collateralAmount, as one atomic operation.
func (e *Engine) RedeemCollateralForDSC(from Account, assetID string, collateralAmount, burnAmount *uint256.Int) error {
	return e.run([]Account{from}, func(j *journal) error {
		if err := e.burnDSC(j, from, from, burnAmount); err != nil {
			return err
		}
		if err := e.redeemCollateral(j, from, from, assetID, collateralAmount); err != nil {
			return err
		}
		return e.requireHealthy(from)
	})
}

// MintDSC mints amount stable units to the caller. The mint is
// rejected as a whole if it would break the caller's health factor.
func (e *Engine) MintDSC(from Account, amount *uint256.Int) error {
	return e.run([]Account{from}, func(j *journal) error {
		return e.mintDSC(j, from, amount)
	})
}

// BurnDSC burns amount of the caller's own debt with their own funds.
func (e *Engine) BurnDSC(from Account, amount *uint256.Int) error {
	return e.run([]Account{from}, func(j *journal) error {
		return e.burnDSC(j, from, from, amount)
	})
}

// Liquidate repays debtToCover of an unhealthy target's debt with the
// liquidator's funds and seizes the equivalent collateral plus the
// liquidation bonus. The target's health factor must strictly improve
// and the liquidator's own health factor must survive the operation.
func (e *Engine) Liquidate(liquidator Account, assetID string, target Account, debtToCover *uint256.Int) error {
	return e.run([]Account{liquidator, target}, func(j *journal) error {
		if debtToCover == nil || debtToCover.IsZero() {
			return ErrZeroAmount
		}
		asset, ok := e.assets[assetID]
		if !ok {
			return ErrUnsupportedAsset
		}

		startingHealth, err := e.HealthFactor(target)
		if err != nil {
			return err
		}
		if !startingHealth.Lt(MinHealthFactor) {
			return ErrHealthFactorNotViolated
		}

		tokenAmount, err := asset.oracle.TokenAmountFromUSD(debtToCover)
		if err != nil {
			return err
		}
		bonus, overflow := new(uint256.Int).MulOverflow(tokenAmount, LiquidationBonus)
		if overflow {
			return ErrOverflow
		}
		bonus.Div(bonus, LiquidationPrecision)
		seized, overflow := new(uint256.Int).AddOverflow(tokenAmount, bonus)
		if overflow {
			return ErrOverflow
		}

		if err := e.redeemCollateral(j, target, liquidator, assetID, seized); err != nil {
			return err
		}
		if err := e.burnDSC(j, target, liquidator, debtToCover); err != nil {
			return err
		}

		endingHealth, err := e.HealthFactor(target)
		if err != nil {
			return err
		}
		if !endingHealth.Gt(startingHealth) {
			return ErrHealthFactorNotImproved
		}
		if err := e.requireHealthy(liquidator); err != nil {
			return err
		}

		e.record(j, Event{
			Type:    EventLiquidation,
			Account: target,
			To:      liquidator,
			Asset:   assetID,
			Amount:  debtToCover.Clone(),
		})
		return nil
	})
}

// depositCollateral credits the ledger first, then pulls the asset.
// A reentrant observer therefore always sees the updated balance.
func (e *Engine) depositCollateral(j *journal, from Account, assetID string, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	asset, ok := e.assets[assetID]
	if !ok {
		return ErrUnsupportedAsset
	}

	e.mu.Lock()
	err := e.ledger.addCollateral(from, assetID, amount)
	e.mu.Unlock()
	if err != nil {
		return err
	}

	e.record(j, Event{
		Type:    EventCollateralDeposited,
		Account: from,
		Asset:   assetID,
		Amount:  amount.Clone(),
	})

	if !asset.token.TransferFrom(from, e.self, amount) {
		return ErrTransferFailed
	}
	return nil
}

// redeemCollateral debits from's position and pushes the asset to the
// recipient, which is the position owner on the self-redeem path and
// the liquidator during liquidation.
func (e *Engine) redeemCollateral(j *journal, from, to Account, assetID string, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	asset, ok := e.assets[assetID]
	if !ok {
		return ErrUnsupportedAsset
	}

	e.mu.Lock()
	err := e.ledger.subCollateral(from, assetID, amount)
	e.mu.Unlock()
	if err != nil {
		return err
	}

	e.record(j, Event{
		Type:    EventCollateralRedeemed,
		Account: from,
		To:      to,
		Asset:   assetID,
		Amount:  amount.Clone(),
	})

	if !asset.token.Transfer(to, amount) {
		return ErrTransferFailed
	}
	return nil
}

// mintDSC attributes new debt to the account, gates its health factor,
// and only then touches the external stablecoin ledger.
func (e *Engine) mintDSC(j *journal, to Account, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}

	e.mu.Lock()
	err := e.ledger.addDebt(to, amount)
	e.mu.Unlock()
	if err != nil {
		return err
	}

	if err := e.requireHealthy(to); err != nil {
		return err
	}

	e.record(j, Event{
		Type:    EventDSCMinted,
		Account: to,
		Amount:  amount.Clone(),
	})

	if !e.stable.Mint(to, amount) {
		return ErrMintFailed
	}
	return nil
}

// burnDSC retires amount of onBehalfOf's debt using stable units pulled
// from payer. The split lets liquidation repay one account's debt with
// another account's funds.
func (e *Engine) burnDSC(j *journal, onBehalfOf, payer Account, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}

	e.mu.Lock()
	err := e.ledger.subDebt(onBehalfOf, amount)
	e.mu.Unlock()
	if err != nil {
		return err
	}

	e.record(j, Event{
		Type:    EventDSCBurned,
		Account: onBehalfOf,
		To:      payer,
		Amount:  amount.Clone(),
	})

	if !e.stable.TransferFrom(payer, e.self, amount) {
		return ErrTransferFailed
	}
	e.stable.Burn(amount)
	return nil
}

// fail reports a rejected operation to the failure observer before
// returning the error unchanged.
func (e *Engine) fail(err error) error {
	if e.onFailure != nil {
		e.onFailure(failureReason(err))
	}
	return err
}

// requireHealthy fails with ErrHealthFactorBroken if the account sits
// below the minimum health factor.
func (e *Engine) requireHealthy(account Account) error {
	health, err := e.HealthFactor(account)
	if err != nil {
		return err
	}
	if health.Lt(MinHealthFactor) {
		return ErrHealthFactorBroken
	}
	return nil
}
