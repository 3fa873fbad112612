package dsc

import (
	"time"

	"github.com/holiman/uint256"
)

// HealthFactor returns the account's current solvency ratio at
// Precision scale. Accounts with no minted debt report the sentinel
// value above the minimum.
func (e *Engine) HealthFactor(account Account) (*uint256.Int, error) {
	e.mu.RLock()
	debt := e.ledger.debtOf(account)
	e.mu.RUnlock()
	if debt.IsZero() {
		return zeroDebtHealthFactor(), nil
	}

	value, err := e.GetAccountCollateralValueInUSD(account)
	if err != nil {
		return nil, err
	}
	return CalculateHealthFactor(debt, value), nil
}

// GetAccountInformation returns the account's minted debt and total
// collateral value in USD.
func (e *Engine) GetAccountInformation(account Account) (debtMinted, collateralValueUSD *uint256.Int, err error) {
	e.mu.RLock()
	debtMinted = e.ledger.debtOf(account)
	e.mu.RUnlock()

	collateralValueUSD, err = e.GetAccountCollateralValueInUSD(account)
	if err != nil {
		return nil, nil, err
	}
	return debtMinted, collateralValueUSD, nil
}

// GetAccountCollateralValueInUSD sums the USD value of every registered
// asset the account holds, in registration order.
func (e *Engine) GetAccountCollateralValueInUSD(account Account) (*uint256.Int, error) {
	total := uint256.NewInt(0)
	for _, assetID := range e.assetIDs {
		e.mu.RLock()
		balance := e.ledger.collateralOf(account, assetID)
		e.mu.RUnlock()

		value, err := e.assets[assetID].oracle.USDValue(balance)
		if err != nil {
			return nil, err
		}
		if _, overflow := total.AddOverflow(total, value); overflow {
			return nil, ErrOverflow
		}
	}
	return total, nil
}

// GetUSDValue converts an asset amount to USD at the latest price.
func (e *Engine) GetUSDValue(assetID string, amount *uint256.Int) (*uint256.Int, error) {
	asset, ok := e.assets[assetID]
	if !ok {
		return nil, ErrUnsupportedAsset
	}
	return asset.oracle.USDValue(amount)
}

// GetTokenAmountFromUSD converts a USD amount to asset units at the
// latest price.
func (e *Engine) GetTokenAmountFromUSD(assetID string, usdAmount *uint256.Int) (*uint256.Int, error) {
	asset, ok := e.assets[assetID]
	if !ok {
		return nil, ErrUnsupportedAsset
	}
	return asset.oracle.TokenAmountFromUSD(usdAmount)
}

// GetCollateralTokens returns the registered asset identifiers in
// registration order.
func (e *Engine) GetCollateralTokens() []string {
	ids := make([]string, len(e.assetIDs))
	copy(ids, e.assetIDs)
	return ids
}

// GetCollateralBalanceOfUser returns the account's deposited balance of
// one asset.
func (e *Engine) GetCollateralBalanceOfUser(account Account, assetID string) *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.collateralOf(account, assetID)
}

// GetCollateralTokenPriceFeed returns the price feed registered for an
// asset.
func (e *Engine) GetCollateralTokenPriceFeed(assetID string) (PriceFeed, error) {
	asset, ok := e.assets[assetID]
	if !ok {
		return nil, ErrUnsupportedAsset
	}
	return asset.feed, nil
}

// TotalDebt returns the sum of minted debt across all accounts.
func (e *Engine) TotalDebt() *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.totalDebt()
}

// PositionSnapshot is a point-in-time copy of one account's position.
type PositionSnapshot struct {
	Collateral map[string]*uint256.Int `json:"collateral"`
	DebtMinted *uint256.Int            `json:"debtMinted"`
}

// Snapshot is a point-in-time copy of every position in the ledger,
// used by the persistence and API layers.
type Snapshot struct {
	TakenAt  time.Time                    `json:"takenAt"`
	Accounts map[Account]*PositionSnapshot `json:"accounts"`
}

// Snapshot copies the full ledger. It waits for any in-flight mutating
// operation to commit or roll back first, so the result only ever
// contains committed state. Amounts are deep-copied so the caller can
// hold the result without racing the engine. Fully unwound positions
// are omitted.
func (e *Engine) Snapshot() *Snapshot {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := &Snapshot{
		TakenAt:  e.now(),
		Accounts: make(map[Account]*PositionSnapshot),
	}
	position := func(account Account) *PositionSnapshot {
		p, ok := snap.Accounts[account]
		if !ok {
			p = &PositionSnapshot{
				Collateral: make(map[string]*uint256.Int),
				DebtMinted: uint256.NewInt(0),
			}
			snap.Accounts[account] = p
		}
		return p
	}
	for account, balances := range e.ledger.collateral {
		for assetID, balance := range balances {
			if balance.IsZero() {
				continue
			}
			position(account).Collateral[assetID] = balance.Clone()
		}
	}
	for account, debt := range e.ledger.debt {
		if debt.IsZero() {
			continue
		}
		position(account).DebtMinted = debt.Clone()
	}
	return snap
}

// RestoreSnapshot replaces the ledger contents with a previously taken
// snapshot. Intended for process restart from persisted state, before
// the engine is serving operations.
func (e *Engine) RestoreSnapshot(snap *Snapshot) {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ledger = newPositionLedger()
	for account, p := range snap.Accounts {
		for assetID, balance := range p.Collateral {
			e.ledger.collateral[account] = appendBalance(e.ledger.collateral[account], assetID, balance)
		}
		if p.DebtMinted != nil && !p.DebtMinted.IsZero() {
			e.ledger.debt[account] = p.DebtMinted.Clone()
		}
	}
}

func appendBalance(balances map[string]*uint256.Int, assetID string, balance *uint256.Int) map[string]*uint256.Int {
	if balances == nil {
		balances = make(map[string]*uint256.Int)
	}
	balances[assetID] = balance.Clone()
	return balances
}
