package dsc

import "github.com/holiman/uint256"

// positionLedger holds per-account collateral balances and minted debt.
// Positions come into existence on first touch and are never deleted;
// a fully unwound position simply reads as all zeros. The ledger is
// owned by the engine and only mutated under its lock.
type positionLedger struct {
	collateral map[Account]map[string]*uint256.Int
	debt       map[Account]*uint256.Int
}

func newPositionLedger() *positionLedger {
	return &positionLedger{
		collateral: make(map[Account]map[string]*uint256.Int),
		debt:       make(map[Account]*uint256.Int),
	}
}

func (l *positionLedger) collateralOf(account Account, assetID string) *uint256.Int {
	if balances, ok := l.collateral[account]; ok {
		if balance, ok := balances[assetID]; ok {
			return balance.Clone()
		}
	}
	return uint256.NewInt(0)
}

func (l *positionLedger) debtOf(account Account) *uint256.Int {
	if debt, ok := l.debt[account]; ok {
		return debt.Clone()
	}
	return uint256.NewInt(0)
}

func (l *positionLedger) addCollateral(account Account, assetID string, amount *uint256.Int) error {
	balances, ok := l.collateral[account]
	if !ok {
		balances = make(map[string]*uint256.Int)
		l.collateral[account] = balances
	}
	balance, ok := balances[assetID]
	if !ok {
		balance = uint256.NewInt(0)
		balances[assetID] = balance
	}
	if _, overflow := balance.AddOverflow(balance, amount); overflow {
		return ErrOverflow
	}
	return nil
}

// subCollateral decrements a collateral balance. Going below zero is a
// hard failure, never a wraparound.
func (l *positionLedger) subCollateral(account Account, assetID string, amount *uint256.Int) error {
	balances, ok := l.collateral[account]
	if !ok {
		return ErrInsufficientCollateral
	}
	balance, ok := balances[assetID]
	if !ok || balance.Lt(amount) {
		return ErrInsufficientCollateral
	}
	balance.Sub(balance, amount)
	return nil
}

func (l *positionLedger) addDebt(account Account, amount *uint256.Int) error {
	debt, ok := l.debt[account]
	if !ok {
		debt = uint256.NewInt(0)
		l.debt[account] = debt
	}
	if _, overflow := debt.AddOverflow(debt, amount); overflow {
		return ErrOverflow
	}
	return nil
}

func (l *positionLedger) subDebt(account Account, amount *uint256.Int) error {
	debt, ok := l.debt[account]
	if !ok || debt.Lt(amount) {
		return ErrInsufficientDebt
	}
	debt.Sub(debt, amount)
	return nil
}

func (l *positionLedger) totalDebt() *uint256.Int {
	total := uint256.NewInt(0)
	for _, debt := range l.debt {
		total.Add(total, debt)
	}
	return total
}

// positionSnapshot captures one account's full position so a failed
// operation can restore it exactly.
type positionSnapshot struct {
	account    Account
	collateral map[string]*uint256.Int
	debt       *uint256.Int
}

func (l *positionLedger) snapshot(account Account) *positionSnapshot {
	snap := &positionSnapshot{
		account:    account,
		collateral: make(map[string]*uint256.Int),
		debt:       l.debtOf(account),
	}
	for assetID, balance := range l.collateral[account] {
		snap.collateral[assetID] = balance.Clone()
	}
	return snap
}

func (l *positionLedger) restore(snap *positionSnapshot) {
	balances := make(map[string]*uint256.Int, len(snap.collateral))
	for assetID, balance := range snap.collateral {
		balances[assetID] = balance.Clone()
	}
	l.collateral[snap.account] = balances
	l.debt[snap.account] = snap.debt.Clone()
}
