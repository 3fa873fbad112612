// Package store persists DSC engine position snapshots in a key-value
// database so a restarted process can resume from its last committed
// ledger state. Amounts are serialized as 18-decimal strings.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/database"
	"github.com/luxfi/log"
	"github.com/shopspring/decimal"

	"github.com/luxfi/dsc/pkg/dsc"
)

const snapshotKey = "dsc:snapshot"

// Store writes and reads engine snapshots.
type Store struct {
	db     database.Database
	logger log.Logger
}

func New(db database.Database, logger log.Logger) *Store {
	return &Store{db: db, logger: logger}
}

type positionRecord struct {
	Collateral map[string]decimal.Decimal `json:"collateral"`
	DebtMinted decimal.Decimal            `json:"debtMinted"`
}

type snapshotRecord struct {
	TakenAt  time.Time                 `json:"takenAt"`
	Accounts map[string]positionRecord `json:"accounts"`
}

func toDecimal(amount *uint256.Int) decimal.Decimal {
	return decimal.NewFromBigInt(amount.ToBig(), -18)
}

func fromDecimal(d decimal.Decimal) (*uint256.Int, error) {
	amount, overflow := uint256.FromBig(d.Shift(18).BigInt())
	if overflow || d.IsNegative() {
		return nil, fmt.Errorf("amount %s out of range", d)
	}
	return amount, nil
}

// Save overwrites the persisted snapshot.
func (s *Store) Save(snap *dsc.Snapshot) error {
	record := snapshotRecord{
		TakenAt:  snap.TakenAt,
		Accounts: make(map[string]positionRecord, len(snap.Accounts)),
	}
	for account, position := range snap.Accounts {
		pr := positionRecord{
			Collateral: make(map[string]decimal.Decimal, len(position.Collateral)),
			DebtMinted: toDecimal(position.DebtMinted),
		}
		for assetID, balance := range position.Collateral {
			pr.Collateral[assetID] = toDecimal(balance)
		}
		record.Accounts[string(account)] = pr
	}

	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.db.Put([]byte(snapshotKey), value); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	s.logger.Info("Snapshot persisted", "accounts", len(record.Accounts))
	return nil
}

// Load reads the persisted snapshot. A store that was never written
// returns an empty snapshot, not an error.
func (s *Store) Load() (*dsc.Snapshot, error) {
	ok, err := s.db.Has([]byte(snapshotKey))
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if !ok {
		return &dsc.Snapshot{Accounts: make(map[dsc.Account]*dsc.PositionSnapshot)}, nil
	}

	value, err := s.db.Get([]byte(snapshotKey))
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var record snapshotRecord
	if err := json.Unmarshal(value, &record); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	snap := &dsc.Snapshot{
		TakenAt:  record.TakenAt,
		Accounts: make(map[dsc.Account]*dsc.PositionSnapshot, len(record.Accounts)),
	}
	for account, pr := range record.Accounts {
		position := &dsc.PositionSnapshot{
			Collateral: make(map[string]*uint256.Int, len(pr.Collateral)),
		}
		if position.DebtMinted, err = fromDecimal(pr.DebtMinted); err != nil {
			return nil, fmt.Errorf("account %s debt: %w", account, err)
		}
		for assetID, balance := range pr.Collateral {
			if position.Collateral[assetID], err = fromDecimal(balance); err != nil {
				return nil, fmt.Errorf("account %s collateral %s: %w", account, assetID, err)
			}
		}
		snap.Accounts[dsc.Account(account)] = position
	}
	return snap, nil
}
