// Package dsc implements the accounting and risk engine for an
// overcollateralized stable-value system: users deposit approved
// collateral, mint a pegged stable unit against it, and must keep their
// health factor above the minimum at all times. Undercollateralized
// positions can be liquidated by third parties for a bonus.
package dsc

import (
	"math/big"
	"time"

	"github.com/holiman/uint256"
)

// Account identifies a participant. The engine never interprets the
// value; it is only a ledger key and a transfer endpoint.
type Account string

// CollateralToken is the transfer surface of a collateral asset. Both
// calls report success with a boolean, mirroring ERC20 semantics.
type CollateralToken interface {
	TransferFrom(from, to Account, amount *uint256.Int) bool
	Transfer(to Account, amount *uint256.Int) bool
}

// StableCoin is the pegged stable-unit ledger the engine mints against
// collateral. Burn consumes units already held by the engine.
type StableCoin interface {
	Mint(to Account, amount *uint256.Int) bool
	Burn(amount *uint256.Int)
	TransferFrom(from, to Account, amount *uint256.Int) bool
}

// PriceFeed returns the latest observation for one asset. The price is
// signed because a feed can misreport; the oracle adapter rejects
// non-positive answers. Prices are expected at FeedPrecision scale.
type PriceFeed interface {
	LatestPrice() (price *big.Int, updatedAt time.Time, err error)
}

// Fixed-point scales and risk parameters. Internal amounts and health
// factors use 18 decimals; feeds answer with 8 and are normalized up.
var (
	// Precision is the internal 18-decimal fixed-point unit.
	Precision = uint256.NewInt(1_000_000_000_000_000_000)
	// AdditionalFeedPrecision lifts an 8-decimal feed answer to 18.
	AdditionalFeedPrecision = uint256.NewInt(10_000_000_000)
	// LiquidationThreshold over LiquidationPrecision is the fraction of
	// nominal collateral value that counts toward solvency. 50/100
	// means positions must be 200% overcollateralized.
	LiquidationThreshold = uint256.NewInt(50)
	LiquidationPrecision = uint256.NewInt(100)
	// LiquidationBonus over LiquidationPrecision is the extra
	// collateral awarded to a liquidator.
	LiquidationBonus = uint256.NewInt(10)
	// MinHealthFactor is 1.0 at Precision scale.
	MinHealthFactor = uint256.NewInt(1_000_000_000_000_000_000)
)

// DefaultPriceMaxAge is the staleness bound applied to feed
// observations when the config does not override it.
const DefaultPriceMaxAge = 3 * time.Hour

// DefaultEngineAccount receives pulled collateral and stable units when
// the config does not name an engine account.
const DefaultEngineAccount Account = "dsc:engine"
