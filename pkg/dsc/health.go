package dsc

import "github.com/holiman/uint256"

// zeroDebtHealthFactor is the sentinel returned for accounts with no
// minted debt: twice the minimum, so threshold checks always pass.
func zeroDebtHealthFactor() *uint256.Int {
	return new(uint256.Int).Lsh(MinHealthFactor, 1)
}

// CalculateHealthFactor returns the solvency ratio for a position with
// the given minted debt and total collateral value, both at Precision
// scale. Only LiquidationThreshold percent of nominal collateral value
// counts, so a ratio of exactly MinHealthFactor corresponds to 200%
// collateralization. Intermediates are computed at 512 bits; a ratio
// too large for 256 bits saturates to the maximum, so an extremely
// overcollateralized position can never wrap around and read as
// unhealthy.
func CalculateHealthFactor(debtMinted, collateralValueUSD *uint256.Int) *uint256.Int {
	if debtMinted == nil || debtMinted.IsZero() {
		return zeroDebtHealthFactor()
	}
	adjusted, overflow := new(uint256.Int).MulDivOverflow(collateralValueUSD, LiquidationThreshold, LiquidationPrecision)
	if !overflow {
		adjusted, overflow = adjusted.MulDivOverflow(adjusted, Precision, debtMinted)
	}
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return adjusted
}
