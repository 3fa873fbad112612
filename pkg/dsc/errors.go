package dsc

import "errors"

// Engine errors. Every failure aborts the whole operation; no partial
// state survives a non-nil return.
var (
	ErrConfigurationMismatch   = errors.New("asset and price feed lists must be the same length")
	ErrZeroAmount              = errors.New("amount must be more than zero")
	ErrUnsupportedAsset        = errors.New("asset is not registered as collateral")
	ErrTransferFailed          = errors.New("token transfer failed")
	ErrMintFailed              = errors.New("stablecoin mint failed")
	ErrInsufficientCollateral  = errors.New("insufficient collateral balance")
	ErrInsufficientDebt        = errors.New("burn amount exceeds minted debt")
	ErrHealthFactorBroken      = errors.New("health factor below minimum")
	ErrHealthFactorNotViolated = errors.New("health factor not below minimum")
	ErrHealthFactorNotImproved = errors.New("liquidation did not improve health factor")
	ErrStalePrice              = errors.New("price feed data is stale")
	ErrInvalidPrice            = errors.New("price feed returned a non-positive price")
	ErrReentrantCall           = errors.New("reentrant call")
	ErrOverflow                = errors.New("arithmetic overflow")
)

// failureReason maps a rejected operation's error to a stable label for
// failure observers.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrZeroAmount):
		return "zero_amount"
	case errors.Is(err, ErrUnsupportedAsset):
		return "unsupported_asset"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrMintFailed):
		return "mint_failed"
	case errors.Is(err, ErrInsufficientCollateral):
		return "insufficient_collateral"
	case errors.Is(err, ErrInsufficientDebt):
		return "insufficient_debt"
	case errors.Is(err, ErrHealthFactorBroken):
		return "health_factor_broken"
	case errors.Is(err, ErrHealthFactorNotViolated):
		return "health_factor_not_violated"
	case errors.Is(err, ErrHealthFactorNotImproved):
		return "health_factor_not_improved"
	case errors.Is(err, ErrStalePrice):
		return "stale_price"
	case errors.Is(err, ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, ErrReentrantCall):
		return "reentrant_call"
	case errors.Is(err, ErrOverflow):
		return "overflow"
	default:
		return "other"
	}
}
