package exchange

import (
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/fixedpoint"
)

var (
	feeNumerator   = uint256.NewInt(997)
	feeDenominator = uint256.NewInt(1000)
	bpsDenominator = uint256.NewInt(10_000)
)

// DefaultMinimumShares is the least a new pool may mint
const DefaultMinimumShares = 1000

// SwapOutput prices a constant-product trade with the 0.3% fee. The fee is
// truncated first, then the ratio, and the two divisions must stay in that order.
func SwapOutput(amountIn, reserveIn, reserveOut *uint256.Int) (*uint256.Int, error) {
	afterFee, err := fixedpoint.MulDiv(amountIn, feeNumerator, feeDenominator)
	if err != nil {
		return nil, err
	}
	den, err := fixedpoint.Add(reserveIn, afterFee)
	if err != nil {
		return nil, err
	}
	if den.IsZero() {
		return new(uint256.Int), nil
	}
	return fixedpoint.MulDiv(reserveOut, afterFee, den)
}

// InitialShares is the geometric mean of the first deposit
func InitialShares(amountLow, amountHigh *uint256.Int) (*uint256.Int, error) {
	k, err := fixedpoint.Mul(amountLow, amountHigh)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Sqrt(k), nil
}

// RequiredHigh is the high-token deposit matching amountLow at the pool ratio
func RequiredHigh(amountLow, reserveLow, reserveHigh *uint256.Int) (*uint256.Int, error) {
	if reserveLow.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	return fixedpoint.MulDiv(amountLow, reserveHigh, reserveLow)
}

// MintedShares is the share of totalShares bought by depositing amountLow
func MintedShares(amountLow, totalShares, reserveLow *uint256.Int) (*uint256.Int, error) {
	if reserveLow.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	return fixedpoint.MulDiv(amountLow, totalShares, reserveLow)
}

// Payout is one side of a withdrawal of shares out of totalShares
func Payout(reserve, shares, totalShares *uint256.Int) (*uint256.Int, error) {
	if totalShares.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	return fixedpoint.MulDiv(reserve, shares, totalShares)
}

// FillOffer is the part of an order's remaining offer bought by desiredIn,
// keeping the offer/desired ratio constant across partial fills
func FillOffer(desiredIn, remainingOffer, remainingDesired *uint256.Int) (*uint256.Int, error) {
	return fixedpoint.MulDiv(desiredIn, remainingOffer, remainingDesired)
}

// ShareBps is shares/totalShares in basis points, 0 for an empty pool
func ShareBps(shares, totalShares *uint256.Int) uint64 {
	if fixedpoint.IsZero(totalShares) || fixedpoint.IsZero(shares) {
		return 0
	}
	bps, err := fixedpoint.MulDiv(shares, bpsDenominator, totalShares)
	if err != nil {
		// shares*10000 overflowed, so divide first
		q := new(uint256.Int).Div(totalShares, bpsDenominator)
		bps = new(uint256.Int).Div(shares, q)
	}
	return bps.Uint64()
}
