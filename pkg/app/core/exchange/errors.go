package exchange

import (
	"context"
	"errors"

	"github.com/uhyunpark/hyperswap/pkg/app/core/fixedpoint"
	"github.com/uhyunpark/hyperswap/pkg/app/core/guard"
	"github.com/uhyunpark/hyperswap/pkg/app/core/pair"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transfer"
)

// Validation
var (
	ErrPairExists      = pair.ErrPairExists
	ErrPairNotFound    = pair.ErrPairNotFound
	ErrOrderNotFound   = errors.New("exchange: order not found")
	ErrInvalidToken    = errors.New("exchange: invalid token")
	ErrIdenticalTokens = errors.New("exchange: identical tokens")
	ErrTokenNotInPair  = errors.New("exchange: token not in pair")
	ErrZeroAmount      = errors.New("exchange: zero amount")
	ErrBadPriceRatio   = errors.New("exchange: order price worse than pool")
)

// Economic
var (
	ErrInsufficientLiquidity = errors.New("exchange: insufficient liquidity")
	ErrInsufficientShares    = errors.New("exchange: insufficient shares")
	ErrNoPosition            = errors.New("exchange: no liquidity position")
	ErrFillExceedsRemaining  = errors.New("exchange: fill exceeds remaining amount")
	ErrSlippage              = errors.New("exchange: output below minimum")
	ErrInsufficientOutput    = errors.New("exchange: insufficient output amount")
	ErrOverflow              = fixedpoint.ErrOverflow
)

var (
	ErrNotMaker       = errors.New("exchange: caller is not the maker")
	ErrOrderNotActive = errors.New("exchange: order not active")
	ErrReentrantCall  = guard.ErrReentrant
	ErrTransferFailed = transfer.ErrTransferFailed
)

type ErrorClass string

const (
	ClassNone          ErrorClass = ""
	ClassValidation    ErrorClass = "validation"
	ClassEconomic      ErrorClass = "economic"
	ClassAuthorization ErrorClass = "authorization"
	ClassState         ErrorClass = "state"
	ClassTransport     ErrorClass = "transport"
	ClassConcurrency   ErrorClass = "concurrency"
	ClassInternal      ErrorClass = "internal"
)

var classes = []struct {
	class ErrorClass
	errs  []error
}{
	{ClassTransport, []error{ErrTransferFailed}},
	{ClassConcurrency, []error{ErrReentrantCall, context.Canceled, context.DeadlineExceeded}},
	{ClassValidation, []error{
		ErrPairExists, ErrPairNotFound, ErrOrderNotFound, ErrInvalidToken,
		ErrIdenticalTokens, ErrTokenNotInPair, ErrZeroAmount, ErrBadPriceRatio,
	}},
	{ClassEconomic, []error{
		ErrInsufficientLiquidity, ErrInsufficientShares, ErrNoPosition,
		ErrFillExceedsRemaining, ErrSlippage, ErrInsufficientOutput, ErrOverflow,
	}},
	{ClassAuthorization, []error{ErrNotMaker}},
	{ClassState, []error{ErrOrderNotActive}},
}

// Classify maps an operation error to its class
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	for _, c := range classes {
		for _, target := range c.errs {
			if errors.Is(err, target) {
				return c.class
			}
		}
	}
	return ClassInternal
}
