package api

import (
	"errors"
	"net/http"

	"github.com/uhyunpark/hyperswap/pkg/app/core/exchange"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperswap/pkg/app/dex"
)

// statusFor maps an error to an HTTP status and the class reported to clients
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, transaction.ErrMalformed):
		return http.StatusBadRequest, "malformed"
	case errors.Is(err, transaction.ErrBadSignature):
		return http.StatusUnauthorized, "signature"
	case errors.Is(err, dex.ErrNonceTooLow):
		return http.StatusConflict, "nonce"
	case errors.Is(err, dex.ErrFaucetDisabled):
		return http.StatusForbidden, "faucet"
	}

	class := exchange.Classify(err)
	switch class {
	case exchange.ClassValidation:
		switch {
		case errors.Is(err, exchange.ErrPairNotFound), errors.Is(err, exchange.ErrOrderNotFound):
			return http.StatusNotFound, string(class)
		case errors.Is(err, exchange.ErrPairExists):
			return http.StatusConflict, string(class)
		}
		return http.StatusBadRequest, string(class)
	case exchange.ClassEconomic, exchange.ClassTransport:
		return http.StatusUnprocessableEntity, string(class)
	case exchange.ClassAuthorization:
		return http.StatusForbidden, string(class)
	case exchange.ClassState:
		return http.StatusConflict, string(class)
	case exchange.ClassConcurrency:
		return http.StatusServiceUnavailable, string(class)
	}
	return http.StatusInternalServerError, string(exchange.ClassInternal)
}
