package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/app/core/pair"
)

// Key schema for Pebble storage
//
// Exchange keys:
//   pair:<pairID>                  → Pair
//   lp:<pairID>:<address>          → Position
//   lo:<pairID>:<orderID>          → LimitOrder
//
// Ledger keys:
//   tok:<token>                    → Token
//   bal:<token>:<holder>           → Balance
//   alw:<token>:<owner>:<spender>  → Allowance
//
// Request keys:
//   nonce:<address>                → last accepted nonce
//
// Journal keys:
//   ev:<seq>                       → Envelope
//
// Numeric ids are zero-padded (20 digits) for lexicographic sorting.

const (
	prefixPair      = "pair:"
	prefixPosition  = "lp:"
	prefixOrder     = "lo:"
	prefixToken     = "tok:"
	prefixBalance   = "bal:"
	prefixAllowance = "alw:"
	prefixNonce     = "nonce:"
	prefixEvent     = "ev:"
)

func pairKey(id pair.ID) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixPair, id))
}

// positionKey format: "lp:{pairID}:{address}"
func positionKey(id pair.ID, owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixPosition, id, owner.Hex()))
}

func positionPrefix(id pair.ID) []byte {
	return []byte(fmt.Sprintf("%s%020d:", prefixPosition, id))
}

// orderKey format: "lo:{pairID}:{orderID}"
func orderKey(id pair.ID, oid pair.OrderID) []byte {
	return []byte(fmt.Sprintf("%s%020d:%020d", prefixOrder, id, oid))
}

func orderPrefix(id pair.ID) []byte {
	return []byte(fmt.Sprintf("%s%020d:", prefixOrder, id))
}

func tokenKey(token common.Address) []byte {
	return []byte(prefixToken + token.Hex())
}

func balanceKey(token, holder common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, token.Hex(), holder.Hex()))
}

func allowanceKey(token, owner, spender common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%s", prefixAllowance, token.Hex(), owner.Hex(), spender.Hex()))
}

func nonceKey(addr common.Address) []byte {
	return []byte(prefixNonce + addr.Hex())
}

func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixEvent, seq))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
