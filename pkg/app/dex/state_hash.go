package dex

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// StateHash is a deterministic digest of every pair and its active orders.
// Two nodes that applied the same requests in the same order agree on it.
//
// Per pair, in id order: id, low token, high token, reserves, total shares,
// next order id, then every active order (id, maker, offer token, offer,
// desired). Ledger balances are not included.
func (a *App) StateHash() common.Hash {
	var (
		buf  [8]byte
		data []byte
	)
	putU64 := func(v uint64) {
		binary.BigEndian.PutUint64(buf[:], v)
		data = append(data, buf[:]...)
	}
	putAmount := func(v *uint256.Int) {
		b := v.Bytes32()
		data = append(data, b[:]...)
	}

	for _, p := range a.engine.Pairs() {
		putU64(uint64(p.ID))
		data = append(data, p.TokenLow.Bytes()...)
		data = append(data, p.TokenHigh.Bytes()...)
		putAmount(p.ReserveLow)
		putAmount(p.ReserveHigh)
		putAmount(p.TotalShares)
		putU64(uint64(p.NextOrderID))

		orders, err := a.engine.Orders(p.ID, true)
		if err != nil {
			continue
		}
		for _, o := range orders {
			putU64(uint64(o.ID))
			data = append(data, o.Maker.Bytes()...)
			data = append(data, o.OfferToken.Bytes()...)
			putAmount(o.OfferAmount)
			putAmount(o.DesiredAmount)
		}
	}
	return crypto.Keccak256Hash(data)
}
