package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/app/core/events"
	"github.com/uhyunpark/hyperswap/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperswap/pkg/app/core/pair"
)

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func setJSON(b *pebble.Batch, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return b.Set(key, data, nil)
}

// ============================================================================
// Exchange Persistence Methods
// ============================================================================

// SaveChanges writes every record of one engine operation in a single batch
func (s *PebbleStore) SaveChanges(ch pair.Changes) error {
	b := s.db.NewBatch()
	defer b.Close()

	if ch.Pair != nil {
		if err := setJSON(b, pairKey(ch.Pair.ID), ch.Pair); err != nil {
			return err
		}
	}
	for _, pos := range ch.Positions {
		if err := setJSON(b, positionKey(pos.PairID, pos.Owner), pos); err != nil {
			return err
		}
	}
	for _, o := range ch.Orders {
		if err := setJSON(b, orderKey(o.PairID, o.ID), o); err != nil {
			return err
		}
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit changes: %w", err)
	}
	return nil
}

// LoadPairs returns every persisted pair with its positions and orders
func (s *PebbleStore) LoadPairs() ([]pair.Changes, error) {
	var out []pair.Changes
	err := s.scan([]byte(prefixPair), func(_, val []byte) error {
		var p pair.Pair
		if err := json.Unmarshal(val, &p); err != nil {
			return fmt.Errorf("failed to unmarshal pair: %w", err)
		}
		ch := pair.Changes{Pair: &p}

		if err := s.scan(positionPrefix(p.ID), func(_, val []byte) error {
			var pos pair.Position
			if err := json.Unmarshal(val, &pos); err != nil {
				return fmt.Errorf("failed to unmarshal position: %w", err)
			}
			ch.Positions = append(ch.Positions, &pos)
			return nil
		}); err != nil {
			return err
		}

		if err := s.scan(orderPrefix(p.ID), func(_, val []byte) error {
			var o pair.LimitOrder
			if err := json.Unmarshal(val, &o); err != nil {
				return fmt.Errorf("failed to unmarshal order: %w", err)
			}
			ch.Orders = append(ch.Orders, &o)
			return nil
		}); err != nil {
			return err
		}

		out = append(out, ch)
		return nil
	})
	return out, err
}

// ============================================================================
// Ledger Persistence Methods
// ============================================================================

func (s *PebbleStore) SaveToken(t ledger.Token) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	if err := s.db.Set(tokenKey(t.Address), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// SaveHoldings writes the balances and allowances touched by one ledger call
func (s *PebbleStore) SaveHoldings(balances []ledger.Balance, allowances []ledger.Allowance) error {
	b := s.db.NewBatch()
	defer b.Close()

	for _, bal := range balances {
		if err := setJSON(b, balanceKey(bal.Token, bal.Holder), bal); err != nil {
			return err
		}
	}
	for _, a := range allowances {
		if err := setJSON(b, allowanceKey(a.Token, a.Owner, a.Spender), a); err != nil {
			return err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit holdings: %w", err)
	}
	return nil
}

// LoadLedger reads every token, balance and allowance
func (s *PebbleStore) LoadLedger() (ledger.Snapshot, error) {
	var snap ledger.Snapshot
	if err := s.scan([]byte(prefixToken), func(_, val []byte) error {
		var t ledger.Token
		if err := json.Unmarshal(val, &t); err != nil {
			return fmt.Errorf("failed to unmarshal token: %w", err)
		}
		snap.Tokens = append(snap.Tokens, t)
		return nil
	}); err != nil {
		return snap, err
	}
	if err := s.scan([]byte(prefixBalance), func(_, val []byte) error {
		var b ledger.Balance
		if err := json.Unmarshal(val, &b); err != nil {
			return fmt.Errorf("failed to unmarshal balance: %w", err)
		}
		snap.Balances = append(snap.Balances, b)
		return nil
	}); err != nil {
		return snap, err
	}
	err := s.scan([]byte(prefixAllowance), func(_, val []byte) error {
		var a ledger.Allowance
		if err := json.Unmarshal(val, &a); err != nil {
			return fmt.Errorf("failed to unmarshal allowance: %w", err)
		}
		snap.Allowances = append(snap.Allowances, a)
		return nil
	})
	return snap, err
}

// ============================================================================
// Nonce Persistence Methods
// ============================================================================

func (s *PebbleStore) SaveNonce(addr common.Address, nonce uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	if err := s.db.Set(nonceKey(addr), buf[:], pebble.Sync); err != nil {
		return fmt.Errorf("failed to save nonce: %w", err)
	}
	return nil
}

// LoadNonce returns the last accepted nonce of addr and whether one exists
func (s *PebbleStore) LoadNonce(addr common.Address) (uint64, bool, error) {
	val, closer, err := s.db.Get(nonceKey(addr))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get nonce: %w", err)
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, false, fmt.Errorf("corrupt nonce for %s", addr.Hex())
	}
	return binary.BigEndian.Uint64(val), true, nil
}

// ============================================================================
// Event Journal Methods
// ============================================================================

func (s *PebbleStore) AppendEvent(env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := s.db.Set(eventKey(env.Seq), data, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// LoadEvents returns up to limit events with sequence numbers after `after`.
// When pairID is non-zero only that pair's events are returned.
func (s *PebbleStore) LoadEvents(after uint64, pairID pair.ID, limit int) ([]events.Envelope, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: eventKey(after + 1),
		UpperBound: keyUpperBound([]byte(prefixEvent)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []events.Envelope
	for iter.First(); iter.Valid() && len(out) < limit; iter.Next() {
		var env events.Envelope
		if err := json.Unmarshal(iter.Value(), &env); err != nil {
			continue // Skip invalid entries
		}
		if pairID != 0 && env.PairID != pairID {
			continue
		}
		out = append(out, env)
	}
	return out, iter.Error()
}

// LastEventSeq returns the highest journaled sequence number, 0 if none
func (s *PebbleStore) LastEventSeq() (uint64, error) {
	prefix := []byte(prefixEvent)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	var env events.Envelope
	if err := json.Unmarshal(iter.Value(), &env); err != nil {
		return 0, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return env.Seq, nil
}

func (s *PebbleStore) scan(prefix []byte, fn func(key, val []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}
