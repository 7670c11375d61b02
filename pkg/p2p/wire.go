package p2p

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/uhyunpark/hyperswap/pkg/app/core/events"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

var ErrBadAttestation = errors.New("p2p: bad event attestation")

func init() {
	gob.Register(EventWire{})
	gob.Register(HistoryRequest{})
	gob.Register(HistoryWire{})
}

// EventWire is one engine event attested by the publishing node
type EventWire struct {
	Envelope []byte // JSON-encoded events.Envelope
	PubKey   []byte // publisher's BLS public key
	Sig      []byte // BLS signature over Envelope
}

// HistoryRequest asks a peer for journaled events after a sequence number
type HistoryRequest struct {
	After uint64
	Limit int
}

type HistoryWire struct {
	Events []EventWire
}

func attest(signer *crypto.BLSSigner, env events.Envelope) (EventWire, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return EventWire{}, err
	}
	return EventWire{Envelope: data, PubKey: signer.PubkeyBytes(), Sig: signer.Sign(data)}, nil
}

// open checks the attestation and decodes the envelope. When trusted is
// non-empty the publisher key must be in it.
func (w EventWire) open(trusted map[string]bool) (events.Envelope, error) {
	var env events.Envelope
	if len(trusted) > 0 && !trusted[string(w.PubKey)] {
		return env, fmt.Errorf("%w: untrusted publisher", ErrBadAttestation)
	}
	pk, err := crypto.ParseBLSPubKey(w.PubKey)
	if err != nil {
		return env, fmt.Errorf("%w: %w", ErrBadAttestation, err)
	}
	if !crypto.Verify(pk, w.Sig, w.Envelope) {
		return env, fmt.Errorf("%w: signature mismatch", ErrBadAttestation)
	}
	if err := json.Unmarshal(w.Envelope, &env); err != nil {
		return env, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return env, nil
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
