package crypto

import (
	"fmt"

	bls "github.com/cloudflare/circl/sign/bls"
	"github.com/ethereum/go-ethereum/crypto"
)

type scheme = bls.KeyG1SigG2

type BLSPubKey = bls.PublicKey[scheme]

// BLSSigner attests node output (gossiped event envelopes)
type BLSSigner struct {
	sk *bls.PrivateKey[scheme]
	pk *BLSPubKey
}

// NewBLSSignerFromSeed derives a key from an arbitrary seed string.
// The seed is stretched with keccak256 to the 32 bytes KeyGen needs.
func NewBLSSignerFromSeed(seed []byte) (*BLSSigner, error) {
	sk, err := bls.KeyGen[scheme](crypto.Keccak256(seed), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to derive bls key: %w", err)
	}
	return &BLSSigner{sk: sk, pk: sk.PublicKey()}, nil
}

func (s *BLSSigner) Pubkey() *BLSPubKey { return s.pk }

func (s *BLSSigner) PubkeyBytes() []byte {
	b, _ := s.pk.MarshalBinary()
	return b
}

func (s *BLSSigner) Sign(msg []byte) []byte {
	return bls.Sign(s.sk, msg)
}

func ParseBLSPubKey(b []byte) (*BLSPubKey, error) {
	pk := new(BLSPubKey)
	if err := pk.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("invalid bls public key: %w", err)
	}
	return pk, nil
}

func Verify(pk *BLSPubKey, sigBytes, msg []byte) bool {
	return bls.Verify(pk, msg, bls.Signature(sigBytes))
}
