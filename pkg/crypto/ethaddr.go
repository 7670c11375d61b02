package crypto

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

var ErrBadChecksum = errors.New("crypto: address checksum mismatch")

// ParseAddress parses a 0x-prefixed 20-byte hex address. All-lowercase and
// all-uppercase input is accepted as is; mixed case must carry a valid
// EIP-55 checksum.
func ParseAddress(s string) (common.Address, error) {
	if !strings.HasPrefix(s, "0x") || len(s) != 42 {
		return common.Address{}, errors.New("crypto: address must be 0x followed by 40 hex chars")
	}
	raw, err := hex.DecodeString(s[2:])
	if err != nil {
		return common.Address{}, errors.New("crypto: address is not hex")
	}
	body := s[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) {
		if EIP55(raw) != s {
			return common.Address{}, ErrBadChecksum
		}
	}
	return common.BytesToAddress(raw), nil
}

// EIP55 computes the checksummed hex address string from 20-byte raw address.
func EIP55(addr20 []byte) string {
	hexaddr := hex.EncodeToString(addr20)
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(hexaddr))
	hash := h.Sum(nil)

	out := make([]byte, 2+len(hexaddr))
	copy(out, "0x")
	for i, c := range []byte(hexaddr) {
		// high nibble for even positions, low nibble for odd
		nibble := hash[i>>1] & 0x0f
		if i%2 == 0 {
			nibble = hash[i>>1] >> 4
		}
		if c >= 'a' && nibble >= 8 {
			c -= 'a' - 'A'
		}
		out[2+i] = c
	}
	return string(out)
}
