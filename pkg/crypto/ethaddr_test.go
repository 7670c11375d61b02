package crypto

import (
	"errors"
	"strings"
	"testing"
)

func TestEIP55(t *testing.T) {
	// vectors from EIP-55
	for _, want := range []string{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
	} {
		addr, err := ParseAddress(strings.ToLower(want))
		if err != nil {
			t.Fatalf("parse %s: %v", want, err)
		}
		if got := EIP55(addr.Bytes()); got != want {
			t.Errorf("EIP55 = %s, want %s", got, want)
		}
		if addr.Hex() != want {
			t.Errorf("go-ethereum disagrees: %s", addr.Hex())
		}
	}
}

func TestParseAddress(t *testing.T) {
	good := "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	if _, err := ParseAddress(good); err != nil {
		t.Errorf("checksummed address rejected: %v", err)
	}
	if _, err := ParseAddress(strings.ToUpper(good[2:])); err == nil {
		t.Error("missing 0x prefix accepted")
	}
	if _, err := ParseAddress("0x5aaeb6053F3E94C9b9A09f33669435E7Ef1BeAed"); !errors.Is(err, ErrBadChecksum) {
		t.Errorf("bad checksum: got %v", err)
	}
	if _, err := ParseAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAe"); err == nil {
		t.Error("short address accepted")
	}
	if _, err := ParseAddress("0xZZAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"); err == nil {
		t.Error("non-hex address accepted")
	}
}
