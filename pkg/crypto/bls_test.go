package crypto

import "testing"

func TestBLSSignVerify(t *testing.T) {
	s, err := NewBLSSignerFromSeed([]byte("node-1"))
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	msg := []byte("event envelope")
	sig := s.Sign(msg)

	pk, err := ParseBLSPubKey(s.PubkeyBytes())
	if err != nil {
		t.Fatalf("parse pubkey: %v", err)
	}
	if !Verify(pk, sig, msg) {
		t.Fatal("signature should verify against the decoded key")
	}
	if Verify(pk, sig, []byte("other")) {
		t.Error("signature verified for a different message")
	}

	other, _ := NewBLSSignerFromSeed([]byte("node-2"))
	if Verify(other.Pubkey(), sig, msg) {
		t.Error("signature verified under another node's key")
	}
}

func TestBLSSeedIsDeterministic(t *testing.T) {
	a, _ := NewBLSSignerFromSeed([]byte("seed"))
	b, _ := NewBLSSignerFromSeed([]byte("seed"))
	if string(a.PubkeyBytes()) != string(b.PubkeyBytes()) {
		t.Error("same seed produced different keys")
	}
	if _, err := ParseBLSPubKey([]byte{1, 2, 3}); err == nil {
		t.Error("garbage public key accepted")
	}
}
