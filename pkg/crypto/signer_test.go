package crypto

import (
	"bytes"
	"testing"
)

func TestHMACSignAndVerify(t *testing.T) {
	signer, err := NewHMACSigner()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	msg := []byte("clearing settlement for interval 42")
	sig, err := signer.Sign(msg)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if len(sig) != 32 {
		t.Errorf("signature length = %d, want 32", len(sig))
	}

	v := signer.Verifier()
	if !v.Verify(sig, msg) {
		t.Error("signature verification failed")
	}
	if v.Verify(sig, []byte("different message")) {
		t.Error("signature should not verify for a different message")
	}
}

func TestHMACSignDeterministic(t *testing.T) {
	signer, _ := NewHMACSigner()
	msg := []byte("same bytes twice")

	sig1, _ := signer.Sign(msg)
	sig2, _ := signer.Sign(msg)
	if !bytes.Equal(sig1, sig2) {
		t.Error("keyed MAC should be deterministic for identical input")
	}
}

func TestHMACVerifyMalformed(t *testing.T) {
	signer, _ := NewHMACSigner()
	v := signer.Verifier()

	// Malformed input must return false, never panic.
	if v.Verify(nil, []byte("msg")) {
		t.Error("nil signature should not verify")
	}
	if v.Verify([]byte{1, 2, 3}, []byte("msg")) {
		t.Error("short signature should not verify")
	}
}

func TestHMACVerifierRejectsOtherKey(t *testing.T) {
	a, _ := NewHMACSigner()
	b, _ := NewHMACSigner()

	msg := []byte("cross-key check")
	sig, _ := a.Sign(msg)
	if b.Verifier().Verify(sig, msg) {
		t.Error("signature should not verify under a different key")
	}
}

func TestDeriveAddress(t *testing.T) {
	signer, _ := NewHMACSigner()
	addr := DeriveAddress(signer.Verifier().Bytes())
	if len(addr) != 64 {
		t.Errorf("address length = %d, want 64 hex chars", len(addr))
	}

	// Same material, same address.
	if DeriveAddress(signer.Verifier().Bytes()) != addr {
		t.Error("address derivation should be stable")
	}

	other, _ := NewHMACSigner()
	if DeriveAddress(other.Verifier().Bytes()) == addr {
		t.Error("distinct keys should derive distinct addresses")
	}
}

func TestECDSASignAndVerify(t *testing.T) {
	signer, err := NewECDSASigner()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	msg := []byte("asymmetric variant")
	sig, err := signer.Sign(msg)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if len(sig) != 65 {
		t.Errorf("signature length = %d, want 65", len(sig))
	}

	v := signer.Verifier()
	if !v.Verify(sig, msg) {
		t.Error("signature verification failed")
	}
	if v.Verify(sig, []byte("tampered")) {
		t.Error("signature should not verify for a different message")
	}
	if v.Verify([]byte{1, 2, 3}, msg) {
		t.Error("malformed signature should not verify")
	}
}

func TestECDSASignerFromHexRoundTrip(t *testing.T) {
	signer1, _ := NewECDSASigner()
	privHex := signer1.PrivateKeyHex()

	signer2, err := ECDSASignerFromHex(privHex)
	if err != nil {
		t.Fatalf("failed to load key: %v", err)
	}

	if !bytes.Equal(signer1.Verifier().Bytes(), signer2.Verifier().Bytes()) {
		t.Error("public key mismatch after reload")
	}
}
