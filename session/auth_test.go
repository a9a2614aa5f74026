package session

import "testing"

func TestNativePasswordTokenIsDeterministic(t *testing.T) {
	t.Parallel()
	var nonce [20]byte
	for i := range nonce {
		nonce[i] = byte(i)
	}
	a := nativePasswordToken("hunter2", nonce)
	b := nativePasswordToken("hunter2", nonce)
	if a != b {
		t.Fatal("expected deterministic token for identical inputs")
	}

	c := nativePasswordToken("different", nonce)
	if a == c {
		t.Fatal("expected different passwords to produce different tokens")
	}
}

func TestNativePasswordTokenVariesWithNonce(t *testing.T) {
	t.Parallel()
	var n1, n2 [20]byte
	for i := range n1 {
		n1[i] = byte(i)
		n2[i] = byte(i + 1)
	}
	a := nativePasswordToken("hunter2", n1)
	b := nativePasswordToken("hunter2", n2)
	if a == b {
		t.Fatal("expected different nonces to produce different tokens")
	}
}

func TestAuthenticatesEmptyPassword(t *testing.T) {
	t.Parallel()
	if !authenticatesEmptyPassword(nil) {
		t.Error("expected nil auth response to count as empty")
	}
	if authenticatesEmptyPassword([]byte{0x01}) {
		t.Error("expected non-empty auth response to not count as empty")
	}
}
