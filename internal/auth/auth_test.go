package auth

import "testing"

func TestArgon2idRoundTrip(t *testing.T) {
	h := New()
	hash, err := h.Hash("hunter2")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !h.Verify(hash, "hunter2") {
		t.Fatalf("expected correct password to verify")
	}
	if h.Verify(hash, "wrong") {
		t.Fatalf("expected wrong password to fail verification")
	}
}

func TestLegacyHashVerifies(t *testing.T) {
	h := New()
	legacy, err := HashLegacy("hunter2")
	if err != nil {
		t.Fatalf("HashLegacy: %v", err)
	}
	if !h.Verify(legacy, "hunter2") {
		t.Fatalf("expected legacy hash to verify")
	}
	if h.Verify(legacy, "wrong") {
		t.Fatalf("expected wrong password against legacy hash to fail")
	}
}

func TestUnknownPrefixNeverTreatedAsLegacy(t *testing.T) {
	h := New()
	if h.Verify("not-a-real-hash-format", "anything") {
		t.Fatalf("malformed hash must never verify")
	}
}

func TestTwoHashesOfSamePasswordDiffer(t *testing.T) {
	h := New()
	a, _ := h.Hash("hunter2")
	b, _ := h.Hash("hunter2")
	if a == b {
		t.Fatalf("expected distinct salts to produce distinct hashes")
	}
}
