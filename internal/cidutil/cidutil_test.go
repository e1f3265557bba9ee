package cidutil

import "testing"

const sampleCIDv0 = "QmT78zSuBmuS4z925WZfrqQ1qHaJ56DQaTfyMUF7F8ff5o"
const otherCIDv0 = "QmPZ9gcCEpqKTo6aq61g2nXGUhM4iCL3ewB6LDXZCtioEB"

func TestHashOfIsDeterministicHexSha256(t *testing.T) {
	a := HashOf(sampleCIDv0)
	b := HashOf(sampleCIDv0)
	if a != b {
		t.Fatalf("HashOf not deterministic: %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars (sha256), got %d: %s", len(a), a)
	}
	if HashOf(sampleCIDv0) == HashOf(otherCIDv0) {
		t.Fatalf("distinct cids hashed to the same digest")
	}
}

func TestValid(t *testing.T) {
	if !Valid(sampleCIDv0) {
		t.Fatalf("expected %s to be a valid cid", sampleCIDv0)
	}
	if Valid("not-a-cid") {
		t.Fatalf("expected garbage string to be invalid")
	}
}

func TestEqualSameCID(t *testing.T) {
	eq, err := Equal(sampleCIDv0, sampleCIDv0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !eq {
		t.Fatalf("expected identical cids to be equal")
	}
}

func TestEqualDifferentCIDs(t *testing.T) {
	eq, err := Equal(sampleCIDv0, otherCIDv0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eq {
		t.Fatalf("expected distinct cids to be unequal")
	}
}

func TestEqualInvalidInput(t *testing.T) {
	if _, err := Equal("garbage", sampleCIDv0); err == nil {
		t.Fatalf("expected error decoding invalid cid")
	}
}
