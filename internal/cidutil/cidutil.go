// Package cidutil wraps content-id parsing and the cid-hash scheme used by
// PinnedEvent/UnpinEvent: only PinEvent carries the raw cid, the other two
// variants carry sha256(cid) hex-encoded.
//
// Grounded on the teacher's core/storage.go, which computes a cid with
// github.com/multiformats/go-multihash + github.com/ipfs/go-cid and
// compares it against the value returned by the gateway.
package cidutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// HashOf returns the hex-encoded sha256 digest of a cid string, the value
// carried as PinnedEvent.CIDHash / UnpinEvent.CIDHash.
func HashOf(cidStr string) string {
	sum := sha256.Sum256([]byte(cidStr))
	return hex.EncodeToString(sum[:])
}

// Valid reports whether s parses as a well-formed content id.
func Valid(s string) bool {
	_, err := cid.Decode(s)
	return err == nil
}

// Equal reports whether two cid strings decode to the same content id,
// tolerant of differing base encodings and cid versions of the same
// underlying multihash: both sides are decoded down to their {Code, Digest}
// pair via go-multihash before comparison, the same check the teacher's
// storage layer runs when a re-added publication's cid is compared against
// the one recorded at publish time.
func Equal(a, b string) (bool, error) {
	ca, err := cid.Decode(a)
	if err != nil {
		return false, fmt.Errorf("decode %q: %w", a, err)
	}
	cb, err := cid.Decode(b)
	if err != nil {
		return false, fmt.Errorf("decode %q: %w", b, err)
	}
	da, err := mh.Decode(ca.Hash())
	if err != nil {
		return false, fmt.Errorf("decode multihash %q: %w", a, err)
	}
	db, err := mh.Decode(cb.Hash())
	if err != nil {
		return false, fmt.Errorf("decode multihash %q: %w", b, err)
	}
	return da.Code == db.Code && bytes.Equal(da.Digest, db.Digest), nil
}
