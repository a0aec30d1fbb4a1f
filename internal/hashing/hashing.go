// Package hashing provides the composite freshness-hash primitives. All
// hashes are lowercase SHA-256 hex. Flag and include hashing sort their
// inputs first so reordering never invalidates a cache entry.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sort"
	"strings"
)

// compositeSep joins the three component hex strings. It cannot occur
// inside hex, so the composite is unambiguous.
const compositeSep = "|"

// ContentHash hashes raw bytes.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashFile hashes a file's bytes. Unreadable or missing files yield "",
// the "no content" sentinel that forces a stale classification.
func HashFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return ContentHash(data)
}

// FlagsHash hashes a compile-flag list order-independently: the flags are
// copied, sorted, and NUL-joined before hashing.
func FlagsHash(flags []string) string {
	return sortedJoinedHash(flags)
}

// IncludesHash hashes the content hashes of a file's include closure,
// order-independently.
func IncludesHash(componentHashes []string) string {
	return sortedJoinedHash(componentHashes)
}

// CompositeHash derives the freshness oracle from the three component
// hashes, in content/includes/flags order.
func CompositeHash(contentHash, includesHash, flagsHash string) string {
	joined := contentHash + compositeSep + includesHash + compositeSep + flagsHash
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}

func sortedJoinedHash(items []string) string {
	sorted := make([]string, len(items))
	copy(sorted, items)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\x00")))
	return hex.EncodeToString(sum[:])
}
