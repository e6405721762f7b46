package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
	"unicode/utf8"
)

// fingerprintHexLen is the number of hex characters of the digest kept in a fingerprint.
const fingerprintHexLen = 20

// Identity is the set of fields that identify an event for deduplication.
type Identity struct {
	Source     string
	OccurredAt time.Time
	EntityType string
	EntityID   string
	Type       string
	Title      string
}

// Fingerprint returns "{source}:{hash20}", where hash20 is the first 20 hex
// characters of the SHA-256 of the key-sorted JSON encoding of the identity.
// OccurredAt participates as epoch milliseconds, so a 1ms shift changes the result.
// A field that is not valid UTF-8 is encoded as an array of its bytes.
func Fingerprint(id Identity) string {
	// encoding/json writes map keys in sorted order
	core := map[string]any{
		"source":      fingerprintValue(id.Source),
		"occurred_at": id.OccurredAt.UnixMilli(),
		"entity_type": fingerprintValue(id.EntityType),
		"entity_id":   fingerprintValue(id.EntityID),
		"type":        fingerprintValue(id.Type),
		"title":       fingerprintValue(id.Title),
	}
	b, err := json.Marshal(core)
	if err != nil {
		panic("event: marshal fingerprint identity: " + err.Error())
	}
	sum := sha256.Sum256(b)
	return id.Source + ":" + hex.EncodeToString(sum[:])[:fingerprintHexLen]
}

// fingerprintValue returns s itself when it is valid UTF-8. Otherwise it
// returns the raw bytes, which encoding/json would otherwise replace with U+FFFD.
func fingerprintValue(s string) any {
	if utf8.ValidString(s) {
		return s
	}
	b := make([]int, len(s))
	for i := range len(s) {
		b[i] = int(s[i])
	}
	return b
}
