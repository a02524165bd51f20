package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Key builds a cache key by joining a prefix and parts with colons.
// Empty parts are filtered out to prevent double colons.
//
//	cache.Key("drug", "full", slug)              // "drug:full:ozempic"
//	cache.Key("search", cache.Hash(q), cache.Hash(params))
func Key(prefix string, parts ...string) string {
	filtered := make([]string, 0, len(parts)+1)

	if prefix != "" {
		filtered = append(filtered, prefix)
	}

	for _, part := range parts {
		if part != "" {
			filtered = append(filtered, part)
		}
	}

	return strings.Join(filtered, ":")
}

// Hash returns the first 16 hex characters of the SHA-256 of v's JSON form.
// Map keys are serialized in sorted order, so equal parameter sets hash equally.
func Hash(v interface{}) string {
	raw, err := json.Marshal(v)
	if err != nil {
		raw = []byte(fmt.Sprintf("%#v", v))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:16]
}

// TagKey is the logical key of a tag index entry.
func TagKey(tag string) string {
	return Key("tag", tag)
}
