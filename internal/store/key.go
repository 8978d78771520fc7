package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// searchKeyVersion is bumped whenever the canonical key serialization
// changes, invalidating all previously cached pages at once.
const searchKeyVersion = "v1"

// searchKeyPayload is the canonical form hashed into a search key. Field
// order is fixed by the struct, tag order by sorting, and the query string
// by normalizeQuery, so two logically identical queries always serialize
// identically. Semantically equivalent filters expressed through different
// fields can still produce distinct keys; that costs a cache miss, never
// a wrong hit.
type searchKeyPayload struct {
	Query   string  `json:"q"`
	Filters Filters `json:"f"`
	Sort    string  `json:"s"`
	Page    int     `json:"p"`
	Version string  `json:"v"`
}

// SearchKey computes the deterministic record ID for a results page.
func SearchKey(q SearchQuery) string {
	payload := searchKeyPayload{
		Query:   normalizeQuery(q.Query),
		Filters: canonicalFilters(q.Filters),
		Sort:    q.Sort,
		Page:    q.Page,
		Version: searchKeyVersion,
	}

	// Marshaling a fixed struct cannot fail.
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return searchKeyVersion + "-" + hex.EncodeToString(sum[:])
}

// normalizeQuery trims, lowercases, and collapses inner whitespace.
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// canonicalFilters returns a copy with the tag set in sorted order.
func canonicalFilters(f Filters) Filters {
	if len(f.Tags) > 1 {
		tags := make([]string, len(f.Tags))
		copy(tags, f.Tags)
		sort.Strings(tags)
		f.Tags = tags
	}
	return f
}
