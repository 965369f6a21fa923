package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// resultCache holds full retrieval responses keyed by a hash of the
// normalized query plus every filter parameter. Entries expire by TTL and
// the oldest entry is evicted once the size bound is hit. Invalidation is
// coarse: any index rebuild purges the whole cache.
type resultCache struct {
	lru *expirable.LRU[string, []Result]
}

func newResultCache(maxEntries int, ttl time.Duration) *resultCache {
	return &resultCache{
		lru: expirable.NewLRU[string, []Result](maxEntries, nil, ttl),
	}
}

// Get returns a copy of the cached results so callers cannot mutate the
// shared entry.
func (c *resultCache) Get(key string) ([]Result, bool) {
	cached, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	out := make([]Result, len(cached))
	copy(out, cached)
	return out, true
}

func (c *resultCache) Add(key string, results []Result) {
	stored := make([]Result, len(results))
	copy(stored, results)
	c.lru.Add(key, stored)
}

func (c *resultCache) Purge() {
	c.lru.Purge()
}

// cacheKey derives a deterministic key from the request. The query is
// normalized (lowercased, whitespace collapsed) and document types are
// sorted, so trivially different spellings of the same request share an
// entry. Only the hash ever appears in logs, never the query text.
func cacheKey(req Request) string {
	h := sha256.New()
	fmt.Fprintf(h, "q=%s|k=%d|tenant=%s|store=%s|role=%s",
		normalizeQuery(req.Query), req.TopK,
		derefOr(req.TenantID, ""), derefOr(req.StoreID, ""), req.CallerRole)

	docTypes := append([]string(nil), req.DocTypes...)
	sort.Strings(docTypes)
	for _, dt := range docTypes {
		fmt.Fprintf(h, "|type=%s", dt)
	}

	return hex.EncodeToString(h.Sum(nil))
}

func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
