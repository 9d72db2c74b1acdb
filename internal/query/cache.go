package query

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/scholium/corpus-service/internal/domain"
)

// resultCache is a bounded LRU of prepared queries keyed by a content hash of
// the trimmed input. Entries are immutable once written; hits hand out copies
// so callers never mutate the cached object.
type resultCache struct {
	lru *lru.Cache[string, *domain.PreparedQuery]
}

func newResultCache(size int) (*resultCache, error) {
	c, err := lru.New[string, *domain.PreparedQuery](size)
	if err != nil {
		return nil, err
	}
	return &resultCache{lru: c}, nil
}

// cacheKey hashes the trimmed raw query.
func cacheKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

func (c *resultCache) get(key string) (*domain.PreparedQuery, bool) {
	cached, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	return copyPrepared(cached), true
}

func (c *resultCache) put(key string, pq *domain.PreparedQuery) {
	// Store a private copy so later caller mutations cannot leak in.
	c.lru.Add(key, copyPrepared(pq))
}

// copyPrepared deep-copies the slices and map of a PreparedQuery.
func copyPrepared(in *domain.PreparedQuery) *domain.PreparedQuery {
	out := *in
	out.QueryTerms = append([]string(nil), in.QueryTerms...)
	out.ExpandedTerms = append([]string(nil), in.ExpandedTerms...)
	out.ReasonCodes = append([]string(nil), in.ReasonCodes...)
	out.PerSourceQuery = make(map[domain.SourceType]string, len(in.PerSourceQuery))
	for k, v := range in.PerSourceQuery {
		out.PerSourceQuery[k] = v
	}
	return &out
}
