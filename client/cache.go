package client

import (
	"bytes"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultSearchCacheTTL is used when EnableSearchCache gets ttl <= 0.
	DefaultSearchCacheTTL = 2 * time.Minute
	// DefaultSearchCacheSize is used when EnableSearchCache gets size <= 0.
	DefaultSearchCacheSize = 64
)

// searchCache keeps raw search answers keyed by parameter string. Bodies are
// copied on the way in and out so callers never share the stored slice.
type searchCache struct {
	lru *expirable.LRU[string, cachedAnswer]
}

// cachedAnswer remembers which host produced body.
type cachedAnswer struct {
	body []byte
	host string
}

func newSearchCache(ttl time.Duration, size int) *searchCache {
	if ttl <= 0 {
		ttl = DefaultSearchCacheTTL
	}
	if size <= 0 {
		size = DefaultSearchCacheSize
	}
	return &searchCache{lru: expirable.NewLRU[string, cachedAnswer](size, nil, ttl)}
}

func (s *searchCache) get(key string) ([]byte, string, bool) {
	if s == nil {
		return nil, "", false
	}
	answer, ok := s.lru.Get(key)
	if !ok {
		return nil, "", false
	}
	return bytes.Clone(answer.body), answer.host, true
}

func (s *searchCache) put(key, host string, body []byte) {
	if s == nil {
		return
	}
	s.lru.Add(key, cachedAnswer{body: bytes.Clone(body), host: host})
}

func (s *searchCache) purge() {
	if s == nil {
		return
	}
	s.lru.Purge()
}

func (s *searchCache) len() int {
	if s == nil {
		return 0
	}
	return s.lru.Len()
}
