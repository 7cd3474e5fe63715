package engine

import (
	"container/list"
	"hash/fnv"
	"sort"
	"sync"

	"httpbridge/core/pkg/model/mrequest"
	"httpbridge/core/pkg/model/mresponse"
)

// responseCache is a bounded LRU for successful GET responses, keyed by a
// request fingerprint. Each engine instance owns its own cache, same as its
// connection pool.
type responseCache struct {
	mu      sync.Mutex
	maxSize int
	order   *list.List
	entries map[string]*list.Element
}

type cacheEntry struct {
	key  string
	resp *mresponse.Response
}

func newResponseCache(maxSize int) *responseCache {
	return &responseCache{
		maxSize: maxSize,
		order:   list.New(),
		entries: make(map[string]*list.Element, maxSize),
	}
}

func (c *responseCache) get(key string) (*mresponse.Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).resp, true
}

func (c *responseCache) put(key string, resp *mresponse.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).resp = resp
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, resp: resp})
	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *responseCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *responseCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[string]*list.Element, c.maxSize)
}

// cacheKey fingerprints a request for caching and in-flight deduplication.
// An explicit cache_key on the descriptor wins.
func cacheKey(req *mrequest.Request) string {
	if req.CacheKey != "" {
		return req.CacheKey
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(req.Method))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(req.URL))
	if len(req.QueryParams) > 0 {
		keys := make([]string, 0, len(req.QueryParams))
		for k := range req.QueryParams {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			_, _ = h.Write([]byte{0})
			_, _ = h.Write([]byte(k))
			_, _ = h.Write([]byte{0})
			_, _ = h.Write([]byte(req.QueryParams[k]))
		}
	}
	var buf [16]byte
	const hexdigits = "0123456789abcdef"
	sum := h.Sum64()
	for i := 15; i >= 0; i-- {
		buf[i] = hexdigits[sum&0xf]
		sum >>= 4
	}
	return "req_" + string(buf[:])
}
