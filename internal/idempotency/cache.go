// Package idempotency replays the response of a repeated write carrying the
// same Idempotency-Key, so an editor retrying a token report after a network
// error does not count the tokens twice.
package idempotency

import (
	"container/list"
	"net/http"
	"sync"
	"time"
)

// Response is a captured HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

type item struct {
	key     string
	resp    Response
	created time.Time
}

// Cache is a TTL-bounded LRU of captured responses.
type Cache struct {
	mu         sync.Mutex
	ll         *list.List
	items      map[string]*list.Element
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	// inflight holds a channel per key whose first request is still running;
	// it is closed when that request finishes.
	inflight map[string]chan struct{}
}

// New creates a cache that forgets entries after ttl and keeps at most
// maxEntries.
func New(ttl time.Duration, maxEntries int) *Cache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &Cache{
		ll:         list.New(),
		items:      make(map[string]*list.Element),
		inflight:   make(map[string]chan struct{}),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns the response stored under key, if still fresh.
func (c *Cache) Get(key string) (Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(key)
}

func (c *Cache) get(key string) (Response, bool) {
	el, ok := c.items[key]
	if !ok {
		return Response{}, false
	}
	it := el.Value.(*item)
	if c.now().Sub(it.created) > c.ttl {
		c.remove(el)
		return Response{}, false
	}
	c.ll.MoveToFront(el)
	return it.resp, true
}

// acquire looks key up and, on a miss, claims it for the caller. A hit
// returns the stored response. When another request holds the key, the
// returned channel closes once it finishes. A nil channel and no hit means
// the caller owns the key and must call release.
func (c *Cache) acquire(key string) (Response, bool, <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if resp, ok := c.get(key); ok {
		return resp, true, nil
	}
	if ch, ok := c.inflight[key]; ok {
		return Response{}, false, ch
	}
	c.inflight[key] = make(chan struct{})
	return Response{}, false, nil
}

// release wakes the requests waiting on key.
func (c *Cache) release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.inflight[key]; ok {
		close(ch)
		delete(c.inflight, key)
	}
}

// Set stores resp under key, evicting the least recently used entry when
// full.
func (c *Cache) Set(key string, resp Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value = &item{key: key, resp: resp, created: c.now()}
		c.ll.MoveToFront(el)
		return
	}
	for c.ll.Len() >= c.maxEntries {
		c.remove(c.ll.Back())
	}
	c.items[key] = c.ll.PushFront(&item{key: key, resp: resp, created: c.now()})
}

// Len reports the number of stored entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *Cache) remove(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*item).key)
}
