package adapters

import (
	"context"
	"slices"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/askstream/askstream/chat/ports"
)

// CachedTurnStore decorates a TurnStore with an LRU cache of loaded
// histories. Saving a turn evicts its conversation.
type CachedTurnStore struct {
	next  ports.TurnStore
	cache *historyLRU
	ttl   time.Duration
}

// NewCachedTurnStore caches up to capacity conversations for ttl each.
func NewCachedTurnStore(next ports.TurnStore, capacity int, ttl time.Duration) *CachedTurnStore {
	return &CachedTurnStore{
		next:  next,
		cache: newHistoryLRU(capacity),
		ttl:   ttl,
	}
}

// SaveTurn saves through and drops the cached history of the conversation.
func (s *CachedTurnStore) SaveTurn(ctx context.Context, rec ports.Record) error {
	err := s.next.SaveTurn(ctx, rec)
	s.cache.delete(rec.ConversationID)
	return err
}

// LoadHistory serves from the cache when the entry is fresh.
func (s *CachedTurnStore) LoadHistory(ctx context.Context, conversationID string) ([]ports.Record, error) {
	if records, ok := s.cache.get(conversationID, time.Now()); ok {
		return slices.Clone(records), nil
	}

	records, err := s.next.LoadHistory(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	s.cache.set(conversationID, slices.Clone(records), time.Now().Add(s.ttl))
	return records, nil
}

// Len reports the number of cached conversations.
func (s *CachedTurnStore) Len() int { return s.cache.len() }

// historyLRU is a doubly linked LRU list with per-entry expiry.
type historyLRU struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*cacheItem
	head     *cacheItem
	tail     *cacheItem
}

type cacheItem struct {
	key     string
	value   []ports.Record
	expires time.Time
	prev    *cacheItem
	next    *cacheItem
}

func newHistoryLRU(capacity int) *historyLRU {
	return &historyLRU{
		capacity: max(capacity, 1),
		items:    make(map[string]*cacheItem),
	}
}

// get takes the write lock because a hit reorders the list.
func (c *historyLRU) get(key string, now time.Time) ([]ports.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.items[key]
	if !exists {
		return nil, false
	}

	if now.After(item.expires) {
		c.removeItem(item)
		delete(c.items, key)
		return nil, false
	}

	c.moveToFront(item)
	return item.value, true
}

func (c *historyLRU) set(key string, value []ports.Record, expires time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, exists := c.items[key]; exists {
		item.value = value
		item.expires = expires
		c.moveToFront(item)
		return
	}

	item := &cacheItem{
		key:     key,
		value:   value,
		expires: expires,
	}
	c.addToFront(item)
	c.items[key] = item

	if len(c.items) > c.capacity {
		c.evictLRU()
	}
}

func (c *historyLRU) delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.items[key]
	if !exists {
		return
	}
	c.removeItem(item)
	delete(c.items, key)
}

func (c *historyLRU) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *historyLRU) moveToFront(item *cacheItem) {
	if item == c.head {
		return
	}
	c.removeItem(item)
	c.addToFront(item)
}

func (c *historyLRU) addToFront(item *cacheItem) {
	item.next = c.head
	item.prev = nil

	if c.head != nil {
		c.head.prev = item
	}
	c.head = item

	if c.tail == nil {
		c.tail = item
	}
}

func (c *historyLRU) removeItem(item *cacheItem) {
	if item.prev != nil {
		item.prev.next = item.next
	} else {
		c.head = item.next
	}

	if item.next != nil {
		item.next.prev = item.prev
	} else {
		c.tail = item.prev
	}

	item.prev = nil
	item.next = nil
}

func (c *historyLRU) evictLRU() {
	if c.tail == nil {
		return
	}
	item := c.tail
	c.removeItem(item)
	delete(c.items, item.key)
}

var _ ports.TurnStore = (*CachedTurnStore)(nil)
