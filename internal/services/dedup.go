package services

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// minDedupWindow covers the provider's redelivery horizon.
const minDedupWindow = 24 * time.Hour

// DedupCache remembers processed inbound message ids.
type DedupCache struct {
	lru *expirable.LRU[string, struct{}]
}

// NewDedupCache creates a bounded cache that forgets ids after window
// (never less than 24h).
func NewDedupCache(size int, window time.Duration) *DedupCache {
	if size <= 0 {
		size = 10000
	}
	if window < minDedupWindow {
		window = minDedupWindow
	}
	return &DedupCache{lru: expirable.NewLRU[string, struct{}](size, nil, window)}
}

// Seen reports whether id was already processed.
func (d *DedupCache) Seen(id string) bool {
	return d.lru.Contains(id)
}

// Mark records id as processed.
func (d *DedupCache) Mark(id string) {
	d.lru.Add(id, struct{}{})
}

// Len returns the number of remembered ids.
func (d *DedupCache) Len() int {
	return d.lru.Len()
}
