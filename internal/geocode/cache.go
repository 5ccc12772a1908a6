// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geocode

import (
	"context"
	"math"
	"sync"
	"time"
)

const (
	// coordPrecision is the precision used to quantize coordinates (0.001 degrees ≈ 110 m)
	coordPrecision = 1e-3
	// sweepThreshold is the cache size that triggers the first sweep of expired entries.
	sweepThreshold = 256
)

type cacheKey struct {
	Provider string
	LatQ     int32
	LonQ     int32
}

type cacheEntry struct {
	Address Address
	Expiry  time.Time
}

// CachedGeocoder deduplicates reverse lookups for nearby coordinates in memory for the lifetime of
// the process. Failed lookups are never cached.
type CachedGeocoder struct {
	coder   Geocoder
	ttlHit  time.Duration
	ttlMiss time.Duration

	mu      sync.RWMutex
	cache   map[cacheKey]cacheEntry
	sweepAt int
}

// NewCachedGeocoder wraps coder with an in-memory cache. ttlHit applies to found addresses, ttlMiss to
// lookups that found no place.
func NewCachedGeocoder(coder Geocoder, ttlHit, ttlMiss time.Duration) *CachedGeocoder {
	return &CachedGeocoder{
		coder:   coder,
		ttlHit:  ttlHit,
		ttlMiss: ttlMiss,
		cache:   make(map[cacheKey]cacheEntry),
		sweepAt: sweepThreshold,
	}
}

// Wrap returns coder wrapped in a CachedGeocoder, or coder itself if ttlHit is zero.
func Wrap(coder Geocoder, ttlHit, ttlMiss time.Duration) Geocoder {
	if ttlHit <= 0 {
		return coder
	}
	return NewCachedGeocoder(coder, ttlHit, ttlMiss)
}

func (c *CachedGeocoder) Name() string {
	return "geocoder cache using " + c.coder.Name()
}

func (c *CachedGeocoder) Reverse(ctx context.Context, lat, lon float64) (Address, error) {
	key := newKey(c.coder.Name(), lat, lon)
	now := time.Now()

	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()
	if ok && now.Before(entry.Expiry) {
		addr := entry.Address
		addr.CacheHit = true
		return addr, nil
	}

	addr, err := c.coder.Reverse(ctx, lat, lon)
	if err != nil {
		return addr, err
	}

	ttl := c.ttlHit
	if !addr.AddressFound {
		ttl = c.ttlMiss
	}
	if ttl <= 0 {
		return addr, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = cacheEntry{
		Address: addr,
		Expiry:  now.Add(ttl),
	}
	if len(c.cache) >= c.sweepAt {
		c.evictExpired(now)
		c.sweepAt = max(sweepThreshold, 2*len(c.cache))
	}

	return addr, nil
}

// Len returns the number of cached entries, expired ones included.
func (c *CachedGeocoder) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// evictExpired drops expired entries. It runs whenever the cache reaches sweepAt entries, which is
// raised to twice the surviving size so inserts stay amortized O(1). The caller must hold the write
// lock.
func (c *CachedGeocoder) evictExpired(now time.Time) {
	for k, e := range c.cache {
		if !now.Before(e.Expiry) {
			delete(c.cache, k)
		}
	}
}

func quantizeCoord(val float64) int32 {
	return int32(math.Round(val / coordPrecision))
}

func newKey(provider string, lat, lon float64) cacheKey {
	return cacheKey{
		Provider: provider,
		LatQ:     quantizeCoord(lat),
		LonQ:     quantizeCoord(lon),
	}
}
