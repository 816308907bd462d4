// Package cache provides a small generic in-memory cache with a soft size
// limit.
//
//	c := cache.New[key, []uint32](32)
//	words, err := c.GetOrCreate(k, build)
//
// When the limit is exceeded the least recently used quarter of the entries
// is evicted. Cache is safe for concurrent use and must not be copied after
// creation.
package cache
