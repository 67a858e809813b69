// Package cache holds the in-memory decoded-texture cache: source textures
// already fetched and decoded during this session, keyed by texture id.
// Purely in-memory: decoded source bytes are cheap to refetch and are
// never written to disk. Baked layer content is never stored here or
// anywhere else locally; only the simulator caches bakes.
package cache

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/wyndmere/avatarsync/internal/protocol"
)

// TextureCache is a bounded LRU of decoded source-texture bytes keyed by
// texture id. Safe for concurrent use.
type TextureCache struct {
	memory *lru.Cache[protocol.UUID, []byte]

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a TextureCache holding at most maxEntries decoded textures.
func New(maxEntries int) (*TextureCache, error) {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	memory, err := lru.New[protocol.UUID, []byte](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("cache: creating LRU: %w", err)
	}
	return &TextureCache{memory: memory}, nil
}

// Get returns the decoded bytes for textureID if present.
func (c *TextureCache) Get(textureID protocol.UUID) ([]byte, bool) {
	if textureID == protocol.ZeroUUID {
		return nil, false
	}
	data, ok := c.memory.Get(textureID)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return data, ok
}

// Put stores decoded bytes under textureID, evicting the least recently
// used entry if the cache is full. Zero ids and empty payloads are ignored.
func (c *TextureCache) Put(textureID protocol.UUID, decoded []byte) {
	if textureID == protocol.ZeroUUID || len(decoded) == 0 {
		return
	}
	c.memory.Add(textureID, decoded)
}

// Len returns the number of cached textures.
func (c *TextureCache) Len() int {
	return c.memory.Len()
}

// Purge drops every cached texture.
func (c *TextureCache) Purge() {
	c.memory.Purge()
}

// Stats reports hit/miss counts since process start.
func (c *TextureCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
