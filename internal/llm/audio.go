package llm

import (
	"sync"

	"github.com/google/uuid"

	"github.com/pavelanni/parley/internal/model"
)

// DefaultCacheSize is the number of clips kept when no size is configured.
const DefaultCacheSize = 64

// AudioCache keeps the most recent synthesized clips in memory so clients
// can fetch them by reference.
type AudioCache struct {
	mu    sync.Mutex
	size  int
	order []string
	clips map[string]model.Audio
}

// NewAudioCache creates a cache holding up to size clips.
func NewAudioCache(size int) *AudioCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &AudioCache{size: size, clips: make(map[string]model.Audio, size)}
}

// Put stores a clip and returns its reference. The oldest clip is evicted
// when the cache is full.
func (c *AudioCache) Put(a model.Audio) string {
	ref := uuid.NewString()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.order) >= c.size {
		delete(c.clips, c.order[0])
		c.order = c.order[1:]
	}
	c.order = append(c.order, ref)
	c.clips[ref] = a
	return ref
}

// Get returns the clip stored under ref.
func (c *AudioCache) Get(ref string) (model.Audio, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.clips[ref]
	return a, ok
}

// Len returns the number of cached clips.
func (c *AudioCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clips)
}
