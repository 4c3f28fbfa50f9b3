package proposals

import (
	"sort"
	"sync"
	"time"
)

// Cache avoids re-reading proposal files while we walk the frame pairs of a
// video. Every annotated frame is read as the right side of one pair, and
// again as the left side of the next pair, and the gate and the strategies
// read them again.
// The cache is safe for concurrent use.
type Cache struct {
	Store     *Store
	MaxFrames int // Maximum number of frames to keep in memory

	lock   sync.Mutex
	frames map[string]*cachedFrame
	hits   int64
	misses int64
}

type cachedFrame struct {
	key       string
	lastUsed  time.Time
	proposals []Proposal
}

// NewCache creates a new Cache that holds up to maxFrames frames
func NewCache(store *Store, maxFrames int) *Cache {
	return &Cache{
		Store:     store,
		MaxFrames: max(1, maxFrames),
		frames:    make(map[string]*cachedFrame),
	}
}

func (c *Cache) makeKey(video, frame string) string {
	return video + "/" + frame
}

// LoadFrame returns the proposals of a frame, reading them from disk if necessary.
// Callers must not modify the returned slice.
func (c *Cache) LoadFrame(video, frame string) ([]Proposal, error) {
	key := c.makeKey(video, frame)
	c.lock.Lock()
	if f := c.frames[key]; f != nil {
		f.lastUsed = time.Now()
		c.hits++
		c.lock.Unlock()
		return f.proposals, nil
	}
	c.misses++
	c.lock.Unlock()

	props, err := c.Store.LoadFrame(video, frame)
	if err != nil {
		return nil, err
	}
	c.add(key, props)
	return props, nil
}

// Preload reads every annotated frame of the video with Store.Load, so that a
// missing proposal file fails the video up front. The earliest frames are kept
// in the cache, up to its budget. Returns the annotated frames in order.
func (c *Cache) Preload(video string) ([]string, error) {
	all, err := c.Store.Load(video)
	if err != nil {
		return nil, err
	}
	frames := c.Store.Manifest.Frames(video)
	for _, frame := range frames[:min(len(frames), c.MaxFrames-1)] {
		c.add(c.makeKey(video, frame), all[frame])
	}
	return frames, nil
}

// Stats returns (hits, misses)
func (c *Cache) Stats() (int64, int64) {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.hits, c.misses
}

func (c *Cache) add(key string, props []Proposal) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.frames[key] != nil {
		// Another goroutine got here first
		return
	}
	c.autoEvict()
	c.frames[key] = &cachedFrame{
		key:       key,
		lastUsed:  time.Now(),
		proposals: props,
	}
}

// If we're at our frame budget, then evict the oldest frames until
// we're 10% under budget.
// You must be holding the lock before calling this function.
func (c *Cache) autoEvict() {
	if len(c.frames) < c.MaxFrames {
		return
	}
	all := make([]*cachedFrame, 0, len(c.frames))
	for _, v := range c.frames {
		all = append(all, v)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].lastUsed.Before(all[j].lastUsed)
	})
	target := c.MaxFrames * 9 / 10
	if target >= c.MaxFrames {
		target = c.MaxFrames - 1
	}
	for len(c.frames) > target && len(all) != 0 {
		delete(c.frames, all[0].key)
		all = all[1:]
	}
}
