package blockfs

import (
	"fmt"
	"sync"
)

// DefaultCacheCapacity is the number of resident sectors (parameter C).
const DefaultCacheCapacity = 64

// slot is a single resident copy of a sector. next/prev thread it through
// the cache's recency list; dirty/accessed track the state machine
// described in spec.md §4.1. This mirrors the intrusive linked-list shape
// of jnwhiteh-minixfs's lru_buf, minus the hash-chain pointer (Go's map
// already gives us O(1) lookup, so there's no separate hash chain to
// maintain by hand) and minus the channel/goroutine plumbing, since
// spec.md §5 calls for a single mutex rather than a server loop.
type slot struct {
	sector   SectorID
	data     [SectorSize]byte
	dirty    bool
	accessed bool
	prev     *slot
	next     *slot
}

// Cache is the fixed-size write-back buffer cache of spec.md §4.1. All
// higher layers reach the Device only through a Cache.
type Cache struct {
	mu       sync.Mutex
	device   Device
	capacity int
	bySector map[SectorID]*slot
	mru      *slot // head: most recently used
	lru      *slot // tail: least recently used
}

// NewCache constructs a Cache bounded to capacity resident sectors,
// reading/writing through device. Analogous to spec.md's init(capacity),
// but as a constructor rather than a package-level init/shutdown pair —
// per the Design Note on global mutable state, the cache is an explicit
// object owned by whoever composes the storage layer (typically a
// Volume), not a singleton.
func NewCache(device Device, capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &Cache{
		device:   device,
		capacity: capacity,
		bySector: make(map[SectorID]*slot, capacity),
	}
}

// unlink removes s from the recency list without touching bySector.
func (c *Cache) unlink(s *slot) {
	if s.prev != nil {
		s.prev.next = s.next
	} else {
		c.mru = s.next
	}
	if s.next != nil {
		s.next.prev = s.prev
	} else {
		c.lru = s.prev
	}
	s.prev, s.next = nil, nil
}

// pushFront makes s the most-recently-used slot.
func (c *Cache) pushFront(s *slot) {
	s.prev = nil
	s.next = c.mru
	if c.mru != nil {
		c.mru.prev = s
	}
	c.mru = s
	if c.lru == nil {
		c.lru = s
	}
}

func (c *Cache) touch(s *slot) {
	if c.mru == s {
		return
	}
	c.unlink(s)
	c.pushFront(s)
}

// evictLRU selects the tail slot, writes it back if dirty, and removes it
// from residency. The caller must hold c.mu and must not call this when
// the cache is empty.
func (c *Cache) evictLRU() error {
	victim := c.lru
	if victim.dirty {
		if err := c.device.WriteSector(victim.sector, victim.data[:]); err != nil {
			// Open Question decision #4 (DESIGN.md): escalate rather than
			// log-and-drop. The slot is left in place so no data is lost;
			// the caller's operation fails instead.
			return IoError{Sector: victim.sector, Op: "evicting", Err: err}
		}
	}
	c.unlink(victim)
	delete(c.bySector, victim.sector)
	return nil
}

// ensureRoom evicts until there is capacity for one more resident slot.
// Caller holds c.mu.
func (c *Cache) ensureRoom() error {
	for len(c.bySector) >= c.capacity {
		if err := c.evictLRU(); err != nil {
			return err
		}
	}
	return nil
}

// Read copies the current logical contents of sector id into dst, which
// must be at least SectorSize bytes.
func (c *Cache) Read(id SectorID, dst []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.bySector[id]; ok {
		s.accessed = true
		c.touch(s)
		copy(dst, s.data[:])
		return nil
	}

	if err := c.ensureRoom(); err != nil {
		return err
	}

	s := &slot{sector: id, accessed: true}
	if err := c.device.ReadSector(id, s.data[:]); err != nil {
		return IoError{Sector: id, Op: "reading", Err: err}
	}
	c.bySector[id] = s
	c.pushFront(s)
	copy(dst, s.data[:])
	return nil
}

// Write makes src the logical contents of sector id; future reads observe
// src until the slot is overwritten again. The device is not touched
// immediately (write-back).
func (c *Cache) Write(id SectorID, src []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.bySector[id]; ok {
		s.accessed = true
		s.dirty = true
		copy(s.data[:], src)
		c.touch(s)
		return nil
	}

	if err := c.ensureRoom(); err != nil {
		return err
	}

	s := &slot{sector: id, accessed: true, dirty: true}
	copy(s.data[:], src)
	c.bySector[id] = s
	c.pushFront(s)
	return nil
}

// ReadPartial reads len bytes starting at offset within sector id into
// dst, via a full-sector cache read into a stack bounce buffer.
func (c *Cache) ReadPartial(id SectorID, dst []byte, offset, length int) error {
	if offset < 0 || length < 0 || offset+length > SectorSize {
		return fmt.Errorf(
			"reading sector `%#x`: offset %d + length %d exceeds sector size %d",
			id,
			offset,
			length,
			SectorSize,
		)
	}
	var bounce [SectorSize]byte
	if err := c.Read(id, bounce[:]); err != nil {
		return err
	}
	copy(dst, bounce[offset:offset+length])
	return nil
}

// WritePartial overlays len bytes from src onto offset within sector id,
// preserving the untouched bytes of that sector. When the write covers
// the whole sector, the read-before-write step is skipped.
func (c *Cache) WritePartial(id SectorID, src []byte, offset, length int) error {
	if offset < 0 || length < 0 || offset+length > SectorSize {
		return fmt.Errorf(
			"writing sector `%#x`: offset %d + length %d exceeds sector size %d",
			id,
			offset,
			length,
			SectorSize,
		)
	}
	var bounce [SectorSize]byte
	if offset == 0 && length == SectorSize {
		copy(bounce[:], src[:length])
	} else {
		if err := c.Read(id, bounce[:]); err != nil {
			return err
		}
		copy(bounce[offset:offset+length], src[:length])
	}
	return c.Write(id, bounce[:])
}

// CleanAll writes back every dirty slot but keeps them resident. Distinct
// from Flush per the Design Note in spec.md §9: a plain write-back cache
// only needs to clean, not evacuate.
func (c *Cache) CleanAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for s := c.mru; s != nil; s = s.next {
		if s.dirty {
			if err := c.device.WriteSector(s.sector, s.data[:]); err != nil {
				return IoError{Sector: s.sector, Op: "flushing", Err: err}
			}
			s.dirty = false
		}
	}
	return nil
}

// Flush writes back every dirty slot and then empties the cache, matching
// the source's periodic-flush behavior noted in spec.md §9: callers must
// tolerate cold misses after a flush window.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for s := c.mru; s != nil; s = s.next {
		if s.dirty {
			if err := c.device.WriteSector(s.sector, s.data[:]); err != nil {
				return IoError{Sector: s.sector, Op: "flushing", Err: err}
			}
		}
	}
	c.bySector = make(map[SectorID]*slot, c.capacity)
	c.mru, c.lru = nil, nil
	return nil
}

// Shutdown flushes and releases the cache's residency, for use at process
// exit alongside spec.md's init(capacity)/shutdown() pair.
func (c *Cache) Shutdown() error {
	return c.Flush()
}

// Resident reports the sector IDs currently cached, MRU first. Exposed
// for tests and the blockfsctl inspection tool.
func (c *Cache) Resident() []SectorID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SectorID, 0, len(c.bySector))
	for s := c.mru; s != nil; s = s.next {
		out = append(out, s.sector)
	}
	return out
}
