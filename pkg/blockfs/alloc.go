package blockfs

// allocTracker accumulates every sector allocated during a single
// Create/growth call so they can all be released if a later step in that
// same call fails. This implements the rollback spec.md §7 requires and
// original_source/inode.c's inode_create left as a TODO (Open Question
// decision #2 in DESIGN.md).
type allocTracker struct {
	freemap   FreeMap
	allocated []SectorID
}

func (t *allocTracker) alloc() (SectorID, error) {
	id, err := t.freemap.Allocate(1)
	if err != nil {
		return 0, err
	}
	t.allocated = append(t.allocated, id)
	return id, nil
}

func (t *allocTracker) rollback() {
	for _, id := range t.allocated {
		t.freemap.Release(id, 1)
	}
	t.allocated = nil
}

// sectorBudget peels a target sector count into direct/indirect/double-
// indirect shares, per spec.md §4.2. dbl counts fully-used second-level
// indirect blocks; remain is the count of data sectors in a partially
// used trailing second-level indirect block.
//
// The literal peeling formula in spec.md §4.2 caps dbl at Nd2 before
// taking the remainder, which silently folds any overflow at exactly
// max_file_size+1 back into remain instead of failing; spec.md §8's
// maximum-size scenario requires that overflow to surface as TooLarge, so
// the cap is checked explicitly here rather than applied to dbl itself.
func sectorBudget(total uint64) (direct, indirect, dbl, remain uint64, err error) {
	s := total
	direct = min64(s, DirectCount)
	s -= direct

	indirect = min64(s, IndirectCount)
	s -= indirect

	dbl = s / IndirectCount
	remain = s % IndirectCount

	if dbl > DoubleIndirectCount || (dbl == DoubleIndirectCount && remain > 0) {
		return 0, 0, 0, 0, TooLargeError{Requested: total * SectorSize, Max: MaxFileSize}
	}
	return direct, indirect, dbl, remain, nil
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func bytesToSectors(size uint64) uint64 {
	return (size + SectorSize - 1) / SectorSize
}

var zeroSector [SectorSize]byte

// allocDirectRange allocates n fresh sectors, zero-fills them through the
// cache, and stores their ids into dest[index:index+n]. Used both for an
// inode's own direct array and for the data sectors listed inside an
// indirect block, matching original_source/inode.c's shared
// alloc_direct_sectors helper.
func allocDirectRange(cache *Cache, t *allocTracker, dest []SectorID, index int, n uint64) error {
	for i := uint64(0); i < n; i++ {
		id, err := t.alloc()
		if err != nil {
			return err
		}
		if err := cache.Write(id, zeroSector[:]); err != nil {
			return err
		}
		dest[index+int(i)] = id
	}
	return nil
}
