package blockfs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	volumeMagic    uint32 = 0x424C4B46 // "BLKF"
	labelLen              = 36         // length of a canonical UUID string
	headerReserved        = 2          // sectors [0,2): header, root inode

	offHdrMagic  = 0
	offHdrLabel  = offHdrMagic + 4
	offHdrCount  = offHdrLabel + labelLen
	offHdrRoot   = offHdrCount + 4
)

// RootSector is the fixed host sector of the volume's root inode. A real
// directory layer would allocate further inodes as needed; this module
// stops at a single addressable root, per spec.md §1's directory-layer
// Non-goal.
const RootSector SectorID = 1

// header is the small fixed-layout record occupying sector 0 of a volume,
// analogous in purpose to ext2.Superblock but far smaller since this
// module owns no group descriptors or directory structure.
type header struct {
	label       string
	sectorCount uint32
	rootSector  SectorID
}

func decodeHeader(b *[SectorSize]byte) (header, error) {
	magic := DecodeUint32(b[offHdrMagic:])
	if magic != volumeMagic {
		return header{}, fmt.Errorf(
			"decoding volume header at sector `0x0`: bad magic: wanted `%#x`; found `%#x`",
			volumeMagic,
			magic,
		)
	}
	var h header
	h.label = string(b[offHdrLabel : offHdrLabel+labelLen])
	h.sectorCount = DecodeUint32(b[offHdrCount:])
	h.rootSector = SectorID(DecodeUint32(b[offHdrRoot:]))
	return h, nil
}

func (h header) encode(b *[SectorSize]byte) {
	for i := range b {
		b[i] = 0
	}
	EncodeUint32(volumeMagic, b[offHdrMagic:])
	copy(b[offHdrLabel:offHdrLabel+labelLen], h.label)
	EncodeUint32(h.sectorCount, b[offHdrCount:])
	EncodeUint32(uint32(h.rootSector), b[offHdrRoot:])
}

// Volume binds a Device, a Cache, a FreeMap, and an InodeTable into a
// single composition root, analogous to ext2.FileSystem.Mount/Flush but
// without directory/path lookup — that remains a Non-goal per spec.md §1.
// It is the thing a future directory layer would be built against.
type Volume struct {
	device  Device
	cache   *Cache
	freemap *BitmapFreeMap
	table   *InodeTable
	header  header
}

// Format writes a fresh header and root inode to device and returns a
// mounted Volume. cacheCapacity <= 0 uses DefaultCacheCapacity.
func Format(device Device, cacheCapacity int) (*Volume, error) {
	sectorCount := device.SectorCount()
	if sectorCount <= headerReserved {
		return nil, fmt.Errorf(
			"formatting volume: device has %d sectors, need more than %d",
			sectorCount,
			headerReserved,
		)
	}

	freemap := NewBitmapFreeMap(sectorCount)
	freemap.Reserve(headerReserved)

	cache := NewCache(device, cacheCapacity)
	table := NewInodeTable(cache, freemap)

	if err := table.Create(RootSector, 0); err != nil {
		return nil, fmt.Errorf("formatting volume: creating root inode: %w", err)
	}

	h := header{
		label:       uuid.NewString(),
		sectorCount: sectorCount,
		rootSector:  RootSector,
	}
	var buf [SectorSize]byte
	h.encode(&buf)
	if err := cache.Write(0, buf[:]); err != nil {
		return nil, fmt.Errorf("formatting volume: writing header: %w", err)
	}
	if err := cache.CleanAll(); err != nil {
		return nil, fmt.Errorf("formatting volume: writing back: %w", err)
	}

	return &Volume{
		device:  device,
		cache:   cache,
		freemap: freemap,
		table:   table,
		header:  h,
	}, nil
}

// Mount reads back an existing volume's header, validates its magic
// number (mirroring ext2.DecodeSuperblock's magic/state checks), and
// reconstructs free-map state by walking the root inode's index tree.
// Free-map contents are never themselves persisted (spec.md treats the
// free map as an external collaborator with no specified on-disk format),
// so Mount is only correct for a volume whose only allocations are
// reachable from the root inode — documented as a limitation in
// DESIGN.md rather than silently assumed.
func Mount(device Device, cacheCapacity int) (*Volume, error) {
	cache := NewCache(device, cacheCapacity)

	var buf [SectorSize]byte
	if err := cache.Read(0, buf[:]); err != nil {
		return nil, fmt.Errorf("mounting volume: reading header: %w", err)
	}
	h, err := decodeHeader(&buf)
	if err != nil {
		return nil, fmt.Errorf("mounting volume: %w", err)
	}

	freemap := NewBitmapFreeMap(h.sectorCount)
	freemap.Reserve(headerReserved)

	table := NewInodeTable(cache, freemap)
	root, err := table.Open(h.rootSector)
	if err != nil {
		return nil, fmt.Errorf("mounting volume: opening root inode: %w", err)
	}
	if err := markTreeUsed(cache, freemap, root.disk); err != nil {
		return nil, fmt.Errorf("mounting volume: reconstructing free map: %w", err)
	}
	if err := table.Close(root); err != nil {
		return nil, fmt.Errorf("mounting volume: closing root inode: %w", err)
	}

	return &Volume{
		device:  device,
		cache:   cache,
		freemap: freemap,
		table:   table,
		header:  h,
	}, nil
}

// markTreeUsed marks every sector reachable from disk's index tree as
// allocated in freemap, mirroring InodeTable.releaseTree's walk but
// setting bits instead of clearing them.
func markTreeUsed(cache *Cache, freemap *BitmapFreeMap, disk InodeDisk) error {
	totalSectors := bytesToSectors(disk.Length)
	direct, indirect, dbl, remain, err := sectorBudget(totalSectors)
	if err != nil {
		return err
	}

	for i := uint64(0); i < direct; i++ {
		freemap.MarkUsed(disk.Direct[i])
	}

	if indirect > 0 {
		var buf [SectorSize]byte
		if err := cache.Read(disk.IndirectPtr, buf[:]); err != nil {
			return err
		}
		ind := DecodeIndirectBlock(&buf)
		freemap.MarkUsed(disk.IndirectPtr)
		for i := uint64(0); i < indirect; i++ {
			freemap.MarkUsed(ind.Blocks[i])
		}
	}

	if dbl > 0 || remain > 0 {
		var buf [SectorSize]byte
		if err := cache.Read(disk.DblIndirectPtr, buf[:]); err != nil {
			return err
		}
		dblBlk := DecodeDblIndirectBlock(&buf)
		freemap.MarkUsed(disk.DblIndirectPtr)

		children := dbl
		if remain > 0 {
			children++
		}
		for i := uint64(0); i < children; i++ {
			childSectors := uint64(IndirectCount)
			if i == children-1 && remain > 0 {
				childSectors = remain
			}
			var cbuf [SectorSize]byte
			if err := cache.Read(dblBlk.Indirect[i], cbuf[:]); err != nil {
				return err
			}
			child := DecodeIndirectBlock(&cbuf)
			freemap.MarkUsed(dblBlk.Indirect[i])
			for j := uint64(0); j < childSectors; j++ {
				freemap.MarkUsed(child.Blocks[j])
			}
		}
	}

	return nil
}

// Cache exposes the underlying buffer cache, e.g. for blockfsctl.
func (v *Volume) Cache() *Cache { return v.cache }

// Table exposes the underlying open-inode table.
func (v *Volume) Table() *InodeTable { return v.table }

// FreeMap exposes the underlying free-sector map.
func (v *Volume) FreeMap() *BitmapFreeMap { return v.freemap }

// Label reports the volume's stamped UUID label.
func (v *Volume) Label() string { return v.header.label }

// RootSector reports the host sector of the volume's root inode.
func (v *Volume) RootSector() SectorID { return v.header.rootSector }

// Sync writes back every dirty cache slot and evicts it, matching
// ext2.FileSystem.Flush's write-back-everything behavior.
func (v *Volume) Sync() error {
	return v.cache.Flush()
}

// Close syncs and releases the underlying device, if it supports closing.
func (v *Volume) Close() error {
	if err := v.Sync(); err != nil {
		return err
	}
	if closer, ok := v.device.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// RunFlushLoop drives the periodic flush behind a Ticker until ctx is
// canceled, matching the teacher's kubestatus.Run shape: a single
// errgroup-managed goroutine selecting on the ticker and ctx.Done().
func (v *Volume) RunFlushLoop(ctx context.Context, ticker Ticker) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return nil
			case <-ticker.C():
				if err := v.cache.Flush(); err != nil {
					return fmt.Errorf("periodic flush: %w", err)
				}
			}
		}
	})
	return g.Wait()
}
