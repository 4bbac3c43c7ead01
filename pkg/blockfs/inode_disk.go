package blockfs

// Tree-shape parameters (spec.md §6).
const (
	DirectCount         = 10      // Nd
	IndirectCount       = 125     // Ni
	DoubleIndirectCount = 125     // Nd2
	MaxSectors          = DirectCount + IndirectCount + DoubleIndirectCount*IndirectCount
	MaxFileSize         = uint64(MaxSectors) * SectorSize

	inodeMagic uint32 = 0x494E4F44
)

// inode_disk byte offsets (spec.md §6). The legacy `start` field is kept
// at offset 0 and always encoded as 0 for layout fidelity with the
// original format, even though nothing in this module reads it back.
const (
	offStart        = 0
	offDirect       = offStart + 4
	offLength       = offDirect + 4*DirectCount
	offSelf         = offLength + 4
	offIndirectPtr  = offSelf + 4
	offDblIndPtr    = offIndirectPtr + 4
	offIndirectUsed = offDblIndPtr + 4
	offDblUsed      = offIndirectUsed + 4
	offMagic        = offDblUsed + 4
)

// InodeDisk is the fixed-size on-disk inode record of spec.md §3/§6.
type InodeDisk struct {
	Direct         [DirectCount]SectorID
	Length         uint64
	Self           SectorID
	IndirectPtr    SectorID
	DblIndirectPtr SectorID
	IndirectUsed   uint32
	DblUsed        uint32
}

// DecodeInodeDisk parses a sector-sized buffer into an InodeDisk, failing
// if the magic number doesn't match.
func DecodeInodeDisk(sector SectorID, b *[SectorSize]byte) (InodeDisk, error) {
	magic := DecodeUint32(b[offMagic:])
	if magic != inodeMagic {
		return InodeDisk{}, BadMagicError{Sector: sector, Found: magic}
	}

	var disk InodeDisk
	for i := 0; i < DirectCount; i++ {
		disk.Direct[i] = SectorID(DecodeUint32(b[offDirect+4*i:]))
	}
	disk.Length = uint64(DecodeUint32(b[offLength:]))
	disk.Self = SectorID(DecodeUint32(b[offSelf:]))
	disk.IndirectPtr = SectorID(DecodeUint32(b[offIndirectPtr:]))
	disk.DblIndirectPtr = SectorID(DecodeUint32(b[offDblIndPtr:]))
	disk.IndirectUsed = DecodeUint32(b[offIndirectUsed:])
	disk.DblUsed = DecodeUint32(b[offDblUsed:])
	return disk, nil
}

// Encode serializes disk into a zero-padded sector-sized buffer.
func (disk *InodeDisk) Encode(b *[SectorSize]byte) {
	for i := range b {
		b[i] = 0
	}
	EncodeUint32(0, b[offStart:]) // legacy field, always zero
	for i := 0; i < DirectCount; i++ {
		EncodeUint32(uint32(disk.Direct[i]), b[offDirect+4*i:])
	}
	EncodeUint32(uint32(disk.Length), b[offLength:])
	EncodeUint32(uint32(disk.Self), b[offSelf:])
	EncodeUint32(uint32(disk.IndirectPtr), b[offIndirectPtr:])
	EncodeUint32(uint32(disk.DblIndirectPtr), b[offDblIndPtr:])
	EncodeUint32(disk.IndirectUsed, b[offIndirectUsed:])
	EncodeUint32(disk.DblUsed, b[offDblUsed:])
	EncodeUint32(inodeMagic, b[offMagic:])
}

// IndirectBlock is the on-disk array-of-data-sectors record (spec.md §3).
// Its self/parent fields are advisory, mirroring the teacher's
// inode_indirect.sector/.parent shape in original_source/inode.c.
type IndirectBlock struct {
	Self   SectorID
	Parent SectorID
	Used   uint32
	Blocks [IndirectCount]SectorID
}

const (
	offIndSelf   = 0
	offIndParent = offIndSelf + 4
	offIndUsed   = offIndParent + 4
	offIndBlocks = offIndUsed + 4
)

func DecodeIndirectBlock(b *[SectorSize]byte) IndirectBlock {
	var ind IndirectBlock
	ind.Self = SectorID(DecodeUint32(b[offIndSelf:]))
	ind.Parent = SectorID(DecodeUint32(b[offIndParent:]))
	ind.Used = DecodeUint32(b[offIndUsed:])
	for i := 0; i < IndirectCount; i++ {
		ind.Blocks[i] = SectorID(DecodeUint32(b[offIndBlocks+4*i:]))
	}
	return ind
}

func (ind *IndirectBlock) Encode(b *[SectorSize]byte) {
	for i := range b {
		b[i] = 0
	}
	EncodeUint32(uint32(ind.Self), b[offIndSelf:])
	EncodeUint32(uint32(ind.Parent), b[offIndParent:])
	EncodeUint32(ind.Used, b[offIndUsed:])
	for i := 0; i < IndirectCount; i++ {
		EncodeUint32(uint32(ind.Blocks[i]), b[offIndBlocks+4*i:])
	}
}

// DblIndirectBlock is the on-disk array-of-indirect-sectors record.
type DblIndirectBlock struct {
	Self     SectorID
	Parent   SectorID
	Used     uint32
	Indirect [DoubleIndirectCount]SectorID
}

const (
	offDblSelf     = 0
	offDblParent   = offDblSelf + 4
	offDblUsedOff  = offDblParent + 4
	offDblIndirect = offDblUsedOff + 4
)

func DecodeDblIndirectBlock(b *[SectorSize]byte) DblIndirectBlock {
	var dbl DblIndirectBlock
	dbl.Self = SectorID(DecodeUint32(b[offDblSelf:]))
	dbl.Parent = SectorID(DecodeUint32(b[offDblParent:]))
	dbl.Used = DecodeUint32(b[offDblUsedOff:])
	for i := 0; i < DoubleIndirectCount; i++ {
		dbl.Indirect[i] = SectorID(DecodeUint32(b[offDblIndirect+4*i:]))
	}
	return dbl
}

func (dbl *DblIndirectBlock) Encode(b *[SectorSize]byte) {
	for i := range b {
		b[i] = 0
	}
	EncodeUint32(uint32(dbl.Self), b[offDblSelf:])
	EncodeUint32(uint32(dbl.Parent), b[offDblParent:])
	EncodeUint32(dbl.Used, b[offDblUsedOff:])
	for i := 0; i < DoubleIndirectCount; i++ {
		EncodeUint32(uint32(dbl.Indirect[i]), b[offDblIndirect+4*i:])
	}
}
