package blockfs

import (
	"errors"
	"fmt"
)

// ErrNotFound names the offset-past-end-of-file case on a read. ReadAt
// reports that case as zero bytes read with a nil error; nothing in this
// package returns ErrNotFound.
var ErrNotFound = errors.New("offset past end of file")

// ErrOutOfSpace is returned when the free map cannot satisfy an
// allocation.
var ErrOutOfSpace = errors.New("no free sectors remain")

// ErrOutOfMemory names the case where a cache slot or transient indirect
// record could not be allocated. Go's allocator panics rather than
// returning an error, so nothing in this package returns ErrOutOfMemory.
var ErrOutOfMemory = errors.New("out of memory")

// ErrDenied indicates a write was attempted while deny-write was active.
// Callers are expected to treat this as "zero bytes written", not
// propagate it as a hard error; it is exported so tests and diagnostics
// can recognize the case.
var ErrDenied = errors.New("write denied")

// TooLargeError reports that a requested logical size exceeds the index
// tree's addressable range.
type TooLargeError struct {
	Requested uint64
	Max       uint64
}

func (err TooLargeError) Error() string {
	return fmt.Sprintf(
		"requested size `%d` exceeds maximum addressable size `%d`",
		err.Requested,
		err.Max,
	)
}

// IoError wraps a failed device read or write with the sector that was
// being accessed.
type IoError struct {
	Sector SectorID
	Op     string
	Err    error
}

func (err IoError) Error() string {
	return fmt.Sprintf(
		"%s sector `%#x`: %v",
		err.Op,
		err.Sector,
		err.Err,
	)
}

func (err IoError) Unwrap() error { return err.Err }

// BadMagicError reports an on-disk inode whose magic number doesn't match
// the expected constant.
type BadMagicError struct {
	Sector SectorID
	Found  uint32
}

func (err BadMagicError) Error() string {
	return fmt.Sprintf(
		"decoding inode at sector `%#x`: bad magic: wanted `%#x`; found `%#x`",
		err.Sector,
		inodeMagic,
		err.Found,
	)
}

// SectorOutOfRangeError reports a logical block index outside the range
// addressable by the direct/indirect/double-indirect tree.
type SectorOutOfRangeError struct {
	Block uint64
}

func (err SectorOutOfRangeError) Error() string {
	return fmt.Sprintf("block `%#x` is out of addressable range", err.Block)
}
