package blockfs

import (
	"fmt"
	"os"
)

// SectorID addresses a single fixed-width sector on a Device.
type SectorID uint32

// SectorSize is the fixed width of a sector in bytes (parameter S).
const SectorSize = 512

// Device is a sector-granular, synchronous block device. Implementations
// either succeed or return a generic I/O error; there is no partial
// success at this layer — partial-sector composition is the cache's job.
type Device interface {
	ReadSector(id SectorID, dst []byte) error
	WriteSector(id SectorID, src []byte) error
	SectorCount() uint32
}

// MemoryDevice is a Device backed entirely by process memory. It is used
// by tests and by tools that want to exercise the storage core without
// touching disk.
type MemoryDevice struct {
	buf []byte
}

// NewMemoryDevice allocates a MemoryDevice with room for count sectors.
func NewMemoryDevice(count uint32) *MemoryDevice {
	return &MemoryDevice{buf: make([]byte, uint64(count)*SectorSize)}
}

func (d *MemoryDevice) ReadSector(id SectorID, dst []byte) error {
	off := uint64(id) * SectorSize
	if off+SectorSize > uint64(len(d.buf)) {
		return fmt.Errorf("reading sector `%#x`: out of range", id)
	}
	copy(dst, d.buf[off:off+SectorSize])
	return nil
}

func (d *MemoryDevice) WriteSector(id SectorID, src []byte) error {
	off := uint64(id) * SectorSize
	if off+SectorSize > uint64(len(d.buf)) {
		return fmt.Errorf("writing sector `%#x`: out of range", id)
	}
	copy(d.buf[off:off+SectorSize], src)
	return nil
}

func (d *MemoryDevice) SectorCount() uint32 {
	return uint32(len(d.buf) / SectorSize)
}

// FileDevice is a Device backed by an *os.File, addressed by
// sector-aligned offsets via ReadAt/WriteAt.
type FileDevice struct {
	file  *os.File
	count uint32
}

// NewFileDevice wraps an already-opened file holding count sectors.
func NewFileDevice(file *os.File, count uint32) *FileDevice {
	return &FileDevice{file: file, count: count}
}

// OpenFileDevice opens or creates path and sizes it to hold count sectors.
func OpenFileDevice(path string, count uint32) (*FileDevice, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening device file `%s`: %w", path, err)
	}
	size := int64(count) * SectorSize
	if err := file.Truncate(size); err != nil {
		file.Close()
		return nil, fmt.Errorf("sizing device file `%s`: %w", path, err)
	}
	return NewFileDevice(file, count), nil
}

func (d *FileDevice) ReadSector(id SectorID, dst []byte) error {
	if _, err := d.file.ReadAt(dst[:SectorSize], int64(id)*SectorSize); err != nil {
		return fmt.Errorf(
			"reading sector `%#x` of device file `%s`: %w",
			id,
			d.file.Name(),
			err,
		)
	}
	return nil
}

func (d *FileDevice) WriteSector(id SectorID, src []byte) error {
	if _, err := d.file.WriteAt(src[:SectorSize], int64(id)*SectorSize); err != nil {
		return fmt.Errorf(
			"writing sector `%#x` of device file `%s`: %w",
			id,
			d.file.Name(),
			err,
		)
	}
	return nil
}

func (d *FileDevice) SectorCount() uint32 {
	return d.count
}

// Close releases the underlying file handle.
func (d *FileDevice) Close() error {
	return d.file.Close()
}
