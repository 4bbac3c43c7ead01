package blockfs

import (
	"bytes"
	"testing"
)

func newTestTable(t *testing.T, sectors uint32) (*InodeTable, *BitmapFreeMap) {
	t.Helper()
	dev := NewMemoryDevice(sectors)
	cache := NewCache(dev, DefaultCacheCapacity)
	fm := NewBitmapFreeMap(sectors)
	fm.Reserve(1) // sector 0 reserved so it can't collide with inode hosts under test
	return NewInodeTable(cache, fm), fm
}

func TestInode_SmallFileRoundTrip(t *testing.T) {
	table, _ := newTestTable(t, 64)

	if err := table.Create(1, 100); err != nil {
		t.Fatalf("Create(): %v", err)
	}
	in, err := table.Open(1)
	if err != nil {
		t.Fatalf("Open(): %v", err)
	}
	defer table.Close(in)

	n, err := table.WriteAt(in, []byte("hello"), 0)
	if err != nil {
		t.Fatalf("WriteAt(): %v", err)
	}
	if n != 5 {
		t.Fatalf("WriteAt(): wanted `5` bytes written; found `%d`", n)
	}

	buf := make([]byte, 5)
	n, err = table.ReadAt(in, buf, 0)
	if err != nil {
		t.Fatalf("ReadAt(): %v", err)
	}
	if n != 5 || string(buf) != "hello" {
		t.Fatalf("ReadAt(): wanted `hello`; found `%s` (n=%d)", buf, n)
	}

	if got := table.Length(in); got != 100 {
		t.Fatalf("Length(): wanted `100`; found `%d`", got)
	}
}

func TestInode_DirectToIndirectCrossover(t *testing.T) {
	table, _ := newTestTable(t, 64)

	if err := table.Create(1, 0); err != nil {
		t.Fatalf("Create(): %v", err)
	}
	in, err := table.Open(1)
	if err != nil {
		t.Fatalf("Open(): %v", err)
	}
	defer table.Close(in)

	offsets := []uint64{0, 512, 1024, 1536, 2048, 2560, 3072, 3584, 4096, 4608, 5120, 5632, 6144}
	for i, off := range offsets {
		b := byte(i + 1)
		if _, err := table.WriteAt(in, []byte{b}, off); err != nil {
			t.Fatalf("WriteAt(offset=%d): %v", off, err)
		}
	}

	for i, off := range offsets {
		var buf [1]byte
		if _, err := table.ReadAt(in, buf[:], off); err != nil {
			t.Fatalf("ReadAt(offset=%d): %v", off, err)
		}
		if buf[0] != byte(i+1) {
			t.Fatalf("ReadAt(offset=%d): wanted `%d`; found `%d`", off, i+1, buf[0])
		}
	}

	if got, want := table.Length(in), offsets[len(offsets)-1]+1; got != want {
		t.Fatalf("Length(): wanted `%d`; found `%d`", want, got)
	}
}

func TestInode_IndirectToDoubleIndirectCrossover(t *testing.T) {
	table, _ := newTestTable(t, 512)

	if err := table.Create(1, 0); err != nil {
		t.Fatalf("Create(): %v", err)
	}
	in, err := table.Open(1)
	if err != nil {
		t.Fatalf("Open(): %v", err)
	}
	defer table.Close(in)

	offset := uint64(DirectCount+IndirectCount) * SectorSize
	if _, err := table.WriteAt(in, []byte{0xFF}, offset); err != nil {
		t.Fatalf("WriteAt(): %v", err)
	}

	var got [1]byte
	if _, err := table.ReadAt(in, got[:], offset); err != nil {
		t.Fatalf("ReadAt(): %v", err)
	}
	if got[0] != 0xFF {
		t.Fatalf("ReadAt(): wanted `0xFF`; found `%#x`", got[0])
	}

	// every byte preceding the write must read back as zero (sparse growth).
	probe := make([]byte, SectorSize)
	for _, off := range []uint64{0, uint64(DirectCount) * SectorSize, offset - SectorSize} {
		if _, err := table.ReadAt(in, probe[:1], off); err != nil {
			t.Fatalf("ReadAt(offset=%d): %v", off, err)
		}
		if probe[0] != 0 {
			t.Fatalf("sparse region at offset %d not zero: found `%#x`", off, probe[0])
		}
	}
}

func TestInode_MaximumSize(t *testing.T) {
	// data sectors plus the indirect block, the double-indirect block and
	// its DoubleIndirectCount children, with headroom for reserved sectors.
	table, _ := newTestTable(t, uint32(MaxSectors+1+1+DoubleIndirectCount)+8)

	if err := table.Create(1, MaxFileSize); err != nil {
		t.Fatalf("Create() at max size: %v", err)
	}

	err := table.Create(2, MaxFileSize+1)
	if err == nil {
		t.Fatal("Create() over max size: expected an error; found nil")
	}
	var tooLarge TooLargeError
	if !asTooLarge(err, &tooLarge) {
		t.Fatalf("Create() over max size: expected TooLargeError; found %T: %v", err, err)
	}
}

func asTooLarge(err error, target *TooLargeError) bool {
	if tl, ok := err.(TooLargeError); ok {
		*target = tl
		return true
	}
	return false
}

func TestInode_DenyWrite(t *testing.T) {
	table, _ := newTestTable(t, 64)

	if err := table.Create(1, 10); err != nil {
		t.Fatalf("Create(): %v", err)
	}
	a, err := table.Open(1)
	if err != nil {
		t.Fatalf("Open() a: %v", err)
	}
	defer table.Close(a)
	b, err := table.Open(1)
	if err != nil {
		t.Fatalf("Open() b: %v", err)
	}
	defer table.Close(b)

	if a != b {
		t.Fatal("two opens of the same sector returned distinct records")
	}

	table.DenyWrite(a)

	n, err := table.WriteAt(b, []byte("xxxxx"), 0)
	if err != nil {
		t.Fatalf("WriteAt() while denied: %v", err)
	}
	if n != 0 {
		t.Fatalf("WriteAt() while denied: wanted `0` bytes written; found `%d`", n)
	}

	buf := make([]byte, 5)
	if _, err := table.ReadAt(b, buf, 0); err != nil {
		t.Fatalf("ReadAt(): %v", err)
	}
	if !bytes.Equal(buf, make([]byte, 5)) {
		t.Fatalf("file was modified despite deny-write: found `%x`", buf)
	}

	table.AllowWrite(a)
	n, err = table.WriteAt(b, []byte("xxxxx"), 0)
	if err != nil {
		t.Fatalf("WriteAt() after allow: %v", err)
	}
	if n != 5 {
		t.Fatalf("WriteAt() after allow: wanted `5`; found `%d`", n)
	}
}

func TestInode_RemoveThenClose(t *testing.T) {
	table, fm := newTestTable(t, 512)

	// enough data to require one indirect block plus a handful of direct
	// sectors: DirectCount + 3 data sectors, forcing one indirect host.
	length := uint64(DirectCount+3) * SectorSize
	if err := table.Create(1, length); err != nil {
		t.Fatalf("Create(): %v", err)
	}
	before := fm.FreeCount()

	in, err := table.Open(1)
	if err != nil {
		t.Fatalf("Open(): %v", err)
	}
	table.Remove(in)
	if err := table.Close(in); err != nil {
		t.Fatalf("Close(): %v", err)
	}

	after := fm.FreeCount()
	wantFreed := uint32(DirectCount+3+1+1) // data + indirect host + inode host
	if after-before != wantFreed {
		t.Fatalf(
			"Remove()+Close(): wanted `%d` sectors freed; found `%d`",
			wantFreed,
			after-before,
		)
	}
}

func TestInode_OpenCountConservation(t *testing.T) {
	table, _ := newTestTable(t, 64)
	if err := table.Create(1, 0); err != nil {
		t.Fatalf("Create(): %v", err)
	}

	in, err := table.Open(1)
	if err != nil {
		t.Fatalf("Open(): %v", err)
	}
	table.Reopen(in)
	table.Reopen(in)

	if err := table.Close(in); err != nil {
		t.Fatalf("Close() 1/3: %v", err)
	}
	if _, ok := table.bySector[1]; !ok {
		t.Fatal("inode removed from table before open_count reached zero")
	}
	if err := table.Close(in); err != nil {
		t.Fatalf("Close() 2/3: %v", err)
	}
	if err := table.Close(in); err != nil {
		t.Fatalf("Close() 3/3: %v", err)
	}
	if _, ok := table.bySector[1]; ok {
		t.Fatal("inode still present in table after open_count reached zero")
	}
}

func TestInode_LengthMonotone(t *testing.T) {
	table, _ := newTestTable(t, 64)
	if err := table.Create(1, 0); err != nil {
		t.Fatalf("Create(): %v", err)
	}
	in, err := table.Open(1)
	if err != nil {
		t.Fatalf("Open(): %v", err)
	}
	defer table.Close(in)

	if _, err := table.WriteAt(in, []byte("abcdef"), 0); err != nil {
		t.Fatalf("WriteAt() 1: %v", err)
	}
	first := table.Length(in)

	if _, err := table.WriteAt(in, []byte("x"), 0); err != nil {
		t.Fatalf("WriteAt() 2 (within existing length): %v", err)
	}
	if got := table.Length(in); got != first {
		t.Fatalf("Length() decreased on an in-place write: `%d` -> `%d`", first, got)
	}
}
