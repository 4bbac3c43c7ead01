package blockfs

import (
	"bytes"
	"errors"
	"testing"
)

func fillSector(b byte) []byte {
	buf := make([]byte, SectorSize)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestCache_MissThenHit(t *testing.T) {
	dev := NewMemoryDevice(4)
	cache := NewCache(dev, 2)

	want := fillSector(0xAB)
	if err := dev.WriteSector(0, want); err != nil {
		t.Fatalf("seeding device: %v", err)
	}

	var got [SectorSize]byte
	if err := cache.Read(0, got[:]); err != nil {
		t.Fatalf("Read() (miss): %v", err)
	}
	if !bytes.Equal(got[:], want) {
		t.Fatalf("Read() (miss): wanted `%x`; found `%x`", want, got)
	}

	// corrupt the backing device directly; a hit must not re-read it.
	if err := dev.WriteSector(0, fillSector(0x00)); err != nil {
		t.Fatalf("corrupting device: %v", err)
	}
	var got2 [SectorSize]byte
	if err := cache.Read(0, got2[:]); err != nil {
		t.Fatalf("Read() (hit): %v", err)
	}
	if !bytes.Equal(got2[:], want) {
		t.Fatalf("Read() (hit): wanted `%x`; found `%x`", want, got2)
	}
}

func TestCache_WriteBackConsistency(t *testing.T) {
	dev := NewMemoryDevice(4)
	cache := NewCache(dev, 4)

	data := fillSector(0x42)
	if err := cache.Write(0, data); err != nil {
		t.Fatalf("Write(): %v", err)
	}

	var onDevice [SectorSize]byte
	if err := dev.ReadSector(0, onDevice[:]); err != nil {
		t.Fatalf("reading device directly: %v", err)
	}
	if bytes.Equal(onDevice[:], data) {
		t.Fatal("write-back cache touched the device before flush")
	}

	if err := cache.Flush(); err != nil {
		t.Fatalf("Flush(): %v", err)
	}
	if err := dev.ReadSector(0, onDevice[:]); err != nil {
		t.Fatalf("reading device after flush: %v", err)
	}
	if !bytes.Equal(onDevice[:], data) {
		t.Fatalf("after flush: wanted `%x`; found `%x`", data, onDevice)
	}
}

func TestCache_BoundedResidency(t *testing.T) {
	dev := NewMemoryDevice(10)
	cache := NewCache(dev, 2)

	for i := SectorID(0); i < 5; i++ {
		var buf [SectorSize]byte
		if err := cache.Read(i, buf[:]); err != nil {
			t.Fatalf("Read(%d): %v", i, err)
		}
		if n := len(cache.Resident()); n > 2 {
			t.Fatalf("residency exceeded capacity: found %d resident sectors", n)
		}
	}
}

func TestCache_LRUEviction(t *testing.T) {
	dev := NewMemoryDevice(10)
	cache := NewCache(dev, 2)

	var buf [SectorSize]byte
	mustRead := func(id SectorID) {
		if err := cache.Read(id, buf[:]); err != nil {
			t.Fatalf("Read(%d): %v", id, err)
		}
	}

	mustRead(0) // miss: resident = [A]
	mustRead(1) // miss: resident = [B, A]
	mustRead(0) // hit: A becomes MRU: resident = [A, B]
	mustRead(2) // miss, evicts B (LRU): resident = [C, A]

	resident := cache.Resident()
	if len(resident) != 2 || resident[0] != 2 || resident[1] != 0 {
		t.Fatalf("unexpected residency after eviction: %v", resident)
	}
}

func TestCache_WriteBackUnderEviction(t *testing.T) {
	dev := NewMemoryDevice(10)
	cache := NewCache(dev, 1)

	data := fillSector(0x7E)
	if err := cache.Write(0, data); err != nil {
		t.Fatalf("Write(0): %v", err)
	}

	var buf [SectorSize]byte
	if err := cache.Read(1, buf[:]); err != nil { // forces eviction of 0
		t.Fatalf("Read(1): %v", err)
	}

	var onDevice [SectorSize]byte
	if err := dev.ReadSector(0, onDevice[:]); err != nil {
		t.Fatalf("reading device directly: %v", err)
	}
	if !bytes.Equal(onDevice[:], data) {
		t.Fatalf(
			"eviction did not write back dirty sector: wanted `%x`; found `%x`",
			data,
			onDevice,
		)
	}
}

func TestCache_PartialWritePreservesUntouchedBytes(t *testing.T) {
	dev := NewMemoryDevice(2)
	cache := NewCache(dev, 2)

	full := fillSector(0x11)
	if err := cache.Write(0, full); err != nil {
		t.Fatalf("Write(): %v", err)
	}

	overlay := []byte{0xAA, 0xBB, 0xCC}
	if err := cache.WritePartial(0, overlay, 4, len(overlay)); err != nil {
		t.Fatalf("WritePartial(): %v", err)
	}

	var got [SectorSize]byte
	if err := cache.Read(0, got[:]); err != nil {
		t.Fatalf("Read(): %v", err)
	}
	if got[3] != 0x11 || got[4] != 0xAA || got[5] != 0xBB || got[6] != 0xCC || got[7] != 0x11 {
		t.Fatalf("partial write corrupted untouched bytes: %x", got[:8])
	}
}

func TestCache_CleanAllKeepsResidency(t *testing.T) {
	dev := NewMemoryDevice(4)
	cache := NewCache(dev, 4)

	if err := cache.Write(0, fillSector(0x9A)); err != nil {
		t.Fatalf("Write(): %v", err)
	}
	if err := cache.CleanAll(); err != nil {
		t.Fatalf("CleanAll(): %v", err)
	}

	var onDevice [SectorSize]byte
	if err := dev.ReadSector(0, onDevice[:]); err != nil {
		t.Fatalf("reading device directly: %v", err)
	}
	if !bytes.Equal(onDevice[:], fillSector(0x9A)) {
		t.Fatal("CleanAll() did not write back the dirty slot")
	}
	if n := len(cache.Resident()); n != 1 {
		t.Fatalf("CleanAll() evicted a slot: wanted `1` resident; found `%d`", n)
	}
}

func TestCache_FlushIsIdempotent(t *testing.T) {
	dev := NewMemoryDevice(4)
	cache := NewCache(dev, 4)

	if err := cache.Write(0, fillSector(0x5C)); err != nil {
		t.Fatalf("Write(): %v", err)
	}
	if err := cache.Flush(); err != nil {
		t.Fatalf("Flush() 1: %v", err)
	}
	if err := cache.Flush(); err != nil {
		t.Fatalf("Flush() 2: %v", err)
	}
	if n := len(cache.Resident()); n != 0 {
		t.Fatalf("Flush() left residency non-empty: found `%d`", n)
	}
}

type failingDevice struct {
	*MemoryDevice
	failWrite bool
}

func (d *failingDevice) WriteSector(id SectorID, src []byte) error {
	if d.failWrite {
		return errors.New("simulated device failure")
	}
	return d.MemoryDevice.WriteSector(id, src)
}

func TestCache_EvictionWriteErrorEscalates(t *testing.T) {
	dev := &failingDevice{MemoryDevice: NewMemoryDevice(4)}
	cache := NewCache(dev, 1)

	if err := cache.Write(0, fillSector(0x01)); err != nil {
		t.Fatalf("Write(0): %v", err)
	}

	dev.failWrite = true
	var buf [SectorSize]byte
	err := cache.Read(1, buf[:])
	if err == nil {
		t.Fatal("expected eviction write failure to propagate; got nil error")
	}
	var ioErr IoError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected an IoError; found %T: %v", err, err)
	}
}
