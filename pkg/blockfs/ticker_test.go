package blockfs

import (
	"context"
	"testing"
	"time"
)

func TestVolume_RunFlushLoopFlushesOnTick(t *testing.T) {
	dev := NewMemoryDevice(256)
	volume, err := Format(dev, DefaultCacheCapacity)
	if err != nil {
		t.Fatalf("Format(): %v", err)
	}

	in, err := volume.Table().Open(volume.RootSector())
	if err != nil {
		t.Fatalf("Open(): %v", err)
	}
	if _, err := volume.Table().WriteAt(in, []byte("x"), 0); err != nil {
		t.Fatalf("WriteAt(): %v", err)
	}
	if err := volume.Table().Close(in); err != nil {
		t.Fatalf("Close(): %v", err)
	}

	ticker := NewManualTicker()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- volume.RunFlushLoop(ctx, ticker) }()

	ticker.Tick(time.Time{})

	// give the flush loop a chance to process the tick before stopping it;
	// this only synchronizes test shutdown, not the property under test.
	time.Sleep(10 * time.Millisecond)
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("RunFlushLoop(): %v", err)
	}

	var onDevice [SectorSize]byte
	if err := dev.ReadSector(RootSector, onDevice[:]); err != nil {
		t.Fatalf("reading device directly: %v", err)
	}
	disk, err := DecodeInodeDisk(RootSector, &onDevice)
	if err != nil {
		t.Fatalf("decoding root inode from device: %v", err)
	}
	if disk.Length != 1 {
		t.Fatalf("periodic flush did not reach the device: length `%d`", disk.Length)
	}
}
