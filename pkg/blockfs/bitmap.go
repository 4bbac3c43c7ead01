package blockfs

// DynamicBitmap is a flat byte slice treated as one bit per resource,
// least-significant bit first within each byte.
type DynamicBitmap []byte

// FindZeroBit scans from the start of the bitmap for the first clear bit.
func (bitmap DynamicBitmap) FindZeroBit() (uint64, uint64, bool) {
	for byt := 0; byt < len(bitmap); byt++ {
		if bitmap[byt] == 0xff {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if (bitmap[byt] & (1 << bit)) == 0 {
				return uint64(byt), uint64(bit), true
			}
		}
	}
	return 0, 0, false
}

// FindZeroBitAfter scans starting at the given bit index (inclusive),
// wrapping is not performed — callers that want a round-robin scan do it
// themselves across two FindZeroBit-style calls. bit may be at or past
// len(bitmap)*8 (the scan cursor can run off the end once the bitmap has
// been filled to capacity); that falls back to a scan from the start
// instead of indexing past the slice.
func (bitmap DynamicBitmap) FindZeroBitAfter(bit uint64) (uint64, uint64, bool) {
	byt := bit / 8
	if byt >= uint64(len(bitmap)) {
		return bitmap.FindZeroBit()
	}
	if bitmap[byt] != 0xff {
		for b := bit % 8; b < 8; b++ {
			if (bitmap[byt] & (1 << b)) == 0 {
				return byt, b, true
			}
		}
	}
	for byt := (bit / 8) + 1; byt < uint64(len(bitmap)); byt++ {
		if bitmap[byt] != 0xff {
			for b := 0; b < 8; b++ {
				if (bitmap[byt] & (1 << b)) == 0 {
					return byt, uint64(b), true
				}
			}
		}
	}
	return 0, 0, false
}

// SetBit marks the given bit as in-use.
func (bitmap DynamicBitmap) SetBit(byt, bit uint64) {
	bitmap[byt] |= 1 << bit
}

// ClearBit marks the given bit as free. Not present in the teacher's
// read/grow-only ext2 reader; this module needs it for Release.
func (bitmap DynamicBitmap) ClearBit(byt, bit uint64) {
	bitmap[byt] &^= 1 << bit
}

// TestBit reports whether the given bit is currently set.
func (bitmap DynamicBitmap) TestBit(byt, bit uint64) bool {
	return bitmap[byt]&(1<<bit) != 0
}
