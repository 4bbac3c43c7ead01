package blockfs

import "encoding/binary"

// DecodeUint16 reads a little-endian uint16 from the first two bytes of b.
func DecodeUint16(b []byte) uint16 {
	return binary.LittleEndian.Uint16(b)
}

// DecodeUint32 reads a little-endian uint32 from the first four bytes of b.
func DecodeUint32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// EncodeUint16 writes x as a little-endian uint16 into the first two bytes
// of b.
func EncodeUint16(x uint16, b []byte) {
	binary.LittleEndian.PutUint16(b, x)
}

// EncodeUint32 writes x as a little-endian uint32 into the first four bytes
// of b.
func EncodeUint32(x uint32, b []byte) {
	binary.LittleEndian.PutUint32(b, x)
}
