package stbe

import (
	"encoding/binary"
	"math"
)

const fixed32Size = 4

func ensureCapacity(buf []byte, minCap int) []byte {
	c := cap(buf)
	if minCap > c {
		if c < 16 {
			c = 16
		}
		for minCap > c {
			c <<= 1
		}
		old := buf
		buf = make([]byte, len(old), c)
		copy(buf, old)
	}
	return buf
}

func grow(buf []byte, n int) (int, []byte) {
	off := len(buf)
	newLen := off + n
	buf = ensureCapacity(buf, newLen)
	return off, buf[:newLen]
}

func appendRaw(buf []byte, chunk []byte) []byte {
	n := len(chunk)
	off, buf := grow(buf, n)
	copy(buf[off:], chunk)
	return buf
}

func appendFixed32(buf []byte, v uint32) []byte {
	off, buf := grow(buf, fixed32Size)
	binary.LittleEndian.PutUint32(buf[off:], v)
	return buf
}

func putFixed32(buf []byte, v uint32) {
	binary.LittleEndian.PutUint32(buf, v)
}

func appendUvarint(buf []byte, v uint64) []byte {
	off, buf := grow(buf, binary.MaxVarintLen64)
	off += binary.PutUvarint(buf[off:], v)
	return buf[:off]
}

func appendVarint(buf []byte, v int64) []byte {
	off, buf := grow(buf, binary.MaxVarintLen64)
	off += binary.PutVarint(buf[off:], v)
	return buf[:off]
}

func appendVarbytes(buf []byte, v []byte) []byte {
	n := len(v)
	off, buf := grow(buf, binary.MaxVarintLen64+n)
	off += binary.PutUvarint(buf[off:], uint64(n))
	copy(buf[off:], v)
	return buf[:off+n]
}

func uvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// The read helpers below never mutate their input; each returns the offset
// just past the value it consumed, and the caller reassigns its cursor.

func readFixed32(buf []byte, off int) (uint32, int, error) {
	if off < 0 || off > len(buf)-fixed32Size {
		return 0, off, dataErrf(buf, off, nil, "not enough data for fixed32")
	}
	return binary.LittleEndian.Uint32(buf[off:]), off + fixed32Size, nil
}

func readUvarint(buf []byte, off int) (uint64, int, error) {
	if off < 0 || off >= len(buf) {
		return 0, off, dataErrf(buf, off, nil, "uvarint out of bounds")
	}
	v, n := binary.Uvarint(buf[off:])
	if n <= 0 {
		return 0, off, dataErrf(buf, off, nil, "invalid uvarint")
	}
	return v, off + n, nil
}

func readUvarint32(buf []byte, off int) (uint32, int, error) {
	v, next, err := readUvarint(buf, off)
	if err != nil {
		return 0, off, err
	}
	if v > math.MaxUint32 {
		return 0, off, dataErrf(buf, off, nil, "value does not fit into uint32: %d", v)
	}
	return uint32(v), next, nil
}

func readUvarinti(buf []byte, off int) (int, int, error) {
	v, next, err := readUvarint(buf, off)
	if err != nil {
		return 0, off, err
	}
	if v > math.MaxInt {
		return 0, off, dataErrf(buf, off, nil, "value does not fit into int: %d", v)
	}
	return int(v), next, nil
}

func readVarint(buf []byte, off int) (int64, int, error) {
	if off < 0 || off >= len(buf) {
		return 0, off, dataErrf(buf, off, nil, "varint out of bounds")
	}
	v, n := binary.Varint(buf[off:])
	if n <= 0 {
		return 0, off, dataErrf(buf, off, nil, "invalid varint")
	}
	return v, off + n, nil
}

func readRaw(buf []byte, off int, n int) ([]byte, int, error) {
	if n < 0 || off < 0 || off > len(buf) || len(buf)-off < n {
		return nil, off, dataErrf(buf, off, nil, "not enough data: %d bytes remaining, %d wanted", len(buf)-off, n)
	}
	return buf[off : off+n], off + n, nil
}

func readVarbytes(buf []byte, off int) ([]byte, int, error) {
	n, next, err := readUvarinti(buf, off)
	if err != nil {
		return nil, off, err
	}
	v, next, err := readRaw(buf, next, n)
	if err != nil {
		return nil, off, err
	}
	return v, next, nil
}
