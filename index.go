package stbe

import (
	"math"
	"sort"
)

// BlockInfo describes one data block listed in the index block.
type BlockInfo struct {
	// Offset is the file offset of the block's fixed32 length header.
	Offset uint32
	// Records is the number of records in the block.
	Records uint32
	// Cumulative is the number of records in this and all preceding blocks,
	// i.e. the exclusive upper bound of this block's global record indices.
	Cumulative uint64
}

// First returns the global index of the block's first record.
func (bi BlockInfo) First() uint64 {
	return bi.Cumulative - uint64(bi.Records)
}

// appendIndex encodes uvarint(count) then (uvarint offset, uvarint records)
// per block.
func appendIndex(buf []byte, blocks []BlockInfo) []byte {
	buf = appendUvarint(buf, uint64(len(blocks)))
	for _, b := range blocks {
		buf = appendUvarint(buf, uint64(b.Offset))
		buf = appendUvarint(buf, uint64(b.Records))
	}
	return buf
}

func parseIndex(data []byte, indexOff uint32) ([]BlockInfo, error) {
	count, off, err := readUvarint(data, 0)
	if err != nil {
		return nil, err
	}
	// every entry takes at least two bytes
	if count > uint64(len(data)-off)/2 {
		return nil, dataErrf(data, 0, nil, "index lists %d blocks, too many for %d bytes", count, len(data))
	}

	blocks := make([]BlockInfo, 0, int(count))
	var cum uint64
	var prevEnd uint64
	for i := uint64(0); i < count; i++ {
		var bi BlockInfo
		entryOff := off
		bi.Offset, off, err = readUvarint32(data, off)
		if err != nil {
			return nil, err
		}
		bi.Records, off, err = readUvarint32(data, off)
		if err != nil {
			return nil, err
		}
		if uint64(bi.Offset) < prevEnd || bi.Offset >= indexOff {
			return nil, dataErrf(data, entryOff, ErrCorrupted, "block %d offset %d out of order", i, bi.Offset)
		}
		prevEnd = uint64(bi.Offset) + fixed32Size
		if cum > math.MaxUint64-uint64(bi.Records) {
			return nil, dataErrf(data, entryOff, ErrCorrupted, "record count overflow")
		}
		cum += uint64(bi.Records)
		bi.Cumulative = cum
		blocks = append(blocks, bi)
	}
	if off != len(data) {
		return nil, dataErrf(data, off, nil, "%d trailing bytes after index", len(data)-off)
	}
	return blocks, nil
}

// findBlock returns the block holding global record index i, treating each
// block's cumulative count as an exclusive upper bound, or -1 if i is out of
// range.
func findBlock(blocks []BlockInfo, i uint64) int {
	b := sort.Search(len(blocks), func(k int) bool {
		return i < blocks[k].Cumulative
	})
	if b == len(blocks) {
		return -1
	}
	return b
}
