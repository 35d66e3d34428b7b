package stbe

import "io"

// blockHeaderSize is the fixed32 record-region offset at the start of every
// block. The trie root is serialized right after it.
const blockHeaderSize = fixed32Size

// BlockEncoder accumulates records for one block.
//
// Block layout: fixed32(record region offset) trie_region record_region.
type BlockEncoder[R any] struct {
	m       Marshaller[R]
	trie    Trie
	enc     ValueEncoder
	records []R
	starts  []int
	rstarts []int
}

func NewBlockEncoder[R any](m Marshaller[R]) *BlockEncoder[R] {
	be := &BlockEncoder[R]{m: m}
	be.Reset()
	return be
}

func (be *BlockEncoder[R]) Reset() {
	be.trie.Reset()
	clear(be.records)
	be.records = be.records[:0]
	be.starts = be.starts[:0]
	be.rstarts = be.rstarts[:0]
	clear(be.enc.raws)
	be.enc = ValueEncoder{trie: &be.trie, handles: be.enc.handles[:0], raws: be.enc.raws[:0]}
}

// Len returns the number of buffered records.
func (be *BlockEncoder[R]) Len() int {
	return len(be.records)
}

// Trie exposes the block's trie, e.g. for dumping.
func (be *BlockEncoder[R]) Trie() *Trie {
	return &be.trie
}

func (be *BlockEncoder[R]) Add(r R) {
	be.starts = append(be.starts, len(be.enc.handles))
	be.rstarts = append(be.rstarts, len(be.enc.raws))
	be.m.AddToTrie(&be.enc, &r)
	be.records = append(be.records, r)
}

// EstimatedSize approximates the encoded size of the block. Blobs added
// with AddRaw are counted exactly.
func (be *BlockEncoder[R]) EstimatedSize() int {
	return blockHeaderSize + be.trie.EstimatedSize() + be.enc.rawBytes + len(be.records)*be.m.AvgSize()
}

// Encode writes the block into buf, reusing its capacity; any previous
// contents of buf are discarded. Trie positions are offsets from the start of
// the returned slice.
func (be *BlockEncoder[R]) Encode(buf []byte) []byte {
	buf = appendFixed32(buf[:0], 0)
	buf = be.trie.Serialize(buf)
	recordsOff := len(buf)

	be.enc.buf = buf
	for i := range be.records {
		be.enc.base, be.enc.rawBase = be.starts[i], be.rstarts[i]
		if i+1 < len(be.starts) {
			be.enc.limit, be.enc.rawLimit = be.starts[i+1], be.rstarts[i+1]
		} else {
			be.enc.limit, be.enc.rawLimit = len(be.enc.handles), len(be.enc.raws)
		}
		be.m.Encode(&be.enc, &be.records[i])
	}
	buf = be.enc.buf
	be.enc.buf = nil

	putFixed32(buf, uint32(recordsOff))
	return buf
}

// BlockDecoder reads records sequentially from one encoded block.
type BlockDecoder[R any] struct {
	m   Marshaller[R]
	dec ValueDecoder
}

// NewBlockDecoder validates the block header and positions the decoder at
// the first record.
func NewBlockDecoder[R any](m Marshaller[R], block []byte) (*BlockDecoder[R], error) {
	bd := &BlockDecoder[R]{m: m}
	if err := bd.reset(block); err != nil {
		return nil, err
	}
	return bd, nil
}

func (bd *BlockDecoder[R]) reset(block []byte) error {
	if len(block) <= blockHeaderSize {
		return dataErrf(block, 0, nil, "block too short")
	}
	off, _, err := readFixed32(block, 0)
	if err != nil {
		return err
	}
	if off <= blockHeaderSize || int64(off) > int64(len(block)) {
		return dataErrf(block, 0, nil, "invalid record region offset %d", off)
	}
	bd.dec = ValueDecoder{block: block, off: int(off)}
	return nil
}

// Remaining reports whether there are unread bytes in the record region.
func (bd *BlockDecoder[R]) Remaining() bool {
	return bd.dec.off < len(bd.dec.block)
}

// Next decodes the next record into r. Returns io.EOF when the block is
// exhausted. On error r is left untouched.
func (bd *BlockDecoder[R]) Next(r *R) error {
	if !bd.Remaining() {
		return io.EOF
	}
	var tmp R
	save := bd.dec.off
	if err := bd.m.Decode(&bd.dec, &tmp); err != nil {
		bd.dec.off = save
		return err
	}
	*r = tmp
	return nil
}

// Skip advances past n records. Returns io.ErrUnexpectedEOF if the block
// holds fewer than n remaining records.
func (bd *BlockDecoder[R]) Skip(n int) error {
	for i := 0; i < n; i++ {
		if !bd.Remaining() {
			return io.ErrUnexpectedEOF
		}
		if err := bd.m.Skip(&bd.dec); err != nil {
			return err
		}
	}
	return nil
}
