package stbe

import "math"

// Marshaller maps a record type onto a block. String fields go through the
// trie and are written as back-references; everything else is written inline
// into the record region. AddToTrie, Encode, Decode and Skip must agree on
// the field order.
type Marshaller[R any] interface {
	// AvgSize estimates how many record-region bytes one record takes.
	AvgSize() int

	// AddToTrie inserts every string field of r via enc.AddString/AddBytes
	// and snapshots blobs that alias caller memory via enc.AddRaw. It runs
	// when the record is added, while Encode runs when the block is flushed.
	AddToTrie(enc *ValueEncoder, r *R)

	// Encode writes every field of r in order. String fields are written via
	// enc.EncodeString(k), where k counts the strings added by AddToTrie for
	// this record; blobs are written via enc.EncodeAddedRaw(k) likewise.
	Encode(enc *ValueEncoder, r *R)

	// Decode reads one record into r.
	Decode(dec *ValueDecoder, r *R) error

	// Skip consumes one record without materializing it.
	Skip(dec *ValueDecoder) error
}

// ValueEncoder is handed to a Marshaller while a block is being built.
type ValueEncoder struct {
	trie    *Trie
	handles []TrieHandle
	base    int
	limit   int

	raws     [][]byte
	rawBytes int
	rawBase  int
	rawLimit int

	buf []byte
}

func (enc *ValueEncoder) AddString(s string) {
	enc.handles = append(enc.handles, enc.trie.AddString(s))
}

func (enc *ValueEncoder) AddBytes(b []byte) {
	enc.handles = append(enc.handles, enc.trie.Add(b))
}

// AddRaw keeps a copy of b for the record being added, to be written later
// with EncodeAddedRaw.
func (enc *ValueEncoder) AddRaw(b []byte) {
	enc.raws = append(enc.raws, appendRaw(nil, b))
	enc.rawBytes += uvarintLen(uint64(len(b))) + len(b)
}

// EncodeAddedRaw writes the k-th blob that AddToTrie added for the record
// being encoded, inline and length-prefixed, bypassing the trie.
func (enc *ValueEncoder) EncodeAddedRaw(k int) {
	i := enc.rawBase + k
	if k < 0 || i >= enc.rawLimit {
		panic("stbe: EncodeAddedRaw index out of range of blobs added for this record")
	}
	enc.buf = appendVarbytes(enc.buf, enc.raws[i])
}

// EncodeString writes a back-reference to the k-th string that AddToTrie
// added for the record being encoded.
func (enc *ValueEncoder) EncodeString(k int) {
	i := enc.base + k
	if k < 0 || i >= enc.limit {
		panic("stbe: EncodeString index out of range of strings added for this record")
	}
	enc.buf = appendUvarint(enc.buf, uint64(enc.trie.Position(enc.handles[i])))
}

func (enc *ValueEncoder) EncodeUint32(v uint32) {
	enc.buf = appendUvarint(enc.buf, uint64(v))
}

func (enc *ValueEncoder) EncodeUint64(v uint64) {
	enc.buf = appendUvarint(enc.buf, v)
}

// EncodeInt64 writes a zigzag varint.
func (enc *ValueEncoder) EncodeInt64(v int64) {
	enc.buf = appendVarint(enc.buf, v)
}

// ValueDecoder reads records from a single block. The block is never
// modified; all returned strings and byte slices are copies.
type ValueDecoder struct {
	block []byte
	off   int
}

func (dec *ValueDecoder) DecodeString() (string, error) {
	b, err := dec.decodeTrieRef()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (dec *ValueDecoder) DecodeBytes() ([]byte, error) {
	return dec.decodeTrieRef()
}

func (dec *ValueDecoder) decodeTrieRef() ([]byte, error) {
	pos, next, err := readUvarint32(dec.block, dec.off)
	if err != nil {
		return nil, err
	}
	v, err := resolveString(dec.block, pos)
	if err != nil {
		return nil, err
	}
	dec.off = next
	return v, nil
}

func (dec *ValueDecoder) DecodeUint32() (uint32, error) {
	v, next, err := readUvarint32(dec.block, dec.off)
	if err != nil {
		return 0, err
	}
	dec.off = next
	return v, nil
}

func (dec *ValueDecoder) DecodeUint64() (uint64, error) {
	v, next, err := readUvarint(dec.block, dec.off)
	if err != nil {
		return 0, err
	}
	dec.off = next
	return v, nil
}

func (dec *ValueDecoder) DecodeInt64() (int64, error) {
	v, next, err := readVarint(dec.block, dec.off)
	if err != nil {
		return 0, err
	}
	dec.off = next
	return v, nil
}

func (dec *ValueDecoder) DecodeRaw() ([]byte, error) {
	v, next, err := readVarbytes(dec.block, dec.off)
	if err != nil {
		return nil, err
	}
	dec.off = next
	return append([]byte(nil), v...), nil
}

// SkipString consumes a back-reference without walking the trie.
func (dec *ValueDecoder) SkipString() error {
	_, next, err := readUvarint32(dec.block, dec.off)
	if err != nil {
		return err
	}
	dec.off = next
	return nil
}

func (dec *ValueDecoder) SkipUint() error {
	_, next, err := readUvarint(dec.block, dec.off)
	if err != nil {
		return err
	}
	dec.off = next
	return nil
}

func (dec *ValueDecoder) SkipInt() error {
	_, next, err := readVarint(dec.block, dec.off)
	if err != nil {
		return err
	}
	dec.off = next
	return nil
}

func (dec *ValueDecoder) SkipRaw() error {
	_, next, err := readVarbytes(dec.block, dec.off)
	if err != nil {
		return err
	}
	dec.off = next
	return nil
}

// resolveString rebuilds the value ending at trie position pos by following
// parent positions towards the root. The walk stops once a position falls
// within the block header, which is where the root lives.
func resolveString(block []byte, pos uint32) ([]byte, error) {
	type piece struct {
		off, n int
	}
	var stack [16]piece
	pieces := stack[:0]
	total := 0

	p := pos
	for p > blockHeaderSize {
		parent, off, err := readUvarint32(block, int(p))
		if err != nil {
			return nil, err
		}
		if parent >= p {
			return nil, dataErrf(block, int(p), nil, "trie node parent %d does not precede node", parent)
		}
		n, off, err := readUvarinti(block, off)
		if err != nil {
			return nil, err
		}
		if n > len(block)-off {
			return nil, dataErrf(block, off, nil, "trie fragment of %d bytes overruns block", n)
		}
		if total > math.MaxInt-n {
			return nil, dataErrf(block, off, nil, "trie value too long")
		}
		pieces = append(pieces, piece{off, n})
		total += n
		p = parent
	}

	v := make([]byte, 0, total)
	for i := len(pieces) - 1; i >= 0; i-- {
		v = append(v, block[pieces[i].off:pieces[i].off+pieces[i].n]...)
	}
	return v, nil
}

// StringMarshaller stores plain strings.
type StringMarshaller struct{}

func (StringMarshaller) AvgSize() int { return avgVarintSize }

func (StringMarshaller) AddToTrie(enc *ValueEncoder, r *string) { enc.AddString(*r) }

func (StringMarshaller) Encode(enc *ValueEncoder, r *string) { enc.EncodeString(0) }

func (StringMarshaller) Decode(dec *ValueDecoder, r *string) error {
	v, err := dec.DecodeString()
	if err != nil {
		return err
	}
	*r = v
	return nil
}

func (StringMarshaller) Skip(dec *ValueDecoder) error { return dec.SkipString() }

// BytesMarshaller stores byte strings.
type BytesMarshaller struct{}

func (BytesMarshaller) AvgSize() int { return avgVarintSize }

func (BytesMarshaller) AddToTrie(enc *ValueEncoder, r *[]byte) { enc.AddBytes(*r) }

func (BytesMarshaller) Encode(enc *ValueEncoder, r *[]byte) { enc.EncodeString(0) }

func (BytesMarshaller) Decode(dec *ValueDecoder, r *[]byte) error {
	v, err := dec.DecodeBytes()
	if err != nil {
		return err
	}
	*r = v
	return nil
}

func (BytesMarshaller) Skip(dec *ValueDecoder) error { return dec.SkipString() }
