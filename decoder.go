package stbe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/andreyvit/stbe/mmap"
)

const (
	footerSize = fixed32Size

	// index block header + a zero block count + footer
	minFileSize = fixed32Size + 1 + footerSize

	DefaultCacheBlocks = 8
)

type DecoderOptions struct {
	Context     context.Context
	CacheBlocks int  // number of decoded blocks kept in memory
	Mmap        bool // map the file instead of reading blocks with ReadAt (Open only)
	Sequential  bool // hint that the mapping will be read front to back
	Prefault    bool // load the whole mapping into memory upfront
	DebugName   string

	Logger  *slog.Logger
	Verbose bool
}

func (o *DecoderOptions) mapOptions() mmap.Options {
	opt := mmap.RandomAccess
	if o.Sequential {
		opt = mmap.SequentialAccess
	}
	if o.Prefault {
		opt |= mmap.Prefault
	}
	return opt
}

func (o *DecoderOptions) setDefaults() {
	if o.Context == nil {
		o.Context = context.Background()
	}
	if o.CacheBlocks <= 0 {
		o.CacheBlocks = DefaultCacheBlocks
	}
	if o.DebugName == "" {
		o.DebugName = "stbe"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Decoder reads a finalized file sequentially (Next) or by global record
// index (At). A Decoder is not safe for concurrent use.
type Decoder[R any] struct {
	m        Marshaller[R]
	r        io.ReaderAt
	size     int64
	f        *os.File
	mapped   []byte
	options  DecoderOptions
	blocks   []BlockInfo
	indexOff uint32
	cache    *lru.Cache[int, []byte]
	closed   bool

	cur      int
	hasBlock bool
	bd       BlockDecoder[R]
}

// Open opens a file written by Builder.
func Open[R any](path string, m Marshaller[R], o DecoderOptions) (*Decoder[R], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var ok bool
	defer closeUnlessOK(f, &ok)

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := st.Size()

	var r io.ReaderAt = f
	var mapped []byte
	if o.Mmap && size > 0 {
		mapped, err = mmap.Map(f, int(size), o.mapOptions())
		if errors.Is(err, mmap.ErrUnsupported) {
			mapped = nil
		} else if err != nil {
			return nil, fmt.Errorf("stbe: %w", err)
		} else {
			r = bytes.NewReader(mapped)
		}
	}

	d, err := NewDecoder(r, size, m, o)
	if err != nil {
		if mapped != nil {
			mmap.Unmap(mapped)
		}
		return nil, fmt.Errorf("stbe: %s: %w", path, err)
	}
	d.mapped = mapped
	if mapped != nil {
		f.Close()
	} else {
		d.f = f
	}
	ok = true
	return d, nil
}

// NewDecoder reads the footer and the index block of a file of the given size
// accessible through r. The caller keeps ownership of r.
func NewDecoder[R any](r io.ReaderAt, size int64, m Marshaller[R], o DecoderOptions) (*Decoder[R], error) {
	o.setDefaults()
	cache, err := lru.New[int, []byte](o.CacheBlocks)
	if err != nil {
		return nil, err
	}
	d := &Decoder[R]{
		m:       m,
		r:       r,
		size:    size,
		options: o,
		cache:   cache,
		cur:     -1,
		bd:      BlockDecoder[R]{m: m},
	}
	if err := d.loadIndex(); err != nil {
		return nil, err
	}
	if o.Verbose {
		o.Logger.LogAttrs(o.Context, slog.LevelDebug, "stbe: opened",
			slog.String("stbe", o.DebugName),
			slog.Int64("size", size),
			slog.Int("blocks", len(d.blocks)),
			slog.Int("records", d.TotalRecords()))
	}
	return d, nil
}

func (d *Decoder[R]) loadIndex() error {
	if d.size < minFileSize {
		return corruptedf("file of %d bytes is too short", d.size)
	}
	if d.size > int64(^uint32(0))+footerSize {
		return corruptedf("file of %d bytes is too large", d.size)
	}
	footerOff := d.size - footerSize

	var buf [fixed32Size]byte
	if err := d.readAt(buf[:], footerOff); err != nil {
		return err
	}
	indexOff, _, _ := readFixed32(buf[:], 0)
	if int64(indexOff)+fixed32Size > footerOff {
		return corruptedf("index offset %d out of range", indexOff)
	}

	if err := d.readAt(buf[:], int64(indexOff)); err != nil {
		return err
	}
	indexLen, _, _ := readFixed32(buf[:], 0)
	if int64(indexOff)+fixed32Size+int64(indexLen) != footerOff {
		return corruptedf("index block of %d bytes at %d does not end at the footer", indexLen, indexOff)
	}

	data := make([]byte, indexLen)
	if err := d.readAt(data, int64(indexOff)+fixed32Size); err != nil {
		return err
	}
	blocks, err := parseIndex(data, indexOff)
	if err != nil {
		return err
	}
	d.blocks = blocks
	d.indexOff = indexOff
	return nil
}

func (d *Decoder[R]) readAt(p []byte, off int64) error {
	n, err := d.r.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == io.EOF || err == nil {
		return corruptedf("unexpected end of file reading %d bytes at %d", len(p), off)
	}
	return err
}

func (d *Decoder[R]) String() string {
	return d.options.DebugName
}

// TotalRecords returns the number of records in the file.
func (d *Decoder[R]) TotalRecords() int {
	if len(d.blocks) == 0 {
		return 0
	}
	return int(d.blocks[len(d.blocks)-1].Cumulative)
}

func (d *Decoder[R]) NumBlocks() int {
	return len(d.blocks)
}

// Blocks returns the parsed index. The slice must not be modified.
func (d *Decoder[R]) Blocks() []BlockInfo {
	return d.blocks
}

// IndexOffset returns the file offset of the index block.
func (d *Decoder[R]) IndexOffset() uint32 {
	return d.indexOff
}

// loadBlock returns the bytes of block b (without its length header). The
// returned slice is shared with the cache and must not be modified.
func (d *Decoder[R]) loadBlock(b int) ([]byte, error) {
	if d.closed {
		return nil, os.ErrClosed
	}
	if data, ok := d.cache.Get(b); ok {
		return data, nil
	}

	bi := d.blocks[b]
	limit := uint64(d.indexOff)
	if b+1 < len(d.blocks) {
		limit = uint64(d.blocks[b+1].Offset)
	}

	var hdr [fixed32Size]byte
	if err := d.readAt(hdr[:], int64(bi.Offset)); err != nil {
		return nil, err
	}
	n, _, _ := readFixed32(hdr[:], 0)
	start := uint64(bi.Offset) + fixed32Size
	if start+uint64(n) > limit {
		return nil, corruptedf("block %d at %d declares %d bytes, only %d available", b, bi.Offset, n, limit-start)
	}

	var data []byte
	if d.mapped != nil {
		data = d.mapped[start : start+uint64(n) : start+uint64(n)]
	} else {
		data = make([]byte, n)
		if err := d.readAt(data, int64(start)); err != nil {
			return nil, err
		}
	}
	d.cache.Add(b, data)

	if d.options.Verbose {
		d.options.Logger.LogAttrs(d.options.Context, slog.LevelDebug, "stbe: loaded block",
			slog.String("stbe", d.options.DebugName),
			slog.Int("block", b),
			slog.Uint64("offset", uint64(bi.Offset)),
			slog.Uint64("size", uint64(n)))
	}
	return data, nil
}

func (d *Decoder[R]) openBlock(b int) error {
	data, err := d.loadBlock(b)
	if err != nil {
		return err
	}
	if err := d.bd.reset(data); err != nil {
		d.hasBlock = false
		return err
	}
	d.cur = b
	d.hasBlock = true
	return nil
}

// Next decodes the next record into r, moving on to the following block when
// the current one is exhausted. Returns io.EOF after the last record.
func (d *Decoder[R]) Next(r *R) error {
	if d.closed {
		return os.ErrClosed
	}
	for {
		if d.hasBlock {
			err := d.bd.Next(r)
			if err != io.EOF {
				return err
			}
		}
		next := d.cur + 1
		if next >= len(d.blocks) {
			return io.EOF
		}
		if err := d.openBlock(next); err != nil {
			return err
		}
	}
}

// Skip advances past n records of the current block; it never moves to
// another block. Before the first Next, the current block is the first one.
func (d *Decoder[R]) Skip(n int) error {
	if d.closed {
		return os.ErrClosed
	}
	if !d.hasBlock {
		if d.cur+1 >= len(d.blocks) {
			if n == 0 {
				return nil
			}
			return io.ErrUnexpectedEOF
		}
		if err := d.openBlock(d.cur + 1); err != nil {
			return err
		}
	}
	return d.bd.Skip(n)
}

// Reset rewinds sequential reading to the first record.
func (d *Decoder[R]) Reset() {
	d.cur = -1
	d.hasBlock = false
}

// At returns the i-th record of the file. An out-of-range i yields the zero
// record and a nil error. At does not affect the position used by Next.
func (d *Decoder[R]) At(i int) (R, error) {
	var zero R
	if d.closed {
		return zero, os.ErrClosed
	}
	if i < 0 {
		return zero, nil
	}
	b := findBlock(d.blocks, uint64(i))
	if b < 0 {
		return zero, nil
	}
	data, err := d.loadBlock(b)
	if err != nil {
		return zero, err
	}

	bd := BlockDecoder[R]{m: d.m}
	if err := bd.reset(data); err != nil {
		return zero, err
	}
	if err := bd.Skip(i - int(d.blocks[b].First())); err != nil {
		if err == io.ErrUnexpectedEOF {
			return zero, corruptedf("block %d holds fewer records than indexed", b)
		}
		return zero, err
	}
	var r R
	if err := bd.Next(&r); err != nil {
		if err == io.EOF {
			return zero, corruptedf("block %d holds fewer records than indexed", b)
		}
		return zero, err
	}
	return r, nil
}

// Checksum returns the xxhash64 of the whole file, matching
// BuilderStats.Checksum of the Builder that wrote it.
func (d *Decoder[R]) Checksum() (uint64, error) {
	if d.closed {
		return 0, os.ErrClosed
	}
	h := xxhash.New()
	if _, err := io.Copy(h, io.NewSectionReader(d.r, 0, d.size)); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

// Close releases the file or the mapping opened by Open. Decoders created
// with NewDecoder have nothing to release. Reads after Close return
// os.ErrClosed.
func (d *Decoder[R]) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.r = nil
	d.cache.Purge()
	d.hasBlock = false
	d.bd = BlockDecoder[R]{m: d.m}
	var err error
	if d.mapped != nil {
		err = mmap.Unmap(d.mapped)
		d.mapped = nil
	}
	if d.f != nil {
		if e := d.f.Close(); err == nil {
			err = e
		}
		d.f = nil
	}
	return err
}

func closeUnlessOK(f *os.File, ok *bool) {
	if *ok {
		return
	}
	f.Close()
}
