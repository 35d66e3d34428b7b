package stbe

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/andreyvit/stbe/mmap"
)

// DefaultBlockSize is the estimated block size at which Builder starts a new
// block.
const DefaultBlockSize = 4 * 1024 * 1024

type Options struct {
	Context   context.Context
	BlockSize int  // flush a block once its estimated size reaches this
	Sync      bool // fdatasync the file in Finalize (Create only)
	DebugName string

	Logger  *slog.Logger
	Verbose bool
}

func (o *Options) setDefaults() {
	if o.Context == nil {
		o.Context = context.Background()
	}
	if o.BlockSize <= 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.DebugName == "" {
		o.DebugName = "stbe"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// BuilderStats summarizes what a Builder has written so far.
type BuilderStats struct {
	Blocks   int
	Records  uint64
	Bytes    uint64
	Checksum uint64 // xxhash64 of every byte written
}

// Builder writes records into a new file, one block at a time, then appends
// the index block and the footer in Finalize.
//
// File layout: (fixed32 len, block)* fixed32 len, index, fixed32 index offset.
type Builder[R any] struct {
	m         Marshaller[R]
	be        *BlockEncoder[R]
	f         *os.File
	w         *bufio.Writer
	options   Options
	blocks    []BlockInfo
	records   uint64
	off       uint64
	hash      xxhash.Digest
	buf       []byte
	err       error
	finalized bool
}

// Create truncates or creates the file at path and returns a Builder writing
// into it. Finalize closes the file.
func Create[R any](path string, m Marshaller[R], o Options) (*Builder[R], error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o666)
	if err != nil {
		return nil, err
	}
	b := NewBuilder(f, m, o)
	b.f = f
	return b, nil
}

// NewBuilder returns a Builder writing into w. The caller keeps ownership of
// w; Finalize flushes but does not close it.
func NewBuilder[R any](w io.Writer, m Marshaller[R], o Options) *Builder[R] {
	o.setDefaults()
	b := &Builder[R]{
		m:       m,
		be:      NewBlockEncoder(m),
		w:       bufio.NewWriterSize(w, 64*1024),
		options: o,
	}
	b.hash.Reset()
	return b
}

func (b *Builder[R]) String() string {
	return b.options.DebugName
}

// Add buffers r in the current block and flushes the block once its
// estimated size reaches Options.BlockSize.
func (b *Builder[R]) Add(r R) error {
	if b.finalized {
		return ErrFinalized
	}
	if b.err != nil {
		return b.err
	}
	b.be.Add(r)
	b.records++
	if b.be.EstimatedSize() >= b.options.BlockSize {
		return b.Flush()
	}
	return nil
}

func (b *Builder[R]) AddAll(rs ...R) error {
	for _, r := range rs {
		if err := b.Add(r); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes the pending block, if any, and starts a new one.
func (b *Builder[R]) Flush() error {
	if b.finalized {
		return ErrFinalized
	}
	if b.err != nil {
		return b.err
	}
	n := b.be.Len()
	if n == 0 {
		return nil
	}
	if b.off > math.MaxUint32 {
		return b.fail(fmt.Errorf("%v: file exceeds 4 GiB", b.options.DebugName))
	}

	estimated := b.be.EstimatedSize()
	trieNodes := b.be.Trie().Len()
	b.buf = b.be.Encode(b.buf)
	if uint64(len(b.buf)) > math.MaxUint32 {
		return b.fail(fmt.Errorf("%v: block of %d bytes exceeds 4 GiB", b.options.DebugName, len(b.buf)))
	}

	bi := BlockInfo{
		Offset:  uint32(b.off),
		Records: uint32(n),
	}
	var hdr [fixed32Size]byte
	putFixed32(hdr[:], uint32(len(b.buf)))
	if err := b.write(hdr[:]); err != nil {
		return b.fail(err)
	}
	if err := b.write(b.buf); err != nil {
		return b.fail(err)
	}
	bi.Cumulative = b.cumulative() + uint64(n)
	b.blocks = append(b.blocks, bi)

	if b.options.Verbose {
		b.options.Logger.LogAttrs(b.options.Context, slog.LevelDebug, "stbe: flushed block",
			slog.String("stbe", b.options.DebugName),
			slog.Int("block", len(b.blocks)-1),
			slog.Uint64("offset", uint64(bi.Offset)),
			slog.Int("records", n),
			slog.Int("trie_nodes", trieNodes),
			slog.Int("size", len(b.buf)),
			slog.Int("estimated", estimated))
	}

	b.be.Reset()
	return nil
}

// Finalize flushes the pending block, writes the index block and the footer,
// and closes the file if the Builder owns one. No records can be added
// afterwards.
func (b *Builder[R]) Finalize() error {
	if b.finalized {
		return ErrFinalized
	}
	if err := b.Flush(); err != nil {
		return err
	}
	if b.off > math.MaxUint32 {
		return b.fail(fmt.Errorf("%v: file exceeds 4 GiB", b.options.DebugName))
	}
	indexOff := uint32(b.off)

	b.buf = appendIndex(appendFixed32(b.buf[:0], 0), b.blocks)
	putFixed32(b.buf, uint32(len(b.buf)-fixed32Size))
	b.buf = appendFixed32(b.buf, indexOff)
	if err := b.write(b.buf); err != nil {
		return b.fail(err)
	}
	if err := b.w.Flush(); err != nil {
		return b.fail(err)
	}
	b.finalized = true

	if b.options.Verbose {
		b.options.Logger.LogAttrs(b.options.Context, slog.LevelInfo, "stbe: finalized",
			slog.String("stbe", b.options.DebugName),
			slog.Int("blocks", len(b.blocks)),
			slog.Uint64("records", b.records),
			slog.Uint64("bytes", b.off))
	}

	if b.f != nil {
		f := b.f
		b.f = nil
		if b.options.Sync {
			if err := mmap.Fdatasync(f, nil); err != nil {
				f.Close()
				return err
			}
		}
		return f.Close()
	}
	return nil
}

// Abort stops the Builder without writing the index, closing the file if the
// Builder owns one. The output is left incomplete; Create callers should
// remove it. Later calls return ErrFinalized.
func (b *Builder[R]) Abort() error {
	if b.finalized {
		return ErrFinalized
	}
	b.finalized = true
	b.be.Reset()
	if b.f != nil {
		f := b.f
		b.f = nil
		return f.Close()
	}
	return nil
}

// Blocks returns the index entries of the blocks flushed so far.
func (b *Builder[R]) Blocks() []BlockInfo {
	return b.blocks
}

func (b *Builder[R]) Stats() BuilderStats {
	return BuilderStats{
		Blocks:   len(b.blocks),
		Records:  b.records,
		Bytes:    b.off,
		Checksum: b.hash.Sum64(),
	}
}

func (b *Builder[R]) cumulative() uint64 {
	if len(b.blocks) == 0 {
		return 0
	}
	return b.blocks[len(b.blocks)-1].Cumulative
}

func (b *Builder[R]) write(p []byte) error {
	n, err := b.w.Write(p)
	b.hash.Write(p[:n])
	b.off += uint64(n)
	return err
}

func (b *Builder[R]) fail(err error) error {
	if err == nil {
		return nil
	}
	b.options.Logger.LogAttrs(b.options.Context, slog.LevelError, "stbe: write failed",
		slog.String("stbe", b.options.DebugName), slog.Any("err", err))
	if b.err == nil {
		b.err = err
	}
	if b.f != nil {
		b.f.Close()
		b.f = nil
	}
	return err
}
