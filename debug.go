package stbe

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

type DumpFlags uint64

const (
	DumpHeader = DumpFlags(1 << iota)
	DumpIndex
	DumpTrieNodes
	DumpRecords

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump writes a human-readable description of the file. It reads blocks
// through the cache and does not disturb sequential reading.
func (d *Decoder[R]) Dump(w io.Writer, f DumpFlags) error {
	if f.Contains(DumpHeader) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s: %d bytes, %d blocks, %d records, index at %d\n", d.options.DebugName, d.size, len(d.blocks), d.TotalRecords(), d.indexOff)
	}
	if f.Contains(DumpIndex) {
		for i, bi := range d.blocks {
			fmt.Fprintf(w, "block %d: offset = %d, records = %d, first = %d, cumulative = %d\n", i, bi.Offset, bi.Records, bi.First(), bi.Cumulative)
		}
	}
	if !f.Contains(DumpTrieNodes) && !f.Contains(DumpRecords) {
		return nil
	}
	for i, bi := range d.blocks {
		data, err := d.loadBlock(i)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, dumpSep2)
		fmt.Fprintf(w, "block %d (%d bytes)\n", i, len(data))
		if f.Contains(DumpTrieNodes) {
			if err := dumpTrieRegion(w, data); err != nil {
				return err
			}
		}
		if f.Contains(DumpRecords) {
			bd := BlockDecoder[R]{m: d.m}
			if err := bd.reset(data); err != nil {
				return err
			}
			for k := uint64(0); ; k++ {
				var r R
				err := bd.Next(&r)
				if err == io.EOF {
					break
				} else if err != nil {
					return err
				}
				fmt.Fprintf(w, "  #%d %s\n", bi.First()+k, loggableRecord(r))
			}
		}
	}
	return nil
}

func dumpTrieRegion(w io.Writer, block []byte) error {
	end, _, err := readFixed32(block, 0)
	if err != nil {
		return err
	}
	if int64(end) > int64(len(block)) {
		return dataErrf(block, 0, nil, "invalid record region offset %d", end)
	}
	off := blockHeaderSize
	for off < int(end) {
		pos := off
		parent, next, err := readUvarint32(block[:end], off)
		if err != nil {
			return err
		}
		frag, next, err := readVarbytes(block[:end], next)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  @%d parent=%d %q\n", pos, parent, frag)
		off = next
	}
	return nil
}

func loggableRecord(r any) string {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf("%v", r)
	}
	return string(raw)
}
