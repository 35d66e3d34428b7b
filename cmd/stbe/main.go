package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fulldump/goconfig"
	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/andreyvit/stbe"
)

type Config struct {
	Mode      string `usage:"build | dump | get | trie | stats"`
	In        string `usage:"input text file, one record per line (default stdin)"`
	Out       string `usage:"output file for build"`
	File      string `usage:"file to read for dump, get and stats"`
	Bolt      string `usage:"build from a Bolt database instead of text lines"`
	Buckets   string `usage:"comma-separated Bolt buckets to export"`
	Entries   bool   `usage:"file holds Bolt entries rather than lines"`
	Sort      bool   `usage:"sort and deduplicate lines before building"`
	BlockSize int    `usage:"estimated block size in bytes"`
	Index     int    `usage:"record number for get"`
	Dump      string `usage:"what to dump: comma-separated header, index, trie, records or all"`
	Mmap      bool   `usage:"map the file into memory when reading"`
	Prefault  bool   `usage:"load the whole mapped file upfront"`
	Sync      bool   `usage:"fdatasync the output file"`
	Verbose   bool   `usage:"log block-level activity"`
}

func main() {
	c := Config{
		Mode:      "stats",
		BlockSize: stbe.DefaultBlockSize,
		Dump:      "all",
	}
	goconfig.Read(&c)

	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	var err error
	switch strings.ToLower(c.Mode) {
	case "build":
		err = runBuild(c, logger)
	case "dump":
		err = runDump(c, logger)
	case "get":
		err = runGet(c, logger)
	case "trie":
		err = runTrie(c)
	case "stats":
		err = runStats(c, logger)
	default:
		err = fmt.Errorf("unknown mode %q", c.Mode)
	}
	if err != nil {
		logger.Error("stbe failed", "mode", c.Mode, "err", err)
		os.Exit(1)
	}
}

func runBuild(c Config, logger *slog.Logger) error {
	if c.Out == "" {
		return errors.New("-out is required")
	}
	opt := stbe.Options{
		BlockSize: c.BlockSize,
		Sync:      c.Sync,
		DebugName: c.Out,
		Logger:    logger,
		Verbose:   c.Verbose,
	}

	if c.Bolt != "" {
		return buildFromBolt(c, opt, logger)
	}

	lines, err := readLines(c.In)
	if err != nil {
		return err
	}
	if c.Sort {
		lines = sortUnique(lines)
	}

	b, err := stbe.Create(c.Out, stbe.StringMarshaller{}, opt)
	if err != nil {
		return err
	}
	if err := b.AddAll(lines...); err != nil {
		return discard(b, c.Out, err)
	}
	if err := b.Finalize(); err != nil {
		return discard(b, c.Out, err)
	}
	stats := b.Stats()
	logger.Info("built", "file", c.Out, "records", stats.Records, "blocks", stats.Blocks, "bytes", stats.Bytes, "checksum", fmt.Sprintf("%016x", stats.Checksum))
	return nil
}

func buildFromBolt(c Config, opt stbe.Options, logger *slog.Logger) error {
	if c.Buckets == "" {
		return errors.New("-buckets is required with -bolt")
	}
	bdb, err := bbolt.Open(c.Bolt, 0o666, &bbolt.Options{ReadOnly: true})
	if err != nil {
		return err
	}
	defer bdb.Close()

	b, err := stbe.Create(c.Out, stbe.EntryMarshaller{}, opt)
	if err != nil {
		return err
	}
	n, err := stbe.ExportBolt(bdb, b, strings.Split(c.Buckets, ",")...)
	if err != nil {
		return discard(b, c.Out, err)
	}
	if err := b.Finalize(); err != nil {
		return discard(b, c.Out, err)
	}
	logger.Info("exported", "bolt", c.Bolt, "file", c.Out, "entries", n, "blocks", b.Stats().Blocks)
	return nil
}

// discard drops a partially written output file.
func discard[R any](b *stbe.Builder[R], path string, err error) error {
	b.Abort()
	if e := os.Remove(path); e != nil && !errors.Is(e, os.ErrNotExist) {
		return errors.Join(err, e)
	}
	return err
}

func runDump(c Config, logger *slog.Logger) error {
	flags, err := parseDumpFlags(c.Dump)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	if c.Entries {
		return withSequentialDecoder(c, logger, stbe.EntryMarshaller{}, func(d *stbe.Decoder[stbe.Entry]) error {
			return d.Dump(w, flags)
		})
	}
	return withSequentialDecoder(c, logger, stbe.StringMarshaller{}, func(d *stbe.Decoder[string]) error {
		return d.Dump(w, flags)
	})
}

func runGet(c Config, logger *slog.Logger) error {
	if c.Entries {
		return withDecoder(c, logger, stbe.EntryMarshaller{}, func(d *stbe.Decoder[stbe.Entry]) error {
			e, err := d.At(c.Index)
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%s\t%s\n", e.Bucket, e.Key, e.Value)
			return nil
		})
	}
	return withDecoder(c, logger, stbe.StringMarshaller{}, func(d *stbe.Decoder[string]) error {
		s, err := d.At(c.Index)
		if err != nil {
			return err
		}
		fmt.Println(s)
		return nil
	})
}

func runStats(c Config, logger *slog.Logger) error {
	return withSequentialDecoder(c, logger, stbe.StringMarshaller{}, func(d *stbe.Decoder[string]) error {
		sum, err := d.Checksum()
		if err != nil {
			return err
		}
		fmt.Printf("records:  %d\n", d.TotalRecords())
		fmt.Printf("blocks:   %d\n", d.NumBlocks())
		fmt.Printf("index at: %d\n", d.IndexOffset())
		fmt.Printf("checksum: %016x\n", sum)
		return nil
	})
}

func runTrie(c Config) error {
	lines, err := readLines(c.In)
	if err != nil {
		return err
	}
	t := stbe.NewTrie()
	for _, s := range lines {
		t.AddString(s)
	}
	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	t.Dump(w)
	fmt.Fprintf(w, "nodes = %d, fragment bytes = %d, estimated size = %d\n", t.Len(), t.FragmentBytes(), t.EstimatedSize())
	return nil
}

func withDecoder[R any](c Config, logger *slog.Logger, m stbe.Marshaller[R], f func(d *stbe.Decoder[R]) error) error {
	return withDecoderOptions(c, logger, m, false, f)
}

// withSequentialDecoder opens the file for a front-to-back pass.
func withSequentialDecoder[R any](c Config, logger *slog.Logger, m stbe.Marshaller[R], f func(d *stbe.Decoder[R]) error) error {
	return withDecoderOptions(c, logger, m, true, f)
}

func withDecoderOptions[R any](c Config, logger *slog.Logger, m stbe.Marshaller[R], sequential bool, f func(d *stbe.Decoder[R]) error) error {
	if c.File == "" {
		return errors.New("-file is required")
	}
	d, err := stbe.Open(c.File, m, stbe.DecoderOptions{
		Mmap:       c.Mmap,
		Sequential: sequential,
		Prefault:   c.Prefault,
		DebugName:  c.File,
		Logger:     logger,
		Verbose:    c.Verbose,
	})
	if err != nil {
		return err
	}
	defer d.Close()
	return f(d)
}

func parseDumpFlags(s string) (stbe.DumpFlags, error) {
	var flags stbe.DumpFlags
	for _, part := range strings.Split(s, ",") {
		switch strings.TrimSpace(part) {
		case "header":
			flags |= stbe.DumpHeader
		case "index":
			flags |= stbe.DumpIndex
		case "trie":
			flags |= stbe.DumpTrieNodes
		case "records":
			flags |= stbe.DumpRecords
		case "all":
			flags |= stbe.DumpAll
		case "":
		default:
			return 0, fmt.Errorf("unknown dump section %q", part)
		}
	}
	return flags, nil
}

func readLines(path string) ([]string, error) {
	var r io.Reader = os.Stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

func sortUnique(lines []string) []string {
	tree := btree.NewOrderedG[string](32)
	for _, s := range lines {
		tree.ReplaceOrInsert(s)
	}
	result := make([]string, 0, tree.Len())
	tree.Ascend(func(s string) bool {
		result = append(result, s)
		return true
	})
	return result
}
