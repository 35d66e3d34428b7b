package stbe

import (
	"fmt"
	"strings"

	"go.etcd.io/bbolt"
)

// Entry is one key-value pair exported from a Bolt bucket.
type Entry struct {
	Bucket string
	Key    string
	Value  string
}

// EntryMarshaller stores Entry records. Bucket names and keys go through the
// trie, so a bucket name costs one varint per entry after its first use.
type EntryMarshaller struct{}

func (EntryMarshaller) AvgSize() int { return avgVarintSize * 3 }

func (EntryMarshaller) AddToTrie(enc *ValueEncoder, e *Entry) {
	enc.AddString(e.Bucket)
	enc.AddString(e.Key)
	enc.AddString(e.Value)
}

func (EntryMarshaller) Encode(enc *ValueEncoder, e *Entry) {
	enc.EncodeString(0)
	enc.EncodeString(1)
	enc.EncodeString(2)
}

func (EntryMarshaller) Decode(dec *ValueDecoder, e *Entry) error {
	var err error
	if e.Bucket, err = dec.DecodeString(); err != nil {
		return err
	}
	if e.Key, err = dec.DecodeString(); err != nil {
		return err
	}
	if e.Value, err = dec.DecodeString(); err != nil {
		return err
	}
	return nil
}

func (EntryMarshaller) Skip(dec *ValueDecoder) error {
	for range 3 {
		if err := dec.SkipString(); err != nil {
			return err
		}
	}
	return nil
}

// ExportBolt adds every key-value pair of the given buckets to b in key
// order, bucket by bucket. A bucket is named "name" or "name/sub" for a
// bucket nested one level deep. Nested buckets found inside an exported
// bucket are skipped. Returns the number of entries added; b is not
// finalized.
func ExportBolt(bdb *bbolt.DB, b *Builder[Entry], buckets ...string) (int, error) {
	var n int
	err := bdb.View(func(btx *bbolt.Tx) error {
		for _, name := range buckets {
			buck := boltBucket(btx, name)
			if buck == nil {
				return fmt.Errorf("stbe: bolt bucket %q not found", name)
			}
			c := buck.Cursor()
			for k, v := c.First(); k != nil; k, v = c.Next() {
				if v == nil {
					continue // nested bucket
				}
				err := b.Add(Entry{Bucket: name, Key: string(k), Value: string(v)})
				if err != nil {
					return err
				}
				n++
			}
		}
		return nil
	})
	return n, err
}

func boltBucket(btx *bbolt.Tx, name string) *bbolt.Bucket {
	name, sub, nested := strings.Cut(name, "/")
	root := btx.Bucket([]byte(name))
	if root == nil || !nested {
		return root
	}
	return root.Bucket([]byte(sub))
}
