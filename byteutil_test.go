package stbe

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func TestAppendHelpers(t *testing.T) {
	var buf []byte
	buf = appendFixed32(buf, 0x04030201)
	buf = appendUvarint(buf, 300)
	buf = appendVarint(buf, -2)
	buf = appendVarbytes(buf, []byte("hi"))
	buf = appendRaw(buf, []byte{0xFF})

	e := x("01020304 ac02 03 02 6869 ff")
	if !bytes.Equal(buf, e) {
		t.Fatalf("buf = %x, wanted %x", buf, e)
	}

	putFixed32(buf, 7)
	if !bytes.Equal(buf[:4], x("07000000")) {
		t.Fatalf("after putFixed32: %x", buf[:4])
	}
}

func TestEnsureCapacity(t *testing.T) {
	buf := []byte{1, 2, 3}
	buf = ensureCapacity(buf, 100)
	if cap(buf) < 100 {
		t.Fatalf("cap = %d, wanted >= 100", cap(buf))
	}
	if !bytes.Equal(buf, []byte{1, 2, 3}) {
		t.Fatalf("buf = %x, wanted 010203", buf)
	}
}

func TestUvarintLen(t *testing.T) {
	for _, tt := range []struct {
		v uint64
		e int
	}{
		{0, 1}, {127, 1}, {128, 2}, {16383, 2}, {16384, 3}, {math.MaxUint64, 10},
	} {
		if a := uvarintLen(tt.v); a != tt.e {
			t.Errorf("uvarintLen(%d) = %d, wanted %d", tt.v, a, tt.e)
		}
		if a := len(appendUvarint(nil, tt.v)); a != tt.e {
			t.Errorf("len(appendUvarint(%d)) = %d, wanted %d", tt.v, a, tt.e)
		}
	}
}

func TestReadHelpers(t *testing.T) {
	buf := x("01020304 ac02 03 02 6869")

	v32, off, err := readFixed32(buf, 0)
	if err != nil || v32 != 0x04030201 || off != 4 {
		t.Fatalf("readFixed32 = %x, %d, %v", v32, off, err)
	}
	u, off, err := readUvarint(buf, off)
	if err != nil || u != 300 || off != 6 {
		t.Fatalf("readUvarint = %d, %d, %v", u, off, err)
	}
	i, off, err := readVarint(buf, off)
	if err != nil || i != -2 || off != 7 {
		t.Fatalf("readVarint = %d, %d, %v", i, off, err)
	}
	b, off, err := readVarbytes(buf, off)
	if err != nil || string(b) != "hi" || off != len(buf) {
		t.Fatalf("readVarbytes = %q, %d, %v", b, off, err)
	}
}

func TestReadHelpers_Errors(t *testing.T) {
	var de *DataError

	t.Run("fixed32 short", func(t *testing.T) {
		_, off, err := readFixed32([]byte{1, 2, 3}, 0)
		if !errors.As(err, &de) || off != 0 {
			t.Fatalf("err = %v, off = %d, wanted DataError at 0", err, off)
		}
	})
	t.Run("uvarint past end", func(t *testing.T) {
		_, _, err := readUvarint([]byte{1}, 1)
		if !errors.As(err, &de) {
			t.Fatalf("err = %v, wanted DataError", err)
		}
	})
	t.Run("uvarint truncated", func(t *testing.T) {
		_, _, err := readUvarint([]byte{0x80, 0x80}, 0)
		if !errors.As(err, &de) {
			t.Fatalf("err = %v, wanted DataError", err)
		}
	})
	t.Run("uvarint32 overflow", func(t *testing.T) {
		buf := appendUvarint(nil, math.MaxUint32+1)
		_, off, err := readUvarint32(buf, 0)
		if !errors.As(err, &de) || off != 0 {
			t.Fatalf("err = %v, off = %d, wanted DataError at 0", err, off)
		}
	})
	t.Run("varbytes overrun", func(t *testing.T) {
		_, off, err := readVarbytes(x("05 6162"), 0)
		if !errors.As(err, &de) || off != 0 {
			t.Fatalf("err = %v, off = %d, wanted DataError at 0", err, off)
		}
	})
	t.Run("raw negative", func(t *testing.T) {
		_, _, err := readRaw([]byte{1, 2}, 0, -1)
		if !errors.As(err, &de) {
			t.Fatalf("err = %v, wanted DataError", err)
		}
	})
}
