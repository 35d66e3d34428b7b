package stbe

import (
	"errors"
	"strings"
	"testing"
)

func TestDataError_ErrorAndUnwrap(t *testing.T) {
	t.Run("small data", func(t *testing.T) {
		inner := errors.New("inner")
		err := dataErrf([]byte{0xAA, 0xBB}, 1, inner, "oops")
		var de *DataError
		if !errors.As(err, &de) {
			t.Fatalf("err = %T, wanted *DataError", err)
		}
		if de.Off != 1 {
			t.Fatalf("de.Off = %d, wanted 1", de.Off)
		}
		if !errors.Is(err, inner) {
			t.Fatalf("errors.Is(err, inner) = false, wanted true")
		}
		s := err.Error()
		if !strings.Contains(s, "oops at 1") || !strings.Contains(s, "inner") || !strings.Contains(s, "(2) aabb") {
			t.Fatalf("err.Error() = %q, wanted message with oops/inner/data", s)
		}
	})

	t.Run("large data includes prefix and suffix", func(t *testing.T) {
		data := make([]byte, 200)
		for i := range data {
			data[i] = byte(i)
		}
		s := dataErrf(data, 0, nil, "big").Error()
		if !strings.Contains(s, "(200)") || !strings.Contains(s, "...") {
			t.Fatalf("err.Error() = %q, wanted truncated dump", s)
		}
	})
}

func TestCorruptedf(t *testing.T) {
	err := corruptedf("block %d is bad", 3)
	if !errors.Is(err, ErrCorrupted) {
		t.Fatalf("errors.Is(err, ErrCorrupted) = false")
	}
	if a, e := err.Error(), "stbe: corrupted file: block 3 is bad"; a != e {
		t.Fatalf("err.Error() = %q, wanted %q", a, e)
	}
}
