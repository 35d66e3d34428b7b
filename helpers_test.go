package stbe

import (
	"bytes"
	"encoding/hex"
	"io"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func x(data string) []byte {
	data = strings.Join(strings.Fields(data), "")
	return must(hex.DecodeString(data))
}

// buildBytes writes records with a Builder into memory and returns the file.
func buildBytes[R any](t testing.TB, m Marshaller[R], o Options, records ...R) []byte {
	t.Helper()
	var buf bytes.Buffer
	b := NewBuilder(&buf, m, o)
	ensure(b.AddAll(records...))
	ensure(b.Finalize())
	return buf.Bytes()
}

func openBytes[R any](t testing.TB, data []byte, m Marshaller[R]) *Decoder[R] {
	t.Helper()
	return must(NewDecoder(bytes.NewReader(data), int64(len(data)), m, DecoderOptions{}))
}

func buildFile[R any](t testing.TB, m Marshaller[R], o Options, records ...R) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.stbe")
	b := must(Create(path, m, o))
	ensure(b.AddAll(records...))
	ensure(b.Finalize())
	return path
}

func readAll[R any](t testing.TB, d *Decoder[R]) []R {
	t.Helper()
	var out []R
	for {
		var r R
		err := d.Next(&r)
		if err != nil {
			if err == io.EOF {
				return out
			}
			t.Fatalf("Next: %v", err)
		}
		out = append(out, r)
	}
}
