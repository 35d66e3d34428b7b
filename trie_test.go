package stbe

import (
	"bytes"
	"testing"
)

func TestTrie_Dump(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   string
	}{
		{"no values", nil, "0: \n"},
		{"empty string", []string{""}, "0: \n  1: \n"},
		{"empty string thrice", []string{"", "", ""}, "0: \n  1: \n"},
		{"single", []string{"abcc"}, "0: \n  1: abcc\n"},
		{"duplicates", []string{"abcc", "abcc", "abcc"}, "0: \n  1: abcc\n"},
		{"split on shared prefix", []string{"abc", "abd"}, "0: \n  1: ab\n    2: c\n    2: d\n"},
		{"prefix too short", []string{"abc", "akk"}, "0: \n  1: abc\n  1: akk\n"},
		{"nothing shared", []string{"abc", "def"}, "0: \n  1: abc\n  1: def\n"},
		{"nested", []string{"a", "aa", "abc", "aabc", "abcc"},
			"0: \n  1: a\n    2: a\n      3: bc\n    2: bc\n      3: c\n"},
		{"nested with empty", []string{"a", "aa", "abc", "aabc", "", "abcc"},
			"0: \n  1: a\n    2: a\n      3: bc\n    2: bc\n      3: c\n  1: \n"},
		{"addresses", []string{"128.217.62.224", "128.217.62.24", "128.217.62.2"},
			"0: \n  1: 128.217.62.2\n    2: 24\n    2: 4\n"},
		{"two byte threshold", []string{"ab1", "ab2", "a1", "a2"},
			"0: \n  1: ab\n    2: 1\n    2: 2\n  1: a1\n  1: a2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trie := NewTrie()
			for _, v := range tt.values {
				trie.AddString(v)
			}
			if a := trie.String(); a != tt.want {
				t.Fatalf("Dump = %q, wanted %q", a, tt.want)
			}
		})
	}
}

func TestTrie_HandlesAreStable(t *testing.T) {
	trie := NewTrie()
	h1 := trie.AddString("128.217.62.224")
	h2 := trie.AddString("128.217.62.24")
	h3 := trie.AddString("128.217.62.2")

	if a := trie.AddString("128.217.62.224"); a != h1 {
		t.Errorf("re-adding value 1 = %v, wanted %v", a, h1)
	}
	if a := trie.AddString("128.217.62.24"); a != h2 {
		t.Errorf("re-adding value 2 = %v, wanted %v", a, h2)
	}
	if a := trie.AddString("128.217.62.2"); a != h3 {
		t.Errorf("re-adding value 3 = %v, wanted %v", a, h3)
	}
	if h1 == h2 || h2 == h3 || h1 == h3 {
		t.Errorf("distinct values share handles: %v %v %v", h1, h2, h3)
	}
	if a := trie.Len(); a != 3 {
		t.Errorf("Len = %d, wanted 3", a)
	}
}

func TestTrie_AddCopiesValue(t *testing.T) {
	trie := NewTrie()
	v := []byte("hello")
	trie.Add(v)
	copy(v, "jello")
	if a, e := trie.String(), "0: \n  1: hello\n"; a != e {
		t.Fatalf("Dump = %q, wanted %q", a, e)
	}
}

func TestTrie_Serialize(t *testing.T) {
	trie := NewTrie()
	h1 := trie.AddString("abc")
	h2 := trie.AddString("abd")

	if a := trie.FragmentBytes(); a != 4 {
		t.Errorf("FragmentBytes = %d, wanted 4", a)
	}
	if a := trie.EstimatedSize(); a != 4+4*2*avgVarintSize {
		t.Errorf("EstimatedSize = %d, wanted %d", a, 4+4*2*avgVarintSize)
	}

	buf := trie.Serialize(make([]byte, blockHeaderSize))
	e := x("00000000  0000  0402 6162  0601 63  0601 64")
	if !bytes.Equal(buf, e) {
		t.Fatalf("Serialize = %x, wanted %x", buf, e)
	}
	if a := trie.Position(h1); a != 10 {
		t.Errorf("Position(abc) = %d, wanted 10", a)
	}
	if a := trie.Position(h2); a != 13 {
		t.Errorf("Position(abd) = %d, wanted 13", a)
	}

	for _, tt := range []struct {
		h TrieHandle
		e string
	}{{h1, "abc"}, {h2, "abd"}} {
		v, err := resolveString(buf, trie.Position(tt.h))
		if err != nil {
			t.Fatalf("resolveString: %v", err)
		}
		if string(v) != tt.e {
			t.Errorf("resolveString = %q, wanted %q", v, tt.e)
		}
	}
}

func TestTrie_PositionBeforeSerializePanics(t *testing.T) {
	trie := NewTrie()
	h := trie.AddString("abc")
	trie.Serialize(nil)
	trie.AddString("abd")
	defer func() {
		if recover() == nil {
			t.Fatalf("Position after modification did not panic")
		}
	}()
	trie.Position(h)
}

func TestTrie_Reset(t *testing.T) {
	trie := NewTrie()
	trie.AddString("abc")
	trie.AddString("abd")
	trie.Reset()
	if a := trie.Len(); a != 0 {
		t.Errorf("Len after Reset = %d, wanted 0", a)
	}
	if a := trie.FragmentBytes(); a != 0 {
		t.Errorf("FragmentBytes after Reset = %d, wanted 0", a)
	}
	if a, e := trie.String(), "0: \n"; a != e {
		t.Errorf("Dump after Reset = %q, wanted %q", a, e)
	}

	var zero Trie
	zero.AddString("xyz")
	if a, e := zero.String(), "0: \n  1: xyz\n"; a != e {
		t.Errorf("zero Trie Dump = %q, wanted %q", a, e)
	}
}
