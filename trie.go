package stbe

import (
	"fmt"
	"io"
	"strings"
)

// MinCommonPrefix is the shortest shared prefix worth a node of its own.
// A node costs about two varints when serialized, so merging siblings on a
// single shared byte would not pay off.
const MinCommonPrefix = 2

const avgVarintSize = 2

const rootHandle TrieHandle = 0

// TrieHandle identifies the node that terminates an inserted value. Identical
// values always produce identical handles. A handle resolves to a byte offset
// only after the trie has been serialized.
type TrieHandle int32

type trieNode struct {
	frag     []byte
	children []TrieHandle
	pos      uint32
}

// Trie is a prefix-merging tree over byte strings. Nodes live in an arena and
// refer to their children by index.
type Trie struct {
	nodes      []trieNode
	fragBytes  int
	serialized bool
}

func NewTrie() *Trie {
	t := &Trie{}
	t.Reset()
	return t
}

// Reset drops every node but the root, keeping the arena's capacity.
func (t *Trie) Reset() {
	for i := range t.nodes {
		t.nodes[i] = trieNode{}
	}
	t.nodes = append(t.nodes[:0], trieNode{})
	t.fragBytes = 0
	t.serialized = false
}

// Len returns the number of nodes, not counting the root.
func (t *Trie) Len() int {
	if len(t.nodes) == 0 {
		return 0
	}
	return len(t.nodes) - 1
}

// FragmentBytes returns the total size of all fragments held by the trie.
func (t *Trie) FragmentBytes() int {
	return t.fragBytes
}

// EstimatedSize approximates the size of the serialized trie region.
func (t *Trie) EstimatedSize() int {
	return t.fragBytes + len(t.nodes)*2*avgVarintSize
}

func (t *Trie) AddString(s string) TrieHandle {
	return t.Add([]byte(s))
}

// Add inserts value and returns the handle of the node its path ends at.
// The value is copied.
func (t *Trie) Add(value []byte) TrieHandle {
	if len(t.nodes) == 0 {
		t.Reset()
	}
	t.serialized = false
	rest := value
	cur := rootHandle
	for {
		next, h, done := t.addUnder(cur, rest)
		if done {
			return h
		}
		cur = h
		rest = next
	}
}

// addUnder matches rest against the children of parent. It either finishes
// (done == true, h is the terminal node) or asks the caller to descend into
// h with the unmatched remainder.
func (t *Trie) addUnder(parent TrieHandle, rest []byte) (remainder []byte, h TrieHandle, done bool) {
	for i, child := range t.nodes[parent].children {
		frag := t.nodes[child].frag
		c := commonPrefixLen(frag, rest)

		if c == len(frag) {
			if c == len(rest) {
				return nil, child, true
			}
			if c > 0 {
				return rest[c:], child, false
			}
			continue
		}

		if c >= MinCommonPrefix {
			mid := t.split(parent, i, c)
			if c == len(rest) {
				return nil, mid, true
			}
			return nil, t.newChild(mid, rest[c:]), true
		}
	}
	return nil, t.newChild(parent, rest), true
}

// split replaces the idx-th child of parent with a new node holding the first
// c bytes of its fragment; the original child keeps the tail and becomes the
// new node's first child.
func (t *Trie) split(parent TrieHandle, idx int, c int) TrieHandle {
	child := t.nodes[parent].children[idx]
	frag := t.nodes[child].frag

	mid := TrieHandle(len(t.nodes))
	t.nodes = append(t.nodes, trieNode{
		frag:     frag[:c:c],
		children: []TrieHandle{child},
	})
	t.nodes[child].frag = frag[c:]
	t.nodes[parent].children[idx] = mid
	return mid
}

func (t *Trie) newChild(parent TrieHandle, frag []byte) TrieHandle {
	h := TrieHandle(len(t.nodes))
	t.nodes = append(t.nodes, trieNode{
		frag: append([]byte(nil), frag...),
	})
	t.nodes[parent].children = append(t.nodes[parent].children, h)
	t.fragBytes += len(frag)
	return h
}

func commonPrefixLen(a, b []byte) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// Serialize appends the trie region to buf in pre-order. Every node is
// written as uvarint(parent position), uvarint(fragment length), fragment,
// and its position is len(buf) at the moment it is written, so positions are
// offsets into the final buffer. A node always sits after its parent.
func (t *Trie) Serialize(buf []byte) []byte {
	if len(t.nodes) == 0 {
		t.Reset()
	}
	buf = t.serializeNode(buf, rootHandle, 0)
	t.serialized = true
	return buf
}

func (t *Trie) serializeNode(buf []byte, h TrieHandle, parentPos uint32) []byte {
	n := &t.nodes[h]
	pos := len(buf)
	if uint64(pos) > uint64(^uint32(0)) {
		panic(fmt.Errorf("stbe: trie region exceeds 4 GiB"))
	}
	n.pos = uint32(pos)
	buf = appendUvarint(buf, uint64(parentPos))
	buf = appendVarbytes(buf, n.frag)
	for _, c := range n.children {
		buf = t.serializeNode(buf, c, uint32(pos))
	}
	return buf
}

// Position returns the serialized offset of the node behind h. Panics if the
// trie has been modified since the last Serialize.
func (t *Trie) Position(h TrieHandle) uint32 {
	if !t.serialized {
		panic("stbe: trie position requested before serialization")
	}
	return t.nodes[h].pos
}

// Dump prints the tree depth-first, one node per line, as "depth: fragment"
// indented by two spaces per level.
func (t *Trie) Dump(w io.Writer) {
	if len(t.nodes) == 0 {
		t.Reset()
	}
	t.dumpNode(w, rootHandle, 0)
}

func (t *Trie) dumpNode(w io.Writer, h TrieHandle, level int) {
	fmt.Fprintf(w, "%s%d: %s\n", strings.Repeat("  ", level), level, t.nodes[h].frag)
	for _, c := range t.nodes[h].children {
		t.dumpNode(w, c, level+1)
	}
}

func (t *Trie) String() string {
	var buf strings.Builder
	t.Dump(&buf)
	return buf.String()
}
