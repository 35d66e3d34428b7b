/*
Package stbe implements a static, trie-compressed block store: a write-once
file of records that can be read back sequentially or by record number.

Records are grouped into blocks. Within a block, every string field of every
record is added to a prefix trie, and the record itself stores only the
position of the trie node that ends its string. Strings sharing a prefix of
at least MinCommonPrefix bytes share trie nodes.

Callers describe their record type with a Marshaller. StringMarshaller,
BytesMarshaller, EntryMarshaller and StructMarshaller cover common cases.

# File Format

All fixed32 values are little-endian; all varints are LEB128 (uvarint).

**File**: (fixed32 block length, block)*, fixed32 index length, index,
fixed32 index offset.

**Block**:
1. Records offset (fixed32), counted from the start of the block.
2. Trie nodes, in pre-order starting with the root at offset 4.
3. Records, encoded back to back by the Marshaller.

**Trie node**: parent node offset (uvarint, 0 for the root), fragment length
(uvarint), fragment bytes. A string field stores the offset of its node; the
string is rebuilt by walking parents until reaching the root.

**Index**: block count (uvarint), then for each block its file offset
(uvarint) and its record count (uvarint).

Files are limited to 4 GiB because offsets are fixed32.
*/
package stbe
