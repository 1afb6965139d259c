// Package dataseg implements the Data Segment Arena: a pooled allocator
// for string literals and interface-dispatch tables (itables) that the
// lowering engine writes into a WebAssembly module's linear-memory data
// segment.
//
// The allocator runs entirely at compile time in the host process: it
// aligns plain integer byte offsets into a []byte buffer that becomes
// the compiled module's data segment, so all arithmetic is done in
// uint32 rather than pointers.
package dataseg

import "fmt"

// ReservedBase is the first address the arena will allocate from. Bytes
// below it are reserved and unused, so a null/zero offset never aliases
// a real allocation.
const ReservedBase = 1024

// Align rounds offset up to the next multiple of align, which must be a
// power of two.
func Align(offset, align uint32) uint32 {
	return (offset + align - 1) / align * align
}

// Arena accumulates bytes destined for a module's data segment and hands
// out stable offsets into it. One Arena is created per Driver instance and
// discarded with it.
type Arena struct {
	buf     []byte
	strings map[string]stringEntry
	itables map[uint32]uint32 // class id -> itable offset, assigned on first reference
}

type stringEntry struct {
	offset uint32
	length uint32
}

// New returns an empty Arena with ReservedBase bytes of padding already
// written, so no valid allocation can have offset zero.
func New() *Arena {
	return &Arena{
		buf:     make([]byte, ReservedBase),
		strings: make(map[string]stringEntry),
		itables: make(map[uint32]uint32),
	}
}

// InternString writes s's UTF-8 bytes into the arena as a length-prefixed
// record (`[length : u32][bytes...]`) and returns its offset and byte
// length. When dedup is true, a prior InternString call for the same
// content returns the same offset instead of writing a second copy;
// this backs every string literal the front end marked dedup=true.
func (a *Arena) InternString(s string, dedup bool) (offset, length uint32) {
	if dedup {
		if e, ok := a.strings[s]; ok {
			return e.offset, e.length
		}
	}
	off := a.alloc(uint32(4+len(s)), 4)
	putUint32(a.buf[off:], uint32(len(s)))
	copy(a.buf[off+4:], s)
	if dedup {
		a.strings[s] = stringEntry{offset: off, length: uint32(len(s))}
	}
	return off, uint32(len(s))
}

// ItableEntryKind distinguishes the four member kinds an itable entry can
// describe.
type ItableEntryKind uint32

const (
	ItableField ItableEntryKind = iota
	ItableMethod
	ItableGetter
	ItableSetter
)

// ItableEntry is one `(name-offset, kind, slot-index)` triple.
type ItableEntry struct {
	NameOffset uint32
	Kind       ItableEntryKind
	SlotIndex  uint32
}

// WriteItable allocates and writes an itable record for a class with the
// given typeID: `[type-id : u32][entry-count : u32][entries...]`. It is
// idempotent per typeID: a second call for the same typeID returns the
// offset from the first call without writing again, matching the "itable
// offsets are assigned on first reference" ordering guarantee.
func (a *Arena) WriteItable(typeID uint32, entries []ItableEntry) uint32 {
	if off, ok := a.itables[typeID]; ok {
		return off
	}
	size := uint32(4 + 4 + 12*len(entries))
	off := a.alloc(size, 4)
	putUint32(a.buf[off:], typeID)
	putUint32(a.buf[off+4:], uint32(len(entries)))
	p := off + 8
	for _, e := range entries {
		putUint32(a.buf[p:], e.NameOffset)
		putUint32(a.buf[p+4:], uint32(e.Kind))
		putUint32(a.buf[p+8:], e.SlotIndex)
		p += 12
	}
	a.itables[typeID] = off
	return off
}

// ItableOffset reports the offset previously assigned to typeID by
// WriteItable, or ok=false if none has been written yet.
func (a *Arena) ItableOffset(typeID uint32) (offset uint32, ok bool) {
	offset, ok = a.itables[typeID]
	return offset, ok
}

// alloc reserves size bytes aligned to align and returns the aligned
// offset, growing buf as needed.
func (a *Arena) alloc(size, align uint32) uint32 {
	off := Align(uint32(len(a.buf)), align)
	need := int(off) + int(size)
	if need > len(a.buf) {
		grown := make([]byte, need)
		copy(grown, a.buf)
		a.buf = grown
	}
	return off
}

// Bytes returns the arena's accumulated data segment contents. The caller
// (moduledriver) is responsible for emitting it as the module's single
// data segment starting at address zero.
func (a *Arena) Bytes() []byte {
	return a.buf
}

// Size reports the current length of the data segment in bytes.
func (a *Arena) Size() uint32 {
	return uint32(len(a.buf))
}

func putUint32(b []byte, v uint32) {
	if len(b) < 4 {
		panic(fmt.Sprintf("dataseg: short write: need 4 bytes, have %d", len(b)))
	}
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
