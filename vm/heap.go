package vm

import "encoding/binary"

// heapObject is the common shape of everything the heap can allocate:
// something with a contiguous byte buffer that references can address
// into. Scalar/record cells, array element storage, and pool strings
// all implement it (SPEC_FULL.md §3).
type heapObject interface {
	bytes() []byte
}

// scalarCell backs NEW n: a zeroed byte buffer the compiler carves up
// into fields at compile-time-chosen offsets (AADDF).
type scalarCell struct {
	buf []byte
}

func (c *scalarCell) bytes() []byte { return c.buf }

// arrayObject backs NEWARRAY: the element_size/count pair is kept as
// plain Go fields (read by ARRAYLENGTH without touching elems), and
// elems is the zeroed, contiguous element storage AADDS addresses into.
type arrayObject struct {
	elemSize int32
	count    int32
	elems    []byte
}

func (a *arrayObject) bytes() []byte { return a.elems }

// stringObject backs ALDC: a read-only, NUL-terminated byte sequence
// that lives in the loaded image's string pool. Its backing array is
// shared, never copied, for the life of the program.
type stringObject struct {
	data []byte
}

func (s *stringObject) bytes() []byte { return s.data }

// heap is the VM's object registry. Index 0 is reserved so that the
// zero value of ref is always the null reference (a zeroed
// reference-sized slot read by AMLOAD yields null); real objects start
// at id 1. The zero Value itself is Int(0), not null. There is no reclamation --
// objects live until the process exits (§5).
type heap struct {
	objects []heapObject
}

func newHeap() *heap {
	return &heap{objects: make([]heapObject, 1, 64)}
}

func (h *heap) alloc(o heapObject) ref {
	id := uint32(len(h.objects))
	h.objects = append(h.objects, o)
	return ref{id: id}
}

func (h *heap) resolve(r ref) (heapObject, bool) {
	if r.id == 0 || int(r.id) >= len(h.objects) {
		return nil, false
	}
	return h.objects[r.id], true
}

// slice returns the n bytes addressed by r, or a trap if r is
// out-of-bounds for its object. An out-of-bounds slice here means the
// bytecode's compiler-chosen offset disagreed with the object's actual
// shape -- an internal invariant breach, not a language-level memory
// error, since §3 only requires the VM to check nullness itself.
func (h *heap) slice(r ref, n int32) ([]byte, *Trap) {
	obj, ok := h.resolve(r)
	if !ok {
		return nil, newTrap(MemoryError, "segmentation fault")
	}
	b := obj.bytes()
	start, end := int64(r.offset), int64(r.offset)+int64(n)
	if start < 0 || end > int64(len(b)) {
		return nil, newTrap(Fatal, "memory access out of bounds")
	}
	return b[start:end], nil
}

func (h *heap) readInt32(r ref) (int32, *Trap) {
	b, trap := h.slice(r, 4)
	if trap != nil {
		return 0, trap
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (h *heap) writeInt32(r ref, v int32) *Trap {
	b, trap := h.slice(r, 4)
	if trap != nil {
		return trap
	}
	binary.LittleEndian.PutUint32(b, uint32(v))
	return nil
}

func (h *heap) readByte(r ref) (byte, *Trap) {
	b, trap := h.slice(r, 1)
	if trap != nil {
		return 0, trap
	}
	return b[0], nil
}

func (h *heap) writeByte(r ref, v byte) *Trap {
	b, trap := h.slice(r, 1)
	if trap != nil {
		return trap
	}
	b[0] = v
	return nil
}

// refSize is the width, in bytes, of a reference when it is stored
// inside another object's buffer (AMLOAD/AMSTORE). It is wider than an
// Int's 4 bytes because it must encode both the object id and the
// byte offset within it.
const refSize = 8

func (h *heap) readRef(r ref) (Value, *Trap) {
	b, trap := h.slice(r, refSize)
	if trap != nil {
		return Value{}, trap
	}
	id := binary.LittleEndian.Uint32(b[0:4])
	off := binary.LittleEndian.Uint32(b[4:8])
	return refValue(ref{id: id, offset: off}), nil
}

func (h *heap) writeRef(r ref, v ref) *Trap {
	b, trap := h.slice(r, refSize)
	if trap != nil {
		return trap
	}
	binary.LittleEndian.PutUint32(b[0:4], v.id)
	binary.LittleEndian.PutUint32(b[4:8], v.offset)
	return nil
}

// cString reads the NUL-terminated byte string addressed by r, used by
// ATHROW and ASSERT to recover a user-supplied message.
func (h *heap) cString(r ref) (string, *Trap) {
	obj, ok := h.resolve(r)
	if !ok {
		return "", newTrap(MemoryError, "segmentation fault")
	}
	b := obj.bytes()
	if int(r.offset) > len(b) {
		return "", newTrap(Fatal, "memory access out of bounds")
	}
	b = b[r.offset:]
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), nil
		}
	}
	return string(b), nil
}
