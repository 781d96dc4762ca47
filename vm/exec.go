package vm

import (
	"math"
)

// Tracer receives one call per executed instruction, mirroring the
// DEBUG-gated "Opcode %x -- Stack size: %zu -- PC: %zu" trace line in
// the original c0vm.c's execute loop. Execute runs untraced; callers
// that want tracing use ExecuteTraced or Options.Trace (cmd/c0vm sets
// the latter from the config package's trace knob).
type Tracer func(pc uint32, op Opcode, stackDepth int)

// machine is the live interpreter state: the read-only image and
// native table, the heap, the single active frame, and the stack of
// suspended frames. Only one frame is ever "active" at a time -- the
// decode/dispatch loop only ever touches m.frame, never reaches into
// m.calls (§2, §5).
type machine struct {
	image      *Image
	natives    NativeTable
	heap       *heap
	frame      *Frame
	calls      callStack
	trace      Tracer
	stackCap   int
	stringRefs map[uint16]ref
}

// Options configures an Execute run beyond the Image/NativeTable pair;
// the zero Options is Execute's own untraced, default-capacity
// behavior. It mirrors the knobs internal/config.Config exposes to
// cmd/c0vm.
type Options struct {
	// Trace, if non-nil, is called once per executed instruction.
	Trace Tracer
	// StackCapacity seeds each frame's operand-stack capacity (a hint,
	// never a bound); zero means the default of 8.
	StackCapacity int
}

// Execute runs image starting at function 0 until it returns, and
// reports the returned 32-bit integer as the program's exit value
// (SPEC_FULL.md §1, §6). The embedder must have sized natives to cover
// every index image's native pool references.
func Execute(image *Image, natives NativeTable) (int32, error) {
	return ExecuteOptions(image, natives, Options{})
}

// ExecuteTraced is Execute with an optional per-instruction Tracer.
func ExecuteTraced(image *Image, natives NativeTable, trace Tracer) (int32, error) {
	return ExecuteOptions(image, natives, Options{Trace: trace})
}

// ExecuteOptions is Execute with full control over Options.
func ExecuteOptions(image *Image, natives NativeTable, opts Options) (exit int32, err error) {
	if len(image.Functions) == 0 {
		return 0, newTrap(Fatal, "image has no functions")
	}

	m := &machine{
		image:    image,
		natives:  natives,
		heap:     newHeap(),
		trace:    opts.Trace,
		stackCap: opts.StackCapacity,
	}
	entry := &image.Functions[0]
	m.frame = newFrame(entry.Code, make([]Value, entry.NumVars), m.stackCap)

	defer func() {
		if r := recover(); r == nil {
			return
		} else if t, ok := r.(*Trap); ok {
			err = t
		} else {
			err = newTrap(Fatal, "internal error: %v", r)
		}
	}()

	for {
		if m.trace != nil && int(m.frame.pc) < len(m.frame.code) {
			m.trace(m.frame.pc, Opcode(m.frame.code[m.frame.pc]), m.frame.depth())
		}

		pc := m.frame.pc
		exit, done, trap := m.step()
		if trap != nil {
			if int(pc) < len(m.frame.code) {
				trap.at(pc, Opcode(m.frame.code[pc]))
			} else {
				trap.at(pc, Nop)
			}
			return 0, trap
		}
		if done {
			return exit, nil
		}
	}
}

func readU16BE(code []byte, at uint32) uint16 {
	return uint16(code[at])<<8 | uint16(code[at+1])
}

func readI16BE(code []byte, at uint32) int16 {
	return int16(readU16BE(code, at))
}

// step executes exactly one instruction. It returns (exitValue, true,
// nil) when the top-level function has just returned, (_, false, nil)
// to keep looping, or (_, _, trap) on abnormal termination.
func (m *machine) step() (int32, bool, *Trap) {
	f := m.frame
	pc := f.pc
	if int(pc) >= len(f.code) {
		return 0, false, newTrap(Fatal, "program counter 0x%x ran off the end of the function", pc)
	}

	op := Opcode(f.code[pc])
	length := instrLen(op)
	if length == 0 {
		if name, ok := invalidOpcodeNames[op]; ok {
			return 0, false, newTrap(Fatal, "unsupported C1 opcode %s (0x%02x)", name, byte(op))
		}
		return 0, false, newTrap(Fatal, "invalid opcode 0x%02x", byte(op))
	}
	if int(pc)+length > len(f.code) {
		return 0, false, newTrap(Fatal, "truncated immediate operand for %s at pc 0x%x", op, pc)
	}
	next := pc + uint32(length)

	switch op {
	case Nop:

	case Pop:
		f.pop()
	case Dup:
		f.push(f.peek())
	case Swap:
		top := f.pop()
		under := f.pop()
		f.push(top)
		f.push(under)

	case BIPush:
		f.push(IntValue(int32(int8(f.code[pc+1]))))
	case ILdc:
		idx := readU16BE(f.code, pc+1)
		if int(idx) >= len(m.image.IntPool) {
			return 0, false, newTrap(Fatal, "int pool index %d out of range", idx)
		}
		f.push(IntValue(m.image.IntPool[idx]))
	case ALdc:
		idx := readU16BE(f.code, pc+1)
		r, trap := m.stringRef(idx)
		if trap != nil {
			return 0, false, trap
		}
		f.push(refValue(r))
	case AConstNull:
		f.push(NullValue())

	case VLoad:
		k := f.code[pc+1]
		if int(k) >= len(f.lv) {
			return 0, false, newTrap(Fatal, "local variable index %d out of range", k)
		}
		f.push(f.lv[k])
	case VStore:
		k := f.code[pc+1]
		if int(k) >= len(f.lv) {
			return 0, false, newTrap(Fatal, "local variable index %d out of range", k)
		}
		f.lv[k] = f.pop()

	case IAdd:
		b, a := f.pop().Int(), f.pop().Int()
		f.push(IntValue(a + b))
	case ISub:
		b, a := f.pop().Int(), f.pop().Int()
		f.push(IntValue(a - b))
	case IMul:
		b, a := f.pop().Int(), f.pop().Int()
		f.push(IntValue(a * b))
	case IDiv:
		b, a := f.pop().Int(), f.pop().Int()
		if b == 0 {
			return 0, false, newTrap(ArithError, "division by zero")
		}
		if a == math.MinInt32 && b == -1 {
			return 0, false, newTrap(ArithError, "dividing INT_MIN by -1")
		}
		f.push(IntValue(a / b))
	case IRem:
		b, a := f.pop().Int(), f.pop().Int()
		if b == 0 {
			return 0, false, newTrap(ArithError, "division by zero")
		}
		if a == math.MinInt32 && b == -1 {
			return 0, false, newTrap(ArithError, "dividing INT_MIN by -1")
		}
		f.push(IntValue(a % b))
	case IAnd:
		b, a := f.pop().Int(), f.pop().Int()
		f.push(IntValue(a & b))
	case IOr:
		b, a := f.pop().Int(), f.pop().Int()
		f.push(IntValue(a | b))
	case IXor:
		b, a := f.pop().Int(), f.pop().Int()
		f.push(IntValue(a ^ b))
	case IShl:
		b, a := f.pop().Int(), f.pop().Int()
		if b < 0 || b > 31 {
			return 0, false, newTrap(ArithError, "invalid shift amount %d", b)
		}
		f.push(IntValue(a << uint(b)))
	case IShr:
		b, a := f.pop().Int(), f.pop().Int()
		if b < 0 || b > 31 {
			return 0, false, newTrap(ArithError, "invalid shift amount %d", b)
		}
		f.push(IntValue(a >> uint(b)))

	case Goto:
		target, trap := jumpTarget(pc, readI16BE(f.code, pc+1), len(f.code))
		if trap != nil {
			return 0, false, trap
		}
		f.pc = target
		return 0, false, nil

	case IfCmpEq, IfCmpNe, IfICmpLt, IfICmpGe, IfICmpGt, IfICmpLe:
		b, a := f.pop(), f.pop()
		taken, trap := evalBranch(op, a, b)
		if trap != nil {
			return 0, false, trap
		}
		if taken {
			target, trap := jumpTarget(pc, readI16BE(f.code, pc+1), len(f.code))
			if trap != nil {
				return 0, false, trap
			}
			f.pc = target
			return 0, false, nil
		}

	case InvokeStatic:
		idx := readU16BE(f.code, pc+1)
		if int(idx) >= len(m.image.Functions) {
			return 0, false, newTrap(Fatal, "function index %d out of range", idx)
		}
		callee := &m.image.Functions[idx]
		locals := make([]Value, callee.NumVars)
		for i := int(callee.NumArgs) - 1; i >= 0; i-- {
			locals[i] = f.pop()
		}
		f.pc = next
		m.calls.push(f)
		m.frame = newFrame(callee.Code, locals, m.stackCap)
		return 0, false, nil

	case InvokeNative:
		idx := readU16BE(f.code, pc+1)
		if int(idx) >= len(m.image.Natives) {
			return 0, false, newTrap(Fatal, "native index %d out of range", idx)
		}
		native := m.image.Natives[idx]
		if int(native.FunctionTableIndex) >= len(m.natives) {
			return 0, false, newTrap(Fatal, "native function table index %d out of range", native.FunctionTableIndex)
		}
		args := make([]Value, native.NumArgs)
		for i := int(native.NumArgs) - 1; i >= 0; i-- {
			args[i] = f.pop()
		}
		result := m.natives[native.FunctionTableIndex](args)
		f.push(result)

	case Return:
		retval := f.pop()
		if !f.empty() {
			return 0, false, newTrap(Fatal, "operand stack not empty at return (%d left)", f.depth())
		}
		if m.calls.empty() {
			return retval.Int(), true, nil
		}
		caller := m.calls.pop()
		caller.push(retval)
		m.frame = caller
		return 0, false, nil

	case New:
		size := f.code[pc+1]
		r := m.heap.alloc(&scalarCell{buf: make([]byte, size)})
		f.push(refValue(r))
	case IMLoad:
		rv := f.pop()
		if rv.IsNull() {
			return 0, false, newTrap(MemoryError, "segmentation fault")
		}
		v, trap := m.heap.readInt32(rv.r)
		if trap != nil {
			return 0, false, trap
		}
		f.push(IntValue(v))
	case IMStore:
		v := f.pop()
		rv := f.pop()
		if rv.IsNull() {
			return 0, false, newTrap(MemoryError, "segmentation fault")
		}
		if trap := m.heap.writeInt32(rv.r, v.Int()); trap != nil {
			return 0, false, trap
		}
	case AMLoad:
		rv := f.pop()
		if rv.IsNull() {
			return 0, false, newTrap(MemoryError, "segmentation fault")
		}
		v, trap := m.heap.readRef(rv.r)
		if trap != nil {
			return 0, false, trap
		}
		f.push(v)
	case AMStore:
		v := f.pop()
		rv := f.pop()
		if rv.IsNull() {
			return 0, false, newTrap(MemoryError, "segmentation fault")
		}
		if trap := m.heap.writeRef(rv.r, v.r); trap != nil {
			return 0, false, trap
		}
	case CMLoad:
		rv := f.pop()
		if rv.IsNull() {
			return 0, false, newTrap(MemoryError, "segmentation fault")
		}
		b, trap := m.heap.readByte(rv.r)
		if trap != nil {
			return 0, false, trap
		}
		f.push(IntValue(int32(int8(b))))
	case CMStore:
		v := f.pop()
		rv := f.pop()
		if rv.IsNull() {
			return 0, false, newTrap(MemoryError, "segmentation fault")
		}
		if trap := m.heap.writeByte(rv.r, byte(v.Int())&0x7F); trap != nil {
			return 0, false, trap
		}
	case AAddF:
		offset := f.code[pc+1]
		rv := f.pop()
		if rv.IsNull() {
			return 0, false, newTrap(MemoryError, "segmentation fault")
		}
		f.push(refValue(ref{id: rv.r.id, offset: rv.r.offset + uint32(offset)}))

	case NewArray:
		elemSize := f.code[pc+1]
		count := f.pop().Int()
		if count < 0 {
			return 0, false, newTrap(AssertionFailure, "array size is negative")
		}
		elems := make([]byte, int64(count)*int64(elemSize))
		r := m.heap.alloc(&arrayObject{elemSize: int32(elemSize), count: count, elems: elems})
		f.push(refValue(r))
	case ArrayLength:
		rv := f.pop()
		if rv.IsNull() {
			return 0, false, newTrap(MemoryError, "segmentation fault")
		}
		arr, trap := m.resolveArray(rv.r)
		if trap != nil {
			return 0, false, trap
		}
		f.push(IntValue(arr.count))
	case AAddS:
		i := f.pop().Int()
		rv := f.pop()
		if rv.IsNull() {
			return 0, false, newTrap(MemoryError, "segmentation fault")
		}
		arr, trap := m.resolveArray(rv.r)
		if trap != nil {
			return 0, false, trap
		}
		if i < 0 || i >= arr.count {
			return 0, false, newTrap(MemoryError, "array index %d out of range [0, %d)", i, arr.count)
		}
		f.push(refValue(ref{id: rv.r.id, offset: uint32(i) * uint32(arr.elemSize)}))

	case AThrow:
		rv := f.pop()
		if rv.IsNull() {
			return 0, false, newTrap(MemoryError, "segmentation fault")
		}
		msg, trap := m.heap.cString(rv.r)
		if trap != nil {
			return 0, false, trap
		}
		return 0, false, newTrap(UserError, "%s", msg)
	case Assert:
		msgRef := f.pop()
		cond := f.pop().Int()
		if cond == 0 {
			if msgRef.IsNull() {
				return 0, false, newTrap(AssertionFailure, "")
			}
			msg, trap := m.heap.cString(msgRef.r)
			if trap != nil {
				return 0, false, trap
			}
			return 0, false, newTrap(AssertionFailure, "%s", msg)
		}
	}

	f.pc = next
	return 0, false, nil
}

// jumpTarget computes a branch target the way §4.1 specifies: relative
// to the opcode byte of the branch instruction itself, not to the byte
// after its immediate.
func jumpTarget(opcodePC uint32, offset int16, codeLen int) (uint32, *Trap) {
	target := int64(opcodePC) + int64(offset)
	if target < 0 || target > int64(codeLen) {
		return 0, newTrap(Fatal, "jump target %d out of bounds", target)
	}
	return uint32(target), nil
}

func evalBranch(op Opcode, a, b Value) (bool, *Trap) {
	switch op {
	case IfCmpEq:
		return valuesEqual(a, b), nil
	case IfCmpNe:
		return !valuesEqual(a, b), nil
	case IfICmpLt:
		return a.Int() < b.Int(), nil
	case IfICmpGe:
		return a.Int() >= b.Int(), nil
	case IfICmpGt:
		return a.Int() > b.Int(), nil
	case IfICmpLe:
		return a.Int() <= b.Int(), nil
	default:
		return false, newTrap(Fatal, "not a conditional branch: %s", op)
	}
}

func (m *machine) resolveArray(r ref) (*arrayObject, *Trap) {
	obj, ok := m.heap.resolve(r)
	if !ok {
		return nil, newTrap(MemoryError, "segmentation fault")
	}
	arr, ok := obj.(*arrayObject)
	if !ok {
		return nil, newTrap(Fatal, "reference does not address an array")
	}
	return arr, nil
}

// stringRef returns the (cached) heap reference for string_pool[idx],
// allocating it on first use so repeated ALDC of the same index shares
// one object, matching §5's "strings ... referenced directly rather
// than copied."
func (m *machine) stringRef(idx uint16) (ref, *Trap) {
	if m.stringRefs == nil {
		m.stringRefs = make(map[uint16]ref)
	}
	if r, ok := m.stringRefs[idx]; ok {
		return r, nil
	}
	if int(idx) > len(m.image.StringPool) {
		return ref{}, newTrap(Fatal, "string pool offset %d out of range", idx)
	}
	r := m.heap.alloc(&stringObject{data: m.image.StringPool[idx:]})
	m.stringRefs[idx] = r
	return r, nil
}
