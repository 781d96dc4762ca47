package vm

import "fmt"

// TrapKind names the five distinguishable ways a program can terminate
// abnormally (SPEC_FULL.md §7). Traps are not recoverable within the
// source language: execution stops and Execute reports the kind and
// message to its caller.
type TrapKind uint8

const (
	// ArithError covers division/modulo by zero, INT_MIN / -1, and
	// shift amounts outside [0, 31].
	ArithError TrapKind = iota
	// MemoryError covers dereferencing a null reference and
	// out-of-range array indices.
	MemoryError
	// AssertionFailure covers a false ASSERT and a negative NEWARRAY
	// count.
	AssertionFailure
	// UserError covers ATHROW.
	UserError
	// Fatal covers invalid opcodes, malformed jumps, and internal
	// invariant breaches -- conditions that should be impossible for
	// well-formed bytecode.
	Fatal
)

func (k TrapKind) String() string {
	switch k {
	case ArithError:
		return "arith-error"
	case MemoryError:
		return "memory-error"
	case AssertionFailure:
		return "assertion-failure"
	case UserError:
		return "user-error"
	case Fatal:
		return "fatal"
	default:
		return "unknown-trap"
	}
}

// Trap is the typed error Execute returns whenever a program terminates
// abnormally. Its Kind is checked with errors.Is against the sentinel
// Err* values below.
type Trap struct {
	Kind    TrapKind
	Message string
	// Pc and Opcode identify where execution stopped, for diagnostics;
	// they are zero for traps raised before the first instruction runs.
	Pc     uint32
	Opcode Opcode
}

func newTrap(kind TrapKind, format string, args ...any) *Trap {
	return &Trap{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (t *Trap) Error() string {
	if t.Message == "" {
		return t.Kind.String()
	}
	return fmt.Sprintf("%s: %s", t.Kind, t.Message)
}

// Is lets errors.Is(err, vm.ErrMemoryError) match any Trap of that
// kind, regardless of message.
func (t *Trap) Is(target error) bool {
	sentinel, ok := target.(*Trap)
	if !ok {
		return false
	}
	return sentinel.Kind == t.Kind && sentinel.Message == ""
}

// Sentinel traps for use with errors.Is(err, vm.ErrArithError) and
// friends; they carry no message and exist only to be compared
// against by Kind.
var (
	ErrArithError       = &Trap{Kind: ArithError}
	ErrMemoryError      = &Trap{Kind: MemoryError}
	ErrAssertionFailure = &Trap{Kind: AssertionFailure}
	ErrUserError        = &Trap{Kind: UserError}
	ErrFatal            = &Trap{Kind: Fatal}
)

func (t *Trap) at(pc uint32, op Opcode) *Trap {
	t.Pc = pc
	t.Opcode = op
	return t
}
