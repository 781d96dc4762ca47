package vm_test

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"c0vm/internal/asm"
	"c0vm/vm"
)

// Each property test below seeds its own *rand.Rand rather than using
// math/rand's package-level functions, so no test's sampling depends on
// another test having run first.

// Invariant 1: for well-formed bytecode that doesn't trap, the result
// is deterministic and reproducible across repeated runs.
func TestInvariantDeterministicAcrossRuns(t *testing.T) {
	img := assemble(t, `
.function main 0 2
	bipush 10
	vstore 0
	bipush 0
	vstore 1
loop:
	vload 0
	bipush 0
	if_icmple done
	vload 1
	vload 0
	iadd
	vstore 1
	vload 0
	bipush 1
	isub
	vstore 0
	goto loop
done:
	vload 1
	return
`)
	var first int32
	for i := 0; i < 20; i++ {
		exit, err := vm.Execute(img, nil)
		require.NoError(t, err)
		if i == 0 {
			first = exit
		} else {
			assert.Equal(t, first, exit)
		}
	}
}

// Invariant 2: IDIV/IREM match truncating division for all (a, b) with
// b != 0 and not (INT_MIN, -1).
func TestInvariantIDivIRemMatchTruncatingDivision(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		a, b := randInt32(r), randInt32(r)
		if b == 0 || (a == math.MinInt32 && b == -1) {
			continue
		}
		img := assemble(t, fmt.Sprintf(".function main 0 0\n\tildc %d\n\tildc %d\n\tidiv\n\treturn\n", a, b))
		exit, err := vm.Execute(img, nil)
		require.NoError(t, err)
		assert.EqualValues(t, a/b, exit, "idiv(%d, %d)", a, b)

		img = assemble(t, fmt.Sprintf(".function main 0 0\n\tildc %d\n\tildc %d\n\tirem\n\treturn\n", a, b))
		exit, err = vm.Execute(img, nil)
		require.NoError(t, err)
		assert.EqualValues(t, a-(a/b)*b, exit, "irem(%d, %d)", a, b)
	}
}

// Invariant 3: IADD/ISUB/IMUL match two's-complement arithmetic modulo
// 2^32 for all (a, b) -- Go's int32 arithmetic already wraps this way.
func TestInvariantArithmeticWrapsLikeTwosComplement(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	ops := map[string]func(a, b int32) int32{
		"iadd": func(a, b int32) int32 { return a + b },
		"isub": func(a, b int32) int32 { return a - b },
		"imul": func(a, b int32) int32 { return a * b },
	}
	for i := 0; i < 200; i++ {
		a, b := randInt32(r), randInt32(r)
		for mnemonic, want := range ops {
			img := assemble(t, fmt.Sprintf(".function main 0 0\n\tildc %d\n\tildc %d\n\t%s\n\treturn\n", a, b, mnemonic))
			exit, err := vm.Execute(img, nil)
			require.NoError(t, err)
			assert.EqualValues(t, want(a, b), exit, "%s(%d, %d)", mnemonic, a, b)
		}
	}
}

// Invariant 4: ISHL/ISHR match a << b and arithmetic a >> b for all
// shift amounts in [0, 31].
func TestInvariantShiftsMatchGoSemantics(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for i := 0; i < 200; i++ {
		a := randInt32(r)
		b := r.Int31n(32)

		img := assemble(t, fmt.Sprintf(".function main 0 0\n\tildc %d\n\tildc %d\n\tishl\n\treturn\n", a, b))
		exit, err := vm.Execute(img, nil)
		require.NoError(t, err)
		assert.EqualValues(t, a<<uint(b), exit, "ishl(%d, %d)", a, b)

		img = assemble(t, fmt.Sprintf(".function main 0 0\n\tildc %d\n\tildc %d\n\tishr\n\treturn\n", a, b))
		exit, err = vm.Execute(img, nil)
		require.NoError(t, err)
		assert.EqualValues(t, a>>uint(b), exit, "ishr(%d, %d)", a, b)
	}
}

// Invariant 5: taking or not taking a conditional branch only consumes
// its two operands -- everything else on the stack survives untouched.
func TestInvariantBranchPreservesRestOfStack(t *testing.T) {
	r := rand.New(rand.NewSource(4))
	for i := 0; i < 100; i++ {
		a, b := r.Int31n(1000)-500, r.Int31n(1000)-500
		sentinel := r.Int31n(1_000_000)

		img := assemble(t, fmt.Sprintf(`
.function main 0 0
	ildc %d
	ildc %d
	ildc %d
	if_icmplt taken
	bipush 0
	goto merge
taken:
	bipush 1
merge:
	iadd
	return
`, sentinel, a, b))
		exit, err := vm.Execute(img, nil)
		require.NoError(t, err)
		want := sentinel
		if a < b {
			want++
		}
		assert.EqualValues(t, want, exit, "a=%d b=%d sentinel=%d", a, b, sentinel)
	}
}

// Invariants 6 and 10: INVOKESTATIC/RETURN's argument-passing and
// call discipline produce the same result as inlining the callee's
// body with its locals initialized from the argument list in order.
func TestInvariantInvokeStaticMatchesInlining(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	for i := 0; i < 100; i++ {
		a, b := randInt32(r), randInt32(r)

		called := assemble(t, fmt.Sprintf(`
.function main 0 0
	ildc %d
	ildc %d
	invokestatic add
	return

.function add 2 2
	vload 0
	vload 1
	iadd
	return
`, a, b))
		inlined := assemble(t, fmt.Sprintf(".function main 0 2\n\tildc %d\n\tvstore 0\n\tildc %d\n\tvstore 1\n\tvload 0\n\tvload 1\n\tiadd\n\treturn\n", a, b))

		calledExit, err := vm.Execute(called, nil)
		require.NoError(t, err)
		inlinedExit, err := vm.Execute(inlined, nil)
		require.NoError(t, err)
		assert.Equal(t, inlinedExit, calledExit, "a=%d b=%d", a, b)
		assert.EqualValues(t, a+b, calledExit)
	}
}

// Invariant 7: NEWARRAY count k followed by k AADDS-addressed stores
// then loads round-trips every stored value.
func TestInvariantArrayRoundTrips(t *testing.T) {
	r := rand.New(rand.NewSource(6))
	for trial := 0; trial < 30; trial++ {
		k := 1 + r.Intn(8)
		values := make([]int32, k)
		for i := range values {
			values[i] = randInt32(r)
		}

		var body strings.Builder
		fmt.Fprintf(&body, ".function main 0 2\n\tbipush %d\n\tnewarray 4\n\tvstore 0\n", k)
		for i, v := range values {
			fmt.Fprintf(&body, "\tvload 0\n\tbipush %d\n\taadds\n\tildc %d\n\timstore\n", i, v)
		}
		body.WriteString("\tbipush 0\n\tvstore 1\n")
		for i := range values {
			fmt.Fprintf(&body, "\tvload 0\n\tbipush %d\n\taadds\n\timload\n\tvload 1\n\tiadd\n\tvstore 1\n", i)
		}
		body.WriteString("\tvload 1\n\treturn\n")

		var sum int64
		for _, v := range values {
			sum += int64(v)
		}

		img := assemble(t, body.String())
		exit, err := vm.Execute(img, nil)
		require.NoError(t, err)
		assert.EqualValues(t, int32(sum), exit, "k=%d values=%v", k, values)
	}
}

// Invariant 8: AADDS with i < 0 or i >= count always traps memory-error.
func TestInvariantAAddSOutOfRangeAlwaysTraps(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		count := 1 + r.Intn(16)
		var idx int
		if r.Intn(2) == 0 {
			idx = -1 - r.Intn(16)
		} else {
			idx = count + r.Intn(16)
		}

		img := assemble(t, fmt.Sprintf(".function main 0 1\n\tbipush %d\n\tnewarray 4\n\tvstore 0\n\tvload 0\n\tildc %d\n\taadds\n\treturn\n", count, idx))
		_, err := vm.Execute(img, nil)
		require.Error(t, err, "count=%d idx=%d", count, idx)
		assert.ErrorIs(t, err, vm.ErrMemoryError, "count=%d idx=%d", count, idx)
	}
}

// Invariant 9: every instruction consumes exactly its declared number
// of immediate bytes -- truncating an instruction's immediate is
// always a fatal decode error, never silently tolerated.
func TestInvariantImmediateByteCountsAreExact(t *testing.T) {
	cases := []struct {
		name string
		op   vm.Opcode
	}{
		{"bipush (1-byte immediate)", vm.BIPush},
		{"ildc (2-byte immediate)", vm.ILdc},
		{"goto (2-byte immediate)", vm.Goto},
		{"invokestatic (2-byte immediate)", vm.InvokeStatic},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			img := &vm.Image{Functions: []vm.Function{{Code: []byte{byte(c.op)}}}}
			_, err := vm.Execute(img, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, vm.ErrFatal)
		})
	}
}

func randInt32(r *rand.Rand) int32 {
	return int32(r.Uint32())
}
