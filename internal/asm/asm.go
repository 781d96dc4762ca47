// Package asm is a minimal, deliberately non-validating text assembler
// for c0vm images, used by cmd/c0vm's run/disasm/debug subcommands and
// by the vm package's own tests. It is explicitly outside the VM
// core's scope (SPEC_FULL.md §1): nothing here checks that the bytecode
// it emits is well-formed, matching how the teacher kept parsing and
// compiling (parse.go/compile.go) as a layer entirely separate from
// execution (exec.go).
package asm

import (
	"bufio"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"c0vm/vm"
)

var commentPattern = regexp.MustCompile(`;.*$`)

var mnemonics = map[string]vm.Opcode{
	"nop": vm.Nop, "pop": vm.Pop, "dup": vm.Dup, "swap": vm.Swap,
	"bipush": vm.BIPush, "ildc": vm.ILdc, "aldc": vm.ALdc, "aconst_null": vm.AConstNull,
	"vload": vm.VLoad, "vstore": vm.VStore,
	"iadd": vm.IAdd, "isub": vm.ISub, "imul": vm.IMul, "idiv": vm.IDiv, "irem": vm.IRem,
	"iand": vm.IAnd, "ior": vm.IOr, "ixor": vm.IXor, "ishl": vm.IShl, "ishr": vm.IShr,
	"goto": vm.Goto, "if_cmpeq": vm.IfCmpEq, "if_cmpne": vm.IfCmpNe,
	"if_icmplt": vm.IfICmpLt, "if_icmpge": vm.IfICmpGe, "if_icmpgt": vm.IfICmpGt, "if_icmple": vm.IfICmpLe,
	"invokestatic": vm.InvokeStatic, "invokenative": vm.InvokeNative, "return": vm.Return,
	"new": vm.New, "imload": vm.IMLoad, "imstore": vm.IMStore,
	"amload": vm.AMLoad, "amstore": vm.AMStore, "cmload": vm.CMLoad, "cmstore": vm.CMStore,
	"aaddf": vm.AAddF, "newarray": vm.NewArray, "arraylength": vm.ArrayLength, "aadds": vm.AAddS,
	"athrow": vm.AThrow, "assert": vm.Assert,
}

// operandKind classifies how an instruction's single textual operand
// (if any) is encoded, since each needs different resolution: a plain
// literal, a forward label reference, a function name, or a native
// name.
type operandKind int

const (
	noOperand operandKind = iota
	literalByteOperand
	intLiteralOperand
	stringLiteralOperand
	labelOperand
	functionOperand
	nativeOperand
)

func kindOf(op vm.Opcode) operandKind {
	switch op {
	case vm.BIPush, vm.VLoad, vm.VStore, vm.New, vm.AAddF, vm.NewArray:
		return literalByteOperand
	case vm.ILdc:
		return intLiteralOperand
	case vm.ALdc:
		return stringLiteralOperand
	case vm.Goto, vm.IfCmpEq, vm.IfCmpNe, vm.IfICmpLt, vm.IfICmpGe, vm.IfICmpGt, vm.IfICmpLe:
		return labelOperand
	case vm.InvokeStatic:
		return functionOperand
	case vm.InvokeNative:
		return nativeOperand
	default:
		return noOperand
	}
}

func instrLen(op vm.Opcode) int {
	switch kindOf(op) {
	case noOperand:
		return 1
	case literalByteOperand:
		return 2
	default:
		return 3
	}
}

type rawInstr struct {
	pc      int
	op      vm.Opcode
	operand string
	line    int
}

type rawFunc struct {
	name    string
	numArgs int
	numVars int
	instrs  []rawInstr
	labels  map[string]int
}

// Assemble parses src and produces a ready-to-run Image. Function and
// native declarations may appear in any order; forward references
// between them (INVOKESTATIC/INVOKENATIVE) are resolved in a second
// pass, the same two-pass shape the teacher's own label resolution
// uses in parse.go.
func Assemble(src string) (*vm.Image, error) {
	funcs := []rawFunc{}
	funcIndex := map[string]int{}
	natives := []vm.Native{}
	nativeIndex := map[string]int{}

	var cur *rawFunc
	scanner := bufio.NewScanner(strings.NewReader(src))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := commentPattern.ReplaceAllString(scanner.Text(), "")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, ".function"):
			fields := strings.Fields(line)
			if len(fields) != 4 {
				return nil, fmt.Errorf("line %d: expected .function name nargs nvars", lineNo)
			}
			nargs, err1 := strconv.Atoi(fields[2])
			nvars, err2 := strconv.Atoi(fields[3])
			if err1 != nil || err2 != nil {
				return nil, fmt.Errorf("line %d: bad .function arity", lineNo)
			}
			funcIndex[fields[1]] = len(funcs)
			funcs = append(funcs, rawFunc{name: fields[1], numArgs: nargs, numVars: nvars, labels: map[string]int{}})
			cur = &funcs[len(funcs)-1]

		case strings.HasPrefix(line, ".native"):
			fields := strings.Fields(line)
			if len(fields) != 4 {
				return nil, fmt.Errorf("line %d: expected .native name nargs tableIndex", lineNo)
			}
			nargs, err1 := strconv.Atoi(fields[2])
			tblIdx, err2 := strconv.Atoi(fields[3])
			if err1 != nil || err2 != nil {
				return nil, fmt.Errorf("line %d: bad .native arity", lineNo)
			}
			nativeIndex[fields[1]] = len(natives)
			natives = append(natives, vm.Native{NumArgs: uint16(nargs), FunctionTableIndex: uint16(tblIdx)})
			cur = nil

		case strings.HasSuffix(line, ":") && !strings.Contains(line, " "):
			if cur == nil {
				return nil, fmt.Errorf("line %d: label outside of a function", lineNo)
			}
			label := strings.TrimSuffix(line, ":")
			cur.labels[label] = pcOf(cur)

		default:
			if cur == nil {
				return nil, fmt.Errorf("line %d: instruction outside of a function", lineNo)
			}
			mnemonic, operand, _ := strings.Cut(line, " ")
			op, ok := mnemonics[strings.ToLower(mnemonic)]
			if !ok {
				return nil, fmt.Errorf("line %d: unknown mnemonic %q", lineNo, mnemonic)
			}
			instr := rawInstr{pc: pcOf(cur), op: op, operand: strings.TrimSpace(operand), line: lineNo}
			cur.instrs = append(cur.instrs, instr)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	img := &vm.Image{Natives: natives}
	for i := range funcs {
		code, ints, strs, err := encodeFunction(&funcs[i], funcIndex, nativeIndex, int32(len(img.IntPool)), int32(len(img.StringPool)))
		if err != nil {
			return nil, fmt.Errorf("function %q: %w", funcs[i].name, err)
		}
		img.IntPool = append(img.IntPool, ints...)
		img.StringPool = append(img.StringPool, strs...)
		img.Functions = append(img.Functions, vm.Function{
			NumArgs: uint8(funcs[i].numArgs),
			NumVars: uint8(funcs[i].numVars),
			Code:    code,
		})
	}
	return img, nil
}

func pcOf(f *rawFunc) int {
	if len(f.instrs) == 0 {
		return 0
	}
	last := f.instrs[len(f.instrs)-1]
	return last.pc + instrLen(last.op)
}

// encodeFunction lowers one function's instructions to bytes. Each
// function gets its own int/string literals appended to the shared
// pools at the offsets passed in, so ILDC/ALDC indices stay correct
// regardless of assembly order.
func encodeFunction(f *rawFunc, funcIndex, nativeIndex map[string]int, intBase, strBase int32) ([]byte, []int32, []byte, error) {
	var code []byte
	var ints []int32
	var strs []byte

	for _, in := range f.instrs {
		code = append(code, byte(in.op))
		switch kindOf(in.op) {
		case noOperand:

		case literalByteOperand:
			n, err := strconv.ParseInt(in.operand, 0, 16)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("line %d: bad byte operand %q: %w", in.line, in.operand, err)
			}
			code = append(code, byte(int8(n)))

		case intLiteralOperand:
			n, err := strconv.ParseInt(in.operand, 0, 64)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("line %d: bad int literal %q: %w", in.line, in.operand, err)
			}
			idx := intBase + int32(len(ints))
			ints = append(ints, int32(n))
			code = appendU16(code, uint16(idx))

		case stringLiteralOperand:
			s, err := strconv.Unquote(in.operand)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("line %d: bad string literal %q: %w", in.line, in.operand, err)
			}
			offset := strBase + int32(len(strs))
			strs = append(strs, append([]byte(s), 0)...)
			code = appendU16(code, uint16(offset))

		case labelOperand:
			target, ok := f.labels[in.operand]
			if !ok {
				return nil, nil, nil, fmt.Errorf("line %d: undefined label %q", in.line, in.operand)
			}
			code = appendU16(code, uint16(int16(target-in.pc)))

		case functionOperand:
			idx, ok := funcIndex[in.operand]
			if !ok {
				return nil, nil, nil, fmt.Errorf("line %d: undefined function %q", in.line, in.operand)
			}
			code = appendU16(code, uint16(idx))

		case nativeOperand:
			idx, ok := nativeIndex[in.operand]
			if !ok {
				return nil, nil, nil, fmt.Errorf("line %d: undefined native %q", in.line, in.operand)
			}
			code = appendU16(code, uint16(idx))
		}
	}
	if len(code) == 0 {
		return nil, nil, nil, errors.New("empty function body")
	}
	return code, ints, strs, nil
}

func appendU16(code []byte, v uint16) []byte {
	return append(code, byte(v>>8), byte(v))
}

// Disassemble renders img's functions back to a readable (not
// necessarily re-assemblable) listing, for cmd/c0vm's disasm
// subcommand.
func Disassemble(img *vm.Image) string {
	var b strings.Builder
	for i, f := range img.Functions {
		fmt.Fprintf(&b, "function %d (nargs=%d nvars=%d):\n", i, f.NumArgs, f.NumVars)
		pc := 0
		for pc < len(f.Code) {
			op := vm.Opcode(f.Code[pc])
			fmt.Fprintf(&b, "  %04x  %s", pc, op)
			switch kindOf(op) {
			case literalByteOperand:
				fmt.Fprintf(&b, " %d", int8(f.Code[pc+1]))
			case intLiteralOperand, stringLiteralOperand, labelOperand, functionOperand, nativeOperand:
				hi, lo := f.Code[pc+1], f.Code[pc+2]
				fmt.Fprintf(&b, " 0x%02x%02x", hi, lo)
			}
			b.WriteByte('\n')
			n := instrLen(op)
			if n == 0 {
				break
			}
			pc += n
		}
	}
	return b.String()
}
