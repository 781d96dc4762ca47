package asm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"c0vm/internal/asm"
	"c0vm/vm"
)

func TestAssembleAndRunRoundTrips(t *testing.T) {
	img, err := asm.Assemble(`
.function main 0 0
	bipush 2
	bipush 3
	imul
	return
`)
	require.NoError(t, err)
	exit, err := vm.Execute(img, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 6, exit)
}

func TestAssembleRejectsUnknownMnemonic(t *testing.T) {
	_, err := asm.Assemble(".function main 0 0\n\tfrobnicate\n")
	assert.Error(t, err)
}

func TestAssembleRejectsUndefinedLabel(t *testing.T) {
	_, err := asm.Assemble(".function main 0 0\n\tgoto nowhere\n")
	assert.Error(t, err)
}

func TestDisassembleListsEveryInstruction(t *testing.T) {
	img, err := asm.Assemble(".function main 0 0\n\tbipush 1\n\treturn\n")
	require.NoError(t, err)
	listing := asm.Disassemble(img)
	assert.Contains(t, listing, "bipush")
	assert.Contains(t, listing, "return")
}
