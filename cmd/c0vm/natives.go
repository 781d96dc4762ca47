package main

import (
	"fmt"
	"log/slog"

	"c0vm/vm"
)

// demoNatives is the table referenced by .native declarations in an
// assembled program: table index 0 prints an Int, index 1 prints a
// character code. A real embedder would size this to whatever its
// image's native pool actually calls.
func demoNatives(logger *slog.Logger) vm.NativeTable {
	return vm.NativeTable{
		func(args []vm.Value) vm.Value {
			fmt.Println(args[0].Int())
			return vm.IntValue(0)
		},
		func(args []vm.Value) vm.Value {
			fmt.Printf("%c", rune(args[0].Int()))
			return vm.IntValue(0)
		},
	}
}
