// Command c0vm is a thin, non-validating embedder around the vm
// package: it assembles a text image (internal/asm), wires a small
// demo native table, and runs or disassembles the result.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"c0vm/internal/asm"
	"c0vm/internal/config"
	"c0vm/vm"
)

func main() {
	root := &cobra.Command{
		Use:   "c0vm",
		Short: "A stack-based bytecode VM for a small C0-like language",
		Long:  "A stack-based bytecode VM for a small C0-like language.\n\n" + formatDoc,
	}
	root.AddCommand(runCmd(), disasmCmd(), debugCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <file.c0s>",
		Short: "Assemble and run a program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			img, err := loadImage(args[0])
			if err != nil {
				return err
			}

			runID := uuid.New().String()
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})).With("run_id", runID)

			restore := debug.SetGCPercent(cfg.GCPercent)
			defer debug.SetGCPercent(restore)

			var trace vm.Tracer
			if cfg.Trace {
				trace = func(pc uint32, op vm.Opcode, depth int) {
					logger.Debug("step", "pc", pc, "op", op.String(), "stack_depth", depth)
				}
			}

			exit, err := vm.ExecuteOptions(img, demoNatives(logger), vm.Options{
				Trace:         trace,
				StackCapacity: cfg.StackCapacity,
			})
			if err != nil {
				if cfg.LogTraps {
					logger.Error("trap", "error", err)
				}
				return err
			}
			fmt.Println(exit)
			return nil
		},
	}
}

func disasmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disasm <file.c0s>",
		Short: "Assemble a program and print its bytecode listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := loadImage(args[0])
			if err != nil {
				return err
			}
			fmt.Print(asm.Disassemble(img))
			return nil
		},
	}
}

func debugCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "debug <file.c0s>",
		Short: "Run a program with tracing forced on, one line per instruction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			img, err := loadImage(args[0])
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("run_id", uuid.New().String())
			trace := func(pc uint32, op vm.Opcode, depth int) {
				fmt.Printf("%04x  %-14s stack=%d\n", pc, op, depth)
			}
			exit, err := vm.ExecuteOptions(img, demoNatives(logger), vm.Options{
				Trace:         trace,
				StackCapacity: cfg.StackCapacity,
			})
			if err != nil {
				if cfg.LogTraps {
					logger.Error("trap", "error", err)
				}
				return err
			}
			fmt.Println("exit:", exit)
			return nil
		},
	}
}

func loadImage(path string) (*vm.Image, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	img, err := asm.Assemble(string(src))
	if err != nil {
		return nil, fmt.Errorf("assembling %s: %w", path, err)
	}
	return img, nil
}
