// Package config loads the handful of environment-driven knobs cmd/c0vm
// reads before starting the VM: trace verbosity, whether traps are
// logged to stderr, the initial operand-stack capacity hint, and the
// GC tuning the teacher's RunProgram applied around the hot execute
// loop.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the VM's runtime knobs, all overridable via environment
// variables (and a .env file, if present in the working directory).
type Config struct {
	// Trace enables the VM's per-instruction Tracer (vm.Options.Trace).
	Trace bool
	// LogTraps controls whether a returned Trap is logged to stderr by
	// the CLI before being reported as an exit code; disabling it is
	// useful for embedders that want to format the error themselves.
	LogTraps bool
	// StackCapacity seeds each Frame's operand-stack capacity, avoiding
	// reallocation for programs known to run deep expression stacks.
	StackCapacity int
	// GCPercent is applied with debug.SetGCPercent while the VM runs;
	// -1 disables the collector entirely for the run, the way the
	// teacher's RunProgram does around its own hot loop.
	GCPercent int
}

const (
	envTrace         = "C0VM_TRACE"
	envLogTraps      = "C0VM_LOG_TRAPS"
	envStackCapacity = "C0VM_STACK_CAPACITY"
	envGCPercent     = "C0VM_GC_PERCENT"
)

// Load reads .env (if present, ignored if not) and then the process
// environment, falling back to defaults for anything unset or
// unparsable.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Trace:         false,
		LogTraps:      true,
		StackCapacity: 8,
		GCPercent:     100,
	}

	if v, ok := os.LookupEnv(envTrace); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Trace = b
		}
	}

	if v, ok := os.LookupEnv(envLogTraps); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.LogTraps = b
		}
	}

	if v, ok := os.LookupEnv(envStackCapacity); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.StackCapacity = n
		}
	}

	if v, ok := os.LookupEnv(envGCPercent); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.GCPercent = n
		}
	}

	return cfg
}
