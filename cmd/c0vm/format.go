package main

// formatDoc documents the on-disk image format this CLI accepts: the
// text-assembly grammar internal/asm.Assemble parses. It is the
// authoritative reference for that format (SPEC_FULL.md §6) since the
// VM core itself takes an already-built vm.Image and has no on-disk
// representation of its own (§1).
const formatDoc = `Image format (a ".c0s" file):

  A .c0s file is a sequence of directives and instructions, one per
  line. ";" starts a line comment that runs to end of line.

  .function NAME NARGS NVARS
      Starts a function body: NARGS of its NVARS local-variable slots
      are filled from the caller's arguments, in argument order. Runs
      until the next .function/.native directive or end of file.

  .native NAME NARGS TABLEINDEX
      Declares a native callable via INVOKENATIVE NAME: pops NARGS
      arguments and calls slot TABLEINDEX of the embedder's NativeTable.

  LABEL:
      Marks the current position inside a function body for
      GOTO/IF_* targets; consumes no bytes.

  Instructions are one mnemonic per line, lowercase, optionally
  followed by a single operand:
    - bipush, vload, vstore, new, aaddf, newarray take a decimal or
      hex ("0x..") byte literal.
    - ildc takes a decimal or hex int32 literal, interned into the
      image's int pool.
    - aldc takes a Go-quoted string literal, interned into the image's
      string pool.
    - goto, if_cmpeq, if_cmpne, if_icmplt, if_icmpge, if_icmpgt,
      if_icmple take a label name, resolved to a relative offset.
    - invokestatic takes a function name; invokenative takes a native
      name. Both may be declared anywhere in the file (forward
      references are resolved in a second pass).
    - every other mnemonic takes no operand.

See internal/asm/asm.go for the assembler that implements this
grammar, and internal/asm.Disassemble for the reverse mapping used by
the disasm subcommand.
`
