package main

// Notes on program structure
// --------------------------
//
// Each subcommand is implemented by a function named after the command, in a
// file of the same name (e.g. the "describe" command is implemented by the
// describe function in describe.go). The usage message for each command is
// declared by a constant starting with the command name and followed by the
// suffix "Usage".

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/exp/slices"
)

const rootUsage = `rewind - deterministic record/replay thread coordination

   rewind records the nondeterministic inputs of a multithreaded process as
   per-thread event streams, and replays them to reproduce the execution
   exactly.

Example:

   $ rewind describe trace.rwnd
   ID:          f6e9acbc-0543-47df-9413-b99f569cfa3b
   ...

For a list of commands available, run 'rewind help'.`

// root is the rewind entrypoint.
func root(args ...string) int {
	flagSet := newFlagSet("rewind", helpUsage)
	_ = flagSet.Parse(args)

	if args = flagSet.Args(); len(args) == 0 {
		fmt.Println(rootUsage)
		return 0
	}

	cmd, args := args[0], args[1:]

	var err error
	switch cmd {
	case "describe":
		err = describe(args)
	case "help":
		err = help(args)
	case "version":
		err = version(args)
	default:
		err = usageError("rewind %s: unknown command, run 'rewind help' for a list of commands", cmd)
	}

	switch e := err.(type) {
	case nil:
		return 0
	case exitCode:
		return int(e)
	case usage:
		fmt.Fprintf(os.Stderr, "%s\n", e)
		return 2
	default:
		fmt.Fprintf(os.Stderr, "ERR: rewind %s: %s\n", cmd, err)
		return 1
	}
}

// exitCode is an error type returned from command functions to indicate the
// exit code that should be returned by the program.
type exitCode int

func (e exitCode) Error() string {
	return fmt.Sprintf("exit: %d", e)
}

// usage is an error type returned from command functions to indicate a usage
// error. Usage errors cause the program to exit with status code 2.
type usage string

func usageError(msg string, args ...any) error {
	return usage(fmt.Sprintf(msg, args...))
}

func (e usage) Error() string {
	return string(e)
}

func newFlagSet(cmd, usage string) *flag.FlagSet {
	usage = strings.TrimSpace(usage)
	flagSet := flag.NewFlagSet(cmd, flag.ExitOnError)
	flagSet.Usage = func() { fmt.Println(usage) }
	return flagSet
}

// parseFlags is a greedy parser which consumes all options known to f and
// returns the remaining arguments.
func parseFlags(f *flag.FlagSet, args []string) []string {
	var unknownArgs []string
	for {
		// The flag set is constructed with ExitOnError, it should never error.
		if err := f.Parse(args); err != nil {
			panic(err)
		}
		if args = f.Args(); len(args) == 0 {
			return unknownArgs
		}
		i := slices.IndexFunc(args, func(s string) bool {
			return strings.HasPrefix(s, "-")
		})
		if i < 0 {
			i = len(args)
		} else if args[i] == "-" {
			i++
		}
		if i == 0 {
			panic("parsing command line arguments did not error on " + args[0])
		}
		unknownArgs = append(unknownArgs, args[:i]...)
		args = args[i:]
	}
}
