package main

import (
	"fmt"
	"strings"
)

const helpUsage = `
Usage:	rewind <command> [options]

Commands:
   describe  Print details about saved recordings
   help      Show usage information about rewind commands
   version   Show the rewind version information

Options:
   -h, --help  Show this usage information
`

func help(args []string) error {
	flagSet := newFlagSet("rewind help", helpUsage)
	args = parseFlags(flagSet, args)

	if len(args) == 0 {
		fmt.Println(rootUsage)
		return nil
	}

	for _, cmd := range args {
		var msg string
		switch cmd {
		case "describe":
			msg = describeUsage
		case "help":
			msg = helpUsage
		case "version":
			msg = versionUsage
		default:
			return usageError("rewind help %s: unknown command", cmd)
		}
		fmt.Println(strings.TrimSpace(msg))
	}
	return nil
}
