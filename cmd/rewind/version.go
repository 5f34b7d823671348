package main

import (
	"fmt"
	"runtime/debug"
)

const versionUsage = `
Usage:	rewind version

Options:
   -h, --help  Show this usage information
`

func version(args []string) error {
	flagSet := newFlagSet("rewind version", versionUsage)
	parseFlags(flagSet, args)
	fmt.Printf("rewind %s\n", currentVersion())
	return nil
}

func currentVersion() string {
	version := "devel"
	if info, ok := debug.ReadBuildInfo(); ok {
		switch info.Main.Version {
		case "", "(devel)":
		default:
			version = info.Main.Version
		}
	}
	return version
}
