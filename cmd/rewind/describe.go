package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rewindlabs/rewind/internal/recording"
)

const describeUsage = `
Usage:	rewind describe <recordings...> [options]

   The describe command prints the header and per-thread stream sizes of
   saved recordings.

Options:
   -h, --help  Show this usage information
`

func describe(args []string) error {
	flagSet := newFlagSet("rewind describe", describeUsage)
	args = parseFlags(flagSet, args)
	if len(args) == 0 {
		return usageError(`no recordings were specified, use 'rewind describe <recordings...>'`)
	}
	for i, path := range args {
		if i != 0 {
			fmt.Println("---")
		}
		if err := describeRecording(os.Stdout, path); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

func describeRecording(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := recording.NewReader(f)
	header, err := r.ReadHeader()
	if err != nil {
		return err
	}

	sizes := make(map[int]int64)
	threadIDs := []int(nil)
	total := int64(0)
	for {
		threadID, data, err := r.ReadStream()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		if _, seen := sizes[threadID]; !seen {
			threadIDs = append(threadIDs, threadID)
		}
		sizes[threadID] += int64(len(data))
		total += int64(len(data))
	}

	fmt.Fprintf(w, "ID:          %s\n", header.ProcessID)
	fmt.Fprintf(w, "Start:       %s\n", header.StartTime.Format(time.RFC1123))
	fmt.Fprintf(w, "Compression: %s\n", header.Compression)
	fmt.Fprintf(w, "Threads:     %d\n", len(threadIDs))
	fmt.Fprintf(w, "Size:        %d B\n", total)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "THREAD\tSIZE")
	for _, threadID := range threadIDs {
		fmt.Fprintf(tw, "%d\t%d B\n", threadID, sizes[threadID])
	}
	return tw.Flush()
}
