package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/mattn/go-isatty"
)

const statHelp = `ods5fs stat [-flags] <image>

Print volume statistics of an ODS-5 volume image.

Example:
  % ods5fs stat disk.img
`

func stat(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("stat", flag.ExitOnError)
	var (
		mountOpts = fset.String("o", "", "comma-separated mount options (bs=N, home=N)")
	)
	fset.Usage = usage(fset, statHelp)
	fset.Parse(args)
	if fset.NArg() != 1 {
		return fmt.Errorf("syntax: stat <image>")
	}

	rdr, err := openVolume(fset, *mountOpts)
	if err != nil {
		return err
	}
	stats, err := rdr.Stat()
	if err != nil {
		return err
	}

	if isatty.IsTerminal(os.Stdout.Fd()) {
		w := tabwriter.NewWriter(os.Stdout, 0, 8, 1, ' ', 0)
		fmt.Fprintf(w, "volume size\t%d blocks\n", stats.VolSize)
		fmt.Fprintf(w, "free\t%d blocks\n", stats.FreeBlocks)
		fmt.Fprintf(w, "files\t%d used of %d\n", stats.UsedFids, stats.MaxFiles)
		return w.Flush()
	}
	// parse-friendly output when piped
	fmt.Printf("volsize %d\n", stats.VolSize)
	fmt.Printf("freeblocks %d\n", stats.FreeBlocks)
	fmt.Printf("usedfids %d\n", stats.UsedFids)
	fmt.Printf("maxfiles %d\n", stats.MaxFiles)
	return nil
}
