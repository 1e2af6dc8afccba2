package main

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/ods5fs/ods5fs"
	"github.com/ods5fs/ods5fs/internal/fuse"
	"github.com/ods5fs/ods5fs/internal/ods5"
)

var debug = flag.Bool("debug", false, "enable the decoder's informational debug logging and format error messages with additional detail")

func bumpRlimitNOFILE() error {
	// The smaller of the two is the highest which Linux will let us set:
	// https://github.com/torvalds/linux/blob/2be7d348fe924f0c5583c6a805bd42cecda93104/kernel/sys.c#L1526-L1541
	var fileMax, nrOpen uint64
	{
		b, err := ioutil.ReadFile("/proc/sys/fs/file-max")
		if err != nil {
			return err
		}
		fileMax, err = strconv.ParseUint(strings.TrimSpace(string(b)), 0, 64)
		if err != nil {
			return err
		}
	}
	{
		b, err := ioutil.ReadFile("/proc/sys/fs/nr_open")
		if err != nil {
			return err
		}
		nrOpen, err = strconv.ParseUint(strings.TrimSpace(string(b)), 0, 64)
		if err != nil {
			return err
		}
	}
	max := fileMax
	if nrOpen < max {
		max = nrOpen
	}
	set := unix.Rlimit{
		Max: max,
		Cur: max,
	}
	return unix.Setrlimit(unix.RLIMIT_NOFILE, &set)
}

func funcmain() error {
	flag.Parse()

	if *debug {
		ods5.Debug = true
	}

	type cmd struct {
		fn func(ctx context.Context, args []string) error
	}
	verbs := map[string]cmd{
		"fuse": {func(ctx context.Context, args []string) error {
			if err := bumpRlimitNOFILE(); err != nil {
				log.Printf("Warning: bumping RLIMIT_NOFILE failed: %v", err)
			}
			join, err := fuse.Mount(ctx, args)
			if err != nil {
				return err
			}
			if err := join(ctx); err != nil {
				return xerrors.Errorf("Join: %w", err)
			}
			return nil
		}},
		"umount": {umount},
		"stat":   {stat},
		"ls":     {ls},
		"cat":    {cat},
	}

	args := flag.Args()
	verb := "fuse"
	if len(args) > 0 {
		verb, args = args[0], args[1:]
	}

	if verb == "help" {
		if len(args) != 1 {
			fmt.Fprintf(os.Stderr, "ods5fs [-flags] <command> [-flags] <args>\n")
			fmt.Fprintln(os.Stderr)
			fmt.Fprintf(os.Stderr, "To get help on any command, use ods5fs <command> -help or ods5fs help <command>.\n")
			fmt.Fprintln(os.Stderr)
			fmt.Fprintf(os.Stderr, "Commands:\n")
			fmt.Fprintf(os.Stderr, "\tfuse   - mount an ODS-5 volume image as a FUSE file system\n")
			fmt.Fprintf(os.Stderr, "\tumount - unmount a previously mounted volume\n")
			fmt.Fprintf(os.Stderr, "\tstat   - print volume statistics of an image\n")
			fmt.Fprintf(os.Stderr, "\tls     - list a directory within an image\n")
			fmt.Fprintf(os.Stderr, "\tcat    - print file contents (or raw metadata) from an image\n")
			os.Exit(2)
		}
		verb = args[0]
		args = []string{"-help"}
	}
	ctx, canc := ods5fs.InterruptibleContext()
	defer canc()
	v, ok := verbs[verb]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", verb)
		fmt.Fprintf(os.Stderr, "syntax: ods5fs <command> [options]\n")
		os.Exit(2)
	}
	if err := v.fn(ctx, args); err != nil {
		if *debug {
			return fmt.Errorf("%s: %+v", verb, err)
		}
		return fmt.Errorf("%s: %v", verb, err)
	}

	return ods5fs.RunAtExit()
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
