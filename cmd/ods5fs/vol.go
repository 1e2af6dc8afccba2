package main

import (
	"flag"
	"os"
	"strings"

	"golang.org/x/xerrors"

	"github.com/ods5fs/ods5fs"
	"github.com/ods5fs/ods5fs/internal/fuse"
	"github.com/ods5fs/ods5fs/internal/ods5"
)

// openVolume opens the image named by the first positional argument and
// returns a reader configured from the -o flag string. The image file is
// closed via the at-exit hooks, which run once the command has returned
// without error.
func openVolume(fset *flag.FlagSet, mountOpts string) (*ods5.Reader, error) {
	image := fset.Arg(0)
	opts, err := fuse.ParseMountOptions(mountOpts)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(image)
	if err != nil {
		return nil, err
	}
	ods5fs.RegisterAtExit(f.Close)
	rdr, err := ods5.NewReader(f, opts...)
	if err != nil {
		return nil, xerrors.Errorf("reading %s: %w", image, err)
	}
	return rdr, nil
}

// resolvePath walks path from the MFD, one component at a time. Component
// names follow the volume's lookup rules: either explicit name;version, or
// (with -o syml) bare POSIX-style names.
func resolvePath(rdr *ods5.Reader, path string) (*ods5.Inode, error) {
	inode, err := rdr.Root()
	if err != nil {
		return nil, err
	}
	for _, component := range strings.Split(path, "/") {
		if component == "" {
			continue
		}
		f, err := rdr.Lookup(inode, component)
		if err != nil {
			return nil, xerrors.Errorf("resolving %q: %w", component, err)
		}
		inode, err = rdr.Iget(f)
		if err != nil {
			return nil, xerrors.Errorf("resolving %q: %w", component, err)
		}
	}
	return inode, nil
}
