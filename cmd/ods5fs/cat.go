package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
)

const catHelp = `ods5fs cat [-flags] <image> <path>

Print the contents of a file within an ODS-5 volume image, without mounting
it. With -fat or -fh, print the raw record-attribute area or the raw file
header instead of the contents.

Example:
  % ods5fs cat disk.img 'LOGIN.COM;3'
`

func cat(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("cat", flag.ExitOnError)
	var (
		mountOpts = fset.String("o", "", "comma-separated mount options")
		dumpFat   = fset.Bool("fat", false, "print the raw 32-byte record-attribute area instead of the contents")
		dumpFh    = fset.Bool("fh", false, "print the raw 512-byte file header instead of the contents")
	)
	fset.Usage = usage(fset, catHelp)
	fset.Parse(args)
	if fset.NArg() != 2 {
		return fmt.Errorf("syntax: cat <image> <path>")
	}

	rdr, err := openVolume(fset, *mountOpts)
	if err != nil {
		return err
	}
	inode, err := resolvePath(rdr, fset.Arg(1))
	if err != nil {
		return err
	}

	if *dumpFat {
		fat := rdr.ReadFAT(inode)
		_, err := os.Stdout.Write(fat[:])
		return err
	}
	if *dumpFh {
		raw, err := rdr.ReadFH(inode)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(raw)
		return err
	}

	if inode.Mode&os.ModeSymlink != 0 {
		target, err := rdr.ReadLink(inode)
		if err != nil {
			return err
		}
		fmt.Println(target)
		return nil
	}

	buf := make([]byte, 65536)
	var off int64
	for off < inode.Size {
		n, err := rdr.ReadAt(inode, buf, off)
		if n > 0 {
			if _, werr := os.Stdout.Write(buf[:n]); werr != nil {
				return werr
			}
			off += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	return nil
}
