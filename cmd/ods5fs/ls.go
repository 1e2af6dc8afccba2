package main

import (
	"context"
	"flag"
	"fmt"
)

const lsHelp = `ods5fs ls [-flags] <image> [<path>]

List a directory within an ODS-5 volume image, without mounting it.

Example:
  % ods5fs ls -o syml disk.img sys0/sysmgr
`

func ls(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("ls", flag.ExitOnError)
	var (
		mountOpts = fset.String("o", "", "comma-separated mount options")
		long      = fset.Bool("l", false, "print file number, size and modification time per entry")
	)
	fset.Usage = usage(fset, lsHelp)
	fset.Parse(args)
	if fset.NArg() != 1 && fset.NArg() != 2 {
		return fmt.Errorf("syntax: ls <image> [<path>]")
	}

	rdr, err := openVolume(fset, *mountOpts)
	if err != nil {
		return err
	}
	dir, err := resolvePath(rdr, fset.Arg(1))
	if err != nil {
		return err
	}

	entries, err := rdr.Readdir(dir, dir.Fid)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !*long {
			fmt.Println(e.Name)
			continue
		}
		inode, err := rdr.Iget(e.Fid)
		if err != nil {
			fmt.Printf("%-40s ?\n", e.Name)
			continue
		}
		fmt.Printf("%-40s %8d %10d %s\n", e.Name, inode.FileNumber(), inode.Size, inode.Mtime.Format("2006-01-02 15:04:05"))
	}
	return nil
}
