package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"syscall"
)

func umount(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("umount", flag.ExitOnError)
	fset.Parse(args)
	if fset.NArg() != 1 {
		return fmt.Errorf("syntax: umount <mountpoint>")
	}
	mountpoint := fset.Arg(0)

	if err := syscall.Unmount(mountpoint, 0); err != nil {
		log.Printf("unmounting %s failed: %v", mountpoint, err)
	}

	return nil
}
