// Package fuse exposes an ODS-5 (or ODS-2) volume image as a read-only FUSE
// file system.
package fuse

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/moby/sys/mountinfo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/ods5fs/ods5fs/internal/ods5"
)

const help = `ods5fs fuse [-flags] <image> <mountpoint>

Mount the ODS-5 volume image at <image> as a read-only FUSE file system.

Example:
  % ods5fs fuse -o syml,vtf7 disk.img /mnt/vms
`

// Mount mounts the volume image and returns a join function which serves FUSE
// requests until the mount is torn down (or ctx is cancelled).
func Mount(ctx context.Context, args []string) (join func(context.Context) error, _ error) {
	fset := flag.NewFlagSet("fuse", flag.ExitOnError)
	var (
		mountOpts = fset.String("o", "", "comma-separated mount options (bs=N, home=N, mode=0OOO, nomfd, dotversion, syml, utf8, vtf7)")
		readiness = fset.Int("readiness", -1, "file descriptor on which to send readiness notification")
		debug     = fset.Bool("debug", false, "enable the decoder's informational debug logging")
	)
	fset.Usage = func() {
		fmt.Fprintln(os.Stderr, help)
		fmt.Fprintf(os.Stderr, "Flags for ods5fs %s:\n", fset.Name())
		fset.PrintDefaults()
	}
	fset.Parse(args)
	if fset.NArg() != 2 {
		return nil, xerrors.Errorf("syntax: fuse <image> <mountpoint>")
	}
	image := fset.Arg(0)
	mountpoint := fset.Arg(1)

	if *debug {
		ods5.Debug = true
	}

	if mounted, err := mountinfo.Mounted(mountpoint); err == nil && mounted {
		return nil, xerrors.Errorf("%s is already a mount point", mountpoint)
	}

	opts, err := ParseMountOptions(*mountOpts)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(image)
	if err != nil {
		return nil, err
	}

	rdr, err := ods5.NewReader(f, opts...)
	if err != nil {
		f.Close()
		return nil, xerrors.Errorf("reading %s: %w", image, err)
	}

	fs := &fuseFS{
		rdr:     rdr,
		file:    f,
		parents: make(map[fuseops.InodeID]ods5.FID),
	}

	server := fuseutil.NewFileSystemServer(fs)
	mfs, err := fuse.Mount(mountpoint, server, &fuse.MountConfig{
		FSName:   "ods5",
		ReadOnly: true,
		Options: map[string]string{
			"allow_other": "", // allow all users to read files
		},
		// Opt into caching resolved symlinks in the kernel page cache:
		EnableSymlinkCaching: true,
		// Opt into returning -ENOSYS on OpenFile and OpenDir:
		EnableNoOpenSupport:    true,
		EnableNoOpendirSupport: true,
	})
	if err != nil {
		f.Close()
		return nil, xerrors.Errorf("fuse.Mount: %v", err)
	}

	join = func(ctx context.Context) error {
		defer func() {
			if err := fuse.Unmount(mountpoint); err != nil {
				fmt.Fprintf(os.Stderr, "fuse.Unmount: %v\n", err)
			}
		}()
		var eg errgroup.Group
		eg.Go(func() error { return mfs.Join(ctx) })
		if *readiness != -1 {
			eg.Go(func() error { return os.NewFile(uintptr(*readiness), "").Close() })
		}
		return eg.Wait()
	}
	return join, nil
}

// fuseInode encodes a FID into a FUSE inode ID: the 24-bit file number in the
// low word, the sequence number above it so a stale FID never aliases its
// successor. The MFD maps onto the fixed FUSE root inode ID.
func fuseInode(f ods5.FID) fuseops.InodeID {
	if f.FileNumber() == ods5.ODS5MFDIno {
		return fuseops.RootInodeID
	}
	return fuseops.InodeID(f.Seq)<<32 | fuseops.InodeID(f.FileNumber())
}

// odsFID is the inverse of fuseInode. A zero Seq (as in the synthesized root
// FID) means "do not check the sequence number" to the reader's iget.
func odsFID(i fuseops.InodeID) ods5.FID {
	if i == fuseops.RootInodeID {
		return ods5.FID{Num: ods5.ODS5MFDIno}
	}
	fnum := uint32(i & 0xFFFFFF)
	return ods5.FID{
		Num: uint16(fnum),
		Nmx: uint8(fnum >> 16),
		Seq: uint16(i >> 32),
	}
}

type fuseFS struct {
	fuseutil.NotImplementedFileSystem

	rdr  *ods5.Reader
	file *os.File // for closing it in Destroy

	mu      sync.Mutex
	parents map[fuseops.InodeID]ods5.FID // directory inode -> parent fid, for ".."
}

// errno maps the decoder's error taxonomy onto the errno the host expects:
// structural -> EIO, lookup miss -> ENOENT, charset -> EINVAL, over-long
// name -> ENAMETOOLONG, resource -> ENOMEM, capability -> EOPNOTSUPP.
func errno(err error) error {
	switch err.(type) {
	case *ods5.NotFoundError:
		return fuse.ENOENT
	case *ods5.StructuralError:
		return fuse.EIO
	case *ods5.CharsetError:
		return fuse.EINVAL
	case *ods5.NameTooLongError:
		return syscall.ENAMETOOLONG
	case *ods5.ResourceError:
		return syscall.ENOMEM
	case *ods5.CapabilityError:
		return syscall.EOPNOTSUPP
	}
	if err == context.Canceled {
		return syscall.EINTR
	}
	log.Println(err)
	return fuse.EIO
}

// never is used for FUSE expiration timestamps. The volume is immutable
// (read-only mount of a fixed image) and inode IDs are stable, so the kernel
// can cache all values forever.
//
// The value is named never even though, strictly speaking, it refers to one
// year in the future, because we can take a cache miss once every year and
// there is no sentinel value meaning never in FUSE.
var never = time.Now().Add(365 * 24 * time.Hour)

func attributes(inode *ods5.Inode) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:  uint64(inode.Size),
		Nlink: inode.Nlink,
		Mode:  inode.Mode,
		Uid:   inode.Uid,
		Gid:   inode.Gid,
		Atime: inode.Atime,
		Mtime: inode.Mtime,
		Ctime: inode.Ctime,
	}
}

func (fs *fuseFS) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	stats, err := fs.rdr.Stat()
	if err != nil {
		return errno(err)
	}
	op.BlockSize = ods5.Block
	op.Blocks = uint64(stats.VolSize)
	op.BlocksFree = uint64(stats.FreeBlocks)
	op.BlocksAvailable = uint64(stats.FreeBlocks)
	op.Inodes = uint64(stats.MaxFiles)
	op.InodesFree = uint64(stats.MaxFiles - stats.UsedFids)
	op.IoSize = 65536 // preferred size of reads
	return nil
}

func (fs *fuseFS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	dir, err := fs.rdr.Iget(odsFID(op.Parent))
	if err != nil {
		return errno(err)
	}
	f, err := fs.rdr.Lookup(dir, op.Name)
	if err != nil {
		return errno(err)
	}
	child, err := fs.rdr.Iget(f)
	if err != nil {
		return errno(err)
	}

	id := fuseInode(f)
	if child.Mode.IsDir() {
		fs.mu.Lock()
		fs.parents[id] = dir.Fid
		fs.mu.Unlock()
	}

	op.Entry.Child = id
	op.Entry.Attributes = attributes(child)
	op.Entry.AttributesExpiration = never
	op.Entry.EntryExpiration = never
	return nil
}

func (fs *fuseFS) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	inode, err := fs.rdr.Iget(odsFID(op.Inode))
	if err != nil {
		return errno(err)
	}
	op.Attributes = attributes(inode)
	op.AttributesExpiration = never
	return nil
}

func (fs *fuseFS) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	// Instruct the kernel to not send OpenDir requests for performance:
	// https://github.com/torvalds/linux/commit/7678ac50615d9c7a491d9861e020e4f5f71b594c
	return fuse.ENOSYS
}

func (fs *fuseFS) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	dir, err := fs.rdr.Iget(odsFID(op.Inode))
	if err != nil {
		return errno(err)
	}
	if !dir.Mode.IsDir() {
		return fuse.EIO
	}

	fs.mu.Lock()
	parent, ok := fs.parents[op.Inode]
	fs.mu.Unlock()
	if !ok {
		parent = dir.Fid // the MFD is its own parent; anything else was looked up first
	}

	// The directory scanner's pos encoding doubles as the (opaque) FUSE
	// directory offset, so a resumed READDIR continues exactly where the
	// previous one stopped without rescanning earlier blocks.
	pos := uint64(op.Offset)
	for {
		e, next, err := fs.rdr.ReaddirAt(dir, parent, pos)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errno(err)
		}
		typ := fuseutil.DT_Unknown
		if e.Name == "." || e.Name == ".." {
			typ = fuseutil.DT_Directory
		}
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], fuseutil.Dirent{
			Offset: fuseops.DirOffset(next),
			Inode:  fuseInode(e.Fid),
			Name:   e.Name,
			Type:   typ,
		})
		if n == 0 {
			return nil
		}
		op.BytesRead += n
		pos = next
	}
}

func (fs *fuseFS) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	// Instruct the kernel to not send OpenFile requests for performance:
	// https://github.com/torvalds/linux/commit/7678ac50615d9c7a491d9861e020e4f5f71b594c
	return fuse.ENOSYS
}

func (fs *fuseFS) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	inode, err := fs.rdr.Iget(odsFID(op.Inode))
	if err != nil {
		return errno(err)
	}
	op.BytesRead, err = fs.rdr.ReadAt(inode, op.Dst, op.Offset)
	if err == io.EOF {
		err = nil // FUSE does not want io.EOF
	}
	if err != nil {
		return errno(err)
	}
	return nil
}

func (fs *fuseFS) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error {
	inode, err := fs.rdr.Iget(odsFID(op.Inode))
	if err != nil {
		return errno(err)
	}
	target, err := fs.rdr.ReadLink(inode)
	if err != nil {
		return errno(err)
	}
	op.Target = target
	return nil
}

func (fs *fuseFS) ListXattr(ctx context.Context, op *fuseops.ListXattrOp) error {
	inode, err := fs.rdr.Iget(odsFID(op.Inode))
	if err != nil {
		return errno(err)
	}
	names := fs.rdr.ListXattr(inode)
	for _, name := range names {
		op.BytesRead += len(name) + 1 /* NUL-terminated */
	}
	if op.BytesRead > len(op.Dst) {
		if len(op.Dst) == 0 {
			return nil
		}
		return syscall.ERANGE
	}
	copied := 0
	for _, name := range names {
		copy(op.Dst[copied:], name)
		copied += len(name) + 1 /* NUL-terminated */
		op.Dst[copied-1] = 0
	}
	return nil
}

func (fs *fuseFS) GetXattr(ctx context.Context, op *fuseops.GetXattrOp) error {
	inode, err := fs.rdr.Iget(odsFID(op.Inode))
	if err != nil {
		return errno(err)
	}
	val, err := fs.rdr.GetXattr(inode, op.Name)
	if err != nil {
		if _, ok := err.(*ods5.CapabilityError); ok {
			return syscall.ENODATA
		}
		return errno(err)
	}
	op.BytesRead = len(val)
	if op.BytesRead > len(op.Dst) {
		if len(op.Dst) == 0 {
			return nil
		}
		return syscall.ERANGE
	}
	copy(op.Dst, val)
	return nil
}

// Write attempts return EACCES rather than the generic ENOSYS of
// NotImplementedFileSystem: the volume is read-only by construction, not by
// missing implementation.

func (fs *fuseFS) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	return syscall.EACCES
}

func (fs *fuseFS) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	return syscall.EACCES
}

func (fs *fuseFS) MkNode(ctx context.Context, op *fuseops.MkNodeOp) error {
	return syscall.EACCES
}

func (fs *fuseFS) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	return syscall.EACCES
}

func (fs *fuseFS) CreateLink(ctx context.Context, op *fuseops.CreateLinkOp) error {
	return syscall.EACCES
}

func (fs *fuseFS) CreateSymlink(ctx context.Context, op *fuseops.CreateSymlinkOp) error {
	return syscall.EACCES
}

func (fs *fuseFS) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	return syscall.EACCES
}

func (fs *fuseFS) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	return syscall.EACCES
}

func (fs *fuseFS) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	return syscall.EACCES
}

func (fs *fuseFS) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	return syscall.EACCES
}

func (fs *fuseFS) SetXattr(ctx context.Context, op *fuseops.SetXattrOp) error {
	return syscall.EACCES
}

func (fs *fuseFS) RemoveXattr(ctx context.Context, op *fuseops.RemoveXattrOp) error {
	return syscall.EACCES
}

func (fs *fuseFS) Destroy() {
	fs.file.Close()
}
