package ods5

import (
	"os"
	"time"

	"golang.org/x/xerrors"
)

// Protection deny-bit layout within fh2Fixed.FileProtection: 4 nibbles
// (system, owner, group, world) from the low bits, each holding deny bits
// in {R,W,E,D} order from the low bit. A set bit denies the corresponding
// permission; POSIX grants it when the bit is clear. The system nibble has
// no POSIX counterpart and is not consulted.
const (
	denyOwnerShift = 4
	denyGroupShift = 8
	denyWorldShift = 12

	denyR = 1 << 0
	denyW = 1 << 1
	denyE = 1 << 2
)

// Inode is the POSIX-shaped materialisation of a validated file header.
type Inode struct {
	Fid  fid
	Mode os.FileMode
	Uid  uint32
	Gid  uint32
	Size int64

	Ctime time.Time
	Mtime time.Time
	Atime time.Time

	Nlink uint32

	info *fhInfo // owned exclusively by this Inode
}

// FileNumber returns the POSIX-visible inode number.
func (i *Inode) FileNumber() uint32 { return i.Fid.fileNumber() }

// materialiseInode builds a POSIX Inode from a validated file header, along
// with the fhInfo it will own for the rest of its lifetime (retrieval chain
// head, record-attribute area, sequence number).
func (r *Reader) materialiseInode(f fid, raw []byte, h *fh2Fixed) (*Inode, error) {
	records, err := mapAreaRecords(h, raw)
	if err != nil {
		return nil, &StructuralError{Object: "file header", Err: err}
	}

	size := (int64(h.EfBlk)-1)*Block + int64(h.FfByte)

	info := &fhInfo{
		fidSeq:     f.Seq,
		diskSize:   size,
		primary:    records,
		primaryExt: h.ExtFid,
	}
	copy(info.fat[:], h.RecAttrArea[:])

	mode := os.FileMode(0)
	isDir := h.FileChar&fileCharDirectory != 0
	isSymlink := h.RecordAttributes&recAttrRtypeMask == recAttrRtypeSpecial &&
		h.RecordAttributes&ratSymbolicLink != 0

	switch {
	case isDir:
		mode |= os.ModeDir
	case isSymlink:
		mode |= os.ModeSymlink
	}

	mode |= derivePermissions(h.FileProtection) | r.opts.extraMode

	inode := &Inode{
		Fid:   f,
		Mode:  mode,
		Uid:   uint32(h.UicMember),
		Gid:   uint32(h.UicGroup),
		Size:  size,
		Nlink: 1,
		info:  info,
	}

	if r.geom.ODS5 {
		inode.Ctime = v2utime(h.AttDate)
		inode.Mtime = v2utime(h.RevDate)
		inode.Atime = v2utime(h.AccDate)
		if r.home.VolChar&volCharHardlinks != 0 {
			inode.Nlink = uint32(h.LinkCount)
			if inode.Nlink == 0 {
				inode.Nlink = 1
			}
		}
	} else {
		inode.Ctime = v2utime(h.CreDate)
		inode.Mtime = v2utime(h.RevDate)
		inode.Atime = inode.Mtime
	}

	if h.IdOffset == 0 {
		// No ident area; fall back to wall-clock rather than the zero
		// time.Time a missing quadword would otherwise produce.
		now := time.Now()
		inode.Ctime, inode.Mtime, inode.Atime = now, now, now
	}

	if isSymlink {
		// Reads the whole link target now to get an exact UTF-8-grown
		// size, so stat of a symlink is linear in link length.
		if err := r.adjustSymlinkSize(inode); err != nil {
			return nil, err
		}
	}

	return inode, nil
}

// derivePermissions OR's in a grant bit for every deny bit that is clear, in
// {owner,group,world} x {R,W,X} order.
func derivePermissions(prot uint16) os.FileMode {
	var m os.FileMode
	grant := func(shift uint, bit uint16, perm os.FileMode) os.FileMode {
		if prot>>shift&bit == 0 {
			return perm
		}
		return 0
	}
	m |= grant(denyOwnerShift, denyR, 0400) | grant(denyOwnerShift, denyW, 0200) | grant(denyOwnerShift, denyE, 0100)
	m |= grant(denyGroupShift, denyR, 0040) | grant(denyGroupShift, denyW, 0020) | grant(denyGroupShift, denyE, 0010)
	m |= grant(denyWorldShift, denyR, 0004) | grant(denyWorldShift, denyW, 0002) | grant(denyWorldShift, denyE, 0001)
	return m
}

// adjustSymlinkSize reads the full link target and, in utf8 mode, grows
// Size by the count of ISL-1 bytes whose 0x80 bit is set (each becomes a
// 2-byte sequence under UTF-8 encoding).
func (r *Reader) adjustSymlinkSize(inode *Inode) error {
	target, err := r.readLinkRaw(inode)
	if err != nil {
		return xerrors.Errorf("reading symlink target to adjust size: %w", err)
	}
	if r.opts.charset == charsetUTF8 {
		grown := int64(0)
		for _, b := range target {
			if b&0x80 != 0 {
				grown++
			}
		}
		inode.Size += grown
	}
	return nil
}

// ReadLink returns the symlink target as a string, converted from its
// on-disk ISL-1 bytes according to the charset mount option: in utf8 mode
// each byte becomes its UTF-8 encoding; in vtf7 mode every byte is passed
// through raw, except '?', which is written as the ?003F escape.
func (r *Reader) ReadLink(inode *Inode) (string, error) {
	raw, err := r.readLinkRaw(inode)
	if err != nil {
		return "", xerrors.Errorf("readlink: %w", err)
	}
	if r.opts.charset == charsetVTF7 {
		words := make([]uint16, len(raw))
		for i, b := range raw {
			words[i] = uint16(b)
		}
		return ucs2ToVTF7(words), nil
	}
	return isl1ToUTF8(raw), nil
}
