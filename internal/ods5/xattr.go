package ods5

import "golang.org/x/xerrors"

// Xattr names exposed over the mount.
const (
	XattrFat = "user.fat"
	XattrFH  = "user.fh"
)

// ReadFAT returns the raw 32-byte record-attribute area cached on inode's
// fhInfo at materialise time. It never re-reads the device: the fat area is
// copied out of the header eagerly when the inode is built.
func (r *Reader) ReadFAT(inode *Inode) [32]byte {
	return inode.info.fat
}

// ReadFH re-reads and re-validates inode's 512-byte file header and returns
// a copy of it raw.
func (r *Reader) ReadFH(inode *Inode) ([]byte, error) {
	raw, fixed, err := r.readFH(inode.Fid.fileNumber())
	if err != nil {
		return nil, xerrors.Errorf("ReadFH: %w", err)
	}
	if err := isUsedFH2(fixed, raw, inode.Fid); err != nil {
		return nil, &StructuralError{Object: "file header", Err: err}
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

// GetXattr dispatches the two supported attribute names. Any other name is
// reported as &CapabilityError so internal/fuse can translate it to
// ENODATA.
func (r *Reader) GetXattr(inode *Inode, name string) ([]byte, error) {
	switch name {
	case XattrFat:
		fat := r.ReadFAT(inode)
		return fat[:], nil
	case XattrFH:
		return r.ReadFH(inode)
	default:
		return nil, &CapabilityError{Op: "getxattr " + name}
	}
}

// ListXattr returns the names of every attribute this inode exposes (both
// are always present, since every inode has a fat area and a header).
func (r *Reader) ListXattr(inode *Inode) []string {
	return []string{XattrFat, XattrFH}
}
