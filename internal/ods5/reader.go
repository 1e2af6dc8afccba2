package ods5

import (
	"io"
	"os"
	"sync"

	"golang.org/x/sync/singleflight"
	"golang.org/x/xerrors"
)

// charsetMode selects how UCS-2 directory names are rendered, the `utf8` /
// `vtf7` mount option family.
type charsetMode int

const (
	charsetUTF8 charsetMode = iota
	charsetVTF7
)

// mountOptions is the resolved, validated form of the comma-separated `-o`
// string; parsing itself lives in internal/fuse's mountopts.go, which hands
// NewReader a slice of Option values that NewReader applies over the
// defaults.
type mountOptions struct {
	deviceBlockSize int
	homeLBN         uint32
	extraMode       os.FileMode
	nomfd           bool
	dotversion      bool
	syml            bool
	charset         charsetMode
}

// defaultOptions mirrors the mount-option table's documented defaults:
// bs=512, home=1, mode=0, utf8.
func defaultOptions() mountOptions {
	return mountOptions{deviceBlockSize: Block, homeLBN: 1, charset: charsetUTF8}
}

// Option mutates a mountOptions value; internal/fuse's mountopts.go
// produces a slice of these from the `-o` string.
type Option func(*mountOptions)

func WithDeviceBlockSize(n int) Option   { return func(o *mountOptions) { o.deviceBlockSize = n } }
func WithHomeLBN(lbn uint32) Option      { return func(o *mountOptions) { o.homeLBN = lbn } }
func WithExtraMode(m os.FileMode) Option { return func(o *mountOptions) { o.extraMode = m } }
func WithNoMFD() Option                  { return func(o *mountOptions) { o.nomfd = true } }
func WithDotVersion() Option             { return func(o *mountOptions) { o.dotversion = true } }
func WithSymlinks() Option               { return func(o *mountOptions) { o.syml = true } }
func WithVTF7() Option                   { return func(o *mountOptions) { o.charset = charsetVTF7 } }
func WithUTF8() Option                   { return func(o *mountOptions) { o.charset = charsetUTF8 } }

// ODS5MFDIno is the file number of the Master File Directory, the root of
// the exposed tree (glossary: "MFD").
const ODS5MFDIno = 4

// indexFFileNumber and bitmapFileNumber are the two well-known files every
// ODS volume carries (glossary: "INDEXF.SYS", "BITMAP.SYS").
const (
	indexFFileNumber = 1
	bitmapFileNumber = 2
)

// Reader is the top-level decoder, wired once at mount time: block reader
// -> home validator -> file-header reader -> inode materialiser ->
// directory scanner / mapping engine -> name lookup and read.
type Reader struct {
	dev  *blockDevice
	geom geometry
	home home
	opts mountOptions

	indexFInfo *fhInfo

	mu     sync.Mutex
	inodes map[uint32]*Inode // keyed by file number, checked against fid_seq

	statsOnce sync.Once
	statsErr  error
	stats     VolumeStats
	statsSF   singleflight.Group
}

// NewReader validates the home block at opts.homeLBN, bootstraps
// INDEXF.SYS, and returns a Reader ready to serve lookups and reads.
func NewReader(r io.ReaderAt, options ...Option) (*Reader, error) {
	opts := defaultOptions()
	for _, o := range options {
		o(&opts)
	}

	dev, err := newBlockDevice(r, opts.deviceBlockSize)
	if err != nil {
		return nil, err
	}

	raw, err := dev.readBlock(opts.homeLBN)
	if err != nil {
		return nil, xerrors.Errorf("mount: %w", err)
	}
	var h home
	if err := decodeHome(raw, &h); err != nil {
		return nil, xerrors.Errorf("mount: %w", err)
	}
	if err := isValidHome(&h, raw); err != nil {
		return nil, &StructuralError{Object: "home block", Err: err}
	}

	rdr := &Reader{
		dev:  dev,
		home: h,
		opts: opts,
		geom: geometry{
			Cluster:   h.Cluster,
			MaxFiles:  h.MaxFiles,
			ResFiles:  h.ResFiles,
			IbmapLbn:  h.IbmapLbn,
			IbmapSize: h.IbmapSize,
			IndexFLbn: h.IbmapLbn + uint32(h.IbmapSize),
			ODS5:      h.StrucMajor == 5,
		},
		inodes: make(map[uint32]*Inode),
	}

	indexFFid := fid{Num: indexFFileNumber, Nmx: 0}
	raw, fixed, err := rdr.readFH(indexFFileNumber)
	if err != nil {
		return nil, xerrors.Errorf("mount: reading INDEXF.SYS header: %w", err)
	}
	indexFFid.Seq = fixed.Fid.Seq
	if err := isUsedFH2(fixed, raw, indexFFid); err != nil {
		return nil, &StructuralError{Object: "INDEXF.SYS header", Err: err}
	}
	indexInode, err := rdr.materialiseInode(indexFFid, raw, fixed)
	if err != nil {
		return nil, xerrors.Errorf("mount: materialising INDEXF.SYS: %w", err)
	}
	rdr.indexFInfo = indexInode.info
	rdr.inodes[indexFFid.fileNumber()] = indexInode

	return rdr, nil
}

// Root returns the MFD inode, the root of the exposed tree.
func (r *Reader) Root() (*Inode, error) {
	return r.iget(fid{Num: ODS5MFDIno})
}

// Iget is the exported counterpart of iget, used by internal/fuse to
// materialise the inode a Lookup or Readdir call resolved a name to.
func (r *Reader) Iget(f FID) (*Inode, error) {
	return r.iget(f)
}

// iget materialises (or returns the cached materialisation of) the inode
// named by f.Num|f.Nmx. A nonzero f.Seq is checked against both the cached
// instance and the on-disk header, so a fid minted before the file number
// was reused never resolves to its successor.
func (r *Reader) iget(f fid) (*Inode, error) {
	fnum := f.fileNumber()

	r.mu.Lock()
	if cached, ok := r.inodes[fnum]; ok {
		stale := f.Seq != 0 && cached.info.fidSeq != f.Seq
		if !stale {
			r.mu.Unlock()
			return cached, nil
		}
	}
	r.mu.Unlock()

	raw, fixed, err := r.readFH(fnum)
	if err != nil {
		return nil, err
	}
	if f.Seq != 0 && fixed.Fid.Seq != f.Seq {
		// The file number was reused since the caller's fid was minted; the
		// dirent it came from is stale.
		return nil, &NotFoundError{Name: "stale fid"}
	}
	resolved := fid{Num: f.Num, Seq: fixed.Fid.Seq, Rvn: fixed.Fid.Rvn, Nmx: f.Nmx}
	if err := isUsedFH2(fixed, raw, resolved); err != nil {
		return nil, &StructuralError{Object: "file header", Err: err}
	}
	inode, err := r.materialiseInode(resolved, raw, fixed)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.inodes[fnum] = inode
	r.mu.Unlock()

	return inode, nil
}

// ReadAt reads file content at the given byte offset, walking the mapping
// engine one extent at a time.
func (r *Reader) ReadAt(inode *Inode, p []byte, off int64) (int, error) {
	if off >= inode.Size {
		return 0, io.EOF
	}
	if off+int64(len(p)) > inode.Size {
		p = p[:inode.Size-off]
	}

	n := 0
	for n < len(p) {
		vbn := uint32(off)/Block + 1
		inBlock := int(uint32(off) % Block)

		lbn, extent, err := r.mapVBN(inode.info, vbn)
		if err != nil {
			return n, err
		}

		avail := int(extent)*Block - inBlock
		want := len(p) - n
		if want > avail {
			want = avail
		}
		blocksNeeded := (inBlock + want + Block - 1) / Block
		buf, err := r.dev.readBlocks(lbn, blocksNeeded)
		if err != nil {
			return n, err
		}
		copy(p[n:n+want], buf[inBlock:inBlock+want])

		n += want
		off += int64(want)
	}
	return n, nil
}

// readLinkRaw reads the full raw (ISL-1) content of a symlink inode. It
// sizes the read by the on-disk byte count, not Inode.Size, which the UTF-8
// mount mode grows past the bytes actually present.
func (r *Reader) readLinkRaw(inode *Inode) ([]byte, error) {
	buf := make([]byte, inode.info.diskSize)
	n, err := r.readAtRaw(inode.info, buf)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

// readAtRaw is like ReadAt but addressed by fhInfo directly and without the
// UTF-8 size adjustment, used during symlink materialisation before Inode
// exists in finished form.
func (r *Reader) readAtRaw(info *fhInfo, p []byte) (int, error) {
	n := 0
	off := int64(0)
	for n < len(p) {
		vbn := uint32(off)/Block + 1
		inBlock := int(uint32(off) % Block)
		lbn, extent, err := r.mapVBN(info, vbn)
		if err != nil {
			if _, ok := err.(*NotFoundError); ok {
				break
			}
			return n, err
		}
		avail := int(extent)*Block - inBlock
		want := len(p) - n
		if want > avail {
			want = avail
		}
		blocksNeeded := (inBlock + want + Block - 1) / Block
		buf, err := r.dev.readBlocks(lbn, blocksNeeded)
		if err != nil {
			return n, err
		}
		copy(p[n:n+want], buf[inBlock:inBlock+want])
		n += want
		off += int64(want)
	}
	return n, nil
}
