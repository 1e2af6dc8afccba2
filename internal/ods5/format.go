// Package ods5 decodes the OpenVMS ODS-5 (and ODS-2) on-disk volume
// structure: home block, file headers, retrieval pointers and directory
// records. It is read-only; there is no writer.
package ods5

import "encoding/binary"

// Block is the fixed ODS logical block size. All LBN/VBN arithmetic is in
// units of Block bytes regardless of the underlying device's native block
// size (see block.go).
const Block = 512

// le is the byte order of every multi-byte field on an ODS volume.
var le = binary.LittleEndian

// homeFormat is the fixed "format" field every valid home block carries.
const homeFormat = "DECFILE11B  "

// home is the on-disk layout of the home block (HOM2), one ODS block.
//
// Fields are laid out in disk order; encoding/binary reads struct fields in
// declaration order with no inserted padding, so the field order below *is*
// the wire order.
type home struct {
	HomeVbn    uint16
	AlHomeVbn  uint16
	AltIdxVbn  uint16
	IbmapVbn   uint16
	HomeLbn    uint32
	AlHomeLbn  uint32
	AltIdxLbn  uint32
	IbmapLbn   uint32
	IbmapSize  uint16
	_          uint16 // reserved
	MaxFiles   uint32
	Cluster    uint16 // K, blocks per cluster
	ResFiles   uint16
	Rvn        uint16
	StrucMinor uint8
	StrucMajor uint8
	VolChar    uint16
	Format     [12]byte
	_          [450]byte // reserved, padding out to the checksum1 word
	Checksum1  uint16    // covers words [0,252)
	_          [4]byte   // reserved (2 words)
	Checksum2  uint16    // covers words [0,255), continuing the same sum
}

func init() {
	if sz := binary.Size(home{}); sz != Block {
		panic("ods5: home struct size mismatch")
	}
	if sz := binary.Size(fid{}); sz != 6 {
		panic("ods5: fid struct size mismatch")
	}
	if sz := binary.Size(dirEntryValue{}); sz != dirEntryValueSize {
		panic("ods5: dirent struct size mismatch")
	}
}

// homeChecksum1Offset and homeChecksum2Offset are the byte offsets of the
// two checksum words. The first sum covers everything before checksum1, the
// second continues the same accumulator up to checksum2.
const (
	homeChecksum1Offset = 504
	homeChecksum2Offset = 510
)

// volChar bit masks: ODS-5 defines bits 0-6, ODS-2 only 0-4.
const (
	volCharMaskODS2 = 0x1F
	volCharMaskODS5 = 0x7F

	// volCharHardlinks is the bit (within the ODS-5 mask) indicating the
	// volume supports hard links, consulted by inode.go when deriving
	// nlink.
	volCharHardlinks = 0x40
)

// fid is the on-disk file identifier: (num, seq, rvn, nmx). The file number
// (inode number analogue) is Num | (Nmx << 16).
type fid struct {
	Num uint16
	Seq uint16
	Rvn uint8
	Nmx uint8
}

func (f fid) fileNumber() uint32 { return uint32(f.Num) | uint32(f.Nmx)<<16 }

// FileNumber is the exported counterpart of fileNumber, for callers outside
// the package (internal/fuse's inode-ID encoding).
func (f fid) FileNumber() uint32 { return f.fileNumber() }

func (f fid) zero() bool { return f == fid{} }

// FID is the exported name for fid: internal/fuse needs to name the type
// of values returned by Reader.Lookup and Reader.Readdir, but the on-disk
// layout details the unexported fid carries (Rvn, zero-value semantics)
// are not part of that contract, hence an alias rather than an exported
// struct of its own.
type FID = fid

// fh2Fixed is the fixed-size prefix of a 512-byte file header (fh2). The
// variable-length ident/map/access/reserved areas that follow are addressed
// directly out of the raw 512-byte block using the offset fields below.
type fh2Fixed struct {
	IdOffset  uint8
	MpOffset  uint8
	AcOffset  uint8
	RsOffset  uint8
	RuOffset  uint8
	_         uint8 // pad
	SegNum    uint16

	StrucMinor uint8
	StrucMajor uint8

	Fid fid // 6 bytes: embedded FID of this header

	ExtFid fid // 6 bytes: FID of the next header in the extension chain, zero if none

	RecordType       uint8
	RecordAttributes uint8 // rattrib; FAT_SYMBOLIC_LINK marks a symlink

	FileChar uint16 // bit flags, including "directory"

	UicGroup  uint16
	UicMember uint16

	FileProtection uint16 // deny bits, see inode.go
	LinkCount      uint16 // fh2.linkcount, meaningful only with volCharHardlinks

	HighWater uint16 // anchor for the idoffset invariant

	CreDate uint64 // VMS quadword time
	RevDate uint64
	ExpDate uint64
	BakDate uint64
	AttDate uint64 // ODS-5 only
	AccDate uint64 // ODS-5 only

	EfBlk    uint32 // end-of-file block number
	FfByte   uint16 // first free byte within EfBlk
	MapInUse uint16 // words of retrieval-pointer data in use

	RecAttrArea [32]byte // fat, C11
}

func init() {
	if sz := binary.Size(fh2Fixed{}); sz > Block-2 {
		panic("ods5: fh2Fixed struct does not fit in a file header block")
	}
}

// fh2ChecksumOffset is the byte offset of the trailing checksum word: the
// very last word of the 512-byte header block.
const fh2ChecksumOffset = Block - 2

// highWaterByteOffset is the byte offset of fh2Fixed.HighWater, used by the
// idoffset invariant check in header.go. It is summed from the byte sizes of
// the fields that precede HighWater, listed in declaration order; the list
// must be kept in step with fh2Fixed by hand.
var highWaterByteOffset = func() int {
	off := 0
	for _, sz := range []int{1, 1, 1, 1, 1, 1, 2, 1, 1, 6, 6, 1, 1, 2, 2, 2, 2, 2} {
		off += sz
	}
	return off
}()

const (
	fileCharDirectory = 1 << 0

	recAttrRtypeMask    = 0x0F
	recAttrRtypeSpecial = 0x0F
	ratSymbolicLink     = 0x40 // FAT_SYMBOLIC_LINK bit within RecordAttributes
)

// fm2 discriminator: the top 2 bits of the first word of a retrieval
// pointer select one of 4 formats (see retrieval.go for decoding).
const fm2FormatShift = 14

// dirRecordHeader is the fixed part of a directory record: size, version
// limit, flags and name length. The name bytes (padded to a word boundary)
// and the dirent value array follow in the raw block.
type dirRecordHeader struct {
	Size      uint16 // excludes itself
	VerLimit  uint16
	Flags     uint8
	NameCount uint8
}

func (h *dirRecordHeader) unmarshal(b []byte) {
	_ = b[5]
	h.Size = le.Uint16(b)
	h.VerLimit = le.Uint16(b[2:])
	h.Flags = b[4]
	h.NameCount = b[5]
}

const dirRecordHeaderSize = 6

// dirEOFMarker is the size word that terminates a directory block.
const dirEOFMarker = 0xFFFF

// name-type values within dirRecordHeader.Flags, low 2 bits.
const (
	nameTypeISL1 uint8 = 0
	nameTypeUCS2 uint8 = 1
)

// dirEntryValue is one {version, fid} pair following a directory record's
// name. 8 bytes: word version + 6-byte fid.
type dirEntryValue struct {
	Version uint16
	Fid     fid
}

const dirEntryValueSize = 8

func (v *dirEntryValue) unmarshal(b []byte) {
	_ = b[dirEntryValueSize-1]
	v.Version = le.Uint16(b)
	v.Fid.Num = le.Uint16(b[2:])
	v.Fid.Seq = le.Uint16(b[4:])
	v.Fid.Rvn = b[6]
	v.Fid.Nmx = b[7]
}

// scb is the Storage Control Block, held at VBN 1 of BITMAP.SYS.
type scb struct {
	StrucMinor uint8
	StrucMajor uint8
	Cluster    uint16
	VolSize    uint32 // total blocks on the volume
	_          [Block - 8]byte
}

func init() {
	if sz := binary.Size(scb{}); sz != Block {
		panic("ods5: scb struct size mismatch")
	}
}
