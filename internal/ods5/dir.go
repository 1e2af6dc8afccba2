package ods5

import (
	"io"

	"golang.org/x/xerrors"
)

// DirEntry is one emitted directory entry: a fully rendered POSIX name
// (charset-converted, separator and version applied) and the fid it resolves
// to.
type DirEntry struct {
	Name string
	Fid  fid
}

// parsedDirRecord is one decoded directory record plus the absolute byte
// offsets (within its 512-byte block) of each of its dirent values, used by
// both the scanner (pos bookkeeping) and lookup.go (version scan).
type parsedDirRecord struct {
	nameType uint8
	nameRaw  []byte // raw on-disk name bytes (ISL-1 bytes, or UCS-2 byte pairs)
	values   []dirEntryValue
	// valueOffsets[i] is the byte offset of values[i] within the block.
	valueOffsets []int
}

// parseDirBlock decodes every record in a 512-byte directory block, in
// order, stopping at the 0xFFFF terminator.
func parseDirBlock(raw []byte) ([]parsedDirRecord, error) {
	var recs []parsedDirRecord
	off := 0
	for off+2 <= len(raw) {
		sizeWord := le.Uint16(raw[off:])
		if sizeWord == dirEOFMarker {
			return recs, nil
		}
		if off+dirRecordHeaderSize > len(raw) {
			return nil, xerrors.New("directory block: truncated record header")
		}
		var hdr dirRecordHeader
		hdr.unmarshal(raw[off:])

		recEnd := off + 2 + int(hdr.Size)
		if recEnd > len(raw) {
			return nil, xerrors.New("directory block: record overruns block")
		}

		nameStart := off + dirRecordHeaderSize
		nameLen := int(hdr.NameCount)
		nameEnd := nameStart + nameLen
		if nameEnd > recEnd {
			return nil, xerrors.New("directory block: name overruns record")
		}
		name := raw[nameStart:nameEnd]

		valStart := nameStart + padWord(nameLen)
		rec := parsedDirRecord{nameType: hdr.Flags & 0x3, nameRaw: name}
		for p := valStart; p+dirEntryValueSize <= recEnd; p += dirEntryValueSize {
			var v dirEntryValue
			v.unmarshal(raw[p:])
			rec.values = append(rec.values, v)
			rec.valueOffsets = append(rec.valueOffsets, p)
		}
		recs = append(recs, rec)

		off = recEnd
	}
	return recs, nil
}

// padWord rounds a byte count up to the next word (2-byte) boundary.
func padWord(n int) int {
	if n%2 != 0 {
		return n + 1
	}
	return n
}

// renderName converts a record's raw on-disk name into the POSIX name
// fragment (before separator+version), honouring the reader's charset mode.
// It is total: a malformed name renders as replacement characters rather
// than aborting the scan.
func (r *Reader) renderName(rec *parsedDirRecord) string {
	switch rec.nameType {
	case nameTypeUCS2:
		words := bytesToWords16(rec.nameRaw)
		if r.opts.charset == charsetVTF7 {
			return ucs2ToVTF7(words)
		}
		return ucs2ToUTF8(words)
	default:
		return isl1ToUTF8(rec.nameRaw)
	}
}

// separator returns the name/version delimiter per the dotversion mount
// flag.
func (r *Reader) separator() byte {
	if r.opts.dotversion {
		return '.'
	}
	return ';'
}

// ReaddirAt returns the directory entry at pos plus the pos of the entry
// following it. pos 0 and 1 are the synthetic "." and ".." entries; for
// pos >= 2, pos-2 decomposes into a directory VBN ((pos-2)>>9 + 1) and a
// dirent byte offset within that VBN's block ((pos-2) & 511). Exhaustion is
// reported as io.EOF.
//
// Continuation markers (a dirent whose version word is 0xFFFF) and, with the
// nomfd flag, entries resolving to the MFD's own file number are skipped
// transparently: the returned pos is the byte just past the emitted dirent,
// and a scan from any pos emits the first emittable dirent at or after it.
func (r *Reader) ReaddirAt(dir *Inode, parent fid, pos uint64) (DirEntry, uint64, error) {
	switch pos {
	case 0:
		return DirEntry{Name: ".", Fid: dir.Fid}, 1, nil
	case 1:
		return DirEntry{Name: "..", Fid: parent}, 2, nil
	}

	p := pos - 2
	vbn := uint32(p/Block) + 1
	inOff := int(p % Block)

	for {
		if int64(vbn-1)*Block >= dir.Size {
			return DirEntry{}, 0, io.EOF
		}
		buf := make([]byte, Block)
		n, err := r.ReadAt(dir, buf, int64(vbn-1)*Block)
		if err == io.EOF && n == 0 {
			return DirEntry{}, 0, io.EOF
		}
		if err != nil && err != io.EOF {
			return DirEntry{}, 0, xerrors.Errorf("readdir: reading vbn %d: %w", vbn, err)
		}

		recs, err := parseDirBlock(buf)
		if err != nil {
			return DirEntry{}, 0, xerrors.Errorf("readdir: vbn %d: %w", vbn, err)
		}

		for ri := range recs {
			rec := &recs[ri]
			for i, off := range rec.valueOffsets {
				if off < inOff {
					continue
				}
				v := rec.values[i]
				if v.Version == dirEOFMarker {
					continue // record continues in the next block
				}
				if r.opts.nomfd && v.Fid.fileNumber() == ODS5MFDIno {
					continue
				}
				next := 2 + uint64(vbn-1)*Block + uint64(off) + dirEntryValueSize
				return DirEntry{
					Name: formatNameVersion(r.renderName(rec), r.separator(), v.Version),
					Fid:  v.Fid,
				}, next, nil
			}
		}

		// No emittable dirent at or after inOff: the block is exhausted.
		vbn++
		inOff = 0
	}
}

// Readdir enumerates dir's full contents in on-disk order by walking
// ReaddirAt from pos 0 until exhaustion.
func (r *Reader) Readdir(dir *Inode, parent fid) ([]DirEntry, error) {
	var out []DirEntry
	pos := uint64(0)
	for {
		e, next, err := r.ReaddirAt(dir, parent, pos)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		pos = next
	}
}

func formatNameVersion(name string, sep byte, version uint16) string {
	b := make([]byte, 0, len(name)+8)
	b = append(b, name...)
	b = append(b, sep)
	b = appendUint(b, version)
	return string(b)
}

func appendUint(b []byte, v uint16) []byte {
	if v == 0 {
		return append(b, '0')
	}
	start := len(b)
	for v > 0 {
		b = append(b, byte('0'+v%10))
		v /= 10
	}
	// reverse the appended digits
	for i, j := start, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return b
}
