package ods5

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/xerrors"
)

// readFH locates and decodes the file header for fnum. Headers of the first
// 16 files sit in a flat region at the front of INDEXF.SYS; later ones are
// reached through INDEXF.SYS's own retrieval map. It returns the raw
// 512-byte block alongside the decoded fixed portion; callers needing the
// variable ident/map/access areas slice raw directly using the offset
// fields.
func (r *Reader) readFH(fnum uint32) (raw []byte, h *fh2Fixed, err error) {
	var lbn uint32
	if fnum <= 16 {
		lbn = r.geom.IndexFLbn + fnum - 1
	} else {
		vbn := 4*uint32(r.geom.Cluster) + uint32(r.geom.IbmapSize) + fnum
		var extent uint32
		lbn, extent, err = r.mapVBN(r.indexFInfo, vbn)
		if err != nil {
			return nil, nil, xerrors.Errorf("locating header for file %d: %w", fnum, err)
		}
		_ = extent
	}

	raw, err = r.dev.readBlock(lbn)
	if err != nil {
		return nil, nil, xerrors.Errorf("reading header for file %d at lbn %d: %w", fnum, lbn, err)
	}

	var fixed fh2Fixed
	if err := binary.Read(bytes.NewReader(raw), le, &fixed); err != nil {
		return nil, nil, xerrors.Errorf("decoding header for file %d: %w", fnum, err)
	}
	return raw, &fixed, nil
}

// isUsedFH2 validates the structural invariants of a decoded file header,
// checking the embedded FID against expectedFid.
func isUsedFH2(h *fh2Fixed, raw []byte, expectedFid fid) error {
	if h.IdOffset > h.MpOffset || h.MpOffset > h.AcOffset || h.AcOffset > h.RsOffset {
		return xerrors.New("file header: offset bytes are not non-decreasing (idoffset<=mpoffset<=acoffset<=rsoffset)")
	}
	// idoffset 0 means "no ident area" and is legal; any other value must
	// place the ident area past the fixed fields.
	if h.IdOffset != 0 && int(h.IdOffset)*2 < highWaterByteOffset {
		return xerrors.Errorf("file header: idoffset %d precedes highwater field", h.IdOffset)
	}
	if h.StrucMajor != 2 && h.StrucMajor != 5 {
		return xerrors.Errorf("file header: unsupported structure level major %d", h.StrucMajor)
	}
	if h.StrucMinor < 1 {
		return xerrors.Errorf("file header: structure level minor must be >= 1, got %d", h.StrucMinor)
	}
	if uint32(h.MapInUse) > uint32(h.AcOffset-h.MpOffset) {
		return xerrors.New("file header: map_inuse exceeds the map area")
	}
	if h.Fid != expectedFid {
		return xerrors.Errorf("file header: embedded fid %+v does not match expected %+v", h.Fid, expectedFid)
	}

	sum := wordSum16(raw[:fh2ChecksumOffset])
	stored := le.Uint16(raw[fh2ChecksumOffset:])
	if sum != stored {
		return xerrors.Errorf("file header: checksum mismatch: computed 0x%04x, stored 0x%04x", sum, stored)
	}
	return nil
}

// identAreaName reads the primary filename out of the ident area, when one
// is present (idoffset 0 means the header carries no ident area).
//
// The ident area's first byte is a length-prefixed ODS-2 filename
// (RAD-50-free ASCII form as written by the host, already ISL-1/ASCII); it
// is only consulted for diagnostics here, never for lookup (lookup always
// goes through the directory scanner, never the ident area).
func identAreaName(h *fh2Fixed, raw []byte) (string, bool) {
	if h.IdOffset == 0 {
		return "", false
	}
	off := int(h.IdOffset) * 2
	if off >= len(raw) {
		return "", false
	}
	n := int(raw[off])
	if off+1+n > len(raw) {
		return "", false
	}
	return string(raw[off+1 : off+1+n]), true
}
