package ods5

// Synthetic volume images for tests: a tiny but structurally valid ODS-5
// volume assembled block by block in memory.

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// Fixture geometry: cluster factor 1, home block at LBN 1, index bitmap at
// LBN 15, file headers 1..16 at LBNs 16..31, header 17 at LBN 32 (reached
// through INDEXF.SYS's map).
const (
	testIbmapLbn  = 15
	testIndexFLbn = 16
	testVolSize   = 100
)

func buildHome(mut func(*home)) []byte {
	h := home{
		HomeVbn:    1,
		AlHomeVbn:  3,
		AltIdxVbn:  4,
		IbmapVbn:   5,
		HomeLbn:    1,
		AlHomeLbn:  2,
		AltIdxLbn:  14,
		IbmapLbn:   testIbmapLbn,
		IbmapSize:  1,
		MaxFiles:   16,
		Cluster:    1,
		ResFiles:   5,
		StrucMinor: 1,
		StrucMajor: 5,
		VolChar:    volCharHardlinks,
	}
	copy(h.Format[:], homeFormat)
	if mut != nil {
		mut(&h)
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, le, &h); err != nil {
		panic(err)
	}
	raw := buf.Bytes()
	le.PutUint16(raw[homeChecksum1Offset:], wordSum16(raw[:homeChecksum1Offset]))
	le.PutUint16(raw[homeChecksum2Offset:], wordSum16(raw[:homeChecksum2Offset]))
	return raw
}

// testDate returns the VMS quadword for k seconds past the Unix epoch.
func testDate(k uint64) uint64 { return vmsEpoch + k*1e7 }

type testFH struct {
	fid       fid
	dir       bool
	symlink   bool
	prot      uint16
	efblk     uint32
	ffbyte    uint16
	mapWords  []uint16
	extFid    fid
	linkCount uint16
	noIdent   bool
	mut       func(*fh2Fixed)
}

func buildFH(p testFH) []byte {
	h := fh2Fixed{
		IdOffset:       62,
		MpOffset:       62,
		AcOffset:       62 + uint8(len(p.mapWords)),
		StrucMinor:     1,
		StrucMajor:     5,
		Fid:            p.fid,
		ExtFid:         p.extFid,
		UicGroup:       10,
		UicMember:      20,
		FileProtection: p.prot,
		LinkCount:      p.linkCount,
		CreDate:        testDate(1000),
		RevDate:        testDate(2000),
		ExpDate:        testDate(5000),
		BakDate:        testDate(6000),
		AttDate:        testDate(3000),
		AccDate:        testDate(4000),
		EfBlk:          p.efblk,
		FfByte:         p.ffbyte,
		MapInUse:       uint16(len(p.mapWords)),
	}
	h.RsOffset = h.AcOffset
	if p.dir {
		h.FileChar = fileCharDirectory
	}
	if p.symlink {
		h.RecordAttributes = recAttrRtypeSpecial | ratSymbolicLink
	}
	if p.noIdent {
		h.IdOffset = 0
	}
	for i := range h.RecAttrArea {
		h.RecAttrArea[i] = byte(i)
	}
	if p.mut != nil {
		p.mut(&h)
	}

	raw := make([]byte, Block)
	var buf bytes.Buffer
	if err := binary.Write(&buf, le, &h); err != nil {
		panic(err)
	}
	copy(raw, buf.Bytes())
	for i, w := range p.mapWords {
		le.PutUint16(raw[int(h.MpOffset)*2+2*i:], w)
	}
	le.PutUint16(raw[fh2ChecksumOffset:], wordSum16(raw[:fh2ChecksumOffset]))
	return raw
}

// Retrieval-pointer encoders, one per fm2 format.

func fm1(count, lbn uint32) []uint16 {
	return []uint16{
		1<<fm2FormatShift | uint16(lbn>>16&0x3F)<<8 | uint16(count-1)&0xFF,
		uint16(lbn),
	}
}

func fm2w(count, lbn uint32) []uint16 {
	return []uint16{
		2<<fm2FormatShift | uint16(count-1)&0x3FFF,
		uint16(lbn),
		uint16(lbn >> 16),
	}
}

func fm3(count, lbn uint32) []uint16 {
	return []uint16{
		3<<fm2FormatShift | uint16((count-1)>>16)&0x3FFF,
		uint16(count - 1),
		uint16(lbn),
		uint16(lbn >> 16),
	}
}

func catWords(ws ...[]uint16) []uint16 {
	var out []uint16
	for _, w := range ws {
		out = append(out, w...)
	}
	return out
}

type testDirRec struct {
	name string   // ISL-1 name
	ucs2 []uint16 // UCS-2 name, overrides name when non-nil
	vals []dirEntryValue
}

func buildDirBlock(recs []testDirRec) []byte {
	raw := make([]byte, Block)
	off := 0
	for _, r := range recs {
		var nameBytes []byte
		flags := nameTypeISL1
		if r.ucs2 != nil {
			flags = nameTypeUCS2
			for _, w := range r.ucs2 {
				nameBytes = append(nameBytes, byte(w), byte(w>>8))
			}
		} else {
			nameBytes = []byte(r.name)
		}
		padded := padWord(len(nameBytes))
		size := dirRecordHeaderSize - 2 + padded + len(r.vals)*dirEntryValueSize
		le.PutUint16(raw[off:], uint16(size))
		le.PutUint16(raw[off+2:], 32767) // version limit
		raw[off+4] = flags
		raw[off+5] = byte(len(nameBytes))
		copy(raw[off+dirRecordHeaderSize:], nameBytes)
		p := off + dirRecordHeaderSize + padded
		for _, v := range r.vals {
			le.PutUint16(raw[p:], v.Version)
			le.PutUint16(raw[p+2:], v.Fid.Num)
			le.PutUint16(raw[p+4:], v.Fid.Seq)
			raw[p+6] = v.Fid.Rvn
			raw[p+7] = v.Fid.Nmx
			p += dirEntryValueSize
		}
		off += 2 + size
	}
	le.PutUint16(raw[off:], dirEOFMarker)
	return raw
}

// testVolume accumulates blocks by LBN and flattens into an io.ReaderAt.
type testVolume struct {
	blocks map[uint32][]byte
	max    uint32
}

func newTestVolume() *testVolume {
	return &testVolume{blocks: make(map[uint32][]byte)}
}

func (v *testVolume) put(lbn uint32, b []byte) {
	if len(b) > Block {
		panic("testVolume.put: block too large")
	}
	v.blocks[lbn] = b
	if lbn > v.max {
		v.max = lbn
	}
}

func (v *testVolume) readerAt() *bytes.Reader {
	flat := make([]byte, (int(v.max)+1)*Block)
	for lbn, b := range v.blocks {
		copy(flat[int(lbn)*Block:], b)
	}
	return bytes.NewReader(flat)
}

func fidv(num, seq uint16) fid { return fid{Num: num, Seq: seq} }

// buildTestVolume assembles the fixture volume shared by most tests:
//
//	file 1  INDEXF.SYS  map: vbn v -> lbn v+10, 40 blocks
//	file 2  BITMAP.SYS  SCB at lbn 50, storage bitmap at lbn 51
//	file 4  MFD         one directory block at lbn 60
//	file 5  EXT.DAT     vbn 1..10 primary, vbn 11..30 via extension header 6
//	file 6  (extension header for file 5)
//	file 7  LINK.       symlink "caf\xe9"
//	file 8  SUB.DIR     the S2/S3 directory, block at lbn 61
//	file 9  UCS2SUB.DIR one UCS-2 record, block at lbn 62
//	file 10 DATA.TXT    612 bytes of patterned data at lbn 71..72
//	file 11 SPAN.DIR    record continuing across blocks, lbn 63..64
//	file 17 HIGH.DAT    header beyond the flat region, 512 bytes at lbn 73
func buildTestVolume() *testVolume {
	v := newTestVolume()

	v.put(1, buildHome(nil))
	v.put(2, buildHome(nil)) // alternate home, content never read

	// index bitmap: files 1,2,4,5,6,7,8,9,10,11,17 in use
	ibmap := make([]byte, Block)
	for _, fnum := range []uint{1, 2, 4, 5, 6, 7, 8, 9, 10, 11, 17} {
		ibmap[(fnum-1)/8] |= 1 << ((fnum - 1) % 8)
	}
	v.put(testIbmapLbn, ibmap)

	v.put(16, buildFH(testFH{
		fid:      fidv(1, 1),
		efblk:    41,
		mapWords: fm1(40, 11),
	}))
	v.put(17, buildFH(testFH{
		fid:      fidv(2, 1),
		efblk:    3,
		mapWords: fm1(2, 50),
	}))
	v.put(19, buildFH(testFH{
		fid:       fidv(4, 1),
		dir:       true,
		efblk:     2,
		linkCount: 1,
		mapWords:  fm1(1, 60),
	}))
	v.put(20, buildFH(testFH{
		fid:      fidv(5, 1),
		efblk:    31,
		extFid:   fidv(6, 1),
		mapWords: catWords(fm1(5, 100), fm1(5, 200)),
	}))
	v.put(21, buildFH(testFH{
		fid:      fidv(6, 1),
		efblk:    31,
		mapWords: fm2w(20, 300),
	}))
	v.put(22, buildFH(testFH{
		fid:      fidv(7, 1),
		symlink:  true,
		efblk:    1,
		ffbyte:   4,
		mapWords: fm1(1, 70),
	}))
	v.put(23, buildFH(testFH{
		fid:      fidv(8, 1),
		dir:      true,
		efblk:    2,
		mapWords: fm1(1, 61),
	}))
	v.put(24, buildFH(testFH{
		fid:      fidv(9, 1),
		dir:      true,
		efblk:    2,
		mapWords: fm1(1, 62),
	}))
	v.put(25, buildFH(testFH{
		fid:      fidv(10, 1),
		prot:     0x0200, // deny group write
		efblk:    2,
		ffbyte:   100,
		mapWords: fm3(2, 71),
	}))
	v.put(26, buildFH(testFH{
		fid:      fidv(11, 1),
		dir:      true,
		efblk:    3,
		mapWords: fm1(2, 63),
	}))
	v.put(32, buildFH(testFH{
		fid:       fidv(17, 1),
		prot:      0x6000, // deny world write+exec
		efblk:     2,
		linkCount: 3,
		mapWords:  fm1(1, 73),
	}))

	// BITMAP.SYS content: SCB, then the storage bitmap.
	scbBlock := make([]byte, Block)
	scbBlock[0] = 1 // struclev minor
	scbBlock[1] = 5 // struclev major
	le.PutUint16(scbBlock[2:], 1)
	le.PutUint32(scbBlock[4:], testVolSize)
	v.put(50, scbBlock)
	storage := make([]byte, Block)
	storage[0] = 0xFF
	storage[1] = 0x0F // 12 free clusters
	v.put(51, storage)

	// MFD, sorted caseblind.
	v.put(60, buildDirBlock([]testDirRec{
		{name: "000000.DIR", vals: []dirEntryValue{{Version: 1, Fid: fidv(4, 1)}}},
		{name: "DATA.TXT", vals: []dirEntryValue{{Version: 1, Fid: fidv(10, 1)}}},
		{name: "EXT.DAT", vals: []dirEntryValue{{Version: 1, Fid: fidv(5, 1)}}},
		{name: "HIGH.DAT", vals: []dirEntryValue{{Version: 1, Fid: fidv(17, 1)}}},
		{name: "LINK.", vals: []dirEntryValue{{Version: 1, Fid: fidv(7, 1)}}},
		{name: "SPAN.DIR", vals: []dirEntryValue{{Version: 1, Fid: fidv(11, 1)}}},
		{name: "SUB.DIR", vals: []dirEntryValue{{Version: 1, Fid: fidv(8, 1)}}},
		{name: "UCS2SUB.DIR", vals: []dirEntryValue{{Version: 1, Fid: fidv(9, 1)}}},
	}))

	// SUB.DIR: multiple versions per name, sorted caseblind, versions
	// descending.
	v.put(61, buildDirBlock([]testDirRec{
		{name: "A.", vals: []dirEntryValue{{Version: 1, Fid: fidv(20, 1)}}},
		{name: "B.", vals: []dirEntryValue{
			{Version: 2, Fid: fidv(21, 1)},
			{Version: 1, Fid: fidv(22, 1)},
		}},
		{name: "C.", vals: []dirEntryValue{{Version: 1, Fid: fidv(23, 1)}}},
	}))

	// UCS2SUB.DIR: one UCS-2 record, U+03B1 followed by the type delimiter.
	v.put(62, buildDirBlock([]testDirRec{
		{ucs2: []uint16{0x03B1, '.'}, vals: []dirEntryValue{{Version: 1, Fid: fidv(24, 1)}}},
	}))

	// SPAN.DIR: a record whose value field continues into the next block via
	// the 0xFFFF continuation marker.
	v.put(63, buildDirBlock([]testDirRec{
		{name: "D.", vals: []dirEntryValue{
			{Version: 5, Fid: fidv(30, 1)},
			{Version: 4, Fid: fidv(31, 1)},
			{Version: dirEOFMarker},
		}},
	}))
	v.put(64, buildDirBlock([]testDirRec{
		{name: "D.", vals: []dirEntryValue{{Version: 3, Fid: fidv(32, 1)}}},
	}))

	v.put(70, append([]byte("caf\xe9"), make([]byte, Block-4)...))

	data := make([]byte, 2*Block)
	for i := range data {
		data[i] = byte(i % 251)
	}
	v.put(71, data[:Block])
	v.put(72, data[Block:])

	high := make([]byte, Block)
	for i := range high {
		high[i] = byte(255 - i%256)
	}
	v.put(73, high)

	// EXT.DAT content: each block's first byte is its VBN, so mapping
	// mistakes show up as content mismatches.
	extBlock := func(vbn int) []byte {
		b := make([]byte, Block)
		b[0] = byte(vbn)
		return b
	}
	for vbn := 1; vbn <= 5; vbn++ {
		v.put(uint32(100+vbn-1), extBlock(vbn))
	}
	for vbn := 6; vbn <= 10; vbn++ {
		v.put(uint32(200+vbn-6), extBlock(vbn))
	}
	for vbn := 11; vbn <= 30; vbn++ {
		v.put(uint32(300+vbn-11), extBlock(vbn))
	}

	return v
}

func newTestReader(t *testing.T, options ...Option) *Reader {
	t.Helper()
	rdr, err := NewReader(buildTestVolume().readerAt(), options...)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	return rdr
}
