package ods5

import "golang.org/x/xerrors"

// VolumeStats is the result of statfs over a mounted volume.
type VolumeStats struct {
	VolSize    uint32 // total blocks on the volume, from the SCB
	FreeBlocks uint32 // popcount of the storage bitmap * cluster factor
	UsedFids   uint32 // popcount of the index bitmap
	MaxFiles   uint32
}

// popcountTable maps a byte to its set-bit count.
var popcountTable = func() [256]uint8 {
	var t [256]uint8
	for i := range t {
		n := i
		var c uint8
		for n != 0 {
			c += uint8(n & 1)
			n >>= 1
		}
		t[i] = c
	}
	return t
}()

func popcountBytes(b []byte) uint32 {
	var n uint32
	for _, c := range b {
		n += uint32(popcountTable[c])
	}
	return n
}

// Stat returns the volume statistics, computed once and cached. A failed
// first computation is retried through singleflight so concurrent callers
// share one bitmap walk instead of each re-reading both bitmaps.
func (r *Reader) Stat() (VolumeStats, error) {
	r.statsOnce.Do(func() {
		r.stats, r.statsErr = r.computeStats()
	})
	if r.statsErr != nil {
		// A racing caller may have hit the cached failure from the first
		// computation; retry once via singleflight so a transient I/O
		// failure doesn't wedge every future Stat() call behind sync.Once.
		v, err, _ := r.statsSF.Do("stat", func() (interface{}, error) {
			return r.computeStats()
		})
		if err != nil {
			return VolumeStats{}, err
		}
		r.stats = v.(VolumeStats)
		r.statsErr = nil
	}
	return r.stats, nil
}

func (r *Reader) computeStats() (VolumeStats, error) {
	bitmapFid := fid{Num: bitmapFileNumber}
	bitmapInode, err := r.iget(bitmapFid)
	if err != nil {
		return VolumeStats{}, xerrors.Errorf("statfs: reading BITMAP.SYS: %w", err)
	}

	scbBuf := make([]byte, Block)
	if _, err := r.ReadAt(bitmapInode, scbBuf, 0); err != nil {
		return VolumeStats{}, xerrors.Errorf("statfs: reading SCB: %w", err)
	}
	var s scb
	if err := decodeSCB(scbBuf, &s); err != nil {
		return VolumeStats{}, xerrors.Errorf("statfs: %w", err)
	}

	storageBitmapSize := bitmapInode.Size - Block
	storageBuf := make([]byte, storageBitmapSize)
	if _, err := r.ReadAt(bitmapInode, storageBuf, Block); err != nil {
		return VolumeStats{}, xerrors.Errorf("statfs: reading storage bitmap: %w", err)
	}
	freeClusters := popcountBytes(storageBuf)

	indexFidsBuf := make([]byte, r.indexBitmapSize())
	if _, err := r.readIndexBitmap(indexFidsBuf); err != nil {
		return VolumeStats{}, xerrors.Errorf("statfs: reading index bitmap: %w", err)
	}
	usedFids := popcountBytes(indexFidsBuf)

	return VolumeStats{
		VolSize:    s.VolSize,
		FreeBlocks: freeClusters * uint32(r.geom.Cluster),
		UsedFids:   usedFids,
		MaxFiles:   r.geom.MaxFiles,
	}, nil
}

func decodeSCB(raw []byte, s *scb) error {
	if len(raw) < 8 {
		return xerrors.New("scb: truncated block")
	}
	s.StrucMinor = raw[0]
	s.StrucMajor = raw[1]
	s.Cluster = le.Uint16(raw[2:])
	s.VolSize = le.Uint32(raw[4:])
	return nil
}

// indexBitmapSize returns the size in bytes of INDEXF.SYS's own index
// bitmap, the IbmapSize field worth of blocks immediately following the
// home-block-adjacent region, expressed in bytes.
func (r *Reader) indexBitmapSize() int64 {
	return int64(r.geom.IbmapSize) * Block
}

// readIndexBitmap reads the index-file bitmap (tracking used file IDs),
// IbmapSize blocks starting at the home block's ibmaplbn.
func (r *Reader) readIndexBitmap(buf []byte) (int, error) {
	for i := 0; i*Block < len(buf); i++ {
		b, err := r.dev.readBlock(r.geom.IbmapLbn + uint32(i))
		if err != nil {
			return i * Block, err
		}
		copy(buf[i*Block:], b)
	}
	return len(buf), nil
}
