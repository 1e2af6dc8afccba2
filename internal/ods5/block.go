package ods5

import (
	"io"

	"golang.org/x/xerrors"
)

// blockDevice is the read-only transport a Reader is mounted over: a
// block-addressable random-access handle (a file, a loop device, or an
// io.ReaderAt wrapping either).
type blockDevice struct {
	r         io.ReaderAt
	ioshifts  uint // log2(device block size / 512)
	blockSize int  // device block size in bytes, 512 << ioshifts
}

// newBlockDevice validates the requested underlying device block size and
// derives the scale factor between it and the fixed 512-byte ODS block.
func newBlockDevice(r io.ReaderAt, deviceBlockSize int) (*blockDevice, error) {
	switch deviceBlockSize {
	case 512, 1024, 2048, 4096:
	default:
		return nil, xerrors.Errorf("unsupported device block size %d", deviceBlockSize)
	}
	shifts := uint(0)
	for sz := 512; sz < deviceBlockSize; sz <<= 1 {
		shifts++
	}
	return &blockDevice{r: r, ioshifts: shifts, blockSize: deviceBlockSize}, nil
}

// readBlock reads the 512-byte ODS block at the given LBN and returns it as
// an owned copy.
//
// When the device block size is larger than 512, several ODS blocks share
// one device block; readBlock locates the correct 512-byte slice within it.
func (d *blockDevice) readBlock(lbn uint32) ([]byte, error) {
	devBlock := uint64(lbn) >> d.ioshifts
	offset := (uint64(lbn) - (devBlock << d.ioshifts)) * Block

	buf := make([]byte, d.blockSize)
	if _, err := io.ReadFull(io.NewSectionReader(d.r, int64(devBlock)*int64(d.blockSize), int64(d.blockSize)), buf); err != nil {
		return nil, xerrors.Errorf("reading device block %d for lbn %d: %w", devBlock, lbn, err)
	}
	return buf[offset : offset+Block], nil
}

// readBlocks reads n consecutive 512-byte ODS blocks starting at lbn into
// one contiguous slice, one readBlock call per block. The mapping-engine-aware
// file reader (ReadAt in reader.go) uses it to fetch a whole extent-bounded
// run at once.
func (d *blockDevice) readBlocks(lbn uint32, n int) ([]byte, error) {
	out := make([]byte, 0, n*Block)
	for i := 0; i < n; i++ {
		b, err := d.readBlock(lbn + uint32(i))
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}
