package ods5

import (
	"bytes"
	"encoding/binary"
	"log"

	"golang.org/x/xerrors"
)

// Debug gates informational logging. It is the package's only global
// mutable state.
var Debug bool

func debugf(format string, args ...interface{}) {
	if Debug {
		log.Printf(format, args...)
	}
}

// geometry is the volume geometry derived from a validated home block: the
// facts the rest of the decoder needs and nothing else.
type geometry struct {
	Cluster   uint16 // K
	MaxFiles  uint32
	ResFiles  uint16
	IbmapLbn  uint32
	IbmapSize uint16
	IndexFLbn uint32 // ibmaplbn + ibmapsize
	ODS5      bool   // struclev major == 5
}

// wordSum16 is the running sum-of-16-bit-words checksum used by both the
// home block (two accumulating checksums) and the file header (one).
func wordSum16(b []byte) uint16 {
	var sum uint16
	for i := 0; i+1 < len(b); i += 2 {
		sum += le.Uint16(b[i:])
	}
	return sum
}

// decodeHome decodes the fixed home struct out of a raw 512-byte block.
func decodeHome(raw []byte, h *home) error {
	if err := binary.Read(bytes.NewReader(raw), le, h); err != nil {
		return xerrors.Errorf("decoding home block: %w", err)
	}
	return nil
}

// isValidHome performs the home block's structural checks in order,
// returning the first failure it finds, then verifies both running-sum
// checksums.
func isValidHome(h *home, raw []byte) error {
	if h.HomeLbn == 0 || h.AlHomeLbn == 0 || h.AltIdxLbn == 0 || h.IbmapLbn == 0 {
		return xerrors.New("home block: homelbn/alhomelbn/altidxlbn/ibmaplbn must be nonzero")
	}

	k := uint32(h.Cluster)
	if k == 0 {
		return xerrors.New("home block: cluster factor is zero")
	}
	if av := uint32(h.AlHomeVbn); av < 2*k+1 || av > 3*k {
		return xerrors.Errorf("home block: alhomevbn %d outside [2K+1,3K] for K=%d", av, k)
	}
	if av := uint32(h.AltIdxVbn); av < 3*k+1 || av > 4*k {
		return xerrors.Errorf("home block: altidxvbn %d outside [3K+1,4K] for K=%d", av, k)
	}
	if av := uint32(h.IbmapVbn); av < 4*k+1 || av > 5*k {
		return xerrors.Errorf("home block: ibmapvbn %d outside [4K+1,5K] for K=%d", av, k)
	}

	if h.ResFiles >= h.MaxFiles {
		return xerrors.New("home block: resfiles must be less than maxfiles")
	}
	if h.MaxFiles >= 1<<24 {
		return xerrors.New("home block: maxfiles must be less than 2^24")
	}
	if h.IbmapSize == 0 {
		return xerrors.New("home block: ibmapsize is zero")
	}
	if h.Rvn != 0 {
		return xerrors.New("home block: rvn must be zero (volume sets are out of scope)")
	}

	switch h.StrucMajor {
	case 2:
		if h.VolChar&^volCharMaskODS2 != 0 {
			return xerrors.Errorf("home block: volchar 0x%x has bits outside the ODS-2 mask", h.VolChar)
		}
	case 5:
		if h.VolChar&^volCharMaskODS5 != 0 {
			return xerrors.Errorf("home block: volchar 0x%x has bits outside the ODS-5 mask", h.VolChar)
		}
	default:
		return xerrors.Errorf("home block: unsupported structure level major %d", h.StrucMajor)
	}

	if h.StrucMinor == 0 {
		// Subversion 0 shows up on some old volumes; tolerate it.
		debugf("home block: struclev minor version is 0, tolerating")
	}

	if string(h.Format[:]) != homeFormat {
		return xerrors.Errorf("home block: format field %q != %q", h.Format, homeFormat)
	}

	sum1 := wordSum16(raw[:homeChecksum1Offset])
	if sum1 != h.Checksum1 {
		return xerrors.Errorf("home block: checksum1 mismatch: computed 0x%04x, stored 0x%04x", sum1, h.Checksum1)
	}
	sum2 := wordSum16(raw[:homeChecksum2Offset])
	if sum2 != h.Checksum2 {
		return xerrors.Errorf("home block: checksum2 mismatch: computed 0x%04x, stored 0x%04x", sum2, h.Checksum2)
	}

	return nil
}
