package ods5

import (
	"sync"
	"sync/atomic"

	"golang.org/x/xerrors"
)

// fm2Format is the 2-bit discriminator occupying the top bits of the first
// word of a retrieval pointer.
type fm2Format uint8

const (
	fm2Placeholder fm2Format = 0
	fm2Format1     fm2Format = 1
	fm2Format2     fm2Format = 2
	fm2Format3     fm2Format = 3
)

// fm2Record is one decoded retrieval pointer: Count contiguous blocks
// starting at LBN StartLBN. Placeholder records (format 0) decode to
// Count == 0 and are skipped by the walker.
type fm2Record struct {
	Format   fm2Format
	Count    uint32
	StartLBN uint32
}

// decodeFM2 decodes retrieval pointers out of a map-area word slice
// (little-endian uint16 words, as stored on disk). Four tagged formats,
// selected by the top 2 bits of the first word: a placeholder, and three
// sizes of (count, lbn) pair.
func decodeFM2(words []uint16) ([]fm2Record, error) {
	var recs []fm2Record
	for i := 0; i < len(words); {
		w0 := words[i]
		format := fm2Format(w0 >> fm2FormatShift)
		switch format {
		case fm2Placeholder:
			i++
		case fm2Format1:
			if i+2 > len(words) {
				return nil, xerrors.New("fm2: truncated format-1 pointer")
			}
			count := uint32(w0&0xFF) + 1
			highlbn := uint32(w0>>8) & 0x3F
			lowlbn := uint32(words[i+1])
			recs = append(recs, fm2Record{Format: format, Count: count, StartLBN: (highlbn << 16) + lowlbn})
			i += 2
		case fm2Format2:
			if i+3 > len(words) {
				return nil, xerrors.New("fm2: truncated format-2 pointer")
			}
			count := uint32(w0&0x3FFF) + 1
			lowlbn := uint32(words[i+1])
			highlbn := uint32(words[i+2])
			recs = append(recs, fm2Record{Format: format, Count: count, StartLBN: lowlbn | highlbn<<16})
			i += 3
		case fm2Format3:
			if i+4 > len(words) {
				return nil, xerrors.New("fm2: truncated format-3 pointer")
			}
			highcount := uint32(w0 & 0x3FFF)
			lowcount := uint32(words[i+1])
			count := (highcount<<16 | lowcount) + 1
			lowlbn := uint32(words[i+2])
			highlbn := uint32(words[i+3])
			recs = append(recs, fm2Record{Format: format, Count: count, StartLBN: lowlbn | highlbn<<16})
			i += 4
		default:
			// unreachable: format is 2 bits
			return nil, xerrors.Errorf("fm2: impossible format %d", format)
		}
	}
	return recs, nil
}

// bytesToWords16 reinterprets a little-endian byte slice as uint16 words.
func bytesToWords16(b []byte) []uint16 {
	words := make([]uint16, len(b)/2)
	for i := range words {
		words[i] = le.Uint16(b[2*i:])
	}
	return words
}

// chainNode is one appended extension-header link. The chain is append-
// only: readers traverse via next without synchronisation; appenders
// serialise on fhInfo.mu and publish next with an atomic store.
type chainNode struct {
	fid     fid
	records []fm2Record
	extFid  fid
	next    atomic.Pointer[chainNode]
}

// fhInfo is the per-inode retrieval/attribute state owned exclusively by
// one inode. It is built once at materialise time and then only ever grown
// (chain extension), never mutated in place elsewhere.
type fhInfo struct {
	fat      [32]byte // copied eagerly; must outlive the header's buffer
	fidSeq   uint16   // retained separately, checked against colliding iget
	diskSize int64    // on-disk byte count; Inode.Size may exceed it for UTF-8 symlinks

	primary    []fm2Record
	primaryExt fid

	mu   sync.Mutex // guards chain append only
	head atomic.Pointer[chainNode]
}

// mapVBN locates the retrieval pointer covering vbn and returns the
// corresponding lbn plus the remaining co-linear extent, extending the
// in-memory mirror of the extension-header chain as needed.
func (r *Reader) mapVBN(info *fhInfo, vbn uint32) (lbn uint32, extent uint32, err error) {
	if vbn == 0 {
		return 0, 0, xerrors.New("mapVBN: vbn is 1-based, got 0")
	}

	var sum uint32
	walk := func(recs []fm2Record) (uint32, uint32, bool) {
		for _, rec := range recs {
			if rec.Count == 0 {
				continue // placeholder
			}
			if vbn <= sum+rec.Count {
				target := rec.StartLBN + (vbn - sum) - 1
				return target, rec.Count - (vbn - sum) + 1, true
			}
			sum += rec.Count
		}
		return 0, 0, false
	}

	if lbn, extent, ok := walk(info.primary); ok {
		return lbn, extent, nil
	}

	extFid := info.primaryExt
	node := info.head.Load()
	for {
		if extFid.zero() {
			return 0, 0, &NotFoundError{Name: "vbn out of range"}
		}
		if node == nil || node.fid != extFid {
			node, err = r.extendChain(info, extFid)
			if err != nil {
				return 0, 0, err
			}
		}
		if lbn, extent, ok := walk(node.records); ok {
			return lbn, extent, nil
		}
		extFid = node.extFid
		node = node.next.Load()
	}
}

// extendChain fetches and validates the extension header identified by
// extFid, and appends it to info's chain under the per-inode mutex,
// double-checking for a peer that already appended the same node.
func (r *Reader) extendChain(info *fhInfo, extFid fid) (*chainNode, error) {
	info.mu.Lock()
	defer info.mu.Unlock()

	// Double-check: a peer may have appended this node while we waited for
	// the lock. Walk from head to find it.
	for n := info.head.Load(); n != nil; n = n.next.Load() {
		if n.fid == extFid {
			return n, nil
		}
	}

	raw, h, err := r.readFH(extFid.fileNumber())
	if err != nil {
		return nil, xerrors.Errorf("extending retrieval chain to fid %+v: %w", extFid, err)
	}
	if err := isUsedFH2(h, raw, extFid); err != nil {
		return nil, &StructuralError{Object: "extension header", Err: err}
	}
	records, err := mapAreaRecords(h, raw)
	if err != nil {
		return nil, &StructuralError{Object: "extension header", Err: err}
	}

	node := &chainNode{fid: extFid, records: records, extFid: h.ExtFid}

	if tail := chainTail(info); tail == nil {
		if info.head.CompareAndSwap(nil, node) {
			return node, nil
		}
		return info.head.Load(), nil
	} else {
		tail.next.Store(node)
		return node, nil
	}
}

// chainTail returns the current last node of the chain, or nil if no
// extension has been appended yet.
func chainTail(info *fhInfo) *chainNode {
	n := info.head.Load()
	if n == nil {
		return nil
	}
	for n.next.Load() != nil {
		n = n.next.Load()
	}
	return n
}

// mapAreaRecords decodes the retrieval-pointer area of a validated file
// header into fm2Records, honouring MapInUse.
func mapAreaRecords(h *fh2Fixed, raw []byte) ([]fm2Record, error) {
	start := int(h.MpOffset) * 2
	end := start + int(h.MapInUse)*2
	if end > len(raw) {
		return nil, xerrors.New("map area exceeds header block")
	}
	return decodeFM2(bytesToWords16(raw[start:end]))
}
