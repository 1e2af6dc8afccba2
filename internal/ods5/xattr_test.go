package ods5

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestReadFAT(t *testing.T) {
	r := newTestReader(t)
	inode := igetTest(t, r, fidv(10, 1))
	fat := r.ReadFAT(inode)
	for i, b := range fat {
		if b != byte(i) {
			t.Fatalf("fat[%d] = %d, want %d", i, b, i)
		}
	}
}

func TestReadFH(t *testing.T) {
	r := newTestReader(t)
	inode := igetTest(t, r, fidv(10, 1))
	raw, err := r.ReadFH(inode)
	if err != nil {
		t.Fatalf("ReadFH: %v", err)
	}
	if len(raw) != Block {
		t.Fatalf("ReadFH returned %d bytes, want %d", len(raw), Block)
	}
	// The copy is re-read and re-validated, so its checksum must hold.
	if got, want := wordSum16(raw[:fh2ChecksumOffset]), le.Uint16(raw[fh2ChecksumOffset:]); got != want {
		t.Fatalf("returned header checksum 0x%04x != computed 0x%04x", want, got)
	}
}

func TestGetXattr(t *testing.T) {
	r := newTestReader(t)
	inode := igetTest(t, r, fidv(10, 1))

	fat, err := r.GetXattr(inode, XattrFat)
	if err != nil {
		t.Fatalf("GetXattr(user.fat): %v", err)
	}
	if len(fat) != 32 {
		t.Fatalf("user.fat is %d bytes, want 32", len(fat))
	}

	fh, err := r.GetXattr(inode, XattrFH)
	if err != nil {
		t.Fatalf("GetXattr(user.fh): %v", err)
	}
	direct, err := r.ReadFH(inode)
	if err != nil {
		t.Fatalf("ReadFH: %v", err)
	}
	if !bytes.Equal(fh, direct) {
		t.Fatal("user.fh differs from ReadFH")
	}

	if _, err := r.GetXattr(inode, "user.nope"); err == nil {
		t.Fatal("GetXattr(user.nope) succeeded")
	} else if _, ok := err.(*CapabilityError); !ok {
		t.Fatalf("GetXattr(user.nope) = %v, want CapabilityError", err)
	}
}

func TestListXattr(t *testing.T) {
	r := newTestReader(t)
	inode := igetTest(t, r, fidv(10, 1))
	if diff := cmp.Diff([]string{XattrFat, XattrFH}, r.ListXattr(inode)); diff != "" {
		t.Fatalf("ListXattr: diff (-want +got):\n%s", diff)
	}
}
