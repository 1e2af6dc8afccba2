package ods5

import (
	"strings"
	"testing"
)

func lookupTest(t *testing.T, r *Reader, dir *Inode, name string) fid {
	t.Helper()
	f, err := r.Lookup(dir, name)
	if err != nil {
		t.Fatalf("Lookup(%q): %v", name, err)
	}
	return f
}

func wantNotFound(t *testing.T, r *Reader, dir *Inode, name string) {
	t.Helper()
	_, err := r.Lookup(dir, name)
	if err == nil {
		t.Fatalf("Lookup(%q) succeeded, want not found", name)
	}
	if _, ok := err.(*NotFoundError); !ok {
		t.Fatalf("Lookup(%q) = %v, want NotFoundError", name, err)
	}
}

// TestLookupCaseblind is the caseblind pruning scenario: lowercase queries
// match their uppercase records, a version below any present misses, and a
// name sorting past the whole directory misses.
func TestLookupCaseblind(t *testing.T) {
	r := newTestReader(t)
	sub := igetTest(t, r, fidv(8, 1))

	if got, want := lookupTest(t, r, sub, "b.;2"), fidv(21, 1); got != want {
		t.Fatalf("Lookup(b.;2) = %+v, want %+v", got, want)
	}
	if got, want := lookupTest(t, r, sub, "B.;2"), fidv(21, 1); got != want {
		t.Fatalf("Lookup(B.;2) = %+v, want %+v", got, want)
	}
	if got, want := lookupTest(t, r, sub, "b.;1"), fidv(22, 1); got != want {
		t.Fatalf("Lookup(b.;1) = %+v, want %+v", got, want)
	}

	wantNotFound(t, r, sub, "a.;2") // version below any present
	wantNotFound(t, r, sub, "z.;1") // past every record
	wantNotFound(t, r, sub, "0.;1") // sorts before the first record: pruned
	wantNotFound(t, r, sub, "B.;3")
	wantNotFound(t, r, sub, "AB.;1") // between records, same prefix as A.
}

func TestLookupNoVersion(t *testing.T) {
	r := newTestReader(t)
	sub := igetTest(t, r, fidv(8, 1))
	// Without the syml mount flag a delimiter-less name does not exist.
	wantNotFound(t, r, sub, "B.")
}

func TestLookupVersionRange(t *testing.T) {
	r := newTestReader(t)
	sub := igetTest(t, r, fidv(8, 1))
	// Versions outside [1,32767] don't parse as versions; the whole string
	// then fails as a delimiter-less name.
	wantNotFound(t, r, sub, "B.;0")
	wantNotFound(t, r, sub, "B.;40000")
	wantNotFound(t, r, sub, "B.;x")
}

func TestLookupDotVersion(t *testing.T) {
	r := newTestReader(t, WithDotVersion())
	sub := igetTest(t, r, fidv(8, 1))
	if got, want := lookupTest(t, r, sub, "B..2"), fidv(21, 1); got != want {
		t.Fatalf("Lookup(B..2) = %+v, want %+v", got, want)
	}
}

// TestLookupSymlinkDialect: bare POSIX names resolve via the .DIR and
// trailing-dot sugar, returning the highest version.
func TestLookupSymlinkDialect(t *testing.T) {
	r := newTestReader(t, WithSymlinks())
	root, err := r.Root()
	if err != nil {
		t.Fatalf("Root: %v", err)
	}

	if got, want := lookupTest(t, r, root, "SUB"), fidv(8, 1); got != want {
		t.Fatalf("Lookup(SUB) = %+v, want %+v", got, want)
	}
	if got, want := lookupTest(t, r, root, "LINK"), fidv(7, 1); got != want {
		t.Fatalf("Lookup(LINK) = %+v, want %+v", got, want)
	}
	if got, want := lookupTest(t, r, root, "DATA.TXT"), fidv(10, 1); got != want {
		t.Fatalf("Lookup(DATA.TXT) = %+v, want %+v", got, want)
	}
	wantNotFound(t, r, root, "NOPE")

	// Highest version wins: D exists as ;5 ;4 ;3.
	span := igetTest(t, r, fidv(11, 1))
	if got, want := lookupTest(t, r, span, "D"), fidv(30, 1); got != want {
		t.Fatalf("Lookup(D) = %+v, want %+v", got, want)
	}
}

// TestLookupUCS2 resolves the escaped and the transparent rendering of a
// UCS-2 name back to the same fid.
func TestLookupUCS2(t *testing.T) {
	r := newTestReader(t, WithVTF7())
	dir := igetTest(t, r, fidv(9, 1))
	if got, want := lookupTest(t, r, dir, "?03B1.;1"), fidv(24, 1); got != want {
		t.Fatalf("Lookup(?03B1.;1) = %+v, want %+v", got, want)
	}

	r = newTestReader(t)
	dir = igetTest(t, r, fidv(9, 1))
	if got, want := lookupTest(t, r, dir, "α.;1"), fidv(24, 1); got != want {
		t.Fatalf("Lookup(α.;1) = %+v, want %+v", got, want)
	}
	wantNotFound(t, r, dir, "β.;1")
}

func TestLookupContinuation(t *testing.T) {
	r := newTestReader(t)
	span := igetTest(t, r, fidv(11, 1))
	if got, want := lookupTest(t, r, span, "D.;5"), fidv(30, 1); got != want {
		t.Fatalf("Lookup(D.;5) = %+v, want %+v", got, want)
	}
	// Version 3 lives in the record's continuation in the next block.
	if got, want := lookupTest(t, r, span, "D.;3"), fidv(32, 1); got != want {
		t.Fatalf("Lookup(D.;3) = %+v, want %+v", got, want)
	}
	wantNotFound(t, r, span, "D.;2")
}

func TestLookupNameTooLong(t *testing.T) {
	r := newTestReader(t)
	sub := igetTest(t, r, fidv(8, 1))
	_, err := r.Lookup(sub, strings.Repeat("X", 300)+".;1")
	if err == nil {
		t.Fatal("overlong lookup succeeded")
	}
	if _, ok := err.(*NameTooLongError); !ok {
		t.Fatalf("overlong lookup = %v, want NameTooLongError", err)
	}
}

func TestLookupMalformedUTF8(t *testing.T) {
	r := newTestReader(t)
	sub := igetTest(t, r, fidv(8, 1))
	_, err := r.Lookup(sub, string([]byte{0xFF, 0xFE})+";1")
	if err == nil {
		t.Fatal("malformed-UTF-8 lookup succeeded")
	}
	if _, ok := err.(*CharsetError); !ok {
		t.Fatalf("malformed-UTF-8 lookup = %v, want CharsetError", err)
	}
}
