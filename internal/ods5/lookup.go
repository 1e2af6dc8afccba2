package ods5

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

const maxNameLen = 236

// nameForm is the comparison form a query name is reduced to before walking
// a directory's records: upcased ISL-1 bytes for the caseblind compare, or
// UCS-2 code units when the name doesn't fit in ISO-8859-1.
type nameForm struct {
	isl1    []byte
	ucs2    []uint16
	useUCS2 bool
}

// splitNameVersion splits name at the last separator (`;`, or `.` when
// dotversion is set), parsing the tail as a version in [1,32767].
func (r *Reader) splitNameVersion(name string) (base string, version int, hasVersion bool) {
	sep := string(r.separator())
	idx := strings.LastIndex(name, sep)
	if idx < 0 {
		return name, 0, false
	}
	tail := name[idx+1:]
	v, err := strconv.Atoi(tail)
	if err != nil || v < 1 || v > 32767 {
		return name, 0, false
	}
	return name[:idx], v, true
}

// queryForm reduces a query base name to its comparison form. In vtf7 mode a
// name containing '?' is parsed as ?HHHH escapes and always compared as
// UCS-2. Any other name is parsed as UTF-8 into UCS-2 and demoted to upcased
// ISL-1 when every code unit fits in a byte.
func (r *Reader) queryForm(base string) (nameForm, error) {
	if len(base) > maxNameLen {
		return nameForm{}, &NameTooLongError{Name: base}
	}

	if r.opts.charset == charsetVTF7 && strings.ContainsRune(base, '?') {
		words, ok := vtf7ToUCS2(base)
		if !ok {
			return nameForm{}, &CharsetError{Err: xerrors.Errorf("malformed vtf7 escape in %q", base)}
		}
		return nameForm{ucs2: words, useUCS2: true}, nil
	}

	words, ok := utf8ToUCS2(base)
	if !ok {
		return nameForm{}, &CharsetError{Err: xerrors.Errorf("invalid utf8 name %q", base)}
	}
	if allHighBytesZero(words) {
		isl1 := make([]byte, len(words))
		for i, w := range words {
			isl1[i] = byte(w)
		}
		return nameForm{isl1: upcaseISL1(isl1)}, nil
	}
	return nameForm{ucs2: words, useUCS2: true}, nil
}

func upcaseISL1(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return out
}

// compareISL1 upcase-compares the query against a record's raw ISL-1 name
// over the shorter length, breaking ties by length.
func compareISL1(query, recordName []byte) int {
	upRecord := upcaseISL1(recordName)
	n := len(query)
	if len(upRecord) < n {
		n = len(upRecord)
	}
	c := bytes.Compare(query[:n], upRecord[:n])
	if c != 0 {
		return c
	}
	return len(query) - len(upRecord)
}

// Lookup resolves name (either "name;version" or, with the syml flag, a
// bare name under the symlink dialect) against dir.
func (r *Reader) Lookup(dir *Inode, name string) (fid, error) {
	base, version, hasVersion := r.splitNameVersion(name)
	if !hasVersion {
		if !r.opts.syml {
			return fid{}, &NotFoundError{Name: name}
		}
		return r.lookupSymlinkDialect(dir, name)
	}

	form, err := r.queryForm(base)
	if err != nil {
		return fid{}, err
	}

	vbn := uint32(1)
	for {
		buf := make([]byte, Block)
		n, err := r.ReadAt(dir, buf, int64(vbn-1)*Block)
		if err == io.EOF && n == 0 {
			return fid{}, &NotFoundError{Name: name}
		}
		if err != nil && err != io.EOF {
			return fid{}, err
		}

		recs, err := parseDirBlock(buf)
		if err != nil {
			return fid{}, err
		}

		for ri := range recs {
			rec := &recs[ri]
			cmp, match := r.compareRecord(form, rec)
			if cmp < 0 {
				// The record's name sorts after the query: the directory is
				// sorted caseblind, so no match is possible further on.
				return fid{}, &NotFoundError{Name: name}
			}
			if !match {
				continue
			}
			f, found, cont := scanVersion(rec, uint16(version))
			if found {
				return f, nil
			}
			if cont {
				// The record continues in the next block; resume the version
				// scan there.
				break
			}
			return fid{}, &NotFoundError{Name: name}
		}

		if int64(vbn)*Block >= dir.Size {
			return fid{}, &NotFoundError{Name: name}
		}
		vbn++
	}
}

// compareRecord compares form against rec's caseblind key. cmp < 0 means the
// record's name sorts after the query (the sorted directory cannot match any
// further on); cmp > 0 means before it (keep scanning); cmp == 0 with
// match=true is a caseblind, equal-length hit. Order is defined only over
// ISL-1 names, so differently encoded names never abort the scan.
func (r *Reader) compareRecord(form nameForm, rec *parsedDirRecord) (cmp int, match bool) {
	if form.useUCS2 || rec.nameType == nameTypeUCS2 {
		if rec.nameType != nameTypeUCS2 || !form.useUCS2 {
			return 1, false
		}
		recWords := bytesToWords16(rec.nameRaw)
		if len(form.ucs2) != len(recWords) {
			return 1, false
		}
		for i := range form.ucs2 {
			if form.ucs2[i] != recWords[i] {
				return 1, false
			}
		}
		return 0, true
	}

	c := compareISL1(form.isl1, rec.nameRaw)
	if c != 0 {
		return c, false
	}
	// compareISL1 returning 0 implies equal length as well. ODS directories
	// are caseblind-unique, so a caseblind hit identifies the record; no
	// byte-exact tiebreak can change the outcome.
	return 0, true
}

// scanVersion walks rec's values in descending-version order looking for an
// exact match. cont reports that the record's value field ends in the 0xFFFF
// continuation marker without the scan having passed the target version: the
// record continues in the next directory block.
func scanVersion(rec *parsedDirRecord, version uint16) (f fid, found, cont bool) {
	for _, v := range rec.values {
		if v.Version == dirEOFMarker {
			return fid{}, false, true
		}
		if v.Version == version {
			return v.Fid, true, false
		}
		if v.Version < version {
			return fid{}, false, false
		}
	}
	// Value field exhausted without a continuation marker: the record is
	// complete and the target version is not present.
	return fid{}, false, false
}

// lookupSymlinkDialect implements the bare-name match used when a symlink
// resolves a POSIX name with no explicit version: match the exact name, or
// name+".DIR"; if the query has no "." or ends in ".", also try query+"."
// (ODS names always contain a type delimiter). Returns the highest-version
// hit.
func (r *Reader) lookupSymlinkDialect(dir *Inode, query string) (fid, error) {
	candidates := []string{query, query + ".DIR"}
	if !strings.Contains(query, ".") || strings.HasSuffix(query, ".") {
		candidates = append(candidates, query+".")
	}

	var best fid
	var bestVersion = -1
	for _, cand := range candidates {
		form, err := r.queryForm(cand)
		if err != nil {
			continue
		}
		f, v, err := r.scanAllVersions(dir, form)
		if err != nil {
			if _, ok := err.(*NotFoundError); ok {
				continue
			}
			return fid{}, err
		}
		if v > bestVersion {
			best, bestVersion = f, v
		}
	}
	if bestVersion < 0 {
		return fid{}, &NotFoundError{Name: query}
	}
	return best, nil
}

// scanAllVersions returns the highest-version fid for a name whose
// comparison form is already resolved, used by the symlink dialect.
func (r *Reader) scanAllVersions(dir *Inode, form nameForm) (fid, int, error) {
	vbn := uint32(1)
	for {
		buf := make([]byte, Block)
		n, err := r.ReadAt(dir, buf, int64(vbn-1)*Block)
		if err == io.EOF && n == 0 {
			return fid{}, 0, &NotFoundError{Name: "symlink dialect"}
		}
		if err != nil && err != io.EOF {
			return fid{}, 0, err
		}
		recs, err := parseDirBlock(buf)
		if err != nil {
			return fid{}, 0, err
		}
		for ri := range recs {
			rec := &recs[ri]
			cmp, match := r.compareRecord(form, rec)
			if cmp < 0 {
				return fid{}, 0, &NotFoundError{Name: "symlink dialect"}
			}
			if !match {
				continue
			}
			// Versions are sorted descending, so the first real value is the
			// highest version.
			for _, v := range rec.values {
				if v.Version == dirEOFMarker {
					continue
				}
				return v.Fid, int(v.Version), nil
			}
		}
		if int64(vbn)*Block >= dir.Size {
			return fid{}, 0, &NotFoundError{Name: "symlink dialect"}
		}
		vbn++
	}
}
