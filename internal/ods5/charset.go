package ods5

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf16"
	"unicode/utf8"
)

// ODS names only ever hold BMP code points, so UCS-2 conversion is
// unicode/utf16 without surrogate handling.

// vmsEpoch is the Unix epoch expressed as a VMS quadword time: the number
// of 100ns ticks between the VMS base date (1858-11-17 00:00:00 UTC) and
// 1970-01-01.
const vmsEpoch = 0x007c95674beb4000

// v2utime converts a VMS quadword timestamp (100ns ticks since the VMS base
// date) to a UTC time.Time.
func v2utime(q uint64) time.Time {
	ticks := int64(q) - int64(vmsEpoch)
	sec := ticks / 1e7
	nsec := (ticks % 1e7) * 100
	if nsec < 0 {
		sec--
		nsec += 1e9
	}
	return time.Unix(sec, nsec).UTC()
}

// isl1ToUTF8 converts an ISO-8859-1 (ISO Latin-1) byte string to UTF-8. Every
// byte is a Unicode code point in [0,255], so this can never fail.
func isl1ToUTF8(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		sb.WriteRune(rune(c))
	}
	return sb.String()
}

// utf8ToISL1 converts a UTF-8 string to ISO-8859-1 bytes. It fails if any
// rune falls outside [0,255].
func utf8ToISL1(s string) ([]byte, bool) {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFF {
			return nil, false
		}
		out = append(out, byte(r))
	}
	return out, true
}

// ucs2ToUTF8 decodes a sequence of little-endian UCS-2 code units (BMP only,
// no surrogate pairs on an ODS volume) into UTF-8.
func ucs2ToUTF8(words []uint16) string {
	return string(utf16.Decode(words))
}

// utf8ToUCS2 encodes a UTF-8 string into UCS-2 code units. It fails if the
// string is not valid UTF-8 or contains a rune outside the BMP.
func utf8ToUCS2(s string) ([]uint16, bool) {
	if !utf8.ValidString(s) {
		return nil, false
	}
	out := make([]uint16, 0, utf8.RuneCountInString(s))
	for _, r := range s {
		if r > 0xFFFF || (r >= 0xD800 && r <= 0xDFFF) {
			return nil, false
		}
		out = append(out, uint16(r))
	}
	return out, true
}

// allHighBytesZero reports whether every UCS-2 code unit fits in a single
// ISL-1 byte (high byte zero), the condition under which lookup.go demotes a
// UTF-8 query to ISL-1 comparison form.
func allHighBytesZero(words []uint16) bool {
	for _, w := range words {
		if w > 0xFF {
			return false
		}
	}
	return true
}

// ucs2ToVTF7 renders UCS-2 code units in the vtf7 mount mode: a code unit
// with a nonzero high byte becomes a `?HHHH` escape (uppercase hex, fixed
// width 4); a code unit with a zero high byte is emitted as its raw low
// byte, except '?', which is escaped as well.
func ucs2ToVTF7(words []uint16) string {
	var sb strings.Builder
	for _, w := range words {
		// A literal '?' must be escaped too, or the rendering would not
		// parse back (vtf7ToUCS2 treats every '?' as an escape introducer).
		if w > 0xFF || w == '?' {
			fmt.Fprintf(&sb, "?%04X", w)
		} else {
			sb.WriteByte(byte(w))
		}
	}
	return sb.String()
}

// vtf7ToUCS2 parses a vtf7-escaped string back into UCS-2 code units. It is
// the inverse of ucs2ToVTF7 and is used both for lookups against vtf7-named
// files and by the round-trip test in charset_test.go.
func vtf7ToUCS2(s string) ([]uint16, bool) {
	out := make([]uint16, 0, len(s))
	for i := 0; i < len(s); {
		if s[i] == '?' {
			if i+5 > len(s) {
				return nil, false
			}
			var v uint16
			for _, c := range []byte(s[i+1 : i+5]) {
				v <<= 4
				switch {
				case c >= '0' && c <= '9':
					v |= uint16(c - '0')
				case c >= 'A' && c <= 'F':
					v |= uint16(c-'A') + 10
				case c >= 'a' && c <= 'f':
					v |= uint16(c-'a') + 10
				default:
					return nil, false
				}
			}
			out = append(out, v)
			i += 5
		} else {
			out = append(out, uint16(s[i]))
			i++
		}
	}
	return out, true
}
