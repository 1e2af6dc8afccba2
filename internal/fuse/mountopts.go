package fuse

import (
	"os"
	"strconv"
	"strings"

	"golang.org/x/xerrors"

	"github.com/ods5fs/ods5fs/internal/ods5"
)

// ParseMountOptions parses a comma-separated mount-option string
// (bs=N, home=N, mode=0OOO, nomfd, dotversion, syml, utf8, vtf7). Last wins
// within a family: ods5.Option values are applied to ods5.NewReader in the
// order produced here, and each later option for the same field simply
// overwrites the earlier one. It is shared by the fuse verb and the offline
// stat/ls/cat verbs in cmd/ods5fs.
func ParseMountOptions(s string) ([]ods5.Option, error) {
	var opts []ods5.Option
	var sawDotversion, sawSyml bool

	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		key, val, hasVal := strings.Cut(tok, "=")
		switch key {
		case "bs":
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, xerrors.Errorf("mount option %q: %w", tok, err)
			}
			opts = append(opts, ods5.WithDeviceBlockSize(n))
		case "home":
			n, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return nil, xerrors.Errorf("mount option %q: %w", tok, err)
			}
			opts = append(opts, ods5.WithHomeLBN(uint32(n)))
		case "mode":
			n, err := strconv.ParseUint(val, 8, 32)
			if err != nil {
				return nil, xerrors.Errorf("mount option %q: %w", tok, err)
			}
			opts = append(opts, ods5.WithExtraMode(os.FileMode(n&0777)))
		case "nomfd":
			opts = append(opts, ods5.WithNoMFD())
		case "dotversion":
			sawDotversion = true
			opts = append(opts, ods5.WithDotVersion())
		case "syml":
			sawSyml = true
			opts = append(opts, ods5.WithSymlinks())
		case "utf8":
			opts = append(opts, ods5.WithUTF8())
		case "vtf7":
			opts = append(opts, ods5.WithVTF7())
		default:
			if hasVal {
				return nil, xerrors.Errorf("unknown mount option %q", key)
			}
			return nil, xerrors.Errorf("unknown mount option %q", tok)
		}
	}

	if sawDotversion && sawSyml {
		return nil, xerrors.New("mount options dotversion and syml are mutually exclusive")
	}

	return opts, nil
}
