// Package deb models Debian binary package metadata: control files, index
// stanzas, and version ordering. It reads .deb archives but never writes
// them; package construction belongs to an external build toolchain.
package deb

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/blakesmith/ar"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// ReadControl extracts and parses the control metadata from a .deb stream.
// It walks the outer ar container for the control.tar member (plain, .gz,
// .xz or .zst) and parses the control file inside it.
func ReadControl(r io.Reader) (*Metadata, error) {
	arR := ar.NewReader(r)
	for {
		header, err := arR.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading ar header: %w", err)
		}

		// ar names may carry a trailing "/" (GNU style).
		name := strings.TrimSuffix(strings.TrimSpace(header.Name), "/")
		if !strings.HasPrefix(name, "control.tar") {
			continue
		}

		var tarStream io.Reader
		switch {
		case strings.HasSuffix(name, ".gz"):
			gzr, err := gzip.NewReader(arR)
			if err != nil {
				return nil, fmt.Errorf("opening %s: %w", name, err)
			}
			defer gzr.Close()
			tarStream = gzr
		case strings.HasSuffix(name, ".xz"):
			xzr, err := xz.NewReader(arR)
			if err != nil {
				return nil, fmt.Errorf("opening %s: %w", name, err)
			}
			tarStream = xzr
		case strings.HasSuffix(name, ".zst"):
			// dpkg >= 1.21 compresses control.tar with zstd by default.
			zr, err := zstd.NewReader(arR)
			if err != nil {
				return nil, fmt.Errorf("opening %s: %w", name, err)
			}
			defer zr.Close()
			tarStream = zr
		case name == "control.tar":
			tarStream = arR
		default:
			return nil, fmt.Errorf("unsupported control archive compression: %s", name)
		}

		return controlFromTar(tar.NewReader(tarStream))
	}
	return nil, fmt.Errorf("no control.tar member found")
}

func controlFromTar(tr *tar.Reader) (*Metadata, error) {
	for {
		th, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading control tar: %w", err)
		}
		if ControlFile(filepath.Base(th.Name)) != FileControl {
			continue
		}
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, tr); err != nil {
			return nil, fmt.Errorf("reading control file: %w", err)
		}
		return ParseControl(buf.String())
	}
	return nil, fmt.Errorf("control archive has no control file")
}
