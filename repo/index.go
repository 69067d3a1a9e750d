package repo

import (
	"bytes"
	"fmt"
	"path"
	"sort"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"

	"github.com/debforge/debforge/config"
	"github.com/debforge/debforge/deb"
)

// IndexArtifact is one generated metadata file destined for the dists/ tree,
// held in memory so the release manifest can hash it before anything touches
// disk.
type IndexArtifact struct {
	RelPath string
	Bytes   []byte
	Sums    Checksums
}

// Indexer generates the Packages indexes and their compressed variants.
// Generation is a pure function of the pool contents: the same records always
// produce byte-identical artifacts.
type Indexer struct {
	cfg    *config.Config
	listen Listener
}

func NewIndexer(cfg *config.Config, listen Listener) *Indexer {
	return &Indexer{cfg: cfg, listen: listen}
}

// Build produces, for every configured (component, architecture) pair, the
// Packages index, its gzip and xz variants, and the per-architecture Release
// stanza. Architecture "all" packages appear in every architecture's index.
func (x *Indexer) Build(records []*PackageRecord) ([]IndexArtifact, error) {
	var artifacts []IndexArtifact

	for _, component := range x.cfg.Components {
		for _, arch := range x.cfg.Architectures {
			selected := selectForIndex(records, component, arch)
			body := packagesText(selected)

			dir := path.Join("dists", x.cfg.Archive.Codename, component, "binary-"+arch)

			gz, err := gzipBytes(body)
			if err != nil {
				return nil, errOf(KindFatal, "", "compressing %s/Packages.gz: %w", dir, err)
			}
			xzBody, err := xzBytes(body)
			if err != nil {
				return nil, errOf(KindFatal, "", "compressing %s/Packages.xz: %w", dir, err)
			}

			artifacts = append(artifacts,
				IndexArtifact{RelPath: path.Join(dir, "Packages"), Bytes: body, Sums: DigestBytes(body)},
				IndexArtifact{RelPath: path.Join(dir, "Packages.gz"), Bytes: gz, Sums: DigestBytes(gz)},
				IndexArtifact{RelPath: path.Join(dir, "Packages.xz"), Bytes: xzBody, Sums: DigestBytes(xzBody)},
				x.archRelease(dir, component, arch),
			)
			x.listen.emit(EventIndexWritten{Component: component, Architecture: arch, Packages: len(selected)})
		}
	}
	return artifacts, nil
}

// selectForIndex picks the records for one index in canonical stanza order:
// package name, then descending Debian version, then architecture.
func selectForIndex(records []*PackageRecord, component, arch string) []*PackageRecord {
	var out []*PackageRecord
	for _, rec := range records {
		if rec.Component != component {
			continue
		}
		if rec.Meta.Architecture != arch && rec.Meta.Architecture != "all" {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Meta.Package != b.Meta.Package {
			return a.Meta.Package < b.Meta.Package
		}
		if c := deb.CompareVersions(a.Meta.Version, b.Meta.Version); c != 0 {
			return c > 0
		}
		return a.Meta.Architecture < b.Meta.Architecture
	})
	return out
}

func packagesText(records []*PackageRecord) []byte {
	var b bytes.Buffer
	for _, rec := range records {
		rec.Meta.WriteStanza(&b)
		fmt.Fprintf(&b, "%s: %s\n", deb.FieldFilename, path.Clean(rec.PoolPath))
		fmt.Fprintf(&b, "%s: %d\n", deb.FieldSize, rec.Sums.Size)
		fmt.Fprintf(&b, "%s: %s\n", deb.FieldMD5sum, rec.Sums.MD5)
		fmt.Fprintf(&b, "%s: %s\n", deb.FieldSHA1, rec.Sums.SHA1)
		fmt.Fprintf(&b, "%s: %s\n", deb.FieldSHA256, rec.Sums.SHA256)
		b.WriteString("\n")
	}
	return b.Bytes()
}

// archRelease builds the small per-architecture Release stanza apt uses to
// cross-check index provenance.
func (x *Indexer) archRelease(dir, component, arch string) IndexArtifact {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s: %s\n", deb.RelArchive, x.cfg.Archive.Suite)
	fmt.Fprintf(&b, "%s: %s\n", deb.RelOrigin, x.cfg.Archive.Origin)
	fmt.Fprintf(&b, "%s: %s\n", deb.RelLabel, x.cfg.Archive.Label)
	fmt.Fprintf(&b, "%s: %s\n", deb.RelComponent, component)
	fmt.Fprintf(&b, "%s: %s\n", deb.RelArchitecture, arch)
	body := b.Bytes()
	return IndexArtifact{RelPath: path.Join(dir, "Release"), Bytes: body, Sums: DigestBytes(body)}
}

// gzipBytes compresses with a fixed level and a zeroed header, so repeated
// runs over identical input stay byte-identical.
func gzipBytes(body []byte) ([]byte, error) {
	var b bytes.Buffer
	w, err := gzip.NewWriterLevel(&b, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func xzBytes(body []byte) ([]byte, error) {
	var b bytes.Buffer
	w, err := xz.NewWriter(&b)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}
