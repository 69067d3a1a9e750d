package repo

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/debforge/debforge/deb"
)

// Pool manages the content-addressed package area under a staging root.
// Placement is keyed on the name_version_arch identity: identical content is
// deduplicated, differing content under the same identity is a conflict and
// the prior entry wins.
type Pool struct {
	root   string
	keep   int
	listen Listener

	mu      sync.Mutex
	entries map[string]*PackageRecord
}

func NewPool(root string, keep int, listen Listener) *Pool {
	return &Pool{root: root, keep: keep, listen: listen, entries: make(map[string]*PackageRecord)}
}

// poolPrefix returns the sharding directory for a package name: the first
// letter, except lib* packages which shard on their first four characters so
// the huge lib namespace spreads out.
func poolPrefix(name string) string {
	if strings.HasPrefix(name, "lib") && len(name) > 3 {
		return name[:4]
	}
	return name[:1]
}

// PoolPath returns the repository-relative location for a record.
func PoolPath(component string, meta *deb.Metadata) string {
	return filepath.Join("pool", component, poolPrefix(meta.Package), meta.Package, meta.StandardFilename())
}

func (p *Pool) key(component, identity string) string { return component + "/" + identity }

// Place copies a record's artifact into the pool. Re-placing identical
// content is a no-op; a differing artifact under an already-placed identity
// returns a conflict and leaves the existing entry untouched.
func (p *Pool) Place(rec *PackageRecord) error {
	rel := PoolPath(rec.Component, rec.Meta)
	k := p.key(rec.Component, rec.Identity())

	p.mu.Lock()
	if prior, ok := p.entries[k]; ok {
		p.mu.Unlock()
		if prior.Sums.SHA256 != rec.Sums.SHA256 {
			return errOf(KindConflict, "",
				"conflicting versions of %s: pool has sha256 %s, new artifact has %s",
				rec.Identity(), prior.Sums.SHA256, rec.Sums.SHA256)
		}
		rec.PoolPath = prior.PoolPath
		p.listen.emit(EventPoolPlaced{
			Package:      rec.Meta.Package,
			Version:      rec.Meta.Version,
			Architecture: rec.Meta.Architecture,
			PoolPath:     rel,
			Deduplicated: true,
		})
		return nil
	}
	rec.PoolPath = rel
	p.entries[k] = rec
	p.mu.Unlock()

	if err := copyFile(rec.SourceFile, filepath.Join(p.root, rel)); err != nil {
		p.mu.Lock()
		delete(p.entries, k)
		p.mu.Unlock()
		return errOf(KindTransient, "", "placing %s in pool: %w", rec.Identity(), err)
	}

	p.listen.emit(EventPoolPlaced{
		Package:      rec.Meta.Package,
		Version:      rec.Meta.Version,
		Architecture: rec.Meta.Architecture,
		PoolPath:     rel,
	})
	return nil
}

// Seed carries the previous publication's pool forward into the staging
// tree, so retention operates over old and new packages together. Artifacts
// that no longer parse are dropped with a skip event rather than failing the
// run.
func (p *Pool) Seed(liveRoot string) error {
	livePool := filepath.Join(liveRoot, "pool")
	if _, err := os.Stat(livePool); os.IsNotExist(err) {
		return nil
	}

	return filepath.WalkDir(livePool, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".deb") {
			return err
		}

		rel, err := filepath.Rel(liveRoot, path)
		if err != nil {
			return err
		}
		// pool/<component>/<prefix>/<name>/<file>
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) < 3 {
			return nil
		}
		component := parts[1]

		rec, err := p.reload(path, component)
		if err != nil {
			p.listen.emit(EventPackageSkipped{File: rel, Reason: "unreadable pool entry: " + err.Error()})
			return nil
		}

		k := p.key(component, rec.Identity())
		p.mu.Lock()
		if _, ok := p.entries[k]; ok {
			p.mu.Unlock()
			return nil
		}
		rec.PoolPath = rel
		p.entries[k] = rec
		p.mu.Unlock()

		return copyFile(path, filepath.Join(p.root, rel))
	})
}

func (p *Pool) reload(path, component string) (*PackageRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	meta, err := deb.ReadControl(f)
	if err != nil {
		return nil, err
	}
	sums, err := DigestFile(path)
	if err != nil {
		return nil, err
	}
	return &PackageRecord{Meta: meta, Component: component, Sums: sums, SourceFile: path}, nil
}

// Retain trims each (component, package, architecture) group to the newest
// keep versions, removing the evicted artifacts from the staging tree.
func (p *Pool) Retain() error {
	if p.keep <= 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	groups := make(map[string][]*PackageRecord)
	for _, rec := range p.entries {
		gk := rec.Component + "/" + rec.Meta.Package + "/" + rec.Meta.Architecture
		groups[gk] = append(groups[gk], rec)
	}

	for _, recs := range groups {
		if len(recs) <= p.keep {
			continue
		}
		sort.Slice(recs, func(i, j int) bool {
			return deb.CompareVersions(recs[i].Meta.Version, recs[j].Meta.Version) > 0
		})
		for _, rec := range recs[p.keep:] {
			delete(p.entries, p.key(rec.Component, rec.Identity()))
			if err := os.Remove(filepath.Join(p.root, rec.PoolPath)); err != nil && !os.IsNotExist(err) {
				return errOf(KindFatal, "", "evicting %s: %w", rec.PoolPath, err)
			}
		}
	}
	return nil
}

// Records returns the pool contents in deterministic order: component, then
// package name, then descending version, then architecture.
func (p *Pool) Records() []*PackageRecord {
	p.mu.Lock()
	defer p.mu.Unlock()

	recs := make([]*PackageRecord, 0, len(p.entries))
	for _, rec := range p.entries {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.Component != b.Component {
			return a.Component < b.Component
		}
		if a.Meta.Package != b.Meta.Package {
			return a.Meta.Package < b.Meta.Package
		}
		if c := deb.CompareVersions(a.Meta.Version, b.Meta.Version); c != 0 {
			return c > 0
		}
		return a.Meta.Architecture < b.Meta.Architecture
	})
	return recs
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	return err
}
