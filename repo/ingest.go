package repo

import (
	"os"
	"regexp"

	"github.com/debforge/debforge/config"
	"github.com/debforge/debforge/deb"
)

// PackageRecord is a fully validated package: control metadata, the checksums
// of the artifact carrying it, and (once placed) its pool location.
type PackageRecord struct {
	Meta      *deb.Metadata
	Component string
	Sums      Checksums

	// SourceFile is where the artifact currently lives; PoolPath is its
	// repository-relative destination, filled in by the pool.
	SourceFile string
	PoolPath   string
}

// Identity returns the name_version_arch triple the pool keys on.
func (r *PackageRecord) Identity() string { return r.Meta.Identity() }

// safeName rejects package names and versions that could escape the pool
// directory layout or corrupt index stanzas.
var (
	safeName    = regexp.MustCompile(`^[a-z0-9][a-z0-9.+-]+$`)
	safeVersion = regexp.MustCompile(`^[a-zA-Z0-9.+~:-]+$`)
	safeArch    = regexp.MustCompile(`^[a-z0-9-]+$`)
)

// Ingester extracts and validates control metadata from fetched artifacts.
type Ingester struct {
	cfg    *config.Config
	listen Listener
	arches map[string]bool
}

func NewIngester(cfg *config.Config, listen Listener) *Ingester {
	arches := make(map[string]bool, len(cfg.Architectures))
	for _, a := range cfg.Architectures {
		arches[a] = true
	}
	return &Ingester{cfg: cfg, listen: listen, arches: arches}
}

// Ingest reads the control metadata out of one artifact and validates it.
// A package whose architecture is not configured is skipped, not failed: the
// record and error are both nil. Anything structurally wrong is a malformed
// input attributed to the task's source.
func (g *Ingester) Ingest(task FetchTask, art *LocalArtifact) (*PackageRecord, error) {
	f, err := os.Open(art.Path)
	if err != nil {
		return nil, errOf(KindTransient, task.Source, "opening %s: %w", art.Path, err)
	}
	defer f.Close()

	meta, err := deb.ReadControl(f)
	if err != nil {
		return nil, errOf(KindMalformed, task.Source, "reading control from %s: %w", task.Filename, err)
	}

	if err := g.validate(task, meta); err != nil {
		return nil, err
	}

	if meta.Architecture != "all" && !g.arches[meta.Architecture] {
		g.listen.emit(EventPackageSkipped{
			Source: task.Source,
			File:   task.Filename,
			Reason: "architecture " + meta.Architecture + " not configured",
		})
		return nil, nil
	}

	g.listen.emit(EventPackageIngested{
		Source:       task.Source,
		Package:      meta.Package,
		Version:      meta.Version,
		Architecture: meta.Architecture,
	})
	return &PackageRecord{
		Meta:       meta,
		Component:  task.Component,
		Sums:       art.Sums,
		SourceFile: art.Path,
	}, nil
}

func (g *Ingester) validate(task FetchTask, meta *deb.Metadata) error {
	if !safeName.MatchString(meta.Package) {
		return errOf(KindMalformed, task.Source, "unsafe package name %q in %s", meta.Package, task.Filename)
	}
	if !safeVersion.MatchString(meta.Version) {
		return errOf(KindMalformed, task.Source, "unsafe version %q in %s", meta.Version, task.Filename)
	}
	if !safeArch.MatchString(meta.Architecture) {
		return errOf(KindMalformed, task.Source, "unsafe architecture %q in %s", meta.Architecture, task.Filename)
	}
	if _, err := deb.ParseVersion(meta.Version); err != nil {
		return errOf(KindMalformed, task.Source, "unparseable version %q in %s: %w", meta.Version, task.Filename, err)
	}
	return nil
}
