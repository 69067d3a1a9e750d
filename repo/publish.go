package repo

import (
	"os"
	"path/filepath"
)

// Publisher owns the staging-to-live handover. A build run never writes into
// the live tree: everything lands in a sibling staging directory and goes
// live in a single rename, so readers observe either the old publication or
// the new one, never a mix.
type Publisher struct {
	live   string
	listen Listener
}

func NewPublisher(live string, listen Listener) *Publisher {
	return &Publisher{live: live, listen: listen}
}

// Live returns the published repository root.
func (p *Publisher) Live() string { return p.live }

func (p *Publisher) stagingPath() string  { return p.live + ".staging" }
func (p *Publisher) previousPath() string { return p.live + ".prev" }

// Prepare clears any stale staging tree from an aborted run and returns a
// fresh staging root.
func (p *Publisher) Prepare() (string, error) {
	staging := p.stagingPath()
	if err := os.RemoveAll(staging); err != nil {
		return "", errOf(KindFatal, "", "clearing stale staging tree: %w", err)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return "", errOf(KindFatal, "", "creating staging tree: %w", err)
	}
	return staging, nil
}

// WriteArtifacts materializes the generated metadata files into the staging
// tree.
func (p *Publisher) WriteArtifacts(staging string, artifacts []IndexArtifact) error {
	for _, art := range artifacts {
		dest := filepath.Join(staging, filepath.FromSlash(art.RelPath))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return errOf(KindFatal, "", "creating %s: %w", filepath.Dir(dest), err)
		}
		if err := os.WriteFile(dest, art.Bytes, 0o644); err != nil {
			return errOf(KindFatal, "", "writing %s: %w", art.RelPath, err)
		}
	}
	return nil
}

// Swap promotes the staging tree to live. The displaced live tree is kept as
// <live>.prev for one cycle; the .prev displaced by this run is pruned only
// after the swap succeeded. A rename failure rolls the live tree back and is
// fatal.
func (p *Publisher) Swap(staging string) error {
	prev := p.previousPath()
	prevOld := prev + ".old"

	if err := os.RemoveAll(prevOld); err != nil {
		return errOf(KindFatal, "", "clearing expired publication: %w", err)
	}
	if _, err := os.Stat(prev); err == nil {
		if err := os.Rename(prev, prevOld); err != nil {
			return errOf(KindFatal, "", "rotating previous publication: %w", err)
		}
	}

	hadLive := false
	if _, err := os.Stat(p.live); err == nil {
		hadLive = true
		if err := os.Rename(p.live, prev); err != nil {
			return errOf(KindFatal, "", "retiring live tree: %w", err)
		}
	}

	if err := os.Rename(staging, p.live); err != nil {
		if hadLive {
			os.Rename(prev, p.live)
		}
		os.Rename(prevOld, prev)
		return errOf(KindFatal, "", "promoting staging tree: %w", err)
	}

	// The publication is durable now; cleanup failures are not.
	os.RemoveAll(prevOld)

	published := EventPublished{Live: p.live}
	if hadLive {
		published.Previous = prev
	}
	p.listen.emit(published)
	return nil
}
