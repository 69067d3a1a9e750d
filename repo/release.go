package repo

import (
	"bytes"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/debforge/debforge/config"
	"github.com/debforge/debforge/deb"
)

// Composer assembles the top-level Release manifest over the generated
// indexes and, when a signer is configured, its InRelease and Release.gpg
// companions plus the exported public key.
type Composer struct {
	cfg    *config.Config
	signer *Signer
	listen Listener

	// now is swappable so manifest output can be pinned in tests.
	now func() time.Time
}

func NewComposer(cfg *config.Config, signer *Signer, listen Listener) *Composer {
	return &Composer{cfg: cfg, signer: signer, listen: listen, now: time.Now}
}

// Compose returns the release artifacts to add to the dists/ tree. The hash
// tables list every index artifact under all three digest algorithms, with
// identical path sets, sorted by path.
//
// A signing failure aborts only when signing is required; otherwise the
// failure is reported and the manifest is published unsigned.
func (c *Composer) Compose(indexes []IndexArtifact) ([]IndexArtifact, error) {
	distsDir := path.Join("dists", c.cfg.Archive.Codename)
	body := c.manifest(distsDir, indexes)

	out := []IndexArtifact{{
		RelPath: path.Join(distsDir, "Release"),
		Bytes:   body,
		Sums:    DigestBytes(body),
	}}

	signed := false
	if c.signer != nil {
		sigs, err := c.sign(distsDir, body)
		if err != nil {
			if c.cfg.SigningRequired() {
				return nil, err
			}
			c.listen.emit(EventSigningFailed{Reason: err.Error()})
		} else {
			out = append(out, sigs...)
			signed = true
		}
	}

	c.listen.emit(EventReleaseComposed{Artifacts: len(indexes), Signed: signed})
	return out, nil
}

func (c *Composer) sign(distsDir string, body []byte) ([]IndexArtifact, error) {
	inRelease, err := c.signer.Clearsign(body)
	if err != nil {
		return nil, err
	}
	detached, err := c.signer.DetachSign(body)
	if err != nil {
		return nil, err
	}
	key := c.signer.PublicKey()
	return []IndexArtifact{
		{RelPath: path.Join(distsDir, "InRelease"), Bytes: inRelease, Sums: DigestBytes(inRelease)},
		{RelPath: path.Join(distsDir, "Release.gpg"), Bytes: detached, Sums: DigestBytes(detached)},
		{RelPath: "key.gpg", Bytes: key, Sums: DigestBytes(key)},
	}, nil
}

func (c *Composer) manifest(distsDir string, indexes []IndexArtifact) []byte {
	a := c.cfg.Archive

	var b bytes.Buffer
	field := func(f deb.ReleaseField, v string) {
		if v != "" {
			fmt.Fprintf(&b, "%s: %s\n", f, v)
		}
	}
	field(deb.RelOrigin, a.Origin)
	field(deb.RelLabel, a.Label)
	field(deb.RelSuite, a.Suite)
	field(deb.RelVersion, a.Version)
	field(deb.RelCodename, a.Codename)
	field(deb.RelDate, c.now().UTC().Format(time.RFC1123))
	field(deb.RelArchitectures, strings.Join(c.cfg.Architectures, " "))
	field(deb.RelComponents, strings.Join(c.cfg.Components, " "))
	field(deb.RelDescription, a.Description)

	// Hash tables reference index paths relative to the dists/<codename>/
	// directory, sorted so the manifest is deterministic.
	sorted := make([]IndexArtifact, len(indexes))
	copy(sorted, indexes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RelPath < sorted[j].RelPath })

	table := func(f deb.ReleaseField, digest func(Checksums) string) {
		fmt.Fprintf(&b, "%s:\n", f)
		for _, art := range sorted {
			rel, err := relTo(distsDir, art.RelPath)
			if err != nil {
				continue
			}
			fmt.Fprintf(&b, " %s %d %s\n", digest(art.Sums), art.Sums.Size, rel)
		}
	}
	table(deb.RelMD5Sum, func(s Checksums) string { return s.MD5 })
	table(deb.RelSHA1, func(s Checksums) string { return s.SHA1 })
	table(deb.RelSHA256, func(s Checksums) string { return s.SHA256 })

	return b.Bytes()
}

func relTo(dir, p string) (string, error) {
	prefix := dir + "/"
	if !strings.HasPrefix(p, prefix) {
		return "", fmt.Errorf("%s outside %s", p, dir)
	}
	return strings.TrimPrefix(p, prefix), nil
}
