package repo

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/debforge/debforge/config"
	"github.com/debforge/debforge/deb"
	"github.com/debforge/debforge/github"
)

// FetchTask is one resolved artifact to acquire: either a remote URL to
// download or a local path to verify. The fetcher consumes tasks and mutates
// only their retry state.
type FetchTask struct {
	Source    string
	Component string

	// URL is set for remote artifacts, LocalPath for local ones.
	URL       string
	LocalPath string

	// Filename is the artifact's base name in the staging area.
	Filename string

	// SHA256 is the expected checksum, when declared ahead of time.
	SHA256 string
}

// ResolvedSource is the resolver's output for one source declaration:
// a uniform fetch strategy plus one task per selected artifact. Listing and
// GitHub sources fan out; the others carry exactly one task.
type ResolvedSource struct {
	Name      string
	Kind      string
	Component string
	Tasks     []FetchTask
}

// Resolver classifies configured package sources into fetch tasks. All
// strategy decisions happen here, once; downstream stages never inspect the
// source kind again.
type Resolver struct {
	cfg    *config.Config
	client *http.Client
	listen Listener
}

func NewResolver(cfg *config.Config, client *http.Client, listen Listener) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &Resolver{cfg: cfg, client: client, listen: listen}
}

// Resolve turns every source declaration into a ResolvedSource. Per-source
// failures (unreachable listing, no matching artifact) are collected and
// returned alongside the successes; they never abort resolution of sibling
// sources. The result preserves configuration order.
func (r *Resolver) Resolve(ctx context.Context) ([]ResolvedSource, []*Error) {
	var resolved []ResolvedSource
	var failures []*Error

	for i := range r.cfg.Sources {
		src := &r.cfg.Sources[i]
		rs, err := r.resolveOne(ctx, src)
		if err != nil {
			var e *Error
			if !errors.As(err, &e) {
				e = errOf(KindMalformed, src.Name, "resolving source: %w", err)
			}
			failures = append(failures, e)
			continue
		}
		r.listen.emit(EventSourceResolved{Source: src.Name, Kind: src.Kind(), Tasks: len(rs.Tasks)})
		resolved = append(resolved, rs)
	}
	return resolved, failures
}

func (r *Resolver) resolveOne(ctx context.Context, src *config.Source) (ResolvedSource, error) {
	rs := ResolvedSource{Name: src.Name, Kind: src.Kind(), Component: src.Component}

	var err error
	switch rs.Kind {
	case "local":
		rs.Tasks, err = r.resolveLocal(src)
	case "url":
		rs.Tasks = []FetchTask{{
			Source:    src.Name,
			Component: src.Component,
			URL:       src.URL,
			Filename:  urlBase(src.URL),
			SHA256:    src.SHA256,
		}}
	case "listing":
		rs.Tasks, err = r.resolveListing(ctx, src)
	case "github":
		rs.Tasks, err = r.resolveGitHub(ctx, src)
	default:
		err = errOf(KindMalformed, src.Name, "unknown source kind")
	}
	return rs, err
}

func (r *Resolver) resolveLocal(src *config.Source) ([]FetchTask, error) {
	info, err := os.Stat(src.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errOf(KindNotFound, src.Name, "local artifact %s does not exist", src.Path)
		}
		return nil, errOf(KindTransient, src.Name, "stat %s: %w", src.Path, err)
	}

	if !info.IsDir() {
		return []FetchTask{{
			Source:    src.Name,
			Component: src.Component,
			LocalPath: src.Path,
			Filename:  filepath.Base(src.Path),
			SHA256:    src.SHA256,
		}}, nil
	}

	// A directory source (typically the output of the build invoker)
	// contributes every .deb it contains.
	matches, err := filepath.Glob(filepath.Join(src.Path, "*.deb"))
	if err != nil {
		return nil, errOf(KindTransient, src.Name, "scanning %s: %w", src.Path, err)
	}
	if len(matches) == 0 {
		return nil, errOf(KindNotFound, src.Name, "no .deb artifacts in %s", src.Path)
	}
	sort.Strings(matches)

	tasks := make([]FetchTask, 0, len(matches))
	for _, m := range matches {
		tasks = append(tasks, FetchTask{
			Source:    src.Name,
			Component: src.Component,
			LocalPath: m,
			Filename:  filepath.Base(m),
		})
	}
	return tasks, nil
}

// resolveListing fetches an HTML directory index and selects anchors whose
// file name matches the source pattern.
func (r *Resolver) resolveListing(ctx context.Context, src *config.Source) ([]FetchTask, error) {
	base, err := url.Parse(src.Listing)
	if err != nil {
		return nil, errOf(KindMalformed, src.Name, "invalid listing url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.Listing, nil)
	if err != nil {
		return nil, errOf(KindMalformed, src.Name, "building listing request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errOf(KindUnreachable, src.Name, "fetching listing: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errOf(KindUnreachable, src.Name, "fetching listing: status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, errOf(KindMalformed, src.Name, "parsing listing html: %w", err)
	}

	pattern := regexp.MustCompile(src.Pattern)
	var candidates []remoteArtifact
	doc.Find("a").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		name := urlBase(href)
		if !pattern.MatchString(name) {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		candidates = append(candidates, remoteArtifact{
			name: name,
			url:  base.ResolveReference(ref).String(),
		})
	})

	if len(candidates) == 0 {
		return nil, errOf(KindMalformed, src.Name, "no listing entry matches pattern %q", src.Pattern)
	}
	return tasksFromArtifacts(src, selectArtifacts(candidates, src.All)), nil
}

func (r *Resolver) resolveGitHub(ctx context.Context, src *config.Source) ([]FetchTask, error) {
	parts := strings.SplitN(src.GitHub, "/", 2)
	assets, err := github.ReleaseAssets(ctx, r.client, parts[0], parts[1], os.Getenv("GITHUB_TOKEN"))
	if err != nil {
		return nil, errOf(KindUnreachable, src.Name, "listing github releases: %w", err)
	}

	pattern := regexp.MustCompile(src.Pattern)
	var candidates []remoteArtifact
	for _, a := range assets {
		if src.Tag != "" && a.Tag != src.Tag {
			continue
		}
		if pattern.MatchString(a.Name) {
			candidates = append(candidates, remoteArtifact{name: a.Name, url: a.DownloadURL})
		}
	}
	if len(candidates) == 0 {
		return nil, errOf(KindMalformed, src.Name, "no release asset matches pattern %q", src.Pattern)
	}
	return tasksFromArtifacts(src, selectArtifacts(candidates, src.All)), nil
}

type remoteArtifact struct {
	name string
	url  string
}

// selectArtifacts reduces the candidate set to the newest version per
// (package, architecture) pair, judged by Debian version ordering on the
// conventional name_version_arch.deb file name. Artifacts whose names don't
// follow the convention are kept as-is. With all set, everything is kept.
func selectArtifacts(candidates []remoteArtifact, all bool) []remoteArtifact {
	if all {
		return dedupeByName(candidates)
	}

	type key struct{ pkg, arch string }
	best := make(map[key]remoteArtifact)
	order := make([]key, 0, len(candidates))
	var odd []remoteArtifact

	for _, c := range candidates {
		trimmed := strings.TrimSuffix(c.name, ".deb")
		parts := strings.Split(trimmed, "_")
		if len(parts) != 3 {
			odd = append(odd, c)
			continue
		}
		k := key{pkg: parts[0], arch: parts[2]}
		cur, seen := best[k]
		if !seen {
			best[k] = c
			order = append(order, k)
			continue
		}
		curVersion := strings.Split(strings.TrimSuffix(cur.name, ".deb"), "_")[1]
		if deb.CompareVersions(parts[1], curVersion) > 0 {
			best[k] = c
		}
	}

	selected := make([]remoteArtifact, 0, len(order)+len(odd))
	for _, k := range order {
		selected = append(selected, best[k])
	}
	selected = append(selected, odd...)
	return dedupeByName(selected)
}

func dedupeByName(artifacts []remoteArtifact) []remoteArtifact {
	seen := make(map[string]bool, len(artifacts))
	out := artifacts[:0:0]
	for _, a := range artifacts {
		if seen[a.name] {
			continue
		}
		seen[a.name] = true
		out = append(out, a)
	}
	return out
}

func tasksFromArtifacts(src *config.Source, artifacts []remoteArtifact) []FetchTask {
	tasks := make([]FetchTask, 0, len(artifacts))
	for _, a := range artifacts {
		tasks = append(tasks, FetchTask{
			Source:    src.Name,
			Component: src.Component,
			URL:       a.url,
			Filename:  a.name,
		})
	}
	return tasks
}

func urlBase(raw string) string {
	if i := strings.Index(raw, "?"); i >= 0 {
		raw = raw[:i]
	}
	raw = strings.TrimSuffix(raw, "/")
	if i := strings.LastIndex(raw, "/"); i >= 0 {
		return raw[i+1:]
	}
	return raw
}
