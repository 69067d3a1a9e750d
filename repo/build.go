package repo

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/debforge/debforge/builder"
	"github.com/debforge/debforge/config"
)

// Runner drives one end-to-end build: source builds, resolution, bounded
// fetch and ingest, pool placement, retention, index and release generation,
// and the final atomic publish.
type Runner struct {
	cfg    *config.Config
	client *http.Client
	listen Listener
}

func NewRunner(cfg *config.Config, listen Listener) *Runner {
	return &Runner{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Fetch.Timeout.Std()},
		listen: listen,
	}
}

// Outcome is the terminal state of one configured source.
type Outcome struct {
	Source   string
	Status   string // ok, skipped or failed
	Packages int
	Kind     string
	Reason   string
}

// Summary is the run report: one outcome per source in configuration order,
// plus the published totals.
type Summary struct {
	Outcomes  []Outcome
	Packages  int
	Published bool
	Duration  time.Duration
}

// Failures counts the sources that failed terminally.
func (s *Summary) Failures() int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Status == "failed" {
			n++
		}
	}
	return n
}

// Run executes the pipeline. Per-source failures are isolated and reported
// in the summary; a non-nil error means the run aborted and nothing was
// published.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()

	signer, err := r.signer()
	if err != nil {
		return nil, err
	}

	failed := make(map[string]*Error)
	var mu sync.Mutex
	mark := func(stage string, e *Error) {
		mu.Lock()
		if _, ok := failed[e.Source]; !ok {
			failed[e.Source] = e
		}
		mu.Unlock()
		r.listen.emit(EventTaskFailed{Source: e.Source, Stage: stage, Kind: e.Kind.String(), Reason: e.Err.Error()})
	}

	// Source builds run first and sequentially: their output directories
	// are what the local sources resolve against.
	for i := range r.cfg.Sources {
		src := &r.cfg.Sources[i]
		if src.Build == nil {
			continue
		}
		if out, err := builder.Run(ctx, src.Name, src.Build); err != nil {
			// The output tail is where build tools report what went wrong.
			if out != "" {
				err = fmt.Errorf("%w\n%s", err, out)
			}
			mark("build", errOf(KindMalformed, src.Name, "%w", err))
		}
	}

	publisher := NewPublisher(r.cfg.RepoRoot, r.listen)
	staging, err := publisher.Prepare()
	if err != nil {
		return nil, err
	}

	pool := NewPool(staging, r.cfg.KeepVersions, r.listen)
	if err := pool.Seed(r.cfg.RepoRoot); err != nil {
		return nil, errOf(KindFatal, "", "seeding pool from live tree: %w", err)
	}

	resolved, resolveFailures := NewResolver(r.cfg, r.client, r.listen).Resolve(ctx)
	for _, e := range resolveFailures {
		mark("resolve", e)
	}

	// Fetched artifacts live in a cache next to the live tree so unchanged
	// downloads are reused across runs.
	fetcher := NewFetcher(r.client, RetryPolicy{
		Retries: r.cfg.Fetch.Retries,
		Initial: r.cfg.Fetch.BackoffInitial.Std(),
		Max:     r.cfg.Fetch.BackoffMax.Std(),
	}, r.cfg.RepoRoot+".cache", r.listen)
	ingester := NewIngester(r.cfg, r.listen)

	counts := make(map[string]int)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, rs := range resolved {
		mu.Lock()
		_, bad := failed[rs.Name]
		mu.Unlock()
		if bad {
			continue
		}
		for _, task := range rs.Tasks {
			task := task
			g.Go(func() error {
				art, err := fetcher.Fetch(gctx, task)
				if err != nil {
					return r.taskErr(mark, "fetch", task.Source, err)
				}
				rec, err := ingester.Ingest(task, art)
				if err != nil {
					return r.taskErr(mark, "ingest", task.Source, err)
				}
				if rec == nil {
					return nil
				}
				if err := pool.Place(rec); err != nil {
					return r.taskErr(mark, "pool", task.Source, err)
				}
				mu.Lock()
				counts[task.Source]++
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := pool.Retain(); err != nil {
		return nil, err
	}
	records := pool.Records()

	perComponent := make(map[string]int)
	for _, rec := range records {
		perComponent[rec.Component]++
	}
	for _, rc := range r.cfg.RequiredComponents {
		if perComponent[rc] == 0 {
			return r.summary(start, failed, counts, len(records), false),
				errOf(KindFatal, "", "required component %s is empty", rc)
		}
	}
	if len(failed) > 0 && !r.cfg.PartialPublishAllowed() {
		return r.summary(start, failed, counts, len(records), false),
			errOf(KindFatal, "", "%d sources failed and partial publication is disabled", len(failed))
	}

	indexes, err := NewIndexer(r.cfg, r.listen).Build(records)
	if err != nil {
		return nil, err
	}
	releaseArts, err := NewComposer(r.cfg, signer, r.listen).Compose(indexes)
	if err != nil {
		return nil, err
	}

	if err := publisher.WriteArtifacts(staging, append(indexes, releaseArts...)); err != nil {
		return nil, err
	}
	if err := publisher.Swap(staging); err != nil {
		return nil, err
	}

	return r.summary(start, failed, counts, len(records), true), nil
}

// taskErr records a per-source failure, aborting the whole group only for
// fatal errors.
func (r *Runner) taskErr(mark func(string, *Error), stage, source string, err error) error {
	if Fatal(err) {
		return err
	}
	e := asError(err, source)
	mark(stage, e)
	return nil
}

// signer resolves the signing identity up front, before any work happens.
// A missing or unreadable key aborts only when signing is required;
// otherwise the run proceeds unsigned.
func (r *Runner) signer() (*Signer, error) {
	key, err := r.cfg.SigningKey()
	if err != nil {
		if r.cfg.SigningRequired() {
			return nil, errOf(KindFatal, "", "resolving signing key: %w", err)
		}
		return nil, nil
	}
	if key == "" {
		return nil, nil
	}
	signer, err := NewSigner(key)
	if err != nil && !r.cfg.SigningRequired() {
		return nil, nil
	}
	return signer, err
}

func (r *Runner) summary(start time.Time, failed map[string]*Error, counts map[string]int, packages int, published bool) *Summary {
	s := &Summary{Packages: packages, Published: published, Duration: time.Since(start)}
	for i := range r.cfg.Sources {
		name := r.cfg.Sources[i].Name
		o := Outcome{Source: name, Packages: counts[name]}
		switch e, bad := failed[name]; {
		case bad:
			o.Status = "failed"
			o.Kind = e.Kind.String()
			o.Reason = e.Err.Error()
		case counts[name] == 0:
			o.Status = "skipped"
		default:
			o.Status = "ok"
		}
		s.Outcomes = append(s.Outcomes, o)
	}
	return s
}
