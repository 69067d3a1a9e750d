package repo

import (
	"encoding/json"
	"fmt"
)

// Listener is a callback receiving structured events during a build run.
// The pipeline emits events; wiring them to a log sink is the caller's job.
type Listener func(fmt.Stringer)

func (l Listener) emit(e fmt.Stringer) {
	if l != nil {
		l(e)
	}
}

func jsonString(v interface{}) string {
	b, _ := json.Marshal(map[string]interface{}{
		fmt.Sprintf("%T", v): v,
	})
	return string(b)
}

// EventSourceResolved is emitted when a source declaration has been turned
// into fetch tasks.
type EventSourceResolved struct {
	Source string `json:"source,omitempty"`
	Kind   string `json:"kind,omitempty"`
	Tasks  int    `json:"tasks"`
}

func (e EventSourceResolved) String() string { return jsonString(e) }

// EventFetchRetry is emitted before a retry sleep.
type EventFetchRetry struct {
	Source  string `json:"source,omitempty"`
	URL     string `json:"url,omitempty"`
	Attempt int    `json:"attempt"`
	Backoff string `json:"backoff,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func (e EventFetchRetry) String() string { return jsonString(e) }

// EventArtifactFetched is emitted when an artifact lands verified in the
// download cache.
type EventArtifactFetched struct {
	Source string `json:"source,omitempty"`
	Path   string `json:"path,omitempty"`
	Size   int64  `json:"size"`
	Cached bool   `json:"cached,omitempty"`
}

func (e EventArtifactFetched) String() string { return jsonString(e) }

// EventPackageIngested is emitted when control metadata has been extracted
// and validated.
type EventPackageIngested struct {
	Source       string `json:"source,omitempty"`
	Package      string `json:"package,omitempty"`
	Version      string `json:"version,omitempty"`
	Architecture string `json:"architecture,omitempty"`
}

func (e EventPackageIngested) String() string { return jsonString(e) }

// EventPackageSkipped is emitted when a package is excluded without failing
// the run (e.g. unconfigured architecture).
type EventPackageSkipped struct {
	Source string `json:"source,omitempty"`
	File   string `json:"file,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (e EventPackageSkipped) String() string { return jsonString(e) }

// EventPoolPlaced is emitted when a package reaches its pool location.
type EventPoolPlaced struct {
	Package      string `json:"package,omitempty"`
	Version      string `json:"version,omitempty"`
	Architecture string `json:"architecture,omitempty"`
	PoolPath     string `json:"pool_path,omitempty"`
	Deduplicated bool   `json:"deduplicated,omitempty"`
}

func (e EventPoolPlaced) String() string { return jsonString(e) }

// EventTaskFailed is emitted when a task fails terminally; the run continues
// for sibling tasks.
type EventTaskFailed struct {
	Source string `json:"source,omitempty"`
	Stage  string `json:"stage,omitempty"`
	Kind   string `json:"kind,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (e EventTaskFailed) String() string { return jsonString(e) }

// EventIndexWritten is emitted per (component, architecture) index.
type EventIndexWritten struct {
	Component    string `json:"component,omitempty"`
	Architecture string `json:"architecture,omitempty"`
	Packages     int    `json:"packages"`
}

func (e EventIndexWritten) String() string { return jsonString(e) }

// EventSigningFailed is emitted when signing the Release manifest failed and
// signing is not required; the run publishes unsigned.
type EventSigningFailed struct {
	Reason string `json:"reason,omitempty"`
}

func (e EventSigningFailed) String() string { return jsonString(e) }

// EventReleaseComposed is emitted when the Release manifest is written.
type EventReleaseComposed struct {
	Artifacts int  `json:"artifacts"`
	Signed    bool `json:"signed"`
}

func (e EventReleaseComposed) String() string { return jsonString(e) }

// EventPublished is emitted after the staging tree replaced the live tree.
type EventPublished struct {
	Live     string `json:"live,omitempty"`
	Previous string `json:"previous,omitempty"`
}

func (e EventPublished) String() string { return jsonString(e) }
