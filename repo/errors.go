package repo

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure. The class decides how the orchestrator
// reacts: transient failures are retried within budget, integrity and
// malformed-input failures exclude the affected task and let the run
// continue, fatal failures abort the run before anything is published.
type Kind int

const (
	// KindTransient is a retryable network or I/O failure.
	KindTransient Kind = iota
	// KindUnreachable is a transient failure that exhausted its retry
	// budget.
	KindUnreachable
	// KindNotFound is a terminal 404 / ENOENT for the requested artifact.
	KindNotFound
	// KindIntegrity is a checksum mismatch after a complete read. Never
	// retried: a bad checksum on a stable artifact will not self-correct.
	KindIntegrity
	// KindConflict is a pool placement clash: same name, version and
	// architecture with different content.
	KindConflict
	// KindMalformed is unusable input: bad control metadata, an
	// unparseable version, or an unusable listing.
	KindMalformed
	// KindFatal aborts the whole run.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindUnreachable:
		return "unreachable"
	case KindNotFound:
		return "not-found"
	case KindIntegrity:
		return "integrity"
	case KindConflict:
		return "conflicting-version"
	case KindMalformed:
		return "malformed-input"
	case KindFatal:
		return "fatal"
	}
	return "unknown"
}

// Error is a classified pipeline failure attributed to one source.
type Error struct {
	Kind   Kind
	Source string
	Err    error
}

func (e *Error) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func errOf(kind Kind, source string, format string, args ...any) *Error {
	return &Error{Kind: kind, Source: source, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the failure class, defaulting to fatal for unclassified
// errors so that nothing slips past the abort checks unlabeled.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

// asError coerces any error into a classified one, attributing unclassified
// or unattributed errors to source.
func asError(err error, source string) *Error {
	var e *Error
	if errors.As(err, &e) {
		if e.Source == "" {
			e = &Error{Kind: e.Kind, Source: source, Err: e.Err}
		}
		return e
	}
	return &Error{Kind: KindMalformed, Source: source, Err: err}
}

// Retryable reports whether the fetcher may attempt the task again.
func Retryable(err error) bool { return KindOf(err) == KindTransient }

// Fatal reports whether the error must abort the run.
func Fatal(err error) bool { return KindOf(err) == KindFatal }
