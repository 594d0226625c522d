// Package errs defines the node-wide error taxonomy (spec §7): transient
// peer failures, invalid blocks discovered during sync, block-build
// failures during commit, storage failures, and client-input errors that
// surface as HTTP 400s.
package errs

import "github.com/pkg/errors"

// Kind classifies an error for the task supervisor and the HTTP boundary.
type Kind int

const (
	KindTransientPeer Kind = iota
	KindInvalidBlock
	KindBuildFailure
	KindStorageFailure
	KindClientInput
)

// Tagged wraps an error with a Kind and, for client-input errors, a short
// tag that is sent verbatim to the HTTP client (e.g. "Syncing", "LiteMode").
type Tagged struct {
	Kind Kind
	Tag  string
	err  error
}

func (t *Tagged) Error() string {
	if t.err != nil {
		return t.err.Error()
	}
	return t.Tag
}

func (t *Tagged) Unwrap() error { return t.err }

func New(kind Kind, tag string, err error) *Tagged {
	return &Tagged{Kind: kind, Tag: tag, err: err}
}

// TransientPeer wraps a peer I/O error (timeout, connection refused,
// malformed response) so callers can decide whether to retry.
func TransientPeer(err error) *Tagged {
	return New(KindTransientPeer, "", errors.Wrap(err, "peer unreachable"))
}

// InvalidBlock marks a block or transaction group that failed validation
// during sync; the sync iteration must abandon without mutating state.
func InvalidBlock(err error) *Tagged {
	return New(KindInvalidBlock, "", errors.Wrap(err, "invalid block"))
}

// BuildFailure marks a failure to assemble a block from a drained pool
// during the commit path; the pool is cleared in response.
func BuildFailure(err error) *Tagged {
	return New(KindBuildFailure, "", errors.Wrap(err, "block build failed"))
}

// StorageFailure marks an on-disk store failure; it propagates to the task
// supervisor, which restarts the owning task.
func StorageFailure(err error) *Tagged {
	return New(KindStorageFailure, "", errors.Wrap(err, "storage failure"))
}

// ClientInput is a short user-facing tag surfaced as HTTP 400 {detail: tag}.
func ClientInput(tag string) *Tagged {
	return New(KindClientInput, tag, errors.New(tag))
}

func IsKind(err error, kind Kind) bool {
	t, ok := err.(*Tagged)
	return ok && t.Kind == kind
}
