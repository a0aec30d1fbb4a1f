// Package types provides shared type definitions used across cxxtract packages.
// This package exists to break import cycles between the engine, storage, and
// subprocess layers. Types here are foundational data structures with no
// dependencies beyond the standard library.
package types

import (
	"fmt"
	"strings"
)

// AnalysisMode selects which view of the cache a query runs against.
type AnalysisMode string

const (
	ModeBaseline AnalysisMode = "baseline"
	ModePR       AnalysisMode = "pr"
)

// OverlayMode describes how much of an overlay context's data diverges from
// its baseline. Escalation from sparse to partial_overlay is one-way.
type OverlayMode string

const (
	OverlaySparse  OverlayMode = "sparse"
	OverlayPartial OverlayMode = "partial_overlay"
)

// FileState records how an overlay context diverges from its baseline for a
// single file-key.
type FileState string

const (
	StateAdded    FileState = "added"
	StateModified FileState = "modified"
	StateRenamed  FileState = "renamed"
	StateDeleted  FileState = "deleted"
)

// MatchType reports how a compile entry was found for a candidate file.
type MatchType string

const (
	MatchExact    MatchType = "exact"
	MatchFallback MatchType = "fallback"
	MatchMissing  MatchType = "missing"
)

// CallDirection selects which side of the call graph a query walks.
type CallDirection string

const (
	CallOutgoing CallDirection = "outgoing"
	CallIncoming CallDirection = "incoming"
	CallBoth     CallDirection = "both"
)

// JobStatus is the lifecycle state shared by index jobs and repo-sync jobs.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobRunning    JobStatus = "running"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
	JobDeadLetter JobStatus = "dead_letter"
)

// ContextStatus marks whether a context is still served by chain walks.
type ContextStatus string

const (
	ContextActive  ContextStatus = "active"
	ContextExpired ContextStatus = "expired"
)

// ValidationError is a caller-input problem. It carries a machine-readable
// kind alongside the message; validation errors are never retried.
type ValidationError struct {
	Kind    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Kind == "" {
		return e.Message
	}
	return e.Kind + ": " + e.Message
}

// Validationf builds a ValidationError with a formatted message.
func Validationf(kind, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation error kinds used across the pipeline.
const (
	KindWorkspaceNotFound    = "workspace_not_found"
	KindManifestPathEmpty    = "manifest_path_empty"
	KindInvalidFileKey       = "invalid_file_key"
	KindUnknownRepo          = "unknown_repo"
	KindContextNotFound      = "context_not_found"
	KindInvalidCommitSHA     = "invalid_commit_sha"
	KindFileOutsideWorkspace = "file_outside_workspace"
	KindVectorDisabled       = "vector_disabled"
	KindVectorUnavailable    = "vector_unavailable"
	KindInvalidArgument      = "invalid_argument"
)

// FileKey builds the canonical "repoId:relPath" identity for a file. relPath
// is normalized to forward slashes; the repo id may not contain a colon.
func FileKey(repoID, relPath string) string {
	return repoID + ":" + strings.ReplaceAll(relPath, "\\", "/")
}

// SplitFileKey returns the repo id and rel path halves of a file-key. ok is
// false when the key has no separator or an empty repo id.
func SplitFileKey(fileKey string) (repoID, relPath string, ok bool) {
	i := strings.Index(fileKey, ":")
	if i <= 0 {
		return "", "", false
	}
	return fileKey[:i], fileKey[i+1:], true
}

// RepoOfFileKey extracts the repo id prefix, or "unknown" when the key is
// malformed. Confidence accounting buckets malformed keys under "unknown"
// rather than dropping them.
func RepoOfFileKey(fileKey string) string {
	if repo, _, ok := SplitFileKey(fileKey); ok {
		return repo
	}
	return "unknown"
}
