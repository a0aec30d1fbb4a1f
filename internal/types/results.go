package types

import "math"

// QueryScope identifies the workspace, context, and repo set a query runs
// against. Zero values fall back to config defaults at the orchestrator.
type QueryScope struct {
	WorkspaceID  string       `json:"workspace_id"`
	ManifestPath string       `json:"manifest_path"`
	Mode         AnalysisMode `json:"mode"`
	ContextID    string       `json:"context_id"`
	PRID         string       `json:"pr_id"`
	EntryRepos   []string     `json:"entry_repos"`
	MaxHops      int          `json:"max_hops"`
	MaxFiles     int          `json:"max_files"`
}

// SymbolRow is one symbol fact as returned by the query reader.
type SymbolRow struct {
	FileKey       string `json:"file_key"`
	Name          string `json:"name"`
	QualifiedName string `json:"qualified_name"`
	Kind          string `json:"kind"`
	Line          int    `json:"line"`
	Col           int    `json:"col"`
	ExtentEndLine int    `json:"extent_end_line"`
	RepoID        string `json:"repo_id"`
	RelPath       string `json:"rel_path"`
	AbsPath       string `json:"abs_path"`
	ContextID     string `json:"context_id"`
}

// DedupKey identifies a symbol row across contexts in a chain walk.
func (s SymbolRow) DedupKey() [4]interface{} {
	return [4]interface{}{s.FileKey, s.QualifiedName, s.Line, s.Col}
}

// ReferenceRow is one reference fact as returned by the query reader.
type ReferenceRow struct {
	FileKey   string `json:"file_key"`
	Symbol    string `json:"symbol"`
	Line      int    `json:"line"`
	Col       int    `json:"col"`
	RefKind   string `json:"ref_kind"`
	RepoID    string `json:"repo_id"`
	RelPath   string `json:"rel_path"`
	AbsPath   string `json:"abs_path"`
	ContextID string `json:"context_id"`
}

// CallEdgeRow is one call-graph edge as returned by the query reader.
type CallEdgeRow struct {
	FileKey   string `json:"file_key"`
	Caller    string `json:"caller"`
	Callee    string `json:"callee"`
	Line      int    `json:"line"`
	RepoID    string `json:"repo_id"`
	RelPath   string `json:"rel_path"`
	AbsPath   string `json:"abs_path"`
	ContextID string `json:"context_id"`
}

// ConfidenceEnvelope quantifies how trustworthy a response is: how many
// candidate files were verified fresh (or freshly parsed), how many failed,
// and how many could not be attempted at all.
type ConfidenceEnvelope struct {
	VerifiedFiles   []string           `json:"verified_files"`
	StaleFiles      []string           `json:"stale_files"`
	UnparsedFiles   []string           `json:"unparsed_files"`
	TotalCandidates int                `json:"total_candidates"`
	VerifiedRatio   float64            `json:"verified_ratio"`
	Warnings        []string           `json:"warnings"`
	OverlayMode     OverlayMode        `json:"overlay_mode"`
	RepoCoverage    map[string]float64 `json:"repo_coverage"`
}

// Round4 rounds to four decimal places, the precision the envelope reports
// ratios at.
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// ReferencesResult answers "where is symbol X referenced".
type ReferencesResult struct {
	Symbol     string             `json:"symbol"`
	Definition *SymbolRow         `json:"definition,omitempty"`
	References []ReferenceRow     `json:"references"`
	Confidence ConfidenceEnvelope `json:"confidence"`
	ContextID  string             `json:"context_id"`
}

// DefinitionResult answers "where is symbol X defined".
type DefinitionResult struct {
	Symbol      string             `json:"symbol"`
	Definitions []SymbolRow        `json:"definitions"`
	Confidence  ConfidenceEnvelope `json:"confidence"`
	ContextID   string             `json:"context_id"`
}

// CallGraphResult answers "what calls X / what does X call".
type CallGraphResult struct {
	Symbol     string             `json:"symbol"`
	Direction  CallDirection      `json:"direction"`
	Edges      []CallEdgeRow      `json:"edges"`
	Confidence ConfidenceEnvelope `json:"confidence"`
	ContextID  string             `json:"context_id"`
}

// FileSymbolsResult lists the symbols defined in one file.
type FileSymbolsResult struct {
	FileKey    string             `json:"file_key"`
	Symbols    []SymbolRow        `json:"symbols"`
	Confidence ConfidenceEnvelope `json:"confidence"`
	ContextID  string             `json:"context_id"`
}

// InvalidateResult reports how many tracked files a cache invalidation
// actually removed.
type InvalidateResult struct {
	ContextID    string `json:"context_id"`
	RemovedFiles int    `json:"removed_files"`
}

/// CandidateResolution is the candidate service's output: the ordered
// candidate list plus everything the caller needs to explain it.
type CandidateResolution struct {
	Candidates        []string            `json:"candidates"`
	Deleted           map[string]bool     `json:"-"`
	DeletedKeys       []string            `json:"deleted"`
	Provenance        map[string][]string `json:"provenance"`
	Warnings          []string            `json:"warnings"`
	Truncated         bool                `json:"truncated"`
	TruncationReasons []string            `json:"truncation_reasons"`
}

// TaskMeta records how a candidate's compile entry was located.
type TaskMeta struct {
	RepoID    string    `json:"repo_id"`
	MatchType MatchType `json:"match_type"`
	FlagsHash string    `json:"flags_hash"`
}

// Classification is the freshness service's verdict over a candidate set.
type Classification struct {
	Fresh    []string            `json:"fresh"`
	Stale    []string            `json:"stale"`
	Unparsed []string            `json:"unparsed"`
	Tasks    []ParseTask         `json:"-"`
	TaskMeta map[string]TaskMeta `json:"task_meta"`
	Warnings []string            `json:"warnings"`
}

// ParseOutcome summarizes one parse fan-out: which candidates produced
// persisted payloads, which failed, and how many fact rows were written.
type ParseOutcome struct {
	Parsed            []string `json:"parsed"`
	Failed            []string `json:"failed"`
	Warnings          []string `json:"warnings"`
	PersistedFactRows int      `json:"persisted_fact_rows"`
}

// CostEnvelope reports the request budget an exploration operation actually
// ran under after hard caps were applied.
type CostEnvelope struct {
	Requested         int      `json:"requested"`
	Applied           int      `json:"applied"`
	Consumed          int      `json:"consumed"`
	Truncated         bool     `json:"truncated"`
	TruncationReasons []string `json:"truncation_reasons"`
}
