package types

// Extractor wire format. The AST extractor writes one JSON object to stdout
// per invocation; these types mirror that schema field for field.

// ExtractedSymbol is a declaration or definition found in the parsed file.
type ExtractedSymbol struct {
	Name          string `json:"name"`
	QualifiedName string `json:"qualified_name"`
	Kind          string `json:"kind"`
	Line          int    `json:"line"`
	Col           int    `json:"col"`
	ExtentEndLine int    `json:"extent_end_line"`
}

// ExtractedReference is a use of a symbol at a source location. Kind is one
// of the extractor's reference kinds (call, read, write, addr, ...) and is
// passed through opaquely.
type ExtractedReference struct {
	Symbol string `json:"symbol"`
	Line   int    `json:"line"`
	Col    int    `json:"col"`
	Kind   string `json:"kind"`
}

// ExtractedCallEdge is one caller→callee edge attributed to a line.
type ExtractedCallEdge struct {
	Caller string `json:"caller"`
	Callee string `json:"callee"`
	Line   int    `json:"line"`
}

// ExtractedIncludeDep is a preprocessor include as the extractor saw it,
// before workspace resolution. Depth is diagnostic only.
type ExtractedIncludeDep struct {
	Path  string `json:"path"`
	Depth int    `json:"depth"`
}

// ExtractorOutput is the full stdout document of one extractor run.
// Success=false marks the whole run as failed regardless of any partial
// arrays that may be present.
type ExtractorOutput struct {
	File        string                `json:"file"`
	Symbols     []ExtractedSymbol     `json:"symbols"`
	References  []ExtractedReference  `json:"references"`
	CallEdges   []ExtractedCallEdge   `json:"call_edges"`
	IncludeDeps []ExtractedIncludeDep `json:"include_deps"`
	Success     bool                  `json:"success"`
	Diagnostics []string              `json:"diagnostics"`
}

// ResolvedIncludeDep is an include dependency after the path resolver ran
// over it. Unresolved deps keep their raw path and empty key fields.
type ResolvedIncludeDep struct {
	RawPath  string `json:"raw_path"`
	Depth    int    `json:"depth"`
	Resolved bool   `json:"resolved"`
	FileKey  string `json:"file_key"`
	AbsPath  string `json:"abs_path"`
}

// ParseTask is one unit of work for the parser pool: a file to extract plus
// the compile flags it must be extracted under.
type ParseTask struct {
	ContextID string
	FileKey   string
	RepoID    string
	RelPath   string
	AbsPath   string
	Flags     []string
	Directory string
	MatchType MatchType
	FlagsHash string
}

// ParsePayload is the persistable result of one successful extraction. It
// carries everything the storage engine needs to upsert the tracked file and
// replace its derived fact rows in a single transaction.
type ParsePayload struct {
	ContextID     string
	FileKey       string
	RepoID        string
	RelPath       string
	AbsPath       string
	ContentHash   string
	FlagsHash     string
	IncludesHash  string
	CompositeHash string

	Output              ExtractorOutput
	ResolvedIncludeDeps []ResolvedIncludeDep
	Warnings            []string
}

// FactRowCount is the number of derived rows this payload writes, used for
// overlay row accounting.
func (p *ParsePayload) FactRowCount() int {
	return len(p.Output.Symbols) +
		len(p.Output.References) +
		len(p.Output.CallEdges) +
		len(p.ResolvedIncludeDeps)
}
