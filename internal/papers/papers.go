package papers

import "errors"

// ErrNotFound indicates the external paper index has no entry for the
// requested id.
var ErrNotFound = errors.New("paper not found")

// Summary is the metadata triple the external index returns for a paper.
type Summary struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// Reference is one resolved citation with an ArXiv id.
type Reference struct {
	Title   string `json:"title"`
	ArxivID string `json:"arxiv_id"`
}

// ReferenceKind distinguishes the outcomes of a reference lookup so
// callers never have to inspect message text.
type ReferenceKind string

const (
	// ReferencesResolved means at least one citation carried both a
	// title and an ArXiv id.
	ReferencesResolved ReferenceKind = "resolved"
	// ReferencesNoneFound means the lookup succeeded but no citation
	// had a resolvable ArXiv id.
	ReferencesNoneFound ReferenceKind = "none_found"
	// ReferencesDegraded means the lookup itself failed; Detail carries
	// the reason. Never treated as fatal.
	ReferencesDegraded ReferenceKind = "degraded"
)

// ReferenceResult is the typed outcome of a citation-graph lookup.
type ReferenceResult struct {
	Kind   ReferenceKind `json:"kind"`
	Refs   []Reference   `json:"refs,omitempty"`
	Detail string        `json:"detail,omitempty"`
}

// Sentinel renders the non-resolved outcomes as the human-readable
// strings relayed into conversations.
func (r ReferenceResult) Sentinel() string {
	switch r.Kind {
	case ReferencesNoneFound:
		return "No references with ArXiv IDs found."
	case ReferencesDegraded:
		return "Could not fetch references: " + r.Detail
	default:
		return ""
	}
}
