// Package identity implements the recognition worker's identity-resolution
// decision: given a query embedding and the set of known identities (each
// with its accumulated embeddings), decide whether the face belongs to an
// existing identity or should mint a new one.
//
// The algorithm is a literal port of the control flow in
// original_source/workers/reconhecimento/reconhecimento.py's process_face:
// candidates are scanned most-recently-seen first, and the first
// candidate whose embeddings earn enough "votes" (cosine distance below
// the threshold) wins. Ranking by recency is a heuristic for finding the
// right candidate sooner — correctness never depends on it, so no
// approximate-nearest-neighbor shortcut is used here (see SPEC_FULL.md
// §10 for why github.com/coder/hnsw was deliberately left unwired).
package identity

import "github.com/google/uuid"

// Candidate is one identity and its accumulated embeddings, as loaded
// from the metadata store ordered by last_appearance descending.
type Candidate struct {
	IdentityID uuid.UUID
	Embeddings [][]float32
}

// Resolve scans candidates in the order given (most recent first) and
// returns the ID of the first candidate whose vote ratio meets voteRatio.
// A candidate embedding is a "hit" when its cosine distance to query is
// strictly less than threshold (spec.md §4.3: "d < τ", not "<="). The
// candidate matches when hits/total >= voteRatio (spec.md §4.3: "h/m ≥
// 0.20" using the configured ratio). Returns (uuid.Nil, false) when no
// candidate matches, meaning a new identity should be minted.
func Resolve(candidates []Candidate, query []float32, threshold, voteRatio float64) (uuid.UUID, bool) {
	for _, c := range candidates {
		if len(c.Embeddings) == 0 {
			continue
		}
		hits := 0
		for _, emb := range c.Embeddings {
			if CosineDistance(query, emb) < threshold {
				hits++
			}
		}
		ratio := float64(hits) / float64(len(c.Embeddings))
		if ratio >= voteRatio {
			return c.IdentityID, true
		}
	}
	return uuid.Nil, false
}
