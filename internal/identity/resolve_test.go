package identity

import (
	"testing"

	"github.com/google/uuid"
)

func unit(v float32) []float32 { return []float32{v, 1 - v} }

func TestCosineDistanceIdentical(t *testing.T) {
	a := []float32{1, 0, 0}
	if d := CosineDistance(a, a); d > 1e-6 {
		t.Fatalf("expected ~0 distance for identical vectors, got %v", d)
	}
}

func TestCosineDistanceOrthogonal(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	if d := CosineDistance(a, b); d < 0.99 || d > 1.01 {
		t.Fatalf("expected ~1 distance for orthogonal vectors, got %v", d)
	}
}

func TestResolveMatchesOnVoteRatio(t *testing.T) {
	id := uuid.New()
	query := []float32{1, 0, 0}
	candidates := []Candidate{
		{IdentityID: id, Embeddings: [][]float32{
			{1, 0, 0},
			{1, 0, 0},
			{0, 1, 0}, // one far embedding; 2/3 hits still clears 0.20
		}},
	}
	got, ok := Resolve(candidates, query, 0.4, 0.20)
	if !ok || got != id {
		t.Fatalf("expected match on %v, got %v ok=%v", id, got, ok)
	}
}

func TestResolveNoMatchBelowVoteRatio(t *testing.T) {
	id := uuid.New()
	query := []float32{1, 0, 0}
	candidates := []Candidate{
		{IdentityID: id, Embeddings: [][]float32{
			{0, 1, 0},
			{0, 1, 0},
			{0, 0, 1},
			{0, 0, 1},
			{0, 0, 1},
		}},
	}
	_, ok := Resolve(candidates, query, 0.4, 0.20)
	if ok {
		t.Fatalf("expected no match, all embeddings are far from query")
	}
}

func TestResolveStopsAtFirstMatchingCandidateInOrder(t *testing.T) {
	first := uuid.New()
	second := uuid.New()
	query := []float32{1, 0}
	candidates := []Candidate{
		{IdentityID: first, Embeddings: [][]float32{{1, 0}}},  // recency-first, matches
		{IdentityID: second, Embeddings: [][]float32{{1, 0}}}, // would also match
	}
	got, ok := Resolve(candidates, query, 0.4, 0.20)
	if !ok || got != first {
		t.Fatalf("expected first candidate %v to win, got %v", first, got)
	}
}

func TestResolveBoundaryDistanceEqualsThresholdIsNotAHit(t *testing.T) {
	// cosine distance between (1,0) and (0,1) is exactly 1.0; pick a
	// threshold equal to a known distance to exercise the strict "<".
	id := uuid.New()
	query := []float32{1, 0}
	candidates := []Candidate{
		{IdentityID: id, Embeddings: [][]float32{{0, 1}}}, // distance == 1.0
	}
	_, ok := Resolve(candidates, query, 1.0, 0.20) // threshold == distance, strict < excludes it
	if ok {
		t.Fatalf("expected boundary distance == threshold to NOT count as a hit")
	}
}

func TestResolveEmptyCandidatesMintsNew(t *testing.T) {
	_, ok := Resolve(nil, []float32{1, 0}, 0.4, 0.20)
	if ok {
		t.Fatalf("expected no match with no candidates")
	}
}
