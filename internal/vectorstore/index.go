// Package vectorstore implements the persisted similarity index over
// schema documents. The on-disk format is a fixed binary vector payload
// plus JSON documents and a provenance sidecar; loading is gated so that
// untrusted or corrupted state is rejected and rebuilt rather than
// deserialized.
package vectorstore

import (
	"math"
	"sort"

	"github.com/askdb/askdb/internal/errors"
)

// Document is one indexed text with its provenance metadata.
type Document struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SearchResult pairs a document with its similarity score.
type SearchResult struct {
	Document Document
	Score    float64
}

// maxTopK bounds how many results a single search may request.
const maxTopK = 100

// Index holds the vectors and their documents in memory. Vectors and
// documents are parallel slices; entry i of one describes entry i of
// the other.
type Index struct {
	dimension int
	vectors   [][]float32
	documents []Document
}

// NewIndex builds an index from parallel vectors and documents. All
// vectors must share one dimension.
func NewIndex(vectors [][]float32, documents []Document) (*Index, error) {
	if len(vectors) != len(documents) {
		return nil, errors.Newf(
			errors.ErrTypeInternal,
			"vector count %d does not match document count %d", len(vectors), len(documents),
		)
	}

	if len(vectors) == 0 {
		return nil, errors.New(errors.ErrTypeInternal, "cannot build an empty index")
	}

	dimension := len(vectors[0])
	if dimension == 0 {
		return nil, errors.New(errors.ErrTypeInternal, "vectors cannot be zero-dimensional")
	}

	for i, vector := range vectors {
		if len(vector) != dimension {
			return nil, errors.Newf(
				errors.ErrTypeInternal,
				"vector %d has dimension %d, expected %d", i, len(vector), dimension,
			)
		}
	}

	return &Index{
		dimension: dimension,
		vectors:   vectors,
		documents: documents,
	}, nil
}

// Len returns the number of indexed documents.
func (idx *Index) Len() int {
	return len(idx.documents)
}

// Dimension returns the vector dimension.
func (idx *Index) Dimension() int {
	return idx.dimension
}

// Documents returns the indexed documents in insertion order.
func (idx *Index) Documents() []Document {
	return idx.documents
}

// Search returns the top-k documents by cosine similarity to the query
// vector, most similar first.
func (idx *Index) Search(query []float32, k int) ([]SearchResult, error) {
	if len(query) != idx.dimension {
		return nil, errors.Newf(
			errors.ErrTypeValidation,
			"query dimension %d does not match index dimension %d", len(query), idx.dimension,
		)
	}

	if k <= 0 || k > maxTopK {
		return nil, errors.Newf(errors.ErrTypeValidation, "k must be between 1 and %d: %d", maxTopK, k)
	}

	results := make([]SearchResult, 0, len(idx.vectors))
	for i, vector := range idx.vectors {
		results = append(results, SearchResult{
			Document: idx.documents[i],
			Score:    cosineSimilarity(query, vector),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if k > len(results) {
		k = len(results)
	}

	return results[:k], nil
}

// cosineSimilarity calculates cosine similarity between two vectors.
// Accumulation happens in float64 to limit rounding drift on long
// vectors. Zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	var dot, normA, normB float64

	for i := 0; i < len(a); i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0.0 || normB == 0.0 {
		return 0.0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
