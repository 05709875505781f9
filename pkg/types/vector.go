package types

// Vector is an embedding destined for a vector store upsert.
// Uses float32 exclusively to minimize memory footprint (50% savings vs float64).
type Vector struct {
	ID       string
	Values   []float32
	Metadata map[string]interface{}
}

// Dimension returns the dimensionality of the vector.
func (v *Vector) Dimension() int {
	return len(v.Values)
}

// DeduplicationResult holds the output of near-duplicate chunk suppression.
type DeduplicationResult struct {
	UniqueVectors    []Vector
	DuplicateCount   int
	TotalProcessed   int
	ClusterCount     int
	ProcessingTimeMs int64
}

// SavingsPercent calculates the percentage of duplicates found.
func (r *DeduplicationResult) SavingsPercent() float64 {
	if r.TotalProcessed == 0 {
		return 0
	}
	return float64(r.DuplicateCount) / float64(r.TotalProcessed) * 100
}
