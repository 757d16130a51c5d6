package model

// Trust estimates from the oracle are only accepted inside this range.
const (
	MinTrustScore = 1.0
	MaxTrustScore = 10.0
)

// MaxSpecialties bounds the specialties list an oracle response may carry.
const MaxSpecialties = 3

// EnrichmentResult is the validated parse of one oracle response.
// TrustScore is nil when the oracle omitted it or returned a value outside
// [MinTrustScore, MaxTrustScore].
type EnrichmentResult struct {
	Specialties []string `json:"specialties"`
	Languages   []string `json:"languages"`
	TrustScore  *float64 `json:"trust_score"`
}

// Enrichment is the column-shaped form of an EnrichmentResult as it is
// written back to a surgeon row.
type Enrichment struct {
	Specialties *string
	Languages   *string
	TrustPrior  *float64
}

// TrustScore is one row of the aggregation procedure's output. Score is nil
// when the store lacks enough signal for the surgeon.
type TrustScore struct {
	ID    int64    `json:"id"`
	Score *float64 `json:"trust_score"`
}
