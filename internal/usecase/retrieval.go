package usecase

import (
	"fmt"
	"math"
	"sort"

	"renewal-agent/internal/domain"
)

const (
	// similarityEpsilon keeps the min-max normalization defined when every
	// candidate scores the same similarity (including pools of size 1).
	similarityEpsilon = 1e-6

	similarityWeight = 0.7
	priorityWeight   = 0.3
)

// cosineSimilarity fails fast when the vectors disagree on dimension instead
// of silently computing garbage.
func cosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding dimension mismatch: %d vs %d", len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// rankCandidates scores the pool against the query embedding, fuses the
// normalized similarity with the stored priority score and returns the top k.
//
// When all similarities are equal the normalization collapses to zero and the
// ranking degenerates to priority alone. Equal fused scores are broken by
// ascending turn ID so rankings are reproducible across store queries.
func rankCandidates(pool []domain.ConversationTurn, queryEmbedding []float64, k int) ([]domain.MatchCandidate, error) {
	if len(pool) == 0 {
		return nil, nil
	}

	candidates := make([]domain.MatchCandidate, 0, len(pool))
	simMin, simMax := math.Inf(1), math.Inf(-1)
	for _, turn := range pool {
		sim, err := cosineSimilarity(turn.Embedding, queryEmbedding)
		if err != nil {
			return nil, fmt.Errorf("turn %d: %w", turn.ID, err)
		}
		simMin = math.Min(simMin, sim)
		simMax = math.Max(simMax, sim)
		candidates = append(candidates, domain.MatchCandidate{Turn: turn, Similarity: sim})
	}

	for i := range candidates {
		norm := (candidates[i].Similarity - simMin) / (simMax - simMin + similarityEpsilon)
		candidates[i].NormalizedSimilarity = norm
		candidates[i].FusedScore = int(math.Round(
			norm*100*similarityWeight + float64(candidates[i].Turn.PriorityScore)*priorityWeight,
		))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].FusedScore != candidates[j].FusedScore {
			return candidates[i].FusedScore > candidates[j].FusedScore
		}
		return candidates[i].Turn.ID < candidates[j].Turn.ID
	})

	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}
