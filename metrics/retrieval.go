package metrics

import "math"

// Relevance is binary: a retrieved id is relevant when it appears in the
// relevant set. Every metric is 0 when its denominator is 0.

func relevantSet(relevant []string) map[string]struct{} {
	set := make(map[string]struct{}, len(relevant))
	for _, id := range relevant {
		set[id] = struct{}{}
	}
	return set
}

// distinct drops repeated ids, keeping the first occurrence.
func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func truePositives(retrieved []string, relevant map[string]struct{}) int {
	tp := 0
	for _, id := range retrieved {
		if _, ok := relevant[id]; ok {
			tp++
		}
	}
	return tp
}

// Precision is the share of retrieved ids that are relevant.
func Precision(retrieved, relevant []string) float64 {
	retrieved = distinct(retrieved)
	if len(retrieved) == 0 {
		return 0
	}
	return float64(truePositives(retrieved, relevantSet(relevant))) / float64(len(retrieved))
}

// Recall is the share of relevant ids that were retrieved.
func Recall(retrieved, relevant []string) float64 {
	set := relevantSet(relevant)
	if len(set) == 0 {
		return 0
	}
	return float64(truePositives(distinct(retrieved), set)) / float64(len(set))
}

// F1 is the harmonic mean of precision and recall.
func F1(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

// NDCG is the normalized discounted cumulative gain of the first k retrieved
// ids. The ideal ranking places min(|relevant|, k) relevant ids first.
func NDCG(retrieved, relevant []string, k int) float64 {
	set := relevantSet(relevant)
	if k <= 0 || len(set) == 0 {
		return 0
	}

	retrieved = distinct(retrieved)
	if len(retrieved) > k {
		retrieved = retrieved[:k]
	}

	var dcg float64
	for i, id := range retrieved {
		if _, ok := set[id]; ok {
			dcg += gain(i)
		}
	}

	var idcg float64
	for i := range min(len(set), k) {
		idcg += gain(i)
	}
	return dcg / idcg
}

func gain(position int) float64 {
	return 1 / math.Log2(float64(position)+2)
}

// MRR is the reciprocal rank of the first relevant id.
func MRR(retrieved, relevant []string) float64 {
	set := relevantSet(relevant)
	for i, id := range distinct(retrieved) {
		if _, ok := set[id]; ok {
			return 1 / float64(i+1)
		}
	}
	return 0
}
