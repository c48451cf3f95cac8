package metrics

import (
	"sync"

	"github.com/poiesic/finrag/core"
)

// Aggregate accumulates snapshots into counts and running sums.
// It is safe for concurrent use.
type Aggregate struct {
	mu    sync.Mutex
	state core.AggregateState
}

// NewAggregate creates an empty aggregate.
func NewAggregate() *Aggregate {
	return &Aggregate{}
}

// Merge folds one snapshot into the aggregate.
func (a *Aggregate) Merge(s core.MetricsSnapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	merge(&a.state, s)
}

// With returns the state the aggregate would hold after merging s, leaving
// the aggregate itself unchanged.
func (a *Aggregate) With(s core.MetricsSnapshot) core.AggregateState {
	a.mu.Lock()
	st := a.state
	a.mu.Unlock()

	merge(&st, s)
	return st
}

func merge(st *core.AggregateState, s core.MetricsSnapshot) {
	st.Questions++
	if s.RetrievedCount > 0 {
		st.SuccessfulRetrievals++
	}

	if s.HasRelevant {
		st.WithRelevant++
		st.Retrieval.Precision += s.Retrieval.Precision
		st.Retrieval.Recall += s.Retrieval.Recall
		st.Retrieval.F1 += s.Retrieval.F1
		st.Retrieval.NDCG += s.Retrieval.NDCG
		st.Retrieval.MRR += s.Retrieval.MRR
	}

	addRouge(&st.Groundedness, s.Groundedness)

	if s.HasGroundTruth {
		st.WithGroundTruth++
		addRouge(&st.Correctness, s.Correctness)
		if s.ExactMatch {
			st.ExactMatches++
		}
	}

	st.CosineSimilarity += s.CosineSimilarity
	st.AnswerAccuracy += s.AnswerAccuracy

	if s.HasPreviousAnswer {
		st.WithPreviousAnswer++
		st.ContextRetention += s.ContextRetention
	}

	st.LatencyMillis += float64(s.Latency.Microseconds()) / 1000
	st.Tokens += s.TotalTokens()
}

func addRouge(dst *core.RougeScores, src core.RougeScores) {
	dst.Rouge1 += src.Rouge1
	dst.Rouge2 += src.Rouge2
	dst.RougeL += src.RougeL
}

// Summary returns a flat view of the aggregate. Averages over an empty
// group are 0.
func (a *Aggregate) Summary() map[string]float64 {
	a.mu.Lock()
	st := a.state
	a.mu.Unlock()

	return summarize(st)
}

func summarize(st core.AggregateState) map[string]float64 {
	questions := float64(st.Questions)
	relevant := float64(st.WithRelevant)
	truth := float64(st.WithGroundTruth)

	return map[string]float64{
		"total_questions":       questions,
		"successful_retrievals": float64(st.SuccessfulRetrievals),

		"avg_precision": mean(st.Retrieval.Precision, relevant),
		"avg_recall":    mean(st.Retrieval.Recall, relevant),
		"avg_f1":        mean(st.Retrieval.F1, relevant),
		"avg_ndcg":      mean(st.Retrieval.NDCG, relevant),
		"avg_mrr":       mean(st.Retrieval.MRR, relevant),

		"avg_rouge1": mean(st.Correctness.Rouge1, truth),
		"avg_rouge2": mean(st.Correctness.Rouge2, truth),
		"avg_rougel": mean(st.Correctness.RougeL, truth),

		"avg_groundedness_rouge1": mean(st.Groundedness.Rouge1, questions),
		"avg_groundedness_rouge2": mean(st.Groundedness.Rouge2, questions),
		"avg_groundedness_rougel": mean(st.Groundedness.RougeL, questions),

		"avg_cosine_similarity": mean(st.CosineSimilarity, questions),
		"exact_match_rate":      mean(float64(st.ExactMatches), truth),
		"avg_answer_accuracy":   mean(st.AnswerAccuracy, questions),
		"avg_context_retention": mean(st.ContextRetention, float64(st.WithPreviousAnswer)),
		"avg_latency_ms":        mean(st.LatencyMillis, questions),
		"total_tokens":          float64(st.Tokens),
		"avg_tokens":            mean(float64(st.Tokens), questions),
	}
}

func mean(sum, n float64) float64 {
	if n == 0 {
		return 0
	}
	return sum / n
}

// Reset clears the aggregate.
func (a *Aggregate) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = core.AggregateState{}
}

// State returns a copy of the counters and sums, for persistence.
func (a *Aggregate) State() core.AggregateState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Restore replaces the aggregate with a previously saved state.
func (a *Aggregate) Restore(state core.AggregateState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = state
}

// Summarize computes the summary of a set of snapshots without touching any
// running aggregate.
func Summarize(snapshots []core.MetricsSnapshot) map[string]float64 {
	a := NewAggregate()
	for _, s := range snapshots {
		a.Merge(s)
	}
	return a.Summary()
}
