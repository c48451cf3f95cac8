// Package metrics scores retrieval and answer quality.
//
// Retrieval metrics (Precision, Recall, F1, NDCG, MRR) use binary relevance
// against ground-truth chunk ids. Answer metrics compare a generated answer to
// a reference with ROUGE, embedding cosine similarity and normalized exact
// match.
//
// Engine.Evaluate computes every applicable metric for one answered question
// into a core.MetricsSnapshot and merges it into an Aggregate, which keeps
// running sums until Reset.
package metrics
