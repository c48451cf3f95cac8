// Package ingestion builds a vector index from documents.
//
// The Pipeline chunks each document, embeds the chunks in batches on an ants
// worker pool under an optional rate limit, and bulk-loads the index. Results
// land in pre-sized slots, so index order is document order then chunk order
// regardless of which batch finishes first.
//
// Embedding calls are not retried unless WithRetry is given. Documents whose
// text was already seen are skipped using their content fingerprint.
package ingestion
