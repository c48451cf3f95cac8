// Package index provides the exact cosine-similarity vector index over chunk
// embeddings and its on-disk representation.
//
// A persisted index is a directory holding vectors.bin, a checksummed,
// optionally compressed (zstd or lz4) float32 matrix, and chunks/, a BadgerDB
// table of chunk metadata in index order. Load verifies both against each
// other and reports any mismatch as core.ErrIndexCorrupt.
package index
