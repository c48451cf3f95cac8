// Package retrieval ranks chunks for a query by fusing vector similarity with
// financial entity overlap and conversation continuity.
//
// A Retriever pulls an oversampled candidate pool from a VectorIndex, scores
// each candidate as
//
//	combined = alpha*vector + (1-alpha)*entity (+ bonus if retrieved last turn)
//
// capped at 1, and returns the top k ordered by score, then chunk id.
//
// Window holds the recent conversation turns fed back into Retrieve, and
// EnhanceQuery folds entities from recent user turns into a follow-up question.
package retrieval
