// Package chunking splits documents into overlapping, token-bounded chunks.
//
// Splitting prefers structural boundaries (blank lines and table edges, then
// sentence and line ends, then whitespace) and never ends a chunk inside a
// table block. Token counts come from a pluggable Tokenizer: the offline
// WordTokenizer by default, or a tiktoken BPE encoding.
//
// The package also turns ConvFinQA-style dataset records into documents.
package chunking
