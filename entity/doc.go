// Package entity extracts financial entities (currency amounts, percentages,
// numbers and financial terms) from text.
//
// Extraction is a pure function of its input. Overlapping matches are resolved
// in favour of the longest one, so "$4.5B" yields a single currency entity and
// never a bare number 4.5 as well.
package entity
