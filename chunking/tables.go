package chunking

import "strings"

// block is the byte range [start, end) of a table block. end excludes the
// newline after the last row.
type block struct {
	start int
	end   int
}

// findTableBlocks returns the maximal runs of table lines in text.
// A table line contains '|' or is a ruler ("-----", "=====", "+---+---+").
func findTableBlocks(text string) []block {
	var blocks []block
	open := false
	var current block

	offset := 0
	for offset <= len(text) {
		lineEnd := strings.IndexByte(text[offset:], '\n')
		if lineEnd < 0 {
			lineEnd = len(text)
		} else {
			lineEnd += offset
		}

		line := text[offset:lineEnd]
		if isTableLine(line) {
			if !open {
				current = block{start: offset}
				open = true
			}
			current.end = lineEnd
		} else if open {
			blocks = append(blocks, current)
			open = false
		}

		if lineEnd == len(text) {
			break
		}
		offset = lineEnd + 1
	}
	if open {
		blocks = append(blocks, current)
	}
	return blocks
}

func isTableLine(line string) bool {
	if strings.ContainsRune(line, '|') {
		return true
	}
	return isRuler(line)
}

func isRuler(line string) bool {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) < 3 {
		return false
	}
	marks := 0
	for _, r := range trimmed {
		switch r {
		case '-', '=':
			marks++
		case '+', ':', ' ':
		default:
			return false
		}
	}
	return marks >= 3
}

// assignBlocks maps every token to the index of the table block holding it,
// or -1. Tokens and blocks are both sorted by offset.
func assignBlocks(tokens []Token, blocks []block) []int {
	owner := make([]int, len(tokens))
	b := 0
	for i, tok := range tokens {
		for b < len(blocks) && blocks[b].end <= tok.Start {
			b++
		}
		if b < len(blocks) && tok.Start >= blocks[b].start && tok.Start < blocks[b].end {
			owner[i] = b
		} else {
			owner[i] = -1
		}
	}
	return owner
}
