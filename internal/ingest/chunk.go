package ingest

import "strings"

const (
	chunkSize    = 1200 // runes per chunk
	chunkOverlap = 200  // runes carried into the next chunk
)

// chunkText splits text into rune-bounded windows with overlap, preferring
// to break at a paragraph or sentence boundary near the window end so chunks
// stay coherent for embedding.
func chunkText(text string, size, overlap int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= size {
		return []string{string(runes)}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = breakPoint(runes, start, end)
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			chunks = append(chunks, piece)
		}
		if end == len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// breakPoint scans backwards from end for a paragraph break, then a sentence
// end, within the last quarter of the window. Falls back to the hard cut.
func breakPoint(runes []rune, start, end int) int {
	limit := end - (end-start)/4
	for i := end - 1; i > limit; i-- {
		if runes[i] == '\n' && i > start && runes[i-1] == '\n' {
			return i
		}
	}
	for i := end - 1; i > limit; i-- {
		switch runes[i] {
		case '.', '!', '?', '\n', '。', '！', '？':
			return i + 1
		}
	}
	return end
}
