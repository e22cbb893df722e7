package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidegraph/tidegraph/internal/engine"
)

// rerankExcerptRunes bounds how much of each chunk the reranking prompt sees.
const rerankExcerptRunes = 500

const rerankPrompt = `Rank the passages below by how well they answer the question.

Question: %s

%s
Respond with a JSON array of the %d most relevant passage numbers, best
first, and nothing else. Example: [3, 1, 7]`

// rerank asks the reranker model to pick the most relevant chunks out of
// the wide candidate pool. A model call failure propagates; an unparseable
// ranking falls back to distance order.
func (e *Engine) rerank(ctx context.Context, cfg *engine.Config, question string, chunks []retrievedChunk) ([]retrievedChunk, error) {
	topN := cfg.RerankerTopN
	if topN <= 0 {
		topN = topKDefault
	}
	if len(chunks) <= topN {
		return chunks, nil
	}

	var passages strings.Builder
	for i, c := range chunks {
		excerpt := c.text
		if runes := []rune(excerpt); len(runes) > rerankExcerptRunes {
			excerpt = string(runes[:rerankExcerptRunes])
		}
		fmt.Fprintf(&passages, "[%d] %s\n\n", i+1, excerpt)
	}

	model := cfg.RerankerModel
	if model == "" {
		model = cfg.FastModelName
	}
	answer, err := e.generator.Complete(ctx, model,
		fmt.Sprintf(rerankPrompt, question, passages.String(), topN))
	if err != nil {
		return nil, fmt.Errorf("reranking chunks: %w", err)
	}

	order, err := parseRanking(answer, len(chunks))
	if err != nil {
		e.logger.Warn("unparseable reranking, keeping distance order", "error", err)
		return chunks[:topN], nil
	}

	ranked := make([]retrievedChunk, 0, topN)
	for _, idx := range order {
		ranked = append(ranked, chunks[idx])
		if len(ranked) == topN {
			break
		}
	}
	return ranked, nil
}

// parseRanking extracts 1-based passage numbers from the model answer and
// returns them as deduplicated 0-based indexes.
func parseRanking(answer string, n int) ([]int, error) {
	start := strings.IndexByte(answer, '[')
	end := strings.LastIndexByte(answer, ']')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in answer")
	}

	var numbers []int
	if err := json.Unmarshal([]byte(answer[start:end+1]), &numbers); err != nil {
		return nil, fmt.Errorf("parsing ranking: %w", err)
	}

	seen := make(map[int]bool, len(numbers))
	var order []int
	for _, num := range numbers {
		idx := num - 1
		if idx < 0 || idx >= n || seen[idx] {
			continue
		}
		seen[idx] = true
		order = append(order, idx)
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("ranking named no valid passages")
	}
	return order, nil
}
