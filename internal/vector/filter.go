package vector

import "reflect"

// filterByMetadata keeps chunks whose metadata carries every filter
// key/value pair. An empty filter set keeps everything.
func filterByMetadata(chunks []retrievedChunk, filters map[string]any) []retrievedChunk {
	if len(filters) == 0 {
		return chunks
	}
	kept := chunks[:0]
	for _, c := range chunks {
		if matchesAll(c.metadata, filters) {
			kept = append(kept, c)
		}
	}
	return kept
}

func matchesAll(metadata, filters map[string]any) bool {
	for key, want := range filters {
		got, ok := metadata[key]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}
