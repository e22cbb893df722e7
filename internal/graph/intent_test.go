package graph

import (
	"testing"
)

func TestParseSubQueries(t *testing.T) {
	tests := []struct {
		name    string
		answer  string
		want    []string
		wantErr bool
	}{
		{
			name:   "bare array",
			answer: `["how does tidb scale?", "what is raft?"]`,
			want:   []string{"how does tidb scale?", "what is raft?"},
		},
		{
			name:   "fenced array",
			answer: "```json\n[\"a\", \"b\"]\n```",
			want:   []string{"a", "b"},
		},
		{
			name:   "prose around array",
			answer: `Here are the sub-questions: ["only one"] Hope that helps!`,
			want:   []string{"only one"},
		},
		{
			name:   "blank entries dropped",
			answer: `["keep", "  ", ""]`,
			want:   []string{"keep"},
		},
		{
			name:    "no array",
			answer:  "I cannot split this question.",
			wantErr: true,
		},
		{
			name:    "malformed array",
			answer:  `[1, 2, 3]`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSubQueries(tt.answer)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseSubQueries(%q) succeeded, want error", tt.answer)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseSubQueries: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestEncodeFilters(t *testing.T) {
	if data, err := encodeFilters(nil); err != nil || data != nil {
		t.Errorf("encodeFilters(nil) = %s, %v", data, err)
	}
	data, err := encodeFilters(map[string]any{"doc_type": "manual"})
	if err != nil {
		t.Fatalf("encodeFilters: %v", err)
	}
	if string(data) != `{"doc_type":"manual"}` {
		t.Errorf("got %s", data)
	}
}
