package gemini

import "testing"

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "already clean object",
			input: `{"a": 1}`,
			want:  `{"a": 1}`,
		},
		{
			name:  "fenced with language tag",
			input: "```json\n{\"a\": 1}\n```",
			want:  `{"a": 1}`,
		},
		{
			name:  "fenced without tag",
			input: "```\n[1, 2]\n```",
			want:  `[1, 2]`,
		},
		{
			name:  "leading chatter before object",
			input: "Here is the result:\n{\"a\": 1}\nHope that helps!",
			want:  `{"a": 1}`,
		},
		{
			name:  "array with chatter",
			input: "Sure! [1, 2, 3] done.",
			want:  `[1, 2, 3]`,
		},
		{
			name:  "array before object picks array",
			input: `[{"a": 1}]`,
			want:  `[{"a": 1}]`,
		},
		{
			name:  "no brackets at all",
			input: "nothing here",
			want:  "nothing here",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanJSON(tt.input); got != tt.want {
				t.Errorf("CleanJSON(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTokenUsageAdd(t *testing.T) {
	u := TokenUsage{Input: 10, Output: 5}
	u.Add(TokenUsage{Input: 3, Output: 2})
	if u.Input != 13 || u.Output != 7 {
		t.Errorf("Add produced %+v", u)
	}
}
