package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want interface{}
		ok   bool
	}{
		{
			name: "plain json object",
			raw:  `{"status":"ok"}`,
			want: map[string]interface{}{"status": "ok"},
			ok:   true,
		},
		{
			name: "fenced json",
			raw:  "```json\n{\"status\":\"ok\"}\n```",
			want: map[string]interface{}{"status": "ok"},
			ok:   true,
		},
		{
			name: "prose around object",
			raw:  "Here is my verdict:\n{\"verdict\":\"approve\",\"score\":9}\nThanks!",
			want: map[string]interface{}{"verdict": "approve", "score": 9.0},
			ok:   true,
		},
		{
			name: "fenced with prose inside",
			raw:  "```\nThe result is {\"done\": true} as requested\n```",
			want: map[string]interface{}{"done": true},
			ok:   true,
		},
		{
			name: "array payload",
			raw:  "Items: [1, 2, 3]",
			want: []interface{}{1.0, 2.0, 3.0},
			ok:   true,
		},
		{
			name: "no json at all",
			raw:  "I could not complete the task.",
			ok:   false,
		},
		{
			name: "empty reply",
			raw:  "",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSON(tt.raw)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
