package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func names(es []Entity) []string {
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, e.Name)
	}
	return out
}

func TestExtractEntities(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"greeting trimmed", "Hello Bob, have you met Alice Smith in New York?", []string{"Bob", "Alice Smith", "New York"}},
		{"article trimmed", "I think The Beatles are great", []string{"Beatles"}},
		{"possessive", "Bob's cat sat down", []string{"Bob"}},
		{"deduplicated", "Bob and bob and Bob", []string{"Bob"}},
		{"headers ignored", "# User Message\nhi\n\n# Agent Reply\nyo", []string{}},
		{"single letters dropped", "Plan B is X", []string{"Plan B"}},
		{"unicode", "Zoë visited Øresund", []string{"Zoë", "Øresund"}},
		{"none", "nothing capitalized here", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, names(ExtractEntities(tt.text)))
		})
	}
}

func TestExtractEntities_Keys(t *testing.T) {
	es := ExtractEntities("Alice Smith")
	assert.Equal(t, []Entity{{Name: "Alice Smith", Key: "alice smith"}}, es)
}
