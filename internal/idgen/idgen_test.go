package idgen

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_Shape(t *testing.T) {
	gen := New()

	id, err := gen.Generate()
	require.NoError(t, err)
	assert.Len(t, id, Length)
	assert.True(t, Valid(id))
}

func TestGenerate_Uniqueness(t *testing.T) {
	// Deterministic source so the test is reproducible.
	gen := NewWithSource(rand.New(rand.NewSource(42)))

	const n = 100000
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		id, err := gen.Generate()
		require.NoError(t, err)
		_, dup := seen[id]
		require.False(t, dup, "duplicate identifier %q after %d draws", id, i)
		seen[id] = struct{}{}
	}
}

func TestGenerate_AlphabetOnly(t *testing.T) {
	gen := NewWithSource(rand.New(rand.NewSource(7)))

	for i := 0; i < 1000; i++ {
		id, err := gen.Generate()
		require.NoError(t, err)
		for _, c := range id {
			assert.True(t, strings.ContainsRune(Alphabet, c), "character %q outside alphabet", c)
		}
	}
}

func TestGenerate_SourceFailure(t *testing.T) {
	// A source that runs dry mid-read must surface an error, not a
	// truncated identifier.
	gen := NewWithSource(strings.NewReader("short"))

	_, err := gen.Generate()
	require.Error(t, err)
}

func TestValid(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"valid", "V1StGXR8_Z5jdHi6B-myT", true},
		{"too short", "V1StGXR8_Z5jdHi6B-my", false},
		{"too long", "V1StGXR8_Z5jdHi6B-myTT", false},
		{"bad character", "V1StGXR8 Z5jdHi6B-myT", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Valid(tt.in))
		})
	}
}
