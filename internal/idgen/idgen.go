// Package idgen generates opaque, collision-resistant identifiers for
// storage objects. Identifiers are nanoid-style: 21 characters drawn
// uniformly from a 64-symbol URL-safe alphabet, so the per-draw collision
// probability is 1/64^21 and stays negligible even at billions of entries.
package idgen

import (
	"crypto/rand"
	"fmt"
	"io"
)

// Alphabet is the 64-symbol URL-safe alphabet identifiers are drawn from.
// 64 divides 256, so masking a random byte with 0x3f keeps the
// distribution uniform.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// Length is the fixed identifier length in characters.
const Length = 21

// Generator produces identifiers from a random source.
type Generator struct {
	source io.Reader
}

// New creates a Generator backed by crypto/rand.
func New() *Generator {
	return &Generator{source: rand.Reader}
}

// NewWithSource creates a Generator reading randomness from source.
// Tests inject a deterministic source here.
func NewWithSource(source io.Reader) *Generator {
	return &Generator{source: source}
}

// Generate returns a new identifier. It fails only when the random source
// fails, which for crypto/rand means the platform entropy source is broken.
func (g *Generator) Generate() (string, error) {
	buf := make([]byte, Length)
	if _, err := io.ReadFull(g.source, buf); err != nil {
		return "", fmt.Errorf("read random source: %w", err)
	}
	id := make([]byte, Length)
	for i, b := range buf {
		id[i] = Alphabet[b&0x3f]
	}
	return string(id), nil
}

// Valid reports whether s has the shape of a generated identifier:
// exactly Length characters, all from Alphabet.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}
