package id

import (
	"context"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Alphabet is the set of characters identifiers are drawn from. None of
// them is a path separator or a dot, so an identifier is always a safe
// single path segment.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

const defaultLength = 5

// Generator produces fixed-length alphanumeric identifiers.
type Generator struct {
	length int
}

// New returns a Generator with the provided length. If length <= 0, a sane default is used.
func New(length int) *Generator {
	if length <= 0 {
		length = defaultLength
	}
	return &Generator{length: length}
}

// Length reports the number of characters in generated identifiers.
func (g *Generator) Length() int {
	return g.length
}

// Generate returns a new identifier. Every character is sampled
// independently and uniformly from Alphabet.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	return gonanoid.Generate(Alphabet, g.length)
}

// Valid reports whether s is non-empty and made only of Alphabet characters.
func Valid(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}
