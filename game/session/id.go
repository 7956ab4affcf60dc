package session

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// IDAlphabet is the set of characters session ids are drawn from.
	IDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	// DefaultIDLength is the length of generated session ids.
	DefaultIDLength = 5
)

// IDGenerator produces random fixed-length session ids.
// Uniqueness is not checked.
type IDGenerator struct {
	length int
}

// NewIDGenerator returns a generator for ids of the given length.
// A non-positive length falls back to DefaultIDLength.
func NewIDGenerator(length int) *IDGenerator {
	if length <= 0 {
		length = DefaultIDLength
	}
	return &IDGenerator{length: length}
}

// Generate returns a new id
func (g *IDGenerator) Generate() string {
	id, err := gonanoid.Generate(IDAlphabet, g.length)
	if err != nil {
		// Generate only fails on an invalid alphabet or length, both fixed here,
		// or when the system random source is unavailable.
		panic(err)
	}
	return id
}
