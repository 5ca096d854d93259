package inputbuilder

import (
	"crypto/rand"

	"github.com/google/uuid"
)

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// newOutputID returns a 21-char URL-safe random id, seeded from a uuid
// (falling back to crypto/rand if uuid generation ever fails) and
// base62-trimmed, matching the output-file naming convention of spec.md §6.2.
func newOutputID() string {
	seed := make([]byte, 21)
	if u, err := uuid.NewRandom(); err == nil {
		copy(seed, u[:])
		_, _ = rand.Read(seed[16:])
	} else {
		_, _ = rand.Read(seed)
	}

	out := make([]byte, 21)
	for i, b := range seed {
		out[i] = base62Alphabet[int(b)%len(base62Alphabet)]
	}
	return string(out)
}
