// Package ids issues identifiers for requests, comments and users.
package ids

import "github.com/google/uuid"

// Provider issues new entity identifiers.
type Provider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs a Provider that issues UUIDv7 identifiers.
// UUIDv7 embeds a millisecond timestamp ahead of its random bits, so identifiers
// sort by creation time and collide only if the random source repeats.
func NewUUIDProvider() Provider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// Generate returns a fresh identifier, falling back to a random UUIDv4 if the
// time-ordered generator fails. It never returns an empty string.
func Generate() string {
	if value, err := uuid.NewV7(); err == nil {
		return value.String()
	}
	return uuid.NewString()
}

// Sequence returns identifiers from a fixed list; tests use it for deterministic ids.
type Sequence struct {
	IDs   []string
	index int
}

// NewID returns the next identifier or an error once the list is exhausted.
func (s *Sequence) NewID() (string, error) {
	if s.index >= len(s.IDs) {
		return "", errExhausted
	}
	id := s.IDs[s.index]
	s.index++
	return id, nil
}
