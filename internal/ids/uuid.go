package ids

import (
	"sync"

	"github.com/google/uuid"
)

// Provider issues identifiers for new rows and blob names.
type Provider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs a Provider that issues UUIDv7 identifiers.
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

// SequenceProvider hands out a fixed list of identifiers in order, then
// falls back to UUIDs. Tests use it for deterministic ids.
type SequenceProvider struct {
	mu       sync.Mutex
	values   []string
	fallback Provider
}

// NewSequenceProvider returns a SequenceProvider over values.
func NewSequenceProvider(values ...string) *SequenceProvider {
	return &SequenceProvider{values: append([]string(nil), values...), fallback: NewUUIDProvider()}
}

func (p *SequenceProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.values) == 0 {
		return p.fallback.NewID()
	}
	next := p.values[0]
	p.values = p.values[1:]
	return next, nil
}
