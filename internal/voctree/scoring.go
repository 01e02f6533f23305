package voctree

import (
	"fmt"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/errors"
)

// ScoringMethod selects how overlap between a query and a document is turned
// into a score. Every method yields a distance: lower is more similar.
type ScoringMethod uint8

const (
	// ScoringClassic is the L1 distance between L1-normalized TF-IDF vectors,
	// in [0, 2].
	ScoringClassic ScoringMethod = iota + 1
	// ScoringCosine is one minus the cosine similarity of the TF-IDF vectors,
	// in [0, 1].
	ScoringCosine
)

var scoringNames = map[string]ScoringMethod{
	"classic": ScoringClassic,
	"cosine":  ScoringCosine,
}

// ParseScoringMethod resolves a method name. Unknown names fail with
// ErrInvalidScoringMethod.
func ParseScoringMethod(name string) (ScoringMethod, error) {
	m, ok := scoringNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", apperrors.ErrInvalidScoringMethod, name)
	}
	return m, nil
}

func (m ScoringMethod) String() string {
	switch m {
	case ScoringClassic:
		return "classic"
	case ScoringCosine:
		return "cosine"
	default:
		return fmt.Sprintf("ScoringMethod(%d)", uint8(m))
	}
}

// Valid reports whether m is a known method.
func (m ScoringMethod) Valid() bool {
	return m == ScoringClassic || m == ScoringCosine
}

// maxDistance is the score of a document sharing no weighted word with the
// query.
func (m ScoringMethod) maxDistance() float64 {
	if m == ScoringClassic {
		return 2
	}
	return 1
}

// MarshalText implements encoding.TextMarshaler.
func (m ScoringMethod) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", apperrors.ErrInvalidScoringMethod, uint8(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *ScoringMethod) UnmarshalText(text []byte) error {
	parsed, err := ParseScoringMethod(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
