// Package detect defines the detector contract shared by the pattern, model,
// and hybrid implementations.
package detect

import (
	"context"
	"errors"

	"github.com/veil-sh/veil/internal/entity"
)

// ErrUnavailable signals that the detection backend (inference runtime or its
// transport) could not produce a result. It is distinct from finding nothing:
// a detector must never report an empty match list when it actually failed.
var ErrUnavailable = errors.New("detection unavailable")

// Detector finds sensitive entities in text. Implementations must be safe for
// concurrent use and honor context cancellation on any blocking work.
type Detector interface {
	Detect(ctx context.Context, text string) ([]entity.Match, error)
}
