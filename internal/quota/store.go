package quota

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrVersionConflict is returned by UpdateVersioned when the stored version
// moved between the caller's read and its write.
var ErrVersionConflict = errors.New("quota record version conflict")

// Store persists per-(user, day) quota records.
//
// UpdateVersioned must be a single atomic conditional write: it commits rec's
// counters and card fields with version = rec.Version+1 only while the stored
// version still equals rec.Version, and returns ErrVersionConflict otherwise.
// A crash therefore leaves the record either unchanged or fully committed.
type Store interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID, day string, maxDaily int) (Record, error)
	UpdateVersioned(ctx context.Context, rec Record) error
}
