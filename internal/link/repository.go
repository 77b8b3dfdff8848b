package link

import (
	"context"
	"time"

	"paylink-service/internal/model"
)

// Repository is the storage contract for payment links. Implementations must
// make every call fully persistent before returning; per-link serialization
// of read-modify-write cycles is owned by the Service.
type Repository interface {
	// Insert stores a new link and fails with model.ErrConflict if the ID is taken.
	Insert(ctx context.Context, link *model.PaymentLink) error
	// SelectByID returns the link or model.ErrNotFound.
	SelectByID(ctx context.Context, id string) (*model.PaymentLink, error)
	// Update persists the full record and fails with model.ErrNotFound if absent.
	Update(ctx context.Context, link *model.PaymentLink) error
	// Delete removes the record, reporting whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
	// SelectAll returns a snapshot of all records.
	SelectAll(ctx context.Context) ([]*model.PaymentLink, error)
}

// EventPublisher receives lifecycle events. Publish failures are logged by
// the Service and never fail the triggering operation.
type EventPublisher interface {
	Publish(ctx context.Context, event model.LinkEvent) error
}

// Clock supplies the current time. Injected so expiry can be tested against
// a fake clock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the real-time Clock used outside tests.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
