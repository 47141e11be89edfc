package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

// OutboxStream is the SignalBus stream notifications are queued on.
const OutboxStream = "notify:outbox"

// Queue implements domain.NotificationQueue by appending JSON-encoded
// notifications to the outbox stream.
type Queue struct {
	bus    domain.SignalBus
	stream string
	now    func() time.Time
}

// NewQueue creates a Queue on the outbox stream of bus.
func NewQueue(bus domain.SignalBus) *Queue {
	return &Queue{bus: bus, stream: OutboxStream, now: time.Now}
}

// Enqueue assigns an ID and enqueue time when missing and appends n.
func (q *Queue) Enqueue(ctx context.Context, n domain.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.EnqueuedAt.IsZero() {
		n.EnqueuedAt = q.now()
	}
	raw, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("notify: encode %s: %w", n.ID, err)
	}
	if err := q.bus.StreamAppend(ctx, q.stream, raw); err != nil {
		return fmt.Errorf("notify: enqueue %s: %w", n.ID, err)
	}
	return nil
}

var _ domain.NotificationQueue = (*Queue)(nil)
