package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vn.io.arda/livenotify/internal/domain"
)

// UndeliveredStore is the part of the notification store replay depends on.
type UndeliveredStore interface {
	FindUndelivered(ctx context.Context, userID string) ([]domain.Notification, error)
	MarkDelivered(ctx context.Context, ids []uuid.UUID) (int64, error)
}

// Replayer sends a user's undelivered notifications over a fresh connection.
type Replayer struct {
	store   UndeliveredStore
	timeout time.Duration
}

// NewReplayer creates a Replayer. timeout bounds one replay, query through mark.
func NewReplayer(store UndeliveredStore, timeout time.Duration) *Replayer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Replayer{store: store, timeout: timeout}
}

// Replay sends every undelivered notification of userID as one batch over t,
// waits for the frame to be written and then marks them delivered. It returns
// the number of notifications sent.
//
// A crash between the write and the mark resends the batch on the next
// connection; clients ignore ids they have already seen.
func (r *Replayer) Replay(ctx context.Context, userID string, t Transport) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	pending, err := r.store.FindUndelivered(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("find undelivered: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	msg, err := encodeBatch(pending)
	if err != nil {
		return 0, fmt.Errorf("encode replay batch: %w", err)
	}

	written := make(chan error, 1)
	if err := t.Send(msg, func(err error) { written <- err }); err != nil {
		return 0, fmt.Errorf("send replay batch: %w", err)
	}

	select {
	case err := <-written:
		if err != nil {
			return 0, fmt.Errorf("write replay batch: %w", err)
		}
	case <-ctx.Done():
		return 0, fmt.Errorf("wait for replay write: %w", ctx.Err())
	}

	if _, err := r.store.MarkDelivered(ctx, domain.IDs(pending)); err != nil {
		return len(pending), fmt.Errorf("mark delivered: %w", err)
	}
	return len(pending), nil
}
