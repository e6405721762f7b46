package incident

import (
	"context"

	"github.com/linnemanlabs/signalos/internal/event"
)

// Notifier is told when correlation opens a new incident. ev is the event
// whose arrival caused the incident to open.
type Notifier interface {
	Notify(ctx context.Context, inc *Incident, ev *event.Event) error
}

// FingerprintCache remembers fingerprints of stored events so repeats can be
// answered without a store lookup. It is advisory: a miss falls through to
// the store.
type FingerprintCache interface {
	Seen(ctx context.Context, fingerprint string) (eventID string, ok bool, err error)
	Mark(ctx context.Context, fingerprint, eventID string) error
}
