package contract

import "context"

// Notifier delivers a one-way message to a single requester. Delivery is best
// effort: the operation that produced the event has already committed.
type Notifier interface {
	Notify(ctx context.Context, requester Requester, event Event) error
}

// Recorder observes committed registry transitions and rejected attempts.
type Recorder interface {
	Record(ctx context.Context, tr Transition)
}

// Recorders fans a transition out to every recorder in order.
type Recorders []Recorder

func (rs Recorders) Record(ctx context.Context, tr Transition) {
	for _, r := range rs {
		if r != nil {
			r.Record(ctx, tr)
		}
	}
}
