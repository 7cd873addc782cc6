package notifier

import (
	"context"
	"errors"
)

// ErrSend marks transport-level delivery failures.
var ErrSend = errors.New("send notification")

// Message is one operator notification.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Notifier delivers (or simulates delivering) a message.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, msg Message) error

func (f Func) Notify(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Fanout delivers a message through every notifier, in order. A failing
// channel does not stop the others; all failures are joined.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
