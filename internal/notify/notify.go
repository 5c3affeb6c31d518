package notify

import (
	"context"

	"go.uber.org/multierr"
)

type Notifier interface {
	Send(ctx context.Context, title, text string) error
}

// Multi fans a message out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, title, text string) error {
	var err error
	for _, n := range m {
		if n == nil {
			continue
		}
		err = multierr.Append(err, n.Send(ctx, title, text))
	}
	return err
}

// Build returns the notifiers enabled by configuration. Empty when none are.
func Build(slackWebhook string) Multi {
	var m Multi
	if s := NewSlack(slackWebhook); s != nil {
		m = append(m, s)
	}
	return m
}
