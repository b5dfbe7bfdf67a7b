// Package notification combines notification sinks.
package notification

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	domain "github.com/ahrav/vulnscan-armada/internal/domain/notification"
)

var _ domain.Notifier = Fanout(nil)

// Fanout delivers each message to every sink concurrently and joins their
// errors. A panicking sink is reported as an error.
type Fanout []domain.Notifier

// Send implements domain.Notifier.
func (f Fanout) Send(ctx context.Context, msg domain.Message) error {
	switch len(f) {
	case 0:
		return nil
	case 1:
		return safeSend(ctx, f[0], msg)
	}

	p := pool.New().WithErrors()
	for _, n := range f {
		p.Go(func() error { return safeSend(ctx, n, msg) })
	}
	return p.Wait()
}

func safeSend(ctx context.Context, n domain.Notifier, msg domain.Message) error {
	var (
		catcher panics.Catcher
		err     error
	)
	catcher.Try(func() { err = n.Send(ctx, msg) })
	if err != nil {
		return err
	}
	if r := catcher.Recovered(); r != nil {
		return fmt.Errorf("notifier panicked: %w", r.AsError())
	}
	return nil
}
