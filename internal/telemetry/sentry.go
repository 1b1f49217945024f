// Package telemetry reports pipeline failures to Sentry.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter captures errors on its own Sentry hub. A zero Reporter drops everything.
type Reporter struct {
	hub *sentry.Hub
}

// NewReporter returns a disabled reporter when dsn is empty.
func NewReporter(dsn, environment string) (*Reporter, error) {
	if dsn == "" {
		return &Reporter{}, nil
	}
	return newReporter(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		SampleRate:       1.0,
		AttachStacktrace: true,
	})
}

func newReporter(opts sentry.ClientOptions) (*Reporter, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sentry: %w", err)
	}
	return &Reporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// Enabled reports whether events are sent anywhere.
func (r *Reporter) Enabled() bool {
	return r != nil && r.hub != nil
}

// CaptureError sends err with the given tags.
func (r *Reporter) CaptureError(err error, tags map[string]string) {
	if !r.Enabled() || err == nil {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		r.hub.CaptureException(err)
	})
}

// Flush waits for queued events to be sent.
func (r *Reporter) Flush(ctx context.Context) bool {
	if !r.Enabled() {
		return true
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return r.hub.Flush(2 * time.Second)
	}
	return r.hub.Flush(time.Until(deadline))
}
