// Package notify abstracts the external notification providers behind a
// single send interface. Providers are opaque sinks: the delivery worker
// only cares whether a send succeeded, failed transiently, or failed
// permanently.
package notify

import (
	"context"
	"errors"
)

// ErrPermanent wraps provider errors that retrying cannot fix (unregistered
// device token, malformed channel id). The worker marks these FAILED
// immediately instead of burning retry attempts.
var ErrPermanent = errors.New("permanent send failure")

// Sink delivers one notification to a device or channel identity.
type Sink interface {
	Send(ctx context.Context, target, title, body string, metadata map[string]string) error
}
