// Package delivery transmits OTP codes to a contact target. Channels are
// best-effort: transport failures are reported as a false delivered flag,
// never as an error, so a failed send cannot fail the enclosing operation.
package delivery

import (
	"context"

	identitydomain "ghostauth/internal/identity/domain"
)

// Channel sends a code to the target for the given purpose and reports
// whether delivery succeeded. Implementations must not block past ctx.
type Channel interface {
	Send(ctx context.Context, target identitydomain.Target, purpose, code string) (delivered bool)
}

// Fanout sends through every channel that has a matching contact point and
// reports delivered if any channel succeeded.
type Fanout []Channel

// Send implements Channel.
func (f Fanout) Send(ctx context.Context, target identitydomain.Target, purpose, code string) bool {
	delivered := false
	for _, c := range f {
		if c.Send(ctx, target, purpose, code) {
			delivered = true
		}
	}
	return delivered
}
