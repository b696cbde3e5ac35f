package email

import "context"

// Transport delivers a rendered message. Implementations should honor ctx
// cancellation; the dispatcher abandons calls that outlive the delivery timeout.
type Transport interface {
	Deliver(ctx context.Context, msg Message) error
	Name() string
}
