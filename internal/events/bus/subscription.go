package bus

import "github.com/nats-io/nats.go"

// natsSubscription adapts a NATS subscription to the bus Subscription
// interface so services unsubscribe the same way on both bus backends.
type natsSubscription struct {
	sub *nats.Subscription
}

// Unsubscribe detaches from the subject. Safe on a nil subscription so
// shutdown paths do not need to guard.
func (s *natsSubscription) Unsubscribe() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Unsubscribe()
}

// IsValid reports whether the subscription still delivers events.
func (s *natsSubscription) IsValid() bool {
	if s.sub == nil {
		return false
	}
	return s.sub.IsValid()
}
