package pubsub

import "errors"

// ErrPermissionDenied is returned when a client-originated event is rejected:
// the target channel is public, or the connection holds no active
// subscription to it. Callers drop the message silently.
var ErrPermissionDenied = errors.New("client events require an active private or presence subscription")

// ErrConnClosed is returned when a subscribe races the connection's
// deregistration and loses; the join is rolled back and the frame dropped.
var ErrConnClosed = errors.New("connection already deregistered")

// AuthError reports a failed authorization on a private or presence
// subscribe. The reason is safe to echo back to the requesting client in a
// subscription_error frame.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "subscription unauthorized: " + e.Reason
}
