package mail

import "fmt"

// CompositionError is returned when a message cannot be assembled, which
// happens when its attachment cannot be fetched.
type CompositionError struct {
	Attachment string
	Err        error
}

func (e *CompositionError) Error() string {
	return fmt.Sprintf("failed to compose message with attachment %q: %v", e.Attachment, e.Err)
}

func (e *CompositionError) Unwrap() error {
	return e.Err
}

// DeliveryError is returned when the relay is unreachable, times out or
// rejects the message.
type DeliveryError struct {
	Host string
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("failed to deliver message via %s: %v", e.Host, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
