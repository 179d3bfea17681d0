package client

import "fmt"

// ClientError is returned to callers for both broker-signalled failures
// (a channel.close or connection.close frame) and local failures (a
// dead transport, a call made after Close). Channel is nil for
// connection-scoped errors.
type ClientError struct {
	Channel         *uint16
	Code            uint16
	Message         string
	FailingClassID  uint16
	FailingMethodID uint16
}

func (e *ClientError) Error() string {
	if e.Channel != nil {
		return fmt.Sprintf("client: channel %d: %s (code %d, class-method %d.%d)",
			*e.Channel, e.Message, e.Code, e.FailingClassID, e.FailingMethodID)
	}
	if e.Code != 0 {
		return fmt.Sprintf("client: connection: %s (code %d, class-method %d.%d)",
			e.Message, e.Code, e.FailingClassID, e.FailingMethodID)
	}
	return fmt.Sprintf("client: %s", e.Message)
}

func asClientError(err error) *ClientError {
	if ce, ok := err.(*ClientError); ok {
		return ce
	}
	return &ClientError{Message: err.Error()}
}
