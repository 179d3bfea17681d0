// Package broker implements the AMQP 0-9-1 server side: connection
// handshake, channel multiplexing, exchange and queue actors, and the
// routing between them.
package broker

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/relaymq/relaymq/internal/frames"
)

var (
	errDuplicateConsumerTag = errors.New("broker: consumer tag already in use on this queue")
	errUnknownConsumerTag   = errors.New("broker: unknown consumer tag")
)

// Scope identifies how far a RuntimeError's damage reaches.
type Scope int

const (
	// ScopeChannel closes only the offending channel; the connection and
	// its other channels continue operating.
	ScopeChannel Scope = iota
	// ScopeConnection closes the whole connection.
	ScopeConnection
)

// Numeric reply codes, values per the AMQP 0-9-1 spec's constant table.
const (
	CodeNotFound          uint16 = 404
	CodePreconditionFailed uint16 = 406
	CodeChannelError      uint16 = 504
	CodeUnexpectedFrame   uint16 = 505
	CodeNotImplemented    uint16 = 540
	CodeNotAllowed        uint16 = 530
)

// RuntimeError is the single error type the connection state machine
// converts into a connection.close or channel.close frame. It names the
// class/method that triggered it, following the (class_method) field the
// client driver's ClientError carries; errors raised for a content frame
// or an unopened channel carry class-method 0.0.
type RuntimeError struct {
	Scope           Scope
	Code            uint16
	Text            string
	FailingClassID  uint16
	FailingMethodID uint16
	Cause           error
}

func (e *RuntimeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (code %d, class-method %d.%d): %v", e.Text, e.Code, e.FailingClassID, e.FailingMethodID, e.Cause)
	}
	return fmt.Sprintf("%s (code %d, class-method %d.%d)", e.Text, e.Code, e.FailingClassID, e.FailingMethodID)
}

func (e *RuntimeError) Unwrap() error { return e.Cause }

func newChannelError(code uint16, classID, methodID uint16, text string) *RuntimeError {
	return &RuntimeError{Scope: ScopeChannel, Code: code, Text: text, FailingClassID: classID, FailingMethodID: methodID}
}

func newConnectionError(code uint16, classID, methodID uint16, text string) *RuntimeError {
	return &RuntimeError{Scope: ScopeConnection, Code: code, Text: text, FailingClassID: classID, FailingMethodID: methodID}
}

// wrapf attaches a non-protocol cause (a codec error, an I/O error) to a
// connection-scoped RuntimeError, matching the teacher's habit of
// wrapping causes with pkg/errors rather than losing them to a plain
// string.
func wrapf(cause error, code uint16, classID, methodID uint16, format string, args ...interface{}) *RuntimeError {
	return &RuntimeError{
		Scope:           ScopeConnection,
		Code:            code,
		Text:            fmt.Sprintf(format, args...),
		FailingClassID:  classID,
		FailingMethodID: methodID,
		Cause:           errors.WithStack(cause),
	}
}

// toCloseMethod converts a RuntimeError into the wire method that
// communicates it: connection.close for connection-scoped errors,
// channel.close otherwise.
func (e *RuntimeError) toCloseMethod() frames.Method {
	if e.Scope == ScopeConnection {
		return &frames.ConnectionClose{
			ReplyCode:       e.Code,
			ReplyText:       e.Text,
			FailingClassID:  e.FailingClassID,
			FailingMethodID: e.FailingMethodID,
		}
	}
	return &frames.ChannelClose{
		ReplyCode:       e.Code,
		ReplyText:       e.Text,
		FailingClassID:  e.FailingClassID,
		FailingMethodID: e.FailingMethodID,
	}
}
