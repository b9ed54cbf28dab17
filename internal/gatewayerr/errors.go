// Package gatewayerr realizes the connection-level error taxonomy: fatal
// errors terminate a connection, non-fatal errors are logged and the
// connection continues.
package gatewayerr

import "fmt"

// Fatal wraps an error that must terminate the connection.
type Fatal struct {
	Code string
	Err  error
}

func (f *Fatal) Error() string {
	if f.Err == nil {
		return f.Code
	}
	return fmt.Sprintf("%s: %v", f.Code, f.Err)
}

func (f *Fatal) Unwrap() error { return f.Err }

// NonFatal wraps an error that is logged but does not terminate the
// connection.
type NonFatal struct {
	Code string
	Err  error
}

func (n *NonFatal) Error() string {
	if n.Err == nil {
		return n.Code
	}
	return fmt.Sprintf("%s: %v", n.Code, n.Err)
}

func (n *NonFatal) Unwrap() error { return n.Err }

// Fatal error codes.
const (
	CodeWebSocketError                      = "WEBSOCKET_ERROR"
	CodeUnexpectedClose                     = "UNEXPECTED_CLOSE"
	CodeUnsupportedProtocol                 = "UNSUPPORTED_PROTOCOL"
	CodeUnexpectedNatsSubscriptionTerminate = "UNEXPECTED_NATS_SUBSCRIPTION_TERMINATE"
	CodeForbidden                           = "FORBIDDEN"
)

// Non-fatal error codes.
const (
	CodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	CodeDatabaseError     = "DATABASE_ERROR"
	CodePublishError      = "PUBLISH_ERROR"
)

// NewFatal builds a Fatal with the given code wrapping err (which may be nil).
func NewFatal(code string, err error) *Fatal { return &Fatal{Code: code, Err: err} }

// NewNonFatal builds a NonFatal with the given code wrapping err.
func NewNonFatal(code string, err error) *NonFatal { return &NonFatal{Code: code, Err: err} }

// Forbiddenf builds the Fatal.Forbidden variant used whenever a caller's
// role does not permit the operation (NotInConversation, or anything but
// Choosee for RegisterPresenceChoosee), before any I/O has been issued.
func Forbiddenf(format string, args ...interface{}) *Fatal {
	return &Fatal{Code: CodeForbidden, Err: fmt.Errorf(format, args...)}
}
