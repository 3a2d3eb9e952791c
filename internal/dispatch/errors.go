package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration matches every *ConfigurationError.
	ErrConfiguration = errors.New("email configuration error")

	// ErrTransport matches every *TransportError.
	ErrTransport = errors.New("email transport error")
)

// ConfigurationError reports a required setting that is empty at send time.
// No request has been made when it is returned.
type ConfigurationError struct {
	// Field is the human name of the value, e.g. "sender address".
	Field string
	// Setting is the configuration key that supplies it, e.g. "EMAIL_FROM".
	Setting string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s is not set: %s is empty", e.Field, e.Setting)
}

// Is reports whether target is ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// TransportError reports a failed submission: the provider was unreachable,
// rejected the credential, or rejected the request.
type TransportError struct {
	Transport string
	// StatusCode is the provider's HTTP status when one was received, else 0.
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport: %v", e.Transport, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrTransport.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// httpStatusCoder is implemented by transport.StatusError and by AWS
// response errors.
type httpStatusCoder interface {
	HTTPStatusCode() int
}

func statusCodeOf(err error) int {
	var coder httpStatusCoder
	if errors.As(err, &coder) {
		return coder.HTTPStatusCode()
	}
	return 0
}
