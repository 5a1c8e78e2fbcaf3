// Package errs defines the error kinds shared across smrec.
//
// Kinds are sentinels matched with errors.Is. Startup kinds (config, device,
// transport) are fatal; session errors are reported back to control sources.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrConfig    = errors.New("config error")
	ErrDevice    = errors.New("device error")
	ErrTransport = errors.New("transport error")
	ErrSession   = errors.New("session error")
)

type kindError struct {
	kind error
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }

func (e *kindError) Unwrap() []error { return []error{e.kind, e.err} }

// Wrap tags err with kind. A nil err stays nil.
func Wrap(kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// Configf formats a ConfigError.
func Configf(format string, args ...any) error {
	return Wrap(ErrConfig, fmt.Errorf(format, args...))
}

// Devicef formats a DeviceError.
func Devicef(format string, args ...any) error {
	return Wrap(ErrDevice, fmt.Errorf(format, args...))
}

// Transportf formats a TransportError.
func Transportf(format string, args ...any) error {
	return Wrap(ErrTransport, fmt.Errorf(format, args...))
}

// Sessionf formats a SessionError.
func Sessionf(format string, args ...any) error {
	return Wrap(ErrSession, fmt.Errorf(format, args...))
}

// Kind returns a short label for the first known kind in err's chain.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, ErrDevice):
		return "device"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrSession):
		return "session"
	default:
		return "unknown"
	}
}
