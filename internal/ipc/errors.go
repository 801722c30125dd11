package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// ErrConnectionClosed means the peer closed the connection before sending a
// complete message.
var ErrConnectionClosed = errors.New("connection closed by peer")

// ErrorKind classifies a transport failure.
type ErrorKind int

const (
	// KindDaemonUnavailable: the socket is missing or nothing is listening.
	KindDaemonUnavailable ErrorKind = iota + 1
	// KindTimeout: a connect, read or write deadline passed.
	KindTimeout
	// KindProtocol: the peer sent something that is not a valid message.
	KindProtocol
	// KindIO: any other socket failure.
	KindIO
)

func (k ErrorKind) String() string {
	switch k {
	case KindDaemonUnavailable:
		return "daemon unavailable"
	case KindTimeout:
		return "timeout"
	case KindProtocol:
		return "protocol error"
	case KindIO:
		return "i/o error"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is returned by every client and server operation that fails at the
// transport layer.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ipc %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether trying again could succeed.
func (e *Error) Retryable() bool {
	return e.Kind != KindProtocol
}

// IsRetryable reports whether err is a retryable transport error.
func IsRetryable(err error) bool {
	var ipcErr *Error
	if errors.As(err, &ipcErr) {
		return ipcErr.Retryable()
	}
	return false
}

// IsKind reports whether err is a transport error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ipcErr *Error
	return errors.As(err, &ipcErr) && ipcErr.Kind == kind
}

// IsUnavailable reports whether the daemon could not be reached at all.
func IsUnavailable(err error) bool { return IsKind(err, KindDaemonUnavailable) }

// IsTimeout reports whether the exchange ran out of time.
func IsTimeout(err error) bool { return IsKind(err, KindTimeout) }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ipcErr *Error
	if errors.As(err, &ipcErr) {
		return err
	}
	return &Error{Kind: classify(err), Op: op, Err: err}
}

func classify(err error) ErrorKind {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		netErr    net.Error
	)
	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ENOENT),
		errors.Is(err, os.ErrNotExist):
		return KindDaemonUnavailable
	case errors.Is(err, os.ErrDeadlineExceeded):
		return KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return KindTimeout
	case errors.As(err, &syntaxErr),
		errors.As(err, &typeErr),
		errors.Is(err, ErrUnknownCommand),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, errMessageTooLarge),
		errors.Is(err, errTruncatedMessage):
		return KindProtocol
	}
	return KindIO
}
