package ipc

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"time"
)

const (
	// MaxMessageSize bounds a single request or response on the wire.
	MaxMessageSize = 4096
	// DefaultTimeout bounds every read and write of one exchange.
	DefaultTimeout = 5 * time.Second
)

var (
	errMessageTooLarge  = errors.New("message exceeds 4096 bytes")
	errTruncatedMessage = errors.New("message ended before a complete JSON object")
)

// readMessage decodes one JSON object from conn. The connection boundary is
// the message boundary, so no length prefix is read.
func readMessage(conn net.Conn, v any, timeout time.Duration) error {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}

	limited := &io.LimitedReader{R: conn, N: MaxMessageSize}
	if err := json.NewDecoder(limited).Decode(v); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return ErrConnectionClosed
		case errors.Is(err, io.ErrUnexpectedEOF) && limited.N == 0:
			return errMessageTooLarge
		case errors.Is(err, io.ErrUnexpectedEOF):
			return errTruncatedMessage
		}
		return err
	}
	return nil
}

// writeMessage encodes v as a single JSON object without a trailing newline.
func writeMessage(conn net.Conn, v any, timeout time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if len(data) > MaxMessageSize {
		return errMessageTooLarge
	}
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	_, err = conn.Write(data)
	return err
}
