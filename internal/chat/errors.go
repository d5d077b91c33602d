package chat

import "errors"

var (
	// ErrConnClosed is returned by Conn.Send once the connection is closed.
	ErrConnClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned by Conn.Send when the outbound queue of a
	// connection has no room left; the frame is dropped for that connection.
	ErrSendBufferFull = errors.New("send buffer full")
)
