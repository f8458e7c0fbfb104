package terminal

import "io"

// Stream is a duplex byte stream that can also be resized. The SSH shell
// channel, local pseudo-terminals and container exec sessions all satisfy it.
//
// Once attached, a Stream is owned by the Manager: the read pump is the only
// reader, writes are serialized per terminal, and Close is called exactly once
// when the terminal is destroyed.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
	SetWindowSize(rows, cols uint16) error
}

// Flusher is implemented by streams that buffer writes.
type Flusher interface {
	Flush() error
}
