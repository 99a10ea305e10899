// Package lineproto splits raw byte streams into newline-delimited lines.
//
// The Framer is shared by every connection type the daemon owns: IRC network
// sockets and control sessions both feed it raw reads and consume complete
// lines. It carries no protocol knowledge of its own.
package lineproto

import "bytes"

// Framer accumulates bytes and emits complete lines split on '\n'. The final,
// possibly incomplete, fragment is retained until more bytes arrive.
//
// The internal buffer is unbounded: a peer that never sends a newline grows it
// without limit. That matches the wire contract this daemon speaks and is a
// known resource-exhaustion exposure rather than an oversight.
type Framer struct {
	buf []byte
}

// Feed appends p to the buffer and returns every complete line it now holds,
// in arrival order. Each returned line has trailing whitespace and carriage
// returns stripped.
func (f *Framer) Feed(p []byte) []string {
	f.buf = append(f.buf, p...)

	idx := bytes.IndexByte(f.buf, '\n')
	if idx < 0 {
		return nil
	}

	var lines []string
	rest := f.buf
	for idx >= 0 {
		lines = append(lines, string(bytes.TrimRight(rest[:idx], " \t\r")))
		rest = rest[idx+1:]
		idx = bytes.IndexByte(rest, '\n')
	}
	f.buf = append(f.buf[:0], rest...)
	return lines
}

// Pending reports how many buffered bytes await a terminating newline.
func (f *Framer) Pending() int {
	return len(f.buf)
}
