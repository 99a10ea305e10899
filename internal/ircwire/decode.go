// Package ircwire handles the byte-level quirks of IRC server traffic.
//
// IRC predates any encoding agreement, so servers emit a mix of UTF-8 and
// Latin-1. Decode prefers UTF-8 and falls back to ISO 8859-1, which is how
// most long-lived networks behave in practice.
package ircwire

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Decode converts a raw protocol line to a string. Valid UTF-8 passes through
// untouched; anything else is re-read as ISO 8859-1. A failure of both
// attempts is fatal to the connection the line arrived on, so the error must
// not be swallowed by callers.
func Decode(raw []byte) (string, error) {
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("decode line as utf-8 or iso-8859-1: %w", err)
	}
	return string(decoded), nil
}
