// Package resp describes the wire-level contract shared by the RESP
// codec implementations. resp2 is the only concrete implementation; the
// split exists so that a future RESP3 codec can live alongside it without
// disturbing callers that only know about Marshaler/Unmarshaler.
package resp

import (
	"bufio"
	"io"
)

// Marshaler is implemented by anything that can write itself onto the
// wire in RESP form. Commands, and any reply type a caller wants to
// encode for testing, implement this.
type Marshaler interface {
	MarshalRESP(w io.Writer) error
}

// Unmarshaler is implemented by anything that can read itself back off a
// RESP stream. Unlike encoding/json, there is no intermediate tree
// required: an Unmarshaler reads exactly the bytes that make up its
// value from br and leaves the reader positioned after them.
type Unmarshaler interface {
	UnmarshalRESP(br *bufio.Reader) error
}

// LenReader is implemented by values whose RESP encoding requires
// knowing their length up front (bulk strings, arrays). resp2 does not
// use it; its encoders take the length from the value itself.
type LenReader interface {
	io.Reader
	Len() int
}
