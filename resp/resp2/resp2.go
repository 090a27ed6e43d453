// Package resp2 implements the RESP2 wire codec: §4.1 of the engine
// spec. It is split into two layers:
//
//   - this file: scalar Marshaler/Unmarshaler building blocks
//     (SimpleString, Error, Int, BulkString, Array headers, Any) used to
//     compose commands and to decode one-off values against a
//     bufio.Reader, plus the Reply tagged union (§3 data model);
//   - parser.go: the incremental, feed-based StreamParser that the
//     connection engine actually reads inbound bytes through, so that
//     fragmentation at an arbitrary byte boundary never blocks the
//     event loop waiting for more data to arrive on a blocking Reader.
//
// The scalar types here are deliberately tiny structs implementing
// resp.Marshaler/resp.Unmarshaler, the way github.com/mediocregopher/radix's
// resp2 package does it: no reflection, no interface{} tree by default.
package resp2

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/vikram-suki/redisasync/resp"
)

var crlf = []byte{'\r', '\n'}

// ErrNil is returned by convenience accessors when a BulkString or Array
// reply is the RESP nil value.
var ErrNil = errors.New("resp2: nil reply")

////////////////////////////////////////////////////////////////////////////
// Scalar marshal/unmarshal building blocks.
////////////////////////////////////////////////////////////////////////////

// SimpleString is a `+...\r\n` value.
type SimpleString struct {
	S string
}

func (ss SimpleString) MarshalRESP(w io.Writer) error {
	_, err := fmt.Fprintf(w, "+%s\r\n", ss.S)
	return err
}

func (ss *SimpleString) UnmarshalRESP(br *bufio.Reader) error {
	b, err := readLine(br, '+')
	if err != nil {
		return err
	}
	ss.S = string(b)
	return nil
}

// Error is a `-...\r\n` value. The payload is kept as raw bytes; callers
// that want the {kind, message} split described in §4.3 use SplitError.
type Error struct {
	S string
}

func (e Error) MarshalRESP(w io.Writer) error {
	_, err := fmt.Fprintf(w, "-%s\r\n", e.S)
	return err
}

func (e *Error) UnmarshalRESP(br *bufio.Reader) error {
	b, err := readLine(br, '-')
	if err != nil {
		return err
	}
	e.S = string(b)
	return nil
}

// SplitError splits a RESP error payload into its kind token (the first
// whitespace-delimited word, e.g. "WRONGTYPE") and the remaining message,
// per §4.3's dispatch rule for Error replies.
func SplitError(s string) (kind, msg string) {
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			return s[:i], s[i+1:]
		}
	}
	return s, ""
}

// Int is a `:...\r\n` value.
type Int struct {
	I int64
}

func (i Int) MarshalRESP(w io.Writer) error {
	_, err := fmt.Fprintf(w, ":%d\r\n", i.I)
	return err
}

func (i *Int) UnmarshalRESP(br *bufio.Reader) error {
	b, err := readLine(br, ':')
	if err != nil {
		return err
	}
	n, err := parseInt(b)
	if err != nil {
		return err
	}
	i.I = n
	return nil
}

// BulkString is a `$...\r\n...\r\n` value built from a string. Use
// BulkStringBytes for raw byte payloads (e.g. published messages) to
// avoid a string copy.
type BulkString struct {
	S string
}

func (bs BulkString) MarshalRESP(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "$%d\r\n", len(bs.S)); err != nil {
		return err
	}
	if _, err := io.WriteString(w, bs.S); err != nil {
		return err
	}
	_, err := w.Write(crlf)
	return err
}

// BulkStringBytes is the []byte analogue of BulkString. A nil B encodes
// the RESP nil bulk string ($-1); non-nil-but-empty encodes $0.
type BulkStringBytes struct {
	B []byte
}

func (bs BulkStringBytes) MarshalRESP(w io.Writer) error {
	if bs.B == nil {
		_, err := io.WriteString(w, "$-1\r\n")
		return err
	}
	if _, err := fmt.Fprintf(w, "$%d\r\n", len(bs.B)); err != nil {
		return err
	}
	if _, err := w.Write(bs.B); err != nil {
		return err
	}
	_, err := w.Write(crlf)
	return err
}

func (bs *BulkStringBytes) UnmarshalRESP(br *bufio.Reader) error {
	b, err := readLine(br, '$')
	if err != nil {
		return err
	}
	n, err := parseInt(b)
	if err != nil {
		return err
	}
	if n < -1 {
		return fmt.Errorf("resp2: illegal bulk string length %d", n)
	}
	if n == -1 {
		bs.B = nil
		return nil
	}
	body := make([]byte, n+2)
	if _, err := io.ReadFull(br, body); err != nil {
		return err
	}
	if body[n] != '\r' || body[n+1] != '\n' {
		return errors.New("resp2: bulk string missing trailing CRLF")
	}
	bs.B = body[:n:n]
	return nil
}

// ArrayHeader writes only the `*N\r\n` prefix of an array; the caller is
// responsible for marshaling exactly N further values. Used to compose
// heterogeneous arrays (like a pub/sub push message) without building an
// intermediate []Reply.
type ArrayHeader struct {
	N int
}

func (ah ArrayHeader) MarshalRESP(w io.Writer) error {
	_, err := fmt.Fprintf(w, "*%d\r\n", ah.N)
	return err
}

// Any unmarshals a RESP value of any of the five types into the value I
// points to: a SimpleString or BulkString into a *[]byte or *string, an
// Int into an *int64 (or, as decimal text, into a *[]byte or *string),
// and an Array of bulk strings into a *[][]byte. Any other array
// destination is rejected with an error. An Error reply is returned as
// the unmarshal error rather than assigned. It exists for callers
// decoding a reply whose shape is known structurally but not worth a
// dedicated struct.
type Any struct {
	I interface{}
}

func (a Any) UnmarshalRESP(br *bufio.Reader) error {
	prefix, err := br.Peek(1)
	if err != nil {
		return err
	}
	switch prefix[0] {
	case '*':
		return a.unmarshalArray(br)
	case '$':
		var bs BulkStringBytes
		if err := bs.UnmarshalRESP(br); err != nil {
			return err
		}
		return assignBytes(a.I, bs.B)
	case '+':
		var ss SimpleString
		if err := ss.UnmarshalRESP(br); err != nil {
			return err
		}
		return assignBytes(a.I, []byte(ss.S))
	case ':':
		var n Int
		if err := n.UnmarshalRESP(br); err != nil {
			return err
		}
		if p, ok := a.I.(*int64); ok {
			*p = n.I
			return nil
		}
		return assignBytes(a.I, []byte(strconv.FormatInt(n.I, 10)))
	case '-':
		var e Error
		if err := e.UnmarshalRESP(br); err != nil {
			return err
		}
		return errors.New(e.S)
	default:
		return fmt.Errorf("resp2: unknown reply prefix %q", prefix[0])
	}
}

func (a Any) unmarshalArray(br *bufio.Reader) error {
	b, err := readLine(br, '*')
	if err != nil {
		return err
	}
	n, err := parseInt(b)
	if err != nil {
		return err
	}
	switch dst := a.I.(type) {
	case *[][]byte:
		if n == -1 {
			*dst = nil
			return nil
		}
		out := make([][]byte, n)
		for i := range out {
			var bs BulkStringBytes
			if err := bs.UnmarshalRESP(br); err != nil {
				return err
			}
			out[i] = bs.B
		}
		*dst = out
		return nil
	default:
		return fmt.Errorf("resp2: Any does not support array destination %T", a.I)
	}
}

func assignBytes(dst interface{}, b []byte) error {
	switch d := dst.(type) {
	case *[]byte:
		*d = b
		return nil
	case *string:
		*d = string(b)
		return nil
	default:
		return fmt.Errorf("resp2: cannot assign bulk/simple string into %T", dst)
	}
}

// RawMessage holds one undecoded top-level RESP value, read byte-exact so
// it can be re-unmarshaled into a specific type later (UnmarshalInto).
// Mirrors encoding/json.RawMessage.
type RawMessage []byte

func (rm *RawMessage) UnmarshalRESP(br *bufio.Reader) error {
	var buf bytes.Buffer
	if err := copyOneValue(br, &buf); err != nil {
		return err
	}
	*rm = buf.Bytes()
	return nil
}

func (rm RawMessage) MarshalRESP(w io.Writer) error {
	_, err := w.Write(rm)
	return err
}

// UnmarshalInto decodes the raw value into dst.
func (rm RawMessage) UnmarshalInto(dst resp.Unmarshaler) error {
	return dst.UnmarshalRESP(bufio.NewReader(bytes.NewReader(rm)))
}

// copyOneValue reads exactly one RESP value from br, writing its bytes to
// dst, without interpreting it beyond what's needed to know its extent.
func copyOneValue(br *bufio.Reader, dst *bytes.Buffer) error {
	line, err := br.ReadBytes('\n')
	if err != nil {
		return err
	}
	dst.Write(line)
	if len(line) < 3 || line[len(line)-2] != '\r' {
		return errors.New("resp2: malformed line (missing CRLF)")
	}
	body := line[:len(line)-2]

	switch body[0] {
	case '+', '-', ':':
		return nil
	case '$':
		n, err := parseInt(body[1:])
		if err != nil {
			return err
		}
		if n == -1 {
			return nil
		}
		buf := make([]byte, n+2)
		if _, err := io.ReadFull(br, buf); err != nil {
			return err
		}
		dst.Write(buf)
		return nil
	case '*':
		n, err := parseInt(body[1:])
		if err != nil {
			return err
		}
		for i := int64(0); i < n; i++ {
			if err := copyOneValue(br, dst); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("resp2: unknown reply prefix %q", body[0])
	}
}

////////////////////////////////////////////////////////////////////////////
// Reply: the §3 tagged-union data model.
////////////////////////////////////////////////////////////////////////////

// Kind tags which of the five RESP2 reply shapes a Reply holds.
type Kind byte

const (
	KindSimpleString Kind = '+'
	KindError        Kind = '-'
	KindInteger      Kind = ':'
	KindBulkString   Kind = '$'
	KindArray        Kind = '*'
)

// Reply is the closed tagged variant described in §3: exactly one of the
// five RESP2 shapes, with Null distinguishing an absent BulkString/Array
// ($-1 / *-1) from an empty one ($0 / *0).
type Reply struct {
	Kind  Kind
	Str   []byte // SimpleString payload, or Error payload
	Int   int64
	Bulk  []byte
	Array []Reply
	Null  bool
}

// IsNil reports whether r is a nil bulk string or nil array.
func (r Reply) IsNil() bool { return r.Null }

// SimpleStringReply builds a SimpleString reply value.
func SimpleStringReply(s string) Reply { return Reply{Kind: KindSimpleString, Str: []byte(s)} }

// ErrorReply builds an Error reply value.
func ErrorReply(s string) Reply { return Reply{Kind: KindError, Str: []byte(s)} }

// IntegerReply builds an Integer reply value.
func IntegerReply(i int64) Reply { return Reply{Kind: KindInteger, Int: i} }

// BulkReply builds a non-nil BulkString reply value. A nil b (as opposed
// to an empty, non-nil b) still produces a non-nil Reply; use NilBulkReply
// for the RESP $-1 value.
func BulkReply(b []byte) Reply {
	if b == nil {
		b = []byte{}
	}
	return Reply{Kind: KindBulkString, Bulk: b}
}

// NilBulkReply builds the RESP $-1 value.
func NilBulkReply() Reply { return Reply{Kind: KindBulkString, Null: true} }

// ArrayReply builds a non-nil Array reply value.
func ArrayReply(items []Reply) Reply {
	if items == nil {
		items = []Reply{}
	}
	return Reply{Kind: KindArray, Array: items}
}

// NilArrayReply builds the RESP *-1 value.
func NilArrayReply() Reply { return Reply{Kind: KindArray, Null: true} }

// MarshalRESP lets a Reply round-trip back onto the wire; used by tests
// and by in-process mock servers.
func (r Reply) MarshalRESP(w io.Writer) error {
	switch r.Kind {
	case KindSimpleString:
		return SimpleString{S: string(r.Str)}.MarshalRESP(w)
	case KindError:
		return Error{S: string(r.Str)}.MarshalRESP(w)
	case KindInteger:
		return Int{I: r.Int}.MarshalRESP(w)
	case KindBulkString:
		if r.Null {
			return BulkStringBytes{B: nil}.MarshalRESP(w)
		}
		return BulkStringBytes{B: r.Bulk}.MarshalRESP(w)
	case KindArray:
		if r.Null {
			_, err := io.WriteString(w, "*-1\r\n")
			return err
		}
		if err := (ArrayHeader{N: len(r.Array)}).MarshalRESP(w); err != nil {
			return err
		}
		for _, item := range r.Array {
			if err := item.MarshalRESP(w); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("resp2: reply has unknown kind %q", byte(r.Kind))
	}
}

// UnmarshalRESP decodes exactly one reply, recursively, from br. This is
// the non-streaming counterpart to StreamParser: convenient for tests and
// for one-shot decodes against an io.Reader that already blocks for more
// data (as opposed to the connection engine's push-based byte feed).
func (r *Reply) UnmarshalRESP(br *bufio.Reader) error {
	b, err := br.ReadByte()
	if err != nil {
		return err
	}
	switch b {
	case '+':
		line, err := readRestOfLine(br)
		if err != nil {
			return err
		}
		*r = Reply{Kind: KindSimpleString, Str: line}
		return nil
	case '-':
		line, err := readRestOfLine(br)
		if err != nil {
			return err
		}
		*r = Reply{Kind: KindError, Str: line}
		return nil
	case ':':
		line, err := readRestOfLine(br)
		if err != nil {
			return err
		}
		n, err := parseInt(line)
		if err != nil {
			return err
		}
		*r = Reply{Kind: KindInteger, Int: n}
		return nil
	case '$':
		line, err := readRestOfLine(br)
		if err != nil {
			return err
		}
		n, err := parseInt(line)
		if err != nil {
			return err
		}
		if n < -1 {
			return fmt.Errorf("resp2: illegal bulk string length %d", n)
		}
		if n == -1 {
			*r = Reply{Kind: KindBulkString, Null: true}
			return nil
		}
		body := make([]byte, n+2)
		if _, err := io.ReadFull(br, body); err != nil {
			return err
		}
		if body[n] != '\r' || body[n+1] != '\n' {
			return errors.New("resp2: bulk string missing trailing CRLF")
		}
		*r = Reply{Kind: KindBulkString, Bulk: body[:n:n]}
		return nil
	case '*':
		line, err := readRestOfLine(br)
		if err != nil {
			return err
		}
		n, err := parseInt(line)
		if err != nil {
			return err
		}
		if n < -1 {
			return fmt.Errorf("resp2: illegal array length %d", n)
		}
		if n == -1 {
			*r = Reply{Kind: KindArray, Null: true}
			return nil
		}
		items := make([]Reply, n)
		for i := range items {
			if err := items[i].UnmarshalRESP(br); err != nil {
				return err
			}
		}
		*r = Reply{Kind: KindArray, Array: items}
		return nil
	default:
		return fmt.Errorf("resp2: unknown reply prefix %q", b)
	}
}

func readRestOfLine(br *bufio.Reader) ([]byte, error) {
	line, err := br.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, errors.New("resp2: malformed line (missing CRLF)")
	}
	return line[:len(line)-2], nil
}

func readLine(br *bufio.Reader, want byte) ([]byte, error) {
	b, err := br.ReadByte()
	if err != nil {
		return nil, err
	}
	if b != want {
		return nil, fmt.Errorf("resp2: expected prefix %q, got %q", want, b)
	}
	return readRestOfLine(br)
}

func parseInt(b []byte) (int64, error) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("resp2: illegal integer field %q: %w", b, err)
	}
	return n, nil
}

////////////////////////////////////////////////////////////////////////////
// Command encoding — §4.1 "Encoding (client → server)".
////////////////////////////////////////////////////////////////////////////

// Command is a RESP command: an array of bulk strings. Arguments are
// treated as raw bytes; the encoder never escapes or validates them, so
// arguments containing CR, LF, or NUL round-trip untouched.
type Command [][]byte

func (c Command) MarshalRESP(w io.Writer) error {
	if err := (ArrayHeader{N: len(c)}).MarshalRESP(w); err != nil {
		return err
	}
	for _, arg := range c {
		if err := (BulkStringBytes{B: arg}).MarshalRESP(w); err != nil {
			return err
		}
	}
	return nil
}

// NewCommand builds a Command from a name and string arguments; a
// convenience for call sites that don't need FlatCmd's typed flattening
// (see cmd.go).
func NewCommand(name string, args ...string) Command {
	c := make(Command, 0, len(args)+1)
	c = append(c, []byte(name))
	for _, a := range args {
		c = append(c, []byte(a))
	}
	return c
}
