package resp2

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandMarshalRESP(t *testing.T) {
	var buf bytes.Buffer
	cmd := NewCommand("SET", "foo", "bar")
	require.NoError(t, cmd.MarshalRESP(&buf))
	assert.Equal(t, "*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n", buf.String())
}

func TestCommandToleratesBinaryArguments(t *testing.T) {
	var buf bytes.Buffer
	weird := []byte("line1\r\nline2\x00tail")
	cmd := Command{[]byte("SET"), []byte("k"), weird}
	require.NoError(t, cmd.MarshalRESP(&buf))

	var r Reply
	require.NoError(t, r.UnmarshalRESP(bufio.NewReader(&buf)))
	require.Equal(t, KindArray, r.Kind)
	require.Len(t, r.Array, 3)
	assert.Equal(t, weird, r.Array[2].Bulk)
}

func TestReplyUnmarshalRESP(t *testing.T) {
	cases := []struct {
		name string
		wire string
		want Reply
	}{
		{"simple string", "+OK\r\n", SimpleStringReply("OK")},
		{"error", "-ERR boom\r\n", ErrorReply("ERR boom")},
		{"integer", ":1000\r\n", IntegerReply(1000)},
		{"negative integer", ":-1000\r\n", IntegerReply(-1000)},
		{"int64 max", ":9223372036854775807\r\n", IntegerReply(9223372036854775807)},
		{"int64 min", ":-9223372036854775808\r\n", IntegerReply(-9223372036854775808)},
		{"bulk string", "$3\r\nbar\r\n", BulkReply([]byte("bar"))},
		{"empty bulk string", "$0\r\n\r\n", BulkReply([]byte{})},
		{"nil bulk string", "$-1\r\n", NilBulkReply()},
		{"empty array", "*0\r\n", ArrayReply(nil)},
		{"nil array", "*-1\r\n", NilArrayReply()},
		{
			"nested array", "*2\r\n*1\r\n:1\r\n$3\r\nfoo\r\n",
			ArrayReply([]Reply{
				ArrayReply([]Reply{IntegerReply(1)}),
				BulkReply([]byte("foo")),
			}),
		},
		{
			"bulk string with embedded CRLF", "$8\r\nfoo\r\nbar\r\n",
			BulkReply([]byte("foo\r\nbar")),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got Reply
			err := got.UnmarshalRESP(bufio.NewReader(bytes.NewBufferString(tc.wire)))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestReplyRoundTrip(t *testing.T) {
	// encode(parse(encode(cmd))) preserves the argument sequence (§8).
	cmd := NewCommand("MSET", "a", "1", "b", "2")
	var buf bytes.Buffer
	require.NoError(t, cmd.MarshalRESP(&buf))

	var r Reply
	require.NoError(t, r.UnmarshalRESP(bufio.NewReader(&buf)))

	var reencoded bytes.Buffer
	require.NoError(t, r.MarshalRESP(&reencoded))

	var buf2 bytes.Buffer
	require.NoError(t, cmd.MarshalRESP(&buf2))
	assert.Equal(t, buf2.String(), reencoded.String())
}

func TestNilBulkDistinctFromEmptyBulk(t *testing.T) {
	var nilReply, emptyReply Reply
	require.NoError(t, nilReply.UnmarshalRESP(bufio.NewReader(bytes.NewBufferString("$-1\r\n"))))
	require.NoError(t, emptyReply.UnmarshalRESP(bufio.NewReader(bytes.NewBufferString("$0\r\n\r\n"))))

	assert.True(t, nilReply.IsNil())
	assert.False(t, emptyReply.IsNil())
	assert.Equal(t, []byte{}, emptyReply.Bulk)
}

func TestEmptyArrayDistinctFromNilArray(t *testing.T) {
	var empty, nilArr Reply
	require.NoError(t, empty.UnmarshalRESP(bufio.NewReader(bytes.NewBufferString("*0\r\n"))))
	require.NoError(t, nilArr.UnmarshalRESP(bufio.NewReader(bytes.NewBufferString("*-1\r\n"))))

	assert.False(t, empty.IsNil())
	assert.Len(t, empty.Array, 0)
	assert.True(t, nilArr.IsNil())
}

func TestUnmarshalRejectsUnknownPrefix(t *testing.T) {
	var r Reply
	err := r.UnmarshalRESP(bufio.NewReader(bytes.NewBufferString("!nope\r\n")))
	assert.Error(t, err)
}

func TestUnmarshalRejectsBadLengthField(t *testing.T) {
	var r Reply
	err := r.UnmarshalRESP(bufio.NewReader(bytes.NewBufferString("$abc\r\nxyz\r\n")))
	assert.Error(t, err)
}

func TestUnmarshalRejectsNegativeLengthOtherThanNegOne(t *testing.T) {
	var r Reply
	err := r.UnmarshalRESP(bufio.NewReader(bytes.NewBufferString("$-2\r\n")))
	assert.Error(t, err)
}

func TestUnmarshalRejectsMissingBulkTrailer(t *testing.T) {
	var r Reply
	err := r.UnmarshalRESP(bufio.NewReader(bytes.NewBufferString("$3\r\nbarXX")))
	assert.Error(t, err)
}

func TestSplitError(t *testing.T) {
	kind, msg := SplitError("WRONGTYPE Operation against a key holding the wrong kind of value")
	assert.Equal(t, "WRONGTYPE", kind)
	assert.Equal(t, "Operation against a key holding the wrong kind of value", msg)

	kind, msg = SplitError("ERR")
	assert.Equal(t, "ERR", kind)
	assert.Equal(t, "", msg)
}

func TestRawMessageUnmarshalInto(t *testing.T) {
	var rm RawMessage
	require.NoError(t, rm.UnmarshalRESP(bufio.NewReader(bytes.NewBufferString("*3\r\n$7\r\nmessage\r\n$3\r\nfoo\r\n$3\r\nbar\r\n"))))

	var bb [][]byte
	require.NoError(t, rm.UnmarshalInto(&Any{I: &bb}))
	require.Len(t, bb, 3)
	assert.Equal(t, "message", string(bb[0]))
	assert.Equal(t, "foo", string(bb[1]))
	assert.Equal(t, "bar", string(bb[2]))
}
