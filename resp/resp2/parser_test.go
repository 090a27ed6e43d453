package resp2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feedAll drives chunks of size n through the parser and returns every
// reply collected across all feeds, in order.
func feedAll(t *testing.T, wire []byte, chunkSize int) []Reply {
	t.Helper()
	p := NewStreamParser()
	var all []Reply
	if chunkSize <= 0 {
		replies, err := p.Feed(wire)
		require.NoError(t, err)
		return replies
	}
	for i := 0; i < len(wire); i += chunkSize {
		end := i + chunkSize
		if end > len(wire) {
			end = len(wire)
		}
		replies, err := p.Feed(wire[i:end])
		require.NoError(t, err)
		all = append(all, replies...)
	}
	return all
}

func TestStreamParserWholeMessageAtOnce(t *testing.T) {
	wire := []byte("+OK\r\n")
	replies := feedAll(t, wire, 0)
	require.Len(t, replies, 1)
	assert.Equal(t, SimpleStringReply("OK"), replies[0])
}

// TestStreamParserArbitraryFragmentation is the §8 universal property:
// for any chunking of a valid RESP reply stream, the emitted sequence is
// identical to feeding it all at once.
func TestStreamParserArbitraryFragmentation(t *testing.T) {
	wire := []byte("*3\r\n$3\r\nfoo\r\n:42\r\n*2\r\n+OK\r\n$-1\r\n" + "+PONG\r\n" + ":7\r\n")

	whole := feedAll(t, wire, 0)

	for chunkSize := 1; chunkSize <= len(wire); chunkSize++ {
		got := feedAll(t, wire, chunkSize)
		require.Equal(t, whole, got, "chunk size %d produced a different reply sequence", chunkSize)
	}
}

func TestStreamParserSplitsInsideBulkBody(t *testing.T) {
	wire := []byte("$12\r\nhello\r\nworld\r\n")
	for i := 1; i < len(wire); i++ {
		p := NewStreamParser()
		first, err := p.Feed(wire[:i])
		require.NoError(t, err)
		second, err := p.Feed(wire[i:])
		require.NoError(t, err)
		all := append(first, second...)
		require.Len(t, all, 1)
		assert.Equal(t, []byte("hello\r\nworld"), all[0].Bulk)
	}
}

func TestStreamParserSplitInsideHeader(t *testing.T) {
	wire := []byte("$5\r\nhello\r\n")
	for i := 1; i < 4; i++ { // split somewhere inside "$5\r\n"
		p := NewStreamParser()
		first, err := p.Feed(wire[:i])
		require.NoError(t, err)
		assert.Empty(t, first)
		second, err := p.Feed(wire[i:])
		require.NoError(t, err)
		require.Len(t, second, 1)
		assert.Equal(t, []byte("hello"), second[0].Bulk)
	}
}

func TestStreamParserPipelinedRepliesInOneFeed(t *testing.T) {
	wire := []byte(":1\r\n:2\r\n:3\r\n")
	replies := feedAll(t, wire, 0)
	require.Len(t, replies, 3)
	assert.Equal(t, IntegerReply(1), replies[0])
	assert.Equal(t, IntegerReply(2), replies[1])
	assert.Equal(t, IntegerReply(3), replies[2])
}

func TestStreamParserNestedArraysAcrossFeeds(t *testing.T) {
	wire := []byte("*2\r\n*2\r\n:1\r\n:2\r\n*1\r\n$3\r\nfoo\r\n")
	for chunkSize := 1; chunkSize <= len(wire); chunkSize++ {
		replies := feedAll(t, wire, chunkSize)
		require.Len(t, replies, 1)
		want := ArrayReply([]Reply{
			ArrayReply([]Reply{IntegerReply(1), IntegerReply(2)}),
			ArrayReply([]Reply{BulkReply([]byte("foo"))}),
		})
		assert.Equal(t, want, replies[0])
	}
}

func TestStreamParserNilArrayAndNilBulkWithinArray(t *testing.T) {
	wire := []byte("*2\r\n*-1\r\n$-1\r\n")
	replies := feedAll(t, wire, 0)
	require.Len(t, replies, 1)
	want := ArrayReply([]Reply{NilArrayReply(), NilBulkReply()})
	assert.Equal(t, want, replies[0])
}

func TestStreamParserFatalOnUnknownPrefix(t *testing.T) {
	p := NewStreamParser()
	_, err := p.Feed([]byte("!bogus\r\n"))
	require.Error(t, err)

	// parser is dead: further feeds keep failing without progressing.
	_, err2 := p.Feed([]byte("+OK\r\n"))
	require.Error(t, err2)
}

func TestStreamParserFatalOnNonDecimalLength(t *testing.T) {
	p := NewStreamParser()
	_, err := p.Feed([]byte("$abc\r\n"))
	require.Error(t, err)
}

func TestStreamParserFatalOnBadNegativeLength(t *testing.T) {
	p := NewStreamParser()
	_, err := p.Feed([]byte("*-2\r\n"))
	require.Error(t, err)
}

func TestStreamParserFatalOnBadBulkTrailer(t *testing.T) {
	p := NewStreamParser()
	_, err := p.Feed([]byte("$3\r\nfooXX"))
	require.Error(t, err)
}
