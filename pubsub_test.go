package redisasync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeDeliversMessagesAndUnsubscribeCloses(t *testing.T) {
	e, fs := newTestEngine(t, Config{})

	handles, err := e.Subscribe("news", "weather")
	require.NoError(t, err)
	require.Len(t, handles, 2)

	fs.awaitReceived(t, "SUBSCRIBE")
	fs.send(t, "*3\r\n$9\r\nsubscribe\r\n$4\r\nnews\r\n:1\r\n")
	fs.send(t, "*3\r\n$9\r\nsubscribe\r\n$7\r\nweather\r\n:2\r\n")

	news, weather := handles[0], handles[1]
	assert.Equal(t, "news", news.Name)
	assert.Equal(t, "weather", weather.Name)

	fs.send(t, "*3\r\n$7\r\nmessage\r\n$4\r\nnews\r\n$5\r\nhello\r\n")

	select {
	case m := <-news.Messages():
		assert.Equal(t, MessageTypeMessage, m.Type)
		assert.Equal(t, "news", m.Channel)
		assert.Equal(t, "hello", string(m.Payload))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}

	require.NoError(t, e.Unsubscribe("news"))
	fs.awaitReceived(t, "UNSUBSCRIBE")
	fs.send(t, "*3\r\n$11\r\nunsubscribe\r\n$4\r\nnews\r\n:1\r\n")

	_, stillOpen := <-news.Messages()
	assert.False(t, stillOpen, "news handle's message channel should be closed after unsubscribe")
}

func TestPSubscribeDeliversPatternMessages(t *testing.T) {
	e, fs := newTestEngine(t, Config{})

	handles, err := e.PSubscribe("chan.*")
	require.NoError(t, err)
	require.Len(t, handles, 1)

	fs.awaitReceived(t, "PSUBSCRIBE")
	fs.send(t, "*3\r\n$10\r\npsubscribe\r\n$6\r\nchan.*\r\n:1\r\n")

	fs.send(t, "*4\r\n$8\r\npmessage\r\n$6\r\nchan.*\r\n$6\r\nchan.1\r\n$2\r\nhi\r\n")

	select {
	case m := <-handles[0].Messages():
		assert.Equal(t, MessageTypePMessage, m.Type)
		assert.Equal(t, "chan.*", m.Pattern)
		assert.Equal(t, "chan.1", m.Channel)
		assert.Equal(t, "hi", string(m.Payload))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pmessage")
	}
}

func TestPingIsNotMisroutedAsPubSubEventWhileSubscribed(t *testing.T) {
	e, fs := newTestEngine(t, Config{})

	_, err := e.Subscribe("news")
	require.NoError(t, err)
	fs.awaitReceived(t, "SUBSCRIBE")
	fs.send(t, "*3\r\n$9\r\nsubscribe\r\n$4\r\nnews\r\n:1\r\n")
	require.Eventually(t, func() bool { return e.State() == PubSub }, time.Second, 10*time.Millisecond)

	fut, err := e.Do(Cmd("PING"), "PING")
	require.NoError(t, err)
	fs.awaitReceived(t, "PING")
	fs.send(t, "*2\r\n$4\r\npong\r\n$0\r\n\r\n")

	res := fut.Result()
	require.NoError(t, res.Err)
	assert.Equal(t, "pong", string(res.Reply.Array[0].Bulk))
}

func TestOnMessageDeprecatedBusFansOutAlongsideHandles(t *testing.T) {
	e, fs := newTestEngine(t, Config{})

	received := make(chan Message, 1)
	e.OnMessage(func(m Message) { received <- m })

	_, err := e.Subscribe("news")
	require.NoError(t, err)
	fs.awaitReceived(t, "SUBSCRIBE")
	fs.send(t, "*3\r\n$9\r\nsubscribe\r\n$4\r\nnews\r\n:1\r\n")

	fs.send(t, "*3\r\n$7\r\nmessage\r\n$4\r\nnews\r\n$2\r\nhi\r\n")

	select {
	case m := <-received:
		assert.Equal(t, "news", m.Channel)
	case <-time.After(time.Second):
		t.Fatal("deprecated bus never received the message")
	}
}
