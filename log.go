package redisasync

import (
	"github.com/mediocregopher/mediocre-go-lib/mlog"
)

// Logger is the observation-hook sink (§6, §7's "logged at error level
// and discarded"). It wraps mlog.Logger, the structured logger already
// named by the teacher's dependency graph, so engines composed into a
// larger mediocre-go-lib application share one logging backend instead
// of writing to the standard log package directly.
type Logger struct {
	l *mlog.Logger
}

// NewLogger wraps an *mlog.Logger. Passing nil is fine: a nil Logger
// discards everything, which is the right default for a library that
// shouldn't write to stderr uninvited.
func NewLogger(l *mlog.Logger) Logger {
	return Logger{l: l}
}

func (lg Logger) disconnect(reason error) {
	if lg.l == nil {
		return
	}
	lg.l.Warn("connection disconnected", mlog.KV{"err": reason})
}

func (lg Logger) droppedMessage(channel string, pattern bool) {
	if lg.l == nil {
		return
	}
	kind := "channel"
	if pattern {
		kind = "pattern"
	}
	lg.l.Error("dropped pub/sub message for unknown "+kind, mlog.KV{kind: channel})
}

func (lg Logger) protocolViolation(reason string) {
	if lg.l == nil {
		return
	}
	lg.l.Error("protocol violation", mlog.KV{"reason": reason})
}

func (lg Logger) framingError(err error) {
	if lg.l == nil {
		return
	}
	lg.l.Error("framing error, aborting connection", mlog.KV{"err": err})
}
