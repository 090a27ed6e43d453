package redisasync

import (
	"github.com/joomcode/errorx"
)

// Error taxonomy (§7): one namespace, one errorx.Type per kind. errorx
// gives us typed, decoratable errors — IsOfType lets callers branch on
// kind without string-matching, and Decorate lets internal call sites
// attach context (the command label, the channel name) without losing
// the original type.
var (
	namespace = errorx.NewNamespace("redisasync")

	// FramingErrorType: the parser saw bytes that violate RESP. Fatal to
	// the connection.
	FramingErrorType = namespace.NewType("framing")

	// ServerErrorType: a `-` reply from the server. Routine; the
	// connection continues.
	ServerErrorType = namespace.NewType("server")

	// ProtocolMisuseType: the caller attempted a disallowed operation
	// (regular command while in PubSub mode, nested MULTI). Synchronous;
	// no bytes are written to the transport.
	ProtocolMisuseType = namespace.NewType("protocol_misuse")

	// DisconnectedType: the connection closed, cleanly or with an error.
	DisconnectedType = namespace.NewType("disconnected")

	// TransactionAbortedType: DISCARD was issued, or the transaction
	// closure errored.
	TransactionAbortedType = namespace.NewType("transaction_aborted")

	// CancelledType: the caller cancelled the future for a command whose
	// reply is still pending (§5).
	CancelledType = namespace.NewType("cancelled")
)

// ServerErrorKindProperty carries the first whitespace-delimited token of
// a `-` reply (e.g. "WRONGTYPE"), per §4.3's dispatch rule.
var ServerErrorKindProperty = errorx.RegisterProperty("kind")

// NewServerError builds a ServerError carrying {kind, message} as
// described in §4.3 and §7.
func NewServerError(kind, message string) error {
	return ServerErrorType.New("%s", message).WithProperty(ServerErrorKindProperty, kind)
}

// NewFramingError wraps a low-level decode error as a fatal FramingError.
func NewFramingError(cause error) error {
	return FramingErrorType.Wrap(cause, "framing error")
}

// NewProtocolMisuse builds a synchronous ProtocolMisuse failure with the
// given reason ("pubsub mode", "nested transaction", ...).
func NewProtocolMisuse(reason string) error {
	return ProtocolMisuseType.New("protocol misuse: %s", reason)
}

// ErrDisconnected is returned by execute_command, and by any future still
// outstanding, once the connection has closed.
var ErrDisconnected = DisconnectedType.New("connection disconnected")

// ErrTransactionAborted resolves every captured per-command future when a
// transaction closure errors or calls Discard.
var ErrTransactionAborted = TransactionAbortedType.New("transaction aborted")

// ErrCancelled is observed by a caller who cancelled their future; the
// pending-queue entry itself is still consumed when its reply arrives
// (§5's mark-and-discard strategy).
var ErrCancelled = CancelledType.New("command cancelled")

// IsServerError reports whether err is a ServerError, returning its kind
// token when it is.
func IsServerError(err error) (kind string, ok bool) {
	if !errorx.IsOfType(err, ServerErrorType) {
		return "", false
	}
	if v, present := errorx.ExtractProperty(err, ServerErrorKindProperty); present {
		if s, ok := v.(string); ok {
			return s, true
		}
	}
	return "", true
}
