// Package redisasync is an asynchronous Redis client engine: a RESP2
// wire codec (resp/resp2), an incremental parser that tolerates
// arbitrary byte-stream fragmentation, and a connection engine that
// multiplexes pipelined commands, pub/sub subscriptions, and
// MULTI/EXEC transactions over a single socket behind one dispatch
// goroutine.
//
// The command catalog itself (per-command typed wrappers) is out of
// scope; callers build commands with Cmd or FlatCmd and get back a
// Future from Engine.Do. Connection pooling, reconnection scheduling,
// and cluster slot routing are likewise left to a layer above this one
// — see SlotForKey for the one piece of that surface this package
// exposes as an extension point.
package redisasync
