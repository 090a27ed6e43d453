package redisasync

import (
	"fmt"

	redigo "github.com/gomodule/redigo/redis"

	"github.com/vikram-suki/redisasync/resp/resp2"
)

// §1 scopes the command catalog itself (the several hundred generated
// per-command wrappers) out of this engine: it treats a command as an
// opaque name plus an argument array. What the engine does own is the
// one piece of friction the spec leaves to "the caller's responsibility"
// — stringifying numeric/boolean arguments (§4.1). FlatCmd closes that
// gap the way radix's own FlatCmd does, but reuses redigo's existing
// reflection-based flattener (redis.Args.AddFlat) instead of
// reimplementing struct/slice/map flattening from scratch.
//
// FlatCmd accepts ints, bools, floats, strings, []byte, and anything
// redigo's AddFlat already knows how to flatten (slices, struct fields
// tagged `redis:"..."`), and turns them into the raw byte argument
// vector that resp2.Command encodes.
func FlatCmd(name string, args ...interface{}) resp2.Command {
	var flat redigo.Args
	for _, a := range args {
		if b, ok := a.([]byte); ok {
			flat = append(flat, b)
			continue
		}
		flat = flat.AddFlat(a)
	}
	out := make(resp2.Command, 0, len(flat)+1)
	out = append(out, []byte(name))
	for _, a := range flat {
		out = append(out, flattenOne(a))
	}
	return out
}

func flattenOne(a interface{}) []byte {
	switch v := a.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		// AddFlat has already reduced structs/slices/maps to individual
		// scalars (ints, floats, bools, ...); stringify those the same
		// way the wire codec expects — the caller's stringification
		// responsibility per §4.1, just centralized here instead of
		// repeated at every call site.
		return []byte(fmt.Sprint(v))
	}
}

// Cmd builds a command from already-stringified arguments, for call
// sites that don't need FlatCmd's typed flattening.
func Cmd(name string, args ...string) resp2.Command {
	return resp2.NewCommand(name, args...)
}
