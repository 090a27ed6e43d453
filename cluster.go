package redisasync

import (
	"github.com/joomcode/redispipe/rediscluster"
)

// SlotForKey reports the Redis Cluster hash slot a key maps to, using
// the same hash-tag-aware CRC16 rule every cluster-aware client follows.
// This is the deferred cluster extension point: nothing in this package
// consumes it yet (there is no slot-to-node routing table, no MOVED/ASK
// redirection), it exists purely so a future ClusterEngine built on top
// of Engine has a ready-made, ecosystem-grounded slot function instead
// of reimplementing CRC16 hash-tag parsing from scratch.
func SlotForKey(key string) uint16 {
	return rediscluster.ClusterSlot([]byte(key))
}
