package redisasync

import (
	"sync/atomic"

	"github.com/vikram-suki/redisasync/resp/resp2"
)

// Result is what a PendingRequest's completion sink is fed: either a
// decoded Reply or an error (ServerError, Disconnected, Cancelled, ...).
type Result struct {
	Reply resp2.Reply
	Err   error
}

// Future is the caller-facing handle returned by Do. It is a single-shot
// result sink: exactly one Result is ever sent, whether the command
// resolves normally, the connection drops, or the caller cancels.
type Future struct {
	ch        chan Result
	cancelled int32
}

// Result blocks until the command's reply (or a disconnect/cancel
// error) is available.
func (f *Future) Result() Result {
	return <-f.ch
}

// Cancel marks the future cancelled (§5's mark-and-discard strategy):
// the pending-queue entry is left in place — its reply must still be
// consumed to keep the stream aligned — but the caller observes
// ErrCancelled instead of the real reply once it arrives.
func (f *Future) Cancel() {
	atomic.StoreInt32(&f.cancelled, 1)
}

func (f *Future) isCancelled() bool {
	return atomic.LoadInt32(&f.cancelled) == 1
}

// PendingRequest is the §3 data-model type: a FIFO queue entry awaiting
// its reply. The connection engine's dispatch loop is the only goroutine
// that ever pops from the queue or resolves an entry.
type PendingRequest struct {
	Label string
	// cmdName is the uppercased command name (cmd[0]), kept alongside
	// Label so the dispatch loop can recognize MULTI/EXEC/DISCARD/AUTH
	// boundaries without re-parsing the original command.
	cmdName string
	future  *Future
}

func newPendingRequest(label, cmdName string) (*PendingRequest, *Future) {
	f := &Future{ch: make(chan Result, 1)}
	return &PendingRequest{Label: label, cmdName: cmdName, future: f}, f
}

// resolve delivers r to the caller unless the request was cancelled, in
// which case the caller instead observes ErrCancelled — the reply itself
// is still consumed here so the pipeline stays aligned (§5).
func (pr *PendingRequest) resolve(r Result) {
	if pr.future.isCancelled() {
		r = Result{Err: ErrCancelled}
	}
	pr.future.ch <- r
}

// pendingQueue is the FIFO of in-flight, non-subscription-admin
// requests. Subscription-admin commands (SUBSCRIBE/PSUBSCRIBE/
// UNSUBSCRIBE/PUNSUBSCRIBE) never enter this queue: §4.3 routes their
// acknowledgements through the subscription registry instead, because
// they violate the one-reply-per-command assumption this queue depends
// on. Only ever touched from the engine's single dispatch goroutine.
type pendingQueue struct {
	items []*PendingRequest
}

func (q *pendingQueue) push(pr *PendingRequest) {
	q.items = append(q.items, pr)
}

func (q *pendingQueue) popFront() (*PendingRequest, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	pr := q.items[0]
	copy(q.items, q.items[1:])
	q.items[len(q.items)-1] = nil
	q.items = q.items[:len(q.items)-1]
	return pr, true
}

func (q *pendingQueue) len() int {
	return len(q.items)
}

// failAll resolves every outstanding entry with err — used on disconnect
// (§4.3 "Close handling").
func (q *pendingQueue) failAll(err error) {
	for _, pr := range q.items {
		pr.resolve(Result{Err: err})
	}
	q.items = nil
}
