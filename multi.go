package redisasync

import (
	"fmt"

	"github.com/vikram-suki/redisasync/resp/resp2"
)

// Tx is the §4.5 transaction envelope: a scoped handle, valid only for
// the duration of a Multi closure, that proxies commands into the
// MULTI/EXEC queue and captures one Future per command, index-aligned to
// EXEC's reply array.
type Tx struct {
	e         *Engine
	futures   []*Future
	discarded bool
	err       error
}

// Queue submits cmd as part of the open transaction and returns the
// Future that will hold its result once EXEC resolves — not the
// "QUEUED" status the server sends immediately, which Multi consumes on
// the envelope's behalf. A synchronous rejection (most commonly a
// nested MULTI attempt) is returned directly, exactly as from Do, and no
// Future is added to the transaction's index.
func (tx *Tx) Queue(cmd resp2.Command, label string) (*Future, error) {
	queued, err := tx.e.Do(cmd, label)
	if err != nil {
		return nil, err
	}
	final := &Future{ch: make(chan Result, 1)}
	tx.futures = append(tx.futures, final)

	// The "QUEUED" acknowledgement is never read by anyone: queued's
	// channel is buffered (cap 1), so resolving it without a reader
	// never blocks the dispatch loop. final is what the transaction
	// hands back to the caller, resolved from EXEC's reply below.
	_ = queued
	return final, nil
}

// Discard marks the transaction to be aborted with DISCARD instead of
// committed with EXEC once the closure returns.
func (tx *Tx) Discard() {
	tx.discarded = true
}

// Multi opens a transaction (§4.5): issues MULTI, runs fn with a Tx that
// queues commands, then issues EXEC (or DISCARD if fn errors or calls
// tx.Discard). On success, results holds one Result per queued command,
// in submission order, taken from EXEC's reply array. On abort, every
// queued command's Future is resolved with ErrTransactionAborted and an
// error is returned.
func (e *Engine) Multi(fn func(tx *Tx) error) ([]Result, error) {
	multiFut, err := e.Do(Cmd("MULTI"), "MULTI")
	if err != nil {
		return nil, err
	}
	if res := multiFut.Result(); res.Err != nil {
		return nil, res.Err
	}

	tx := &Tx{e: e}
	tx.err = fn(tx)

	if tx.err != nil || tx.discarded {
		discardFut, err := e.Do(Cmd("DISCARD"), "DISCARD")
		if err == nil {
			discardFut.Result()
		}
		for _, f := range tx.futures {
			f.ch <- Result{Err: ErrTransactionAborted}
		}
		if tx.err != nil {
			return nil, tx.err
		}
		return nil, ErrTransactionAborted
	}

	execFut, err := e.Do(Cmd("EXEC"), "EXEC")
	if err != nil {
		tx.failAll(err)
		return nil, err
	}
	execRes := execFut.Result()
	if execRes.Err != nil {
		tx.failAll(execRes.Err)
		return nil, execRes.Err
	}

	reply := execRes.Reply
	if reply.Kind != resp2.KindArray {
		err := NewFramingError(fmt.Errorf("EXEC reply was not an array (got kind %q)", byte(reply.Kind)))
		tx.failAll(err)
		return nil, err
	}
	if reply.Null {
		// The transaction was aborted server-side (e.g. WATCH failed);
		// treat it the same as an explicit DISCARD.
		tx.failAll(ErrTransactionAborted)
		return nil, ErrTransactionAborted
	}

	results := make([]Result, len(tx.futures))
	for i, f := range tx.futures {
		var r Result
		if i < len(reply.Array) {
			item := reply.Array[i]
			if item.Kind == resp2.KindError {
				kind, msg := resp2.SplitError(string(item.Str))
				r = Result{Err: NewServerError(kind, msg)}
			} else {
				r = Result{Reply: item}
			}
		} else {
			r = Result{Err: NewFramingError(fmt.Errorf("EXEC reply shorter than queued command count"))}
		}
		f.ch <- r
		results[i] = r
	}
	return results, nil
}

func (tx *Tx) failAll(err error) {
	for _, f := range tx.futures {
		f.ch <- Result{Err: err}
	}
}
