package redisasync

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vikram-suki/redisasync/resp/resp2"
)

// Engine is the §4.3 connection engine: one socket, one dispatch
// goroutine owning all mutable state (mode, pending queue, subscription
// registry), fed by a second goroutine that does nothing but decode
// bytes into Replies. This is the Go translation of "single-threaded
// event loop owns everything" — instead of a cooperative loop sharing
// one OS thread with callers, a single goroutine is the only writer of
// engine state, and every other goroutine talks to it over channels.
type Engine struct {
	cfg  Config
	conn io.ReadWriteCloser

	submitCh      chan *submission
	subscribeCh   chan *subscribeRequest
	unsubscribeCh chan *unsubscribeRequest
	onMessageCh   chan *onMessageRequest
	readEvents    chan readEvent
	closeRequest  chan struct{}
	closed        chan struct{}

	disconnectMu       sync.Mutex
	disconnectHandlers []func(error)
	closeOnce          sync.Once

	// state and pendingLen are mirrored here with atomics purely so
	// State() and PipelineDepth() can be read from any goroutine without
	// round-tripping through the dispatch loop; the authoritative copies
	// live in the loop-local variables below.
	stateBox      atomic.Value
	pendingLenBox int32

	// Everything past this point is touched only by the run() goroutine.
	state   State
	pending pendingQueue
	reg     *registry
	backlog []*submission
}

type readEvent struct {
	reply resp2.Reply
	err   error
}

type admitResult struct {
	future *Future
	err    error
}

type submission struct {
	cmd    resp2.Command
	label  string
	result chan admitResult
}

type subscribeRequest struct {
	names   []string
	pattern bool
	result  chan subscribeResult
}

type subscribeResult struct {
	handles []*SubscriptionHandle
	err     error
}

type unsubscribeRequest struct {
	names   []string
	pattern bool
	result  chan error
}

type onMessageRequest struct {
	f    func(Message)
	done chan struct{}
}

// NewEngine brings up an Engine over an already-connected transport,
// skipping Dial's TCP dialing. This is the extension point for callers
// who own their own socket setup (TLS, a Unix socket, a test pipe).
func NewEngine(conn io.ReadWriteCloser, cfg Config) (*Engine, error) {
	return newEngineFromConn(conn, cfg)
}

func newEngineFromConn(conn io.ReadWriteCloser, cfg Config) (*Engine, error) {
	e := &Engine{
		cfg:           cfg,
		conn:          conn,
		submitCh:      make(chan *submission),
		subscribeCh:   make(chan *subscribeRequest),
		unsubscribeCh: make(chan *unsubscribeRequest),
		onMessageCh:   make(chan *onMessageRequest),
		readEvents:    make(chan readEvent, 64),
		closeRequest:  make(chan struct{}),
		closed:        make(chan struct{}),
		state:         Connecting,
		reg:           newRegistry(cfg.Log),
	}
	e.stateBox.Store(Connecting)

	go e.readLoop()
	go e.run()

	if cfg.Auth != "" {
		fut, err := e.Do(Cmd("AUTH", cfg.Auth), "AUTH")
		if err != nil {
			e.Close()
			return nil, err
		}
		res := fut.Result()
		if res.Err != nil {
			e.Close()
			return nil, res.Err
		}
	}
	return e, nil
}

// State reports the engine's current connection state.
func (e *Engine) State() State {
	return e.stateBox.Load().(State)
}

// PipelineDepth reports the number of non-subscription commands
// currently awaiting a reply. Informational only (§9's "pipeline_depth
// exposed as a read-only accessor"); nothing in the engine requires a
// caller ever look at it unless Config.MaxPipelineDepth is in play.
func (e *Engine) PipelineDepth() int {
	return int(atomic.LoadInt32(&e.pendingLenBox))
}

// OnDisconnect registers a hook invoked once, with the triggering error,
// when the connection is aborted for any reason.
func (e *Engine) OnDisconnect(f func(error)) {
	e.disconnectMu.Lock()
	e.disconnectHandlers = append(e.disconnectHandlers, f)
	e.disconnectMu.Unlock()
}

// OnMessage registers the deprecated per-connection message fan-out: f
// is called for every "message"/"pmessage" push regardless of whether
// any SubscriptionHandle exists for it. Prefer Subscribe/PSubscribe's
// returned handles for new code. Registration is routed through the
// dispatch loop so it never races with registry reads/writes.
func (e *Engine) OnMessage(f func(Message)) {
	req := &onMessageRequest{f: f, done: make(chan struct{})}
	select {
	case e.onMessageCh <- req:
		<-req.done
	case <-e.closed:
	}
}

// Close tears the connection down, failing every outstanding request and
// closing every subscription handle.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() { close(e.closeRequest) })
	return e.conn.Close()
}

// Do is the execute_command primitive (§4.3): submit cmd, get back a
// Future for its eventual reply. Synchronous failures (mode violations,
// a closed connection) are returned directly and never touch the wire.
func (e *Engine) Do(cmd resp2.Command, label string) (*Future, error) {
	s := &submission{cmd: cmd, label: label, result: make(chan admitResult, 1)}
	select {
	case e.submitCh <- s:
	case <-e.closed:
		return nil, ErrDisconnected
	}
	res := <-s.result
	return res.future, res.err
}

// Subscribe subscribes to the given channels, blocking until every
// SUBSCRIBE acknowledgement has arrived, and returns one handle per
// channel (in the same order as names). Channels already subscribed
// return their existing handle without writing to the wire again.
func (e *Engine) Subscribe(names ...string) ([]*SubscriptionHandle, error) {
	return e.subscribe(names, false)
}

// PSubscribe is Subscribe for patterns.
func (e *Engine) PSubscribe(patterns ...string) ([]*SubscriptionHandle, error) {
	return e.subscribe(patterns, true)
}

func (e *Engine) subscribe(names []string, pattern bool) ([]*SubscriptionHandle, error) {
	req := &subscribeRequest{names: names, pattern: pattern, result: make(chan subscribeResult, 1)}
	select {
	case e.subscribeCh <- req:
	case <-e.closed:
		return nil, ErrDisconnected
	}
	res := <-req.result
	return res.handles, res.err
}

// Unsubscribe unsubscribes from the given channels, blocking until every
// UNSUBSCRIBE acknowledgement has arrived. Channels with no active
// handle are skipped (no command is sent for them).
func (e *Engine) Unsubscribe(names ...string) error {
	return e.unsubscribe(names, false)
}

// PUnsubscribe is Unsubscribe for patterns.
func (e *Engine) PUnsubscribe(patterns ...string) error {
	return e.unsubscribe(patterns, true)
}

func (e *Engine) unsubscribe(names []string, pattern bool) error {
	req := &unsubscribeRequest{names: names, pattern: pattern, result: make(chan error, 1)}
	select {
	case e.unsubscribeCh <- req:
	case <-e.closed:
		return ErrDisconnected
	}
	return <-req.result
}

// ---- dispatch loop ----

func (e *Engine) run() {
	if e.cfg.Auth == "" {
		e.setState(Ready)
	}

	var pingTicker *time.Ticker
	var pingC <-chan time.Time
	defer func() {
		if pingTicker != nil {
			pingTicker.Stop()
		}
	}()

	for {
		select {
		case s := <-e.submitCh:
			if e.shouldBacklog(s) {
				e.backlog = append(e.backlog, s)
			} else {
				e.admitOne(s)
			}
		case req := <-e.subscribeCh:
			e.handleSubscribeRequest(req)
		case req := <-e.unsubscribeCh:
			e.handleUnsubscribeRequest(req)
		case req := <-e.onMessageCh:
			e.reg.onMessage(req.f)
			close(req.done)
		case ev := <-e.readEvents:
			if ev.err != nil {
				e.abort(ev.err)
				return
			}
			e.handleReply(ev.reply)
		case <-e.closeRequest:
			e.abort(ErrDisconnected)
			return
		case <-pingC:
			e.sendKeepalivePing()
		}

		e.drainBacklog()
		pingTicker, pingC = e.syncPingTicker(pingTicker, pingC)
	}
}

func (e *Engine) setState(s State) {
	e.state = s
	e.stateBox.Store(s)
}

func (e *Engine) syncPendingLen() {
	atomic.StoreInt32(&e.pendingLenBox, int32(e.pending.len()))
}

func (e *Engine) shouldBacklog(s *submission) bool {
	if e.cfg.MaxPipelineDepth <= 0 {
		return false
	}
	if e.state != Ready {
		return false
	}
	if isSubscriptionAdmin(cmdName(s.cmd)) {
		return false
	}
	return e.pending.len() >= e.cfg.MaxPipelineDepth
}

func (e *Engine) drainBacklog() {
	for len(e.backlog) > 0 {
		if e.state != Ready {
			return
		}
		if e.cfg.MaxPipelineDepth > 0 && e.pending.len() >= e.cfg.MaxPipelineDepth {
			return
		}
		s := e.backlog[0]
		e.backlog = e.backlog[1:]
		e.admitOne(s)
	}
}

func (e *Engine) sendKeepalivePing() {
	s := &submission{cmd: Cmd("PING"), label: "PING", result: make(chan admitResult, 1)}
	e.admitOne(s)
	<-s.result
}

func (e *Engine) syncPingTicker(cur *time.Ticker, curC <-chan time.Time) (*time.Ticker, <-chan time.Time) {
	want := e.cfg.PingInterval > 0 && e.state == PubSub
	if want && cur == nil {
		t := time.NewTicker(e.cfg.PingInterval)
		return t, t.C
	}
	if !want && cur != nil {
		cur.Stop()
		return nil, nil
	}
	return cur, curC
}

// admitOne is execute_command's synchronous half: mode-rule checks,
// wire-encode, pending-queue push (unless it's a subscription-admin
// command), write. Runs on the dispatch goroutine either directly (from
// the submitCh case) or inline from handleSubscribeRequest/
// handleUnsubscribeRequest, which issue SUBSCRIBE/UNSUBSCRIBE themselves
// while already running on this goroutine.
func (e *Engine) admitOne(s *submission) {
	if e.state == Closed {
		s.result <- admitResult{err: ErrDisconnected}
		return
	}

	name := cmdName(s.cmd)

	if e.state == PubSub && !isSubscriptionSafe(name) {
		e.cfg.Log.protocolViolation("regular command issued while in PubSub mode")
		s.result <- admitResult{err: NewProtocolMisuse("regular command issued while in PubSub mode")}
		return
	}
	if e.state == InTransaction && name == "MULTI" {
		e.cfg.Log.protocolViolation("MULTI issued while already InTransaction")
		s.result <- admitResult{err: NewProtocolMisuse("MULTI issued while already InTransaction")}
		return
	}

	var buf bytes.Buffer
	if err := s.cmd.MarshalRESP(&buf); err != nil {
		s.result <- admitResult{err: err}
		return
	}

	admin := isSubscriptionAdmin(name)

	var pr *PendingRequest
	var fut *Future
	if admin {
		fut = &Future{ch: make(chan Result, 1)}
	} else {
		pr, fut = newPendingRequest(s.label, name)
		e.pending.push(pr)
		e.syncPendingLen()
	}

	if _, err := e.conn.Write(buf.Bytes()); err != nil {
		wrapped := wrapWriteErr(err)
		if admin {
			fut.ch <- Result{Err: wrapped}
		}
		s.result <- admitResult{future: fut}
		e.abort(wrapped)
		return
	}

	if name == "MULTI" {
		e.setState(InTransaction)
	}

	s.result <- admitResult{future: fut}
	if admin {
		// §4.3: a subscription-admin command's caller-facing future
		// resolves as soon as the write completes. Its actual server
		// ack is routed through the registry, not this future.
		fut.ch <- Result{}
	}
}

func (e *Engine) handleSubscribeRequest(req *subscribeRequest) {
	var toSend []string
	waiters := make(map[string]chan *SubscriptionHandle, len(req.names))
	existing := make(map[string]*SubscriptionHandle, len(req.names))

	for _, name := range req.names {
		if h := e.reg.existing(name, req.pattern); h != nil {
			existing[name] = h
			continue
		}
		if _, already := waiters[name]; already {
			continue
		}
		waiters[name] = e.reg.addSubWaiter(name, req.pattern)
		toSend = append(toSend, name)
	}

	if len(toSend) > 0 {
		verb := "SUBSCRIBE"
		if req.pattern {
			verb = "PSUBSCRIBE"
		}
		s := &submission{cmd: Cmd(verb, toSend...), label: verb, result: make(chan admitResult, 1)}
		e.admitOne(s)
		if res := <-s.result; res.err != nil {
			req.result <- subscribeResult{err: res.err}
			return
		}
	}

	go func() {
		handles := make([]*SubscriptionHandle, 0, len(req.names))
		for _, name := range req.names {
			if h, ok := existing[name]; ok {
				handles = append(handles, h)
				continue
			}
			handles = append(handles, <-waiters[name])
		}
		req.result <- subscribeResult{handles: handles}
	}()
}

func (e *Engine) handleUnsubscribeRequest(req *unsubscribeRequest) {
	var toSend []string
	waiters := make(map[string]chan struct{}, len(req.names))

	for _, name := range req.names {
		if e.reg.existing(name, req.pattern) == nil {
			continue
		}
		if _, already := waiters[name]; already {
			continue
		}
		waiters[name] = e.reg.addUnsubWaiter(name, req.pattern)
		toSend = append(toSend, name)
	}

	if len(toSend) == 0 {
		req.result <- nil
		return
	}

	verb := "UNSUBSCRIBE"
	if req.pattern {
		verb = "PUNSUBSCRIBE"
	}
	s := &submission{cmd: Cmd(verb, toSend...), label: verb, result: make(chan admitResult, 1)}
	e.admitOne(s)
	if res := <-s.result; res.err != nil {
		req.result <- res.err
		return
	}

	go func() {
		for _, w := range waiters {
			<-w
		}
		req.result <- nil
	}()
}

func (e *Engine) handleReply(r resp2.Reply) {
	if tag, ok := pubsubEventTag(r); ok {
		e.routePubSub(tag, r)
		return
	}

	pr, ok := e.pending.popFront()
	e.syncPendingLen()
	if !ok {
		e.abort(NewFramingError(fmt.Errorf("reply received with no pending request to match it to")))
		return
	}

	switch pr.cmdName {
	case "EXEC", "DISCARD":
		if e.state == InTransaction {
			e.setState(Ready)
		}
	case "AUTH":
		if e.state == Connecting {
			if r.Kind == resp2.KindSimpleString && strings.EqualFold(string(r.Str), "OK") {
				e.setState(Ready)
			} else {
				e.setState(Disconnected)
			}
		}
	}

	if r.Kind == resp2.KindError {
		kind, msg := resp2.SplitError(string(r.Str))
		pr.resolve(Result{Err: NewServerError(kind, msg)})
		return
	}
	pr.resolve(Result{Reply: r})
}

func (e *Engine) routePubSub(tag string, r resp2.Reply) {
	arr := r.Array
	switch tag {
	case "subscribe", "psubscribe":
		name := string(bulkOrSimple(arr[1]))
		count := arr[2].Int
		e.reg.handleSubscribeAck(name, tag == "psubscribe", count)
		if e.state != PubSub {
			e.setState(PubSub)
		}
	case "unsubscribe", "punsubscribe":
		name := string(bulkOrSimple(arr[1]))
		remaining := e.reg.handleUnsubscribeAck(name, tag == "punsubscribe")
		// arr[2] is the server's own count of remaining subscriptions on
		// this connection; remaining is the registry's count. Either one
		// reaching zero ends PubSub mode.
		if (arr[2].Int == 0 || remaining == 0) && e.state == PubSub {
			e.setState(Ready)
		}
	case "message":
		e.reg.handleMessage(string(bulkOrSimple(arr[1])), arr[2].Bulk)
	case "pmessage":
		e.reg.handlePMessage(string(bulkOrSimple(arr[1])), string(bulkOrSimple(arr[2])), arr[3].Bulk)
	}
}

func (e *Engine) abort(err error) {
	if e.state == Closed {
		return
	}
	e.setState(Closed)
	e.pending.failAll(err)
	e.reg.closeAll()
	for _, s := range e.backlog {
		s.result <- admitResult{err: ErrDisconnected}
	}
	e.backlog = nil

	e.cfg.Log.disconnect(err)
	close(e.closed)
	_ = e.conn.Close()

	e.disconnectMu.Lock()
	handlers := append([]func(error){}, e.disconnectHandlers...)
	e.disconnectMu.Unlock()
	for _, f := range handlers {
		f(err)
	}
}

// ---- read loop ----

func (e *Engine) readLoop() {
	buf := make([]byte, 4096)
	parser := resp2.NewStreamParser()
	for {
		n, err := e.conn.Read(buf)
		if n > 0 {
			replies, perr := parser.Feed(buf[:n])
			for _, r := range replies {
				e.readEvents <- readEvent{reply: r}
			}
			if perr != nil {
				e.cfg.Log.framingError(perr)
				e.readEvents <- readEvent{err: NewFramingError(perr)}
				return
			}
		}
		if err != nil {
			e.readEvents <- readEvent{err: wrapReadErr(err)}
			return
		}
	}
}

func wrapReadErr(err error) error {
	if err == io.EOF {
		return ErrDisconnected
	}
	return DisconnectedType.Wrap(err, "read failed")
}

func wrapWriteErr(err error) error {
	return DisconnectedType.Wrap(err, "write failed")
}

// ---- command-name classification (§4.3's mode rules) ----

func cmdName(cmd resp2.Command) string {
	if len(cmd) == 0 {
		return ""
	}
	return strings.ToUpper(string(cmd[0]))
}

func isSubscriptionSafe(name string) bool {
	switch name {
	case "SUBSCRIBE", "PSUBSCRIBE", "UNSUBSCRIBE", "PUNSUBSCRIBE", "PING", "QUIT":
		return true
	}
	return false
}

func isSubscriptionAdmin(name string) bool {
	switch name {
	case "SUBSCRIBE", "PSUBSCRIBE", "UNSUBSCRIBE", "PUNSUBSCRIBE":
		return true
	}
	return false
}

// pubsubEventTag reports whether r is a pub/sub push message (a
// 3- or 4-element array whose first element is one of the known event
// tags) as opposed to a normal command reply. This also resolves the
// PING-while-PubSub ambiguity: PING's reply while subscribed is a
// 2-element array ("pong", "") that matches no known tag, so it falls
// through to ok=false and is dispatched through the ordinary pending
// queue like any other reply.
func pubsubEventTag(r resp2.Reply) (string, bool) {
	if r.Kind != resp2.KindArray || r.Null || len(r.Array) < 3 {
		return "", false
	}
	tag := strings.ToLower(string(bulkOrSimple(r.Array[0])))
	switch tag {
	case "subscribe", "psubscribe", "unsubscribe", "punsubscribe":
		return tag, len(r.Array) == 3
	case "message":
		return tag, len(r.Array) == 3
	case "pmessage":
		return tag, len(r.Array) == 4
	}
	return "", false
}

func bulkOrSimple(r resp2.Reply) []byte {
	if r.Kind == resp2.KindSimpleString {
		return r.Str
	}
	return r.Bulk
}
