package redisasync

import (
	"sync"
)

// SubscriptionKind distinguishes a literal channel subscription from a
// pattern subscription.
type SubscriptionKind int

const (
	ChannelSubscription SubscriptionKind = iota
	PatternSubscription
)

func (k SubscriptionKind) String() string {
	if k == PatternSubscription {
		return "pattern"
	}
	return "channel"
}

// subscriptionBufferSize bounds the per-handle message sink the way the
// teacher's chanSet fan-out relied on the caller's own channel being
// drained promptly: here the engine is the sole producer and must never
// block indefinitely on a slow consumer, since that would stall the
// single dispatch loop for every other subscription and every pipelined
// command. A full buffer drops the newest message and logs it.
const subscriptionBufferSize = 256

// SubscriptionHandle is the user-facing subscription object: it lives
// from the first SUBSCRIBE/PSUBSCRIBE acknowledgement until the matching
// UNSUBSCRIBE/PUNSUBSCRIBE acknowledgement, exposing the Message stream
// for one channel or pattern. It replaces the teacher's chanSet + raw
// chan<- PubSubMessage fan-out with one handle per name; Go's GC makes
// the "don't let a message keep the connection alive" concern moot since
// there's no refcounting cycle to break, so the handle simply never
// stores a pointer back into the engine.
type SubscriptionHandle struct {
	Name string
	Kind SubscriptionKind

	mu       sync.Mutex
	messages chan Message
	closed   bool
	count    int64
}

func newSubscriptionHandle(name string, kind SubscriptionKind) *SubscriptionHandle {
	return &SubscriptionHandle{
		Name:     name,
		Kind:     kind,
		messages: make(chan Message, subscriptionBufferSize),
	}
}

// Messages returns the channel of Messages for this subscription. It is
// closed once the matching UNSUBSCRIBE/PUNSUBSCRIBE acknowledgement
// arrives, or once the connection disconnects.
func (h *SubscriptionHandle) Messages() <-chan Message {
	return h.messages
}

// ActiveCount returns the last server-reported subscription count that
// accompanied this handle's most recent (p)subscribe acknowledgement.
// Informational only.
func (h *SubscriptionHandle) ActiveCount() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *SubscriptionHandle) setCount(n int64) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

func (h *SubscriptionHandle) deliver(m Message, log Logger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	select {
	case h.messages <- m:
	default:
		log.droppedMessage(h.Name, h.Kind == PatternSubscription)
	}
}

func (h *SubscriptionHandle) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.messages)
}

// MessageType distinguishes a plain channel push from a pattern push.
type MessageType int

const (
	MessageTypeMessage MessageType = iota
	MessageTypePMessage
)

// Message replaces the teacher's PubSubMessage. It drops the
// MarshalRESP/UnmarshalRESP pair the teacher used to decode messages
// off the wire generically: message framing is already handled by the
// connection engine's normal reply dispatch, so a subscriber only ever
// sees the decoded payload.
type Message struct {
	Type    MessageType
	Pattern string // set only for MessageTypePMessage
	Channel string
	Payload []byte
}

// registry is the subscription registry: channel/pattern name to active
// SubscriptionHandle, plus pending-acknowledgement waiters for
// subscribe/unsubscribe admin commands in flight. It plays the role the
// teacher's chanSet played, but keyed on one handle per name system-wide
// instead of a set of caller channels per name — the multiplexed-fan-out
// model doesn't fit an engine whose Subscribe callers expect a single
// returned handle per channel. Like pendingQueue, it is only ever
// touched from the engine's single dispatch goroutine.
type registry struct {
	channels map[string]*SubscriptionHandle
	patterns map[string]*SubscriptionHandle

	subWaiters    map[string][]chan *SubscriptionHandle
	psubWaiters   map[string][]chan *SubscriptionHandle
	unsubWaiters  map[string][]chan struct{}
	punsubWaiters map[string][]chan struct{}

	// bus is the deprecated per-connection fan-out, preserved for
	// compatibility with callers written against a callback-style API
	// instead of per-channel handles.
	bus []func(Message)

	log Logger
}

func newRegistry(log Logger) *registry {
	return &registry{
		channels:      map[string]*SubscriptionHandle{},
		patterns:      map[string]*SubscriptionHandle{},
		subWaiters:    map[string][]chan *SubscriptionHandle{},
		psubWaiters:   map[string][]chan *SubscriptionHandle{},
		unsubWaiters:  map[string][]chan struct{}{},
		punsubWaiters: map[string][]chan struct{}{},
		log:           log,
	}
}

func (r *registry) mapFor(pattern bool) map[string]*SubscriptionHandle {
	if pattern {
		return r.patterns
	}
	return r.channels
}

func (r *registry) subWaitersFor(pattern bool) map[string][]chan *SubscriptionHandle {
	if pattern {
		return r.psubWaiters
	}
	return r.subWaiters
}

func (r *registry) unsubWaitersFor(pattern bool) map[string][]chan struct{} {
	if pattern {
		return r.punsubWaiters
	}
	return r.unsubWaiters
}

// existing returns the handle for name if one is already active.
func (r *registry) existing(name string, pattern bool) *SubscriptionHandle {
	return r.mapFor(pattern)[name]
}

// addSubWaiter registers interest in name's next subscribe/psubscribe
// acknowledgement, returning a channel that receives the handle exactly
// once.
func (r *registry) addSubWaiter(name string, pattern bool) chan *SubscriptionHandle {
	ch := make(chan *SubscriptionHandle, 1)
	m := r.subWaitersFor(pattern)
	m[name] = append(m[name], ch)
	return ch
}

func (r *registry) addUnsubWaiter(name string, pattern bool) chan struct{} {
	ch := make(chan struct{}, 1)
	m := r.unsubWaitersFor(pattern)
	m[name] = append(m[name], ch)
	return ch
}

// handleSubscribeAck routes a subscribe/psubscribe acknowledgement:
// create the handle if it doesn't exist, record the server's
// informational count, and resolve any waiters registered for it.
func (r *registry) handleSubscribeAck(name string, pattern bool, count int64) *SubscriptionHandle {
	m := r.mapFor(pattern)
	h, ok := m[name]
	if !ok {
		kind := ChannelSubscription
		if pattern {
			kind = PatternSubscription
		}
		h = newSubscriptionHandle(name, kind)
		m[name] = h
	}
	h.setCount(count)

	waiters := r.subWaitersFor(pattern)
	for _, w := range waiters[name] {
		w <- h
	}
	delete(waiters, name)
	return h
}

// handleUnsubscribeAck routes an unsubscribe/punsubscribe
// acknowledgement: remove and close the handle, resolve unsubscribe
// waiters. Returns the total remaining subscription count across both
// maps so the engine can decide whether to leave PubSub mode.
func (r *registry) handleUnsubscribeAck(name string, pattern bool) (remaining int) {
	m := r.mapFor(pattern)
	if h, ok := m[name]; ok {
		delete(m, name)
		h.close()
	}

	waiters := r.unsubWaitersFor(pattern)
	for _, w := range waiters[name] {
		close(w)
	}
	delete(waiters, name)

	return len(r.channels) + len(r.patterns)
}

func (r *registry) handleMessage(channel string, payload []byte) {
	m := Message{Type: MessageTypeMessage, Channel: channel, Payload: payload}
	if h, ok := r.channels[channel]; ok {
		h.deliver(m, r.log)
	} else {
		r.log.droppedMessage(channel, false)
	}
	for _, f := range r.bus {
		f(m)
	}
}

func (r *registry) handlePMessage(pattern, channel string, payload []byte) {
	m := Message{Type: MessageTypePMessage, Pattern: pattern, Channel: channel, Payload: payload}
	if h, ok := r.patterns[pattern]; ok {
		h.deliver(m, r.log)
	} else {
		r.log.droppedMessage(pattern, true)
	}
	for _, f := range r.bus {
		f(m)
	}
}

func (r *registry) onMessage(f func(Message)) {
	r.bus = append(r.bus, f)
}

// closeAll closes every live handle's message stream on disconnect.
func (r *registry) closeAll() {
	for _, h := range r.channels {
		h.close()
	}
	for _, h := range r.patterns {
		h.close()
	}
	r.channels = map[string]*SubscriptionHandle{}
	r.patterns = map[string]*SubscriptionHandle{}
}

func (r *registry) activeCount() int {
	return len(r.channels) + len(r.patterns)
}
