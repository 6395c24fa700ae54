package swarm

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/ssd-technologies/openswarm/internal/protocol"
)

// TopicHandler is invoked for every envelope delivered on a subscribed
// topic.
type TopicHandler func(env *protocol.Envelope, from SenderInfo)

// subscription is one refcounted topic subscription.
type subscription struct {
	refs     int
	handlers map[int]TopicHandler
	nextID   int
}

// PubSub is the topic-scoped gossip layer: published frames flood to all
// connected peers with dedup and hop limits, and locally subscribed topics
// deliver to their handlers. Subscriptions are reference-counted; a topic's
// state is torn down only when no subsystem holds a handle.
type PubSub struct {
	mu        sync.RWMutex
	transport *Transport
	subs      map[string]*subscription
	seen      map[string]time.Time // gossip id -> first seen
	seenTTL   time.Duration
	maxHops   int
}

// NewPubSub creates a gossip layer over the transport.
func NewPubSub(transport *Transport) *PubSub {
	return &PubSub{
		transport: transport,
		subs:      make(map[string]*subscription),
		seen:      make(map[string]time.Time),
		seenTTL:   10 * time.Minute,
		maxHops:   10,
	}
}

// Subscribe registers a handler for a topic and returns an unsubscribe
// function. Multiple subsystems may hold handles to the same topic.
func (p *PubSub) Subscribe(topic string, handler TopicHandler) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub, ok := p.subs[topic]
	if !ok {
		sub = &subscription{handlers: make(map[int]TopicHandler)}
		p.subs[topic] = sub
	}
	sub.refs++
	id := sub.nextID
	sub.nextID++
	sub.handlers[id] = handler

	released := false
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if released {
			return
		}
		released = true
		delete(sub.handlers, id)
		sub.refs--
		if sub.refs <= 0 {
			delete(p.subs, topic)
		}
	}
}

// Subscribed reports whether any subsystem holds a handle on a topic.
func (p *PubSub) Subscribed(topic string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.subs[topic]
	return ok
}

// Publish floods an envelope on a topic to all connected peers and delivers
// it to local subscribers.
func (p *PubSub) Publish(topic string, env *protocol.Envelope) error {
	frame := &Frame{
		Topic:    topic,
		GossipID: randomGossipID(),
		Hops:     0,
		MaxHops:  p.maxHops,
		Envelope: env,
	}
	p.markSeen(frame.GossipID)

	// Local delivery first: a node is always a subscriber of its own swarm.
	p.deliver(topic, env, p.transport.selfInfo())

	return p.forward(frame, NodeID{})
}

// HandleFrame processes an inbound gossip frame: dedup, local delivery, and
// hop-limited forwarding. Returns whether the frame was fresh.
func (p *PubSub) HandleFrame(frame *Frame, from NodeID) bool {
	if frame.Topic == "" || frame.GossipID == "" {
		return false
	}
	if p.hasSeen(frame.GossipID) {
		return false
	}
	p.markSeen(frame.GossipID)

	p.deliver(frame.Topic, frame.Envelope, frame.Sender)

	if frame.Hops+1 < frame.MaxHops {
		fwd := *frame
		fwd.Hops++
		p.forward(&fwd, from) //nolint:errcheck
	}
	return true
}

// deliver invokes the local handlers subscribed to a topic.
func (p *PubSub) deliver(topic string, env *protocol.Envelope, from SenderInfo) {
	p.mu.RLock()
	sub, ok := p.subs[topic]
	var handlers []TopicHandler
	if ok {
		handlers = make([]TopicHandler, 0, len(sub.handlers))
		for _, h := range sub.handlers {
			handlers = append(handlers, h)
		}
	}
	p.mu.RUnlock()

	for _, h := range handlers {
		h(env, from)
	}
}

// forward sends a frame to all connected peers except the one it came from.
func (p *PubSub) forward(frame *Frame, skip NodeID) error {
	var firstErr error
	for _, peerID := range p.transport.ConnectedPeers() {
		if peerID == skip {
			continue
		}
		f := *frame
		if err := p.transport.Send(peerID, &f); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *PubSub) markSeen(id string) {
	p.mu.Lock()
	p.seen[id] = time.Now()
	p.mu.Unlock()
}

func (p *PubSub) hasSeen(id string) bool {
	p.mu.RLock()
	t, ok := p.seen[id]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	if time.Since(t) > p.seenTTL {
		p.mu.Lock()
		delete(p.seen, id)
		p.mu.Unlock()
		return false
	}
	return true
}

// PruneSeen drops expired dedup entries and returns how many were removed.
func (p *PubSub) PruneSeen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	now := time.Now()
	for id, t := range p.seen {
		if now.Sub(t) > p.seenTTL {
			delete(p.seen, id)
			count++
		}
	}
	return count
}

// randomGossipID generates a random 16-byte hex identifier.
func randomGossipID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
