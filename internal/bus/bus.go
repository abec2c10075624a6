// Package bus implements the gateway's event fan-out: a fixed set of
// independent channels, each mapping live subscribers to unbounded
// per-subscriber queues. Publishers never block and never learn who, if
// anyone, is listening.
package bus

import (
	"sync"

	"github.com/google/uuid"
)

// ChannelID names one event stream. The set is fixed at process start.
type ChannelID string

const (
	// IntentEvents carries JSON-encoded recognized intents.
	IntentEvents ChannelID = "intent"
	// LogEvents carries raw log lines.
	LogEvents ChannelID = "log"
)

// ChannelIDs lists every channel a Bus owns.
var ChannelIDs = []ChannelID{IntentEvents, LogEvents}

// Subscriber is an opaque registration token, unique per connection.
type Subscriber string

// Channel is one named event stream with its own subscriber registry.
// The mutex serializes registry mutation and publish iteration; queue
// push/pop is internally synchronized and needs no registry lock.
type Channel struct {
	id   ChannelID
	mu   sync.Mutex
	subs map[Subscriber]*Queue
}

func newChannel(id ChannelID) *Channel {
	return &Channel{id: id, subs: make(map[Subscriber]*Queue)}
}

// ID returns the channel identifier.
func (c *Channel) ID() ChannelID { return c.id }

// Subscribe registers a new subscriber with an empty queue.
func (c *Channel) Subscribe() (Subscriber, *Queue) {
	sub := Subscriber(uuid.NewString())
	q := newQueue()
	c.mu.Lock()
	c.subs[sub] = q
	subscriberGauge.WithLabelValues(string(c.id)).Set(float64(len(c.subs)))
	c.mu.Unlock()
	return sub, q
}

// Unsubscribe removes a subscriber and closes its queue. Calling it for
// an unknown or already-removed subscriber is a no-op, so teardown paths
// may race without harm.
func (c *Channel) Unsubscribe(sub Subscriber) {
	c.mu.Lock()
	q, ok := c.subs[sub]
	if ok {
		delete(c.subs, sub)
		subscriberGauge.WithLabelValues(string(c.id)).Set(float64(len(c.subs)))
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	q.Close()
}

// Publish delivers payload to every currently registered subscriber.
// A subscriber is either fully included or fully excluded; queues are
// unbounded so Publish never waits on consumption. Zero subscribers is
// not an error.
func (c *Channel) Publish(payload string) {
	c.mu.Lock()
	delivered := 0
	for _, q := range c.subs {
		q.push(payload)
		delivered++
	}
	c.mu.Unlock()
	publishedTotal.WithLabelValues(string(c.id)).Inc()
	deliveredTotal.WithLabelValues(string(c.id)).Add(float64(delivered))
}

// Len reports the current subscriber count.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Bus is the fixed ChannelID to Channel mapping, created once and never
// resized. Channels are fully independent; the Bus holds no state of
// its own.
type Bus struct {
	channels map[ChannelID]*Channel
}

// New creates a Bus with one Channel per known ChannelID.
func New() *Bus {
	b := &Bus{channels: make(map[ChannelID]*Channel, len(ChannelIDs))}
	for _, id := range ChannelIDs {
		b.channels[id] = newChannel(id)
	}
	return b
}

// Channel returns the named channel, or nil for an unknown id.
func (b *Bus) Channel(id ChannelID) *Channel {
	return b.channels[id]
}

// Publish dispatches to the named channel. Unknown ids are dropped.
func (b *Bus) Publish(id ChannelID, payload string) {
	if c := b.channels[id]; c != nil {
		c.Publish(payload)
	}
}

// Subscribers reports the subscriber count per channel, for status
// reporting.
func (b *Bus) Subscribers() map[string]int {
	out := make(map[string]int, len(b.channels))
	for id, c := range b.channels {
		out[string(id)] = c.Len()
	}
	return out
}
