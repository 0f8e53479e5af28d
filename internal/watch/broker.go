package watch

import (
	"sync"

	"github.com/seantiz/reportwatch/internal/model"
)

// subscriberBufferSize is the channel buffer for each snapshot subscriber.
// Snapshots are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// Broker fans snapshot changes of each watch out to subscribers. It is safe
// for concurrent use.
//
// Closed topics are kept as markers so that subscribers arriving after a
// watch was stopped receive a closed channel instead of blocking forever.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	subs   map[int]chan model.Snapshot
	nextID int
	closed bool
}

// NewBroker creates a new snapshot broker.
func NewBroker() *Broker {
	return &Broker{
		topics: make(map[string]*topic),
	}
}

// Subscribe returns a channel receiving snapshots of the given watch and an
// unsubscribe function. If the watch was already closed, the returned
// channel is closed.
func (b *Broker) Subscribe(watchID string) (<-chan model.Snapshot, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[watchID]
	if !ok {
		t = &topic{subs: make(map[int]chan model.Snapshot)}
		b.topics[watchID] = t
	}

	ch := make(chan model.Snapshot, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends a snapshot to every subscriber of the watch. It never blocks.
func (b *Broker) Publish(watchID string, s model.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[watchID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- s.Clone():
		default:
			// Slow subscriber; it picks up the next one.
		}
	}
}

// Close signals that no more snapshots will be published for the watch.
// Subscriber channels are closed and later Subscribe calls get a closed
// channel.
func (b *Broker) Close(watchID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[watchID]
	if !ok {
		b.topics[watchID] = &topic{subs: make(map[int]chan model.Snapshot), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}

// Subscribers returns the number of live subscribers of a watch.
func (b *Broker) Subscribers(watchID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[watchID]; ok {
		return len(t.subs)
	}
	return 0
}
