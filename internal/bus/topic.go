package bus

import (
	"sync"

	"github.com/Cunha-Renato/yapping-server/internal/proto"
)

// TopicCapacity is the bounded replay history per chat topic. A cursor that
// falls further behind skips forward and misses events.
const TopicCapacity = 50

// Topic is a per-chat broadcast channel with bounded replay history.
// Publication order is preserved per cursor; slow cursors are lossy.
type Topic struct {
	mu sync.Mutex

	// buf holds the most recent events; start is the sequence number of
	// buf[0]. Sequence numbers increase monotonically from zero.
	buf   []proto.Notification
	start uint64
}

func newTopic() *Topic {
	return &Topic{buf: make([]proto.Notification, 0, TopicCapacity)}
}

func (t *Topic) publish(n proto.Notification) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.buf) == TopicCapacity {
		copy(t.buf, t.buf[1:])
		t.buf = t.buf[:TopicCapacity-1]
		t.start++
	}
	t.buf = append(t.buf, n)
}

func (t *Topic) tail() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.start + uint64(len(t.buf))
}

// Subscribe returns a cursor positioned at the current tail: it observes
// only events published after this call.
func (t *Topic) Subscribe() *Cursor {
	return &Cursor{topic: t, next: t.tail()}
}

// Cursor tracks one subscriber's position in a topic.
type Cursor struct {
	topic *Topic
	next  uint64
}

// Drain returns the events published since the last drain, in publication
// order, without blocking. A cursor more than TopicCapacity behind skips to
// the oldest retained event: a strict suffix, never a duplicate.
func (c *Cursor) Drain() []proto.Notification {
	t := c.topic
	t.mu.Lock()
	defer t.mu.Unlock()

	if c.next < t.start {
		c.next = t.start
	}
	tail := t.start + uint64(len(t.buf))
	if c.next >= tail {
		return nil
	}
	out := make([]proto.Notification, tail-c.next)
	copy(out, t.buf[c.next-t.start:])
	c.next = tail
	return out
}
