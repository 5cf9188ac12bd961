package channel

/*
A Channel is a broadcast channel with a bounded replay buffer.

Publish never blocks: each subscriber owns a buffered Go channel, and a
subscriber whose buffer is full is cut off (its channel is closed and
Err reports a Closed error), so one slow reader cannot hold up the
publisher or other readers.

A new subscriber first receives up to `depth` of the most recently
published values, then everything published after it subscribed.
*/

import (
	"sync"

	feed "github.com/planetarium/ncfeed/pkg"
)

type Channel[T any] struct {
	mu     sync.Mutex
	name   string
	depth  int
	buffer int
	replay []T
	subs   map[*Sub[T]]struct{}
	closed bool
}

// Sub is one subscriber's view of a Channel.
type Sub[T any] struct {
	// C yields values until the subscription ends.
	C      <-chan T
	ch     chan T
	parent *Channel[T]
	err    error // guarded by parent.mu
	done   bool  // guarded by parent.mu
}

// New creates a channel replaying the last `depth` values to new
// subscribers, each of which may fall `buffer` values behind.
func New[T any](name string, depth, buffer int) *Channel[T] {
	if depth < 0 {
		depth = 0
	}
	if buffer < 1 {
		buffer = 1
	}
	return &Channel[T]{
		name:   name,
		depth:  depth,
		buffer: buffer,
		subs:   make(map[*Sub[T]]struct{}),
	}
}

// Publish delivers v to every current subscriber and records it for
// replay. Publishing to a closed channel does nothing.
func (c *Channel[T]) Publish(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.depth > 0 {
		if len(c.replay) == c.depth {
			copy(c.replay, c.replay[1:])
			c.replay[len(c.replay)-1] = v
		} else {
			c.replay = append(c.replay, v)
		}
	}
	for sub := range c.subs {
		select {
		case sub.ch <- v:
		default:
			// if we are unable to send, cancel the sub
			c.end(sub, feed.NewErr(feed.Closed, "%s: subscriber fell %d values behind", c.name, c.buffer))
		}
	}
}

// Subscribe attaches a new subscriber, pre-loaded with the replay buffer.
func (c *Channel[T]) Subscribe() (*Sub[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, feed.NewErr(feed.Closed, "%s: channel closed", c.name)
	}
	size := c.buffer
	if c.depth > size {
		size = c.depth
	}
	ch := make(chan T, size)
	for _, v := range c.replay {
		ch <- v
	}
	sub := &Sub[T]{C: ch, ch: ch, parent: c}
	c.subs[sub] = struct{}{}
	return sub, nil
}

// Last returns the most recently published value, if it is still
// held for replay.
func (c *Channel[T]) Last() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.replay) == 0 {
		var zero T
		return zero, false
	}
	return c.replay[len(c.replay)-1], true
}

// Subscribers returns the number of attached subscribers.
func (c *Channel[T]) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Close ends every subscription with a Closed error and drops the
// replay buffer. Later Publish calls are no-ops.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.replay = nil
	for sub := range c.subs {
		c.end(sub, feed.NewErr(feed.Closed, "%s: channel closed", c.name))
	}
}

// end must be called with c.mu held.
func (c *Channel[T]) end(sub *Sub[T], err error) {
	if sub.done {
		return
	}
	sub.done = true
	sub.err = err
	delete(c.subs, sub)
	close(sub.ch)
}

// Close detaches the subscriber. Buffered values still in C are
// discarded by the caller; nothing new is sent. Safe to call twice.
func (s *Sub[T]) Close() {
	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()
	s.parent.end(s, nil)
}

// Err reports why C was closed: nil after Close, a Closed error when
// the subscriber was cut off or the channel itself was closed.
func (s *Sub[T]) Err() error {
	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()
	return s.err
}
