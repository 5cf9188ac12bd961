package broadcast

import (
	"time"

	feed "github.com/planetarium/ncfeed/pkg"
	"github.com/planetarium/ncfeed/pkg/channel"
)

// sinks such as the event journal read from a deeper buffer than clients
const tapBuffer = 1024

// Event is a global event tagged with its kind, as seen by sinks.
type Event struct {
	Kind    feed.EventKind `json:"kind"`
	Payload any            `json:"payload"`
	Time    time.Time      `json:"time"`
}

// Channels holds one broadcast channel per global event kind. They are
// never address-filtered.
type Channels struct {
	TipChanged              *channel.Channel[feed.TipChanged]
	PreloadProgress         *channel.Channel[feed.PreloadProgress]
	NodeException           *channel.Channel[feed.NodeException]
	ProtocolVersionMismatch *channel.Channel[feed.ProtocolVersionMismatch]
	Notification            *channel.Channel[feed.Notification]

	tap *channel.Channel[Event]
}

// New creates the global channels. tipChanged and preloadProgress
// replay the last `depth` values (the current tip and phase); the
// exception, mismatch and notification channels only deliver what is
// published after a client subscribes.
func New(depth, buffer int) *Channels {
	return &Channels{
		TipChanged:              channel.New[feed.TipChanged](string(feed.TipChangedKind), depth, buffer),
		PreloadProgress:         channel.New[feed.PreloadProgress](string(feed.PreloadProgressKind), depth, buffer),
		NodeException:           channel.New[feed.NodeException](string(feed.NodeExceptionKind), 0, buffer),
		ProtocolVersionMismatch: channel.New[feed.ProtocolVersionMismatch](string(feed.ProtocolVersionMismatchKind), 0, buffer),
		Notification:            channel.New[feed.Notification](string(feed.NotificationKind), 0, buffer),
		tap:                     channel.New[Event]("global", 0, tapBuffer),
	}
}

func (c *Channels) PublishTipChanged(v feed.TipChanged) {
	c.TipChanged.Publish(v)
	c.toTap(feed.TipChangedKind, v)
}

func (c *Channels) PublishPreloadProgress(v feed.PreloadProgress) {
	c.PreloadProgress.Publish(v)
	c.toTap(feed.PreloadProgressKind, v)
}

func (c *Channels) PublishNodeException(v feed.NodeException) {
	c.NodeException.Publish(v)
	c.toTap(feed.NodeExceptionKind, v)
}

func (c *Channels) PublishProtocolVersionMismatch(v feed.ProtocolVersionMismatch) {
	c.ProtocolVersionMismatch.Publish(v)
	c.toTap(feed.ProtocolVersionMismatchKind, v)
}

func (c *Channels) PublishNotification(v feed.Notification) {
	c.Notification.Publish(v)
	c.toTap(feed.NotificationKind, v)
}

// Publish routes a payload to the channel of its kind.
func (c *Channels) Publish(payload any) error {
	switch v := payload.(type) {
	case feed.TipChanged:
		c.PublishTipChanged(v)
	case feed.PreloadProgress:
		c.PublishPreloadProgress(v)
	case feed.NodeException:
		c.PublishNodeException(v)
	case feed.ProtocolVersionMismatch:
		c.PublishProtocolVersionMismatch(v)
	case feed.Notification:
		c.PublishNotification(v)
	default:
		return feed.NewErr(feed.BadRequest, "not a global event: %T", payload)
	}
	return nil
}

func (c *Channels) toTap(kind feed.EventKind, payload any) {
	c.tap.Publish(Event{Kind: kind, Payload: payload, Time: time.Now().UTC()})
}

// Tap subscribes to every global event, in publish order.
func (c *Channels) Tap() (*channel.Sub[Event], error) {
	return c.tap.Subscribe()
}

// Subscribers reports the subscriber count of each global channel.
func (c *Channels) Subscribers() map[feed.EventKind]int {
	return map[feed.EventKind]int{
		feed.TipChangedKind:              c.TipChanged.Subscribers(),
		feed.PreloadProgressKind:         c.PreloadProgress.Subscribers(),
		feed.NodeExceptionKind:           c.NodeException.Subscribers(),
		feed.ProtocolVersionMismatchKind: c.ProtocolVersionMismatch.Subscribers(),
		feed.NotificationKind:            c.Notification.Subscribers(),
	}
}

// Close ends every global subscription.
func (c *Channels) Close() {
	c.TipChanged.Close()
	c.PreloadProgress.Close()
	c.NodeException.Close()
	c.ProtocolVersionMismatch.Close()
	c.Notification.Close()
	c.tap.Close()
}
