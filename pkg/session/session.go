package session

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	feed "github.com/planetarium/ncfeed/pkg"
	"github.com/planetarium/ncfeed/pkg/broadcast"
	"github.com/planetarium/ncfeed/pkg/channel"
	"github.com/planetarium/ncfeed/pkg/registry"
)

var openSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "ncfeed",
	Subsystem: "session",
	Name:      "open",
	Help:      "Open subscription sessions, by event kind.",
}, []string{"kind"})

// Manager opens subscription sessions against the agent registry and
// the global channels.
type Manager struct {
	registry *registry.Registry
	global   *broadcast.Channels
}

func NewManager(reg *registry.Registry, global *broadcast.Channels) *Manager {
	return &Manager{registry: reg, global: global}
}

// Handle is one open subscription. Next and Close may be called from
// different goroutines.
type Handle struct {
	Key  feed.SubscriptionKey
	Kind feed.EventKind

	next    func(ctx context.Context) (any, error)
	detach  func()
	release func()
	once    sync.Once
}

/*
Open attaches a new session to the channel of kind. Agent-scoped kinds
need an agent key: the entry for the key is created on first use and
shared by every session of that agent. Global kinds take the GlobalKey.

Values already held for replay (the current tip, an agent's last
update) are the first values returned by Next.
*/
func (m *Manager) Open(key feed.SubscriptionKey, kind feed.EventKind) (*Handle, error) {
	if !kind.Valid() {
		return nil, feed.NewErr(feed.BadRequest, "unknown event kind: %q", kind)
	}
	if kind.Scoped() {
		if key.IsGlobal() {
			return nil, feed.NewErr(feed.BadRequest, "%s requires an agent address", kind)
		}
		return m.openAgent(key, kind)
	}
	if !key.IsGlobal() {
		return nil, feed.NewErr(feed.BadRequest, "%s does not take an agent address", kind)
	}
	h := &Handle{Key: key, Kind: kind, release: func() {}}
	var err error
	switch kind {
	case feed.TipChangedKind:
		err = attach(h, m.global.TipChanged)
	case feed.PreloadProgressKind:
		err = attach(h, m.global.PreloadProgress)
	case feed.NodeExceptionKind:
		err = attach(h, m.global.NodeException)
	case feed.ProtocolVersionMismatchKind:
		err = attach(h, m.global.ProtocolVersionMismatch)
	case feed.NotificationKind:
		err = attach(h, m.global.Notification)
	}
	if err != nil {
		return nil, err
	}
	openSessions.WithLabelValues(string(kind)).Inc()
	return h, nil
}

func (m *Manager) openAgent(key feed.SubscriptionKey, kind feed.EventKind) (*Handle, error) {
	entry, err := m.registry.GetOrCreate(key)
	if err != nil {
		return nil, err
	}
	h := &Handle{Key: key, Kind: kind, release: func() { m.registry.Release(key) }}
	switch kind {
	case feed.ActionPointKind:
		err = attach(h, entry.ActionPoint)
	case feed.DailyRewardKind:
		err = attach(h, entry.DailyReward)
	}
	if err != nil {
		m.registry.Release(key)
		return nil, err
	}
	openSessions.WithLabelValues(string(kind)).Inc()
	return h, nil
}

func attach[T any](h *Handle, ch *channel.Channel[T]) error {
	sub, err := ch.Subscribe()
	if err != nil {
		return err
	}
	h.detach = sub.Close
	h.next = func(ctx context.Context) (any, error) {
		select {
		case v, ok := <-sub.C:
			if !ok {
				if err := sub.Err(); err != nil {
					return nil, err
				}
				return nil, feed.NewErr(feed.Closed, "session closed")
			}
			return v, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil
}

// Next blocks for the next value. It returns a Closed error once the
// session is closed or was cut off for falling behind, and ctx's error
// when ctx ends first.
func (h *Handle) Next(ctx context.Context) (any, error) {
	return h.next(ctx)
}

// Close detaches the session; the last session of an agent removes the
// agent's entry from the registry. Safe to call twice.
func (h *Handle) Close() {
	h.once.Do(func() {
		h.detach()
		h.release()
		openSessions.WithLabelValues(string(h.Kind)).Dec()
	})
}
