package registry

import (
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	feed "github.com/planetarium/ncfeed/pkg"
	"github.com/planetarium/ncfeed/pkg/channel"
)

const numShards = 32

var entriesGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "ncfeed",
	Subsystem: "registry",
	Name:      "entries",
	Help:      "Agent subscriber entries currently held by the registry.",
})

// Entry holds the channels of one agent key. An entry is shared by
// every session for its key and closed once the last one releases it.
type Entry struct {
	Key         feed.SubscriptionKey
	ActionPoint *channel.Channel[feed.ProjectedAvatarState]
	DailyReward *channel.Channel[feed.DailyRewardStatus]

	refs int // guarded by the owning shard's mu
}

// EntryInfo is a point-in-time description of an entry.
type EntryInfo struct {
	Key                    string `json:"key"`
	Refs                   int    `json:"refs"`
	ActionPointSubscribers int    `json:"avatarActionPointStatusByAgent"`
	DailyRewardSubscribers int    `json:"dailyRewardStatusByAgent"`
}

type shard struct {
	mu      sync.Mutex
	entries map[feed.Address]*Entry
}

// Registry maps agent subscription keys to their entries. Each key
// hashes to one of a fixed set of shards with its own lock; no call
// takes more than one shard lock at a time.
type Registry struct {
	shards [numShards]shard
	depth  int
	buffer int
}

// New creates a registry whose entry channels replay `depth` values and
// buffer `buffer` values per subscriber.
func New(depth, buffer int) *Registry {
	r := &Registry{depth: depth, buffer: buffer}
	for i := range r.shards {
		r.shards[i].entries = make(map[feed.Address]*Entry)
	}
	return r
}

func (r *Registry) shardFor(agent feed.Address) *shard {
	return &r.shards[xxhash.Sum64String(string(agent))%numShards]
}

func (r *Registry) checkKey(key feed.SubscriptionKey) error {
	if key.IsGlobal() {
		return feed.NewErr(feed.BadRequest, "registry holds agent keys only")
	}
	return nil
}

// GetOrCreate returns the unique entry for key, creating it if needed,
// and takes a reference on it. Every GetOrCreate must be paired with a
// Release.
func (r *Registry) GetOrCreate(key feed.SubscriptionKey) (*Entry, error) {
	if err := r.checkKey(key); err != nil {
		return nil, err
	}
	s := r.shardFor(key.Agent)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key.Agent]
	if !ok {
		name := key.String()
		e = &Entry{
			Key:         key,
			ActionPoint: channel.New[feed.ProjectedAvatarState](name+"/"+string(feed.ActionPointKind), r.depth, r.buffer),
			DailyReward: channel.New[feed.DailyRewardStatus](name+"/"+string(feed.DailyRewardKind), r.depth, r.buffer),
		}
		s.entries[key.Agent] = e
		entriesGauge.Inc()
	}
	e.refs++
	return e, nil
}

// Release drops one reference on key's entry. The last release removes
// the entry and closes its channels, so a later GetOrCreate starts with
// an empty replay buffer. Reports whether the entry was removed.
func (r *Registry) Release(key feed.SubscriptionKey) bool {
	if key.IsGlobal() {
		return false
	}
	s := r.shardFor(key.Agent)
	s.mu.Lock()
	e, ok := s.entries[key.Agent]
	if !ok {
		s.mu.Unlock()
		return false
	}
	e.refs--
	if e.refs > 0 {
		s.mu.Unlock()
		return false
	}
	delete(s.entries, key.Agent)
	s.mu.Unlock()
	entriesGauge.Dec()
	e.ActionPoint.Close()
	e.DailyReward.Close()
	return true
}

// Lookup returns the live entry for key without taking a reference.
// A looked-up entry may be released concurrently; publishing to a
// released entry is a no-op.
func (r *Registry) Lookup(key feed.SubscriptionKey) (*Entry, bool) {
	if key.IsGlobal() {
		return nil, false
	}
	s := r.shardFor(key.Agent)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key.Agent]
	return e, ok
}

// Snapshot returns the entries present at the time each shard was
// visited. Entries added or removed during the call may or may not be
// included; the returned slice is owned by the caller. The dispatcher
// uses Lookup per signer rather than walking every entry.
func (r *Registry) Snapshot() []*Entry {
	var result []*Entry
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		for _, e := range s.entries {
			result = append(result, e)
		}
		s.mu.Unlock()
	}
	return result
}

// Describe returns EntryInfo for every entry, sorted by key.
func (r *Registry) Describe() []EntryInfo {
	var result []EntryInfo
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		for _, e := range s.entries {
			result = append(result, EntryInfo{
				Key:                    e.Key.String(),
				Refs:                   e.refs,
				ActionPointSubscribers: e.ActionPoint.Subscribers(),
				DailyRewardSubscribers: e.DailyReward.Subscribers(),
			})
		}
		s.mu.Unlock()
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result
}

func (r *Registry) Len() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}
