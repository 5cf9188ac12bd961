package state

import (
	"fmt"
	"sync"

	"github.com/golang/groupcache/lru"

	feed "github.com/planetarium/ncfeed/pkg"
)

// Projector decodes typed snapshots from raw chain state.
//
// Project and Avatars may block on the state store. They are safe to call
// from many goroutines: the only shared mutable state is the agent cache,
// which is guarded by its own mutex and holds immutable values (state at a
// given block never changes).
type Projector struct {
	states feed.StateReader

	mu     sync.Mutex
	agents *lru.Cache // agentKey -> []feed.Address
}

type agentKey struct {
	agent feed.Address
	index int64
}

func NewProjector(states feed.StateReader, cacheSize int) *Projector {
	p := &Projector{states: states}
	if cacheSize > 0 {
		p.agents = lru.New(cacheSize)
	}
	return p
}

// Project reads and decodes the avatar state at ref.
// A missing blob is a NotFound error and an undecodable one is Malformed;
// callers treat both as "nothing to send".
func (p *Projector) Project(avatar feed.Address, ref feed.BlockRef) (feed.AvatarState, error) {
	blob, err := p.states.GetStateAt(avatar, ref)
	if err != nil {
		return feed.AvatarState{}, fmt.Errorf("GetStateAt %s@%d: %w", avatar, ref.Index, err)
	}
	if blob == nil {
		return feed.AvatarState{}, feed.NewErr(feed.NotFound, "no avatar state for %s at block %d", avatar, ref.Index)
	}
	av, err := DecodeAvatarState(blob)
	if err != nil {
		return feed.AvatarState{}, fmt.Errorf("avatar %s@%d: %w", avatar, ref.Index, err)
	}
	if av.Address != avatar {
		return feed.AvatarState{}, feed.NewErr(feed.Malformed, "avatar state for %s is stored under %s", av.Address, avatar)
	}
	return av, nil
}

// Avatars returns the avatar addresses owned by agent at ref, by slot.
func (p *Projector) Avatars(agent feed.Address, ref feed.BlockRef) ([]feed.Address, error) {
	key := agentKey{agent, ref.Index}
	if cached, ok := p.cached(key); ok {
		return cached, nil
	}
	blob, err := p.states.GetStateAt(agent, ref)
	if err != nil {
		return nil, fmt.Errorf("GetStateAt %s@%d: %w", agent, ref.Index, err)
	}
	if blob == nil {
		return nil, feed.NewErr(feed.NotFound, "no agent state for %s at block %d", agent, ref.Index)
	}
	state, err := DecodeAgentState(blob)
	if err != nil {
		return nil, fmt.Errorf("agent %s@%d: %w", agent, ref.Index, err)
	}
	avatars := state.AvatarAddresses()
	p.store(key, avatars)
	return avatars, nil
}

func (p *Projector) cached(key agentKey) ([]feed.Address, bool) {
	if p.agents == nil {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.agents.Get(key)
	if !ok {
		return nil, false
	}
	return v.([]feed.Address), true
}

func (p *Projector) store(key agentKey, avatars []feed.Address) {
	if p.agents == nil {
		return
	}
	p.mu.Lock()
	p.agents.Add(key, avatars)
	p.mu.Unlock()
}
