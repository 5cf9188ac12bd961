package chain

import (
	"sort"
	"sync"

	feed "github.com/planetarium/ncfeed/pkg"
	"github.com/planetarium/ncfeed/pkg/state"
)

// MockChain is an in-memory Chain that renders synchronously on the
// caller's goroutine.
type MockChain struct {
	mu       sync.Mutex
	states   map[feed.Address][]version
	failures map[feed.Address]error
	tip      feed.BlockRef
	blocks   []feed.BlockRenderer
	actions  []feed.ActionRenderer
	reads    map[feed.Address]int
}

type version struct {
	index int64
	blob  []byte
}

var _ feed.Chain = (*MockChain)(nil)

func NewMockChain() *MockChain {
	return &MockChain{
		states:   make(map[feed.Address][]version),
		failures: make(map[feed.Address]error),
		reads:    make(map[feed.Address]int),
	}
}

func (m *MockChain) RegisterBlockRenderer(cb feed.BlockRenderer) {
	m.mu.Lock()
	m.blocks = append(m.blocks, cb)
	m.mu.Unlock()
}

func (m *MockChain) RegisterActionRenderer(cb feed.ActionRenderer) {
	m.mu.Lock()
	m.actions = append(m.actions, cb)
	m.mu.Unlock()
}

// GetStateAt returns the latest blob written at or below ref.Index.
func (m *MockChain) GetStateAt(address feed.Address, ref feed.BlockRef) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads[address]++
	if err := m.failures[address]; err != nil {
		return nil, err
	}
	var blob []byte
	for _, v := range m.states[address] {
		if v.index <= ref.Index {
			blob = v.blob
		}
	}
	return blob, nil
}

func (m *MockChain) CurrentTip() (feed.BlockRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tip, nil
}

// PutState writes a raw blob for address at block index.
func (m *MockChain) PutState(address feed.Address, index int64, blob []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vs := append(m.states[address], version{index, blob})
	sort.SliceStable(vs, func(i, j int) bool { return vs[i].index < vs[j].index })
	m.states[address] = vs
}

func (m *MockChain) PutAgent(agent feed.AgentState, index int64) {
	m.PutState(agent.Address, index, state.EncodeAgentState(agent))
}

func (m *MockChain) PutAvatar(av feed.AvatarState, index int64) {
	m.PutState(av.Address, index, state.EncodeAvatarState(av))
}

// FailState makes every read of address return err; nil clears it.
func (m *MockChain) FailState(address feed.Address, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, address)
		return
	}
	m.failures[address] = err
}

// Reads returns how many times address was read.
func (m *MockChain) Reads(address feed.Address) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads[address]
}

// CommitBlock moves the tip and calls the block renderers.
func (m *MockChain) CommitBlock(tip feed.BlockRef) {
	m.mu.Lock()
	old := m.tip
	m.tip = tip
	blocks := m.blocks
	m.mu.Unlock()
	for _, cb := range blocks {
		cb(old, tip)
	}
}

// RenderAction calls the action renderers.
func (m *MockChain) RenderAction(eval feed.ActionEvaluation) {
	m.mu.Lock()
	actions := m.actions
	m.mu.Unlock()
	for _, cb := range actions {
		cb(eval)
	}
}
