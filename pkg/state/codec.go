package state

import (
	"github.com/shopspring/decimal"

	feed "github.com/planetarium/ncfeed/pkg"
)

// State blob layout: a one-byte kind tag, a one-byte version, then the
// kind's fields. Integers are VarUint unless noted; addresses are 20 raw
// bytes; amounts are decimal strings.
const (
	KindAgent  uint8 = 1
	KindAvatar uint8 = 2

	Version1 uint8 = 1
)

func readHeader(s *Stream, kind uint8) error {
	k := s.Uint8()
	v := s.Uint8()
	if s.Err() != nil {
		return s.Err()
	}
	if k != kind {
		return feed.NewErr(feed.Malformed, "unexpected state kind %d (want %d)", k, kind)
	}
	if v != Version1 {
		return feed.NewErr(feed.Malformed, "unsupported state version %d", v)
	}
	return nil
}

// DecodeAgentState decodes: address, count, count x (slot, avatar address).
func DecodeAgentState(blob []byte) (feed.AgentState, error) {
	s := NewStream(blob)
	if err := readHeader(s, KindAgent); err != nil {
		return feed.AgentState{}, err
	}
	agent := feed.AgentState{Address: s.Address(), Avatars: map[int]feed.Address{}}
	count := s.VarUint()
	for i := uint64(0); i < count && s.Err() == nil; i++ {
		slot := s.VarUint()
		addr := s.Address()
		agent.Avatars[int(slot)] = addr
	}
	if !s.Complete() {
		if s.Err() != nil {
			return feed.AgentState{}, s.Err()
		}
		return feed.AgentState{}, feed.NewErr(feed.Malformed, "agent state has trailing bytes")
	}
	return agent, nil
}

func EncodeAgentState(agent feed.AgentState) []byte {
	w := &Writer{}
	w.Uint8(KindAgent)
	w.Uint8(Version1)
	w.Address(agent.Address)
	w.VarUint(uint64(len(agent.Avatars)))
	for slot := 0; len(agent.Avatars) > 0 && slot <= maxSlot(agent.Avatars); slot++ {
		if addr, ok := agent.Avatars[slot]; ok {
			w.VarUint(uint64(slot))
			w.Address(addr)
		}
	}
	return w.Result()
}

func maxSlot(m map[int]feed.Address) int {
	n := -1
	for slot := range m {
		if slot > n {
			n = slot
		}
	}
	return n
}

// DecodeAvatarState decodes: address, agent, actionPoint, experience,
// level, dailyRewardReceivedIndex (uint64le), equipments, consumables,
// materials, costumes, gold.
func DecodeAvatarState(blob []byte) (feed.AvatarState, error) {
	s := NewStream(blob)
	if err := readHeader(s, KindAvatar); err != nil {
		return feed.AvatarState{}, err
	}
	av := feed.AvatarState{
		Address:                  s.Address(),
		Agent:                    s.Address(),
		ActionPoint:              int64(s.VarUint()),
		Experience:               int64(s.VarUint()),
		Level:                    int64(s.VarUint()),
		DailyRewardReceivedIndex: int64(s.Uint64le()),
	}
	av.Inventory.Equipments = int(s.VarUint())
	av.Inventory.Consumables = int(s.VarUint())
	av.Inventory.Materials = int(s.VarUint())
	av.Inventory.Costumes = int(s.VarUint())
	gold := s.VarString()
	if !s.Complete() {
		if s.Err() != nil {
			return feed.AvatarState{}, s.Err()
		}
		return feed.AvatarState{}, feed.NewErr(feed.Malformed, "avatar state has trailing bytes")
	}
	amount, err := decimal.NewFromString(gold)
	if err != nil {
		return feed.AvatarState{}, feed.NewErr(feed.Malformed, "avatar gold %q: %v", gold, err)
	}
	av.Inventory.Gold = amount
	return av, nil
}

func EncodeAvatarState(av feed.AvatarState) []byte {
	w := &Writer{}
	w.Uint8(KindAvatar)
	w.Uint8(Version1)
	w.Address(av.Address)
	w.Address(av.Agent)
	w.VarUint(uint64(av.ActionPoint))
	w.VarUint(uint64(av.Experience))
	w.VarUint(uint64(av.Level))
	w.Uint64le(uint64(av.DailyRewardReceivedIndex))
	w.VarUint(uint64(av.Inventory.Equipments))
	w.VarUint(uint64(av.Inventory.Consumables))
	w.VarUint(uint64(av.Inventory.Materials))
	w.VarUint(uint64(av.Inventory.Costumes))
	w.VarString(av.Inventory.Gold.String())
	return w.Result()
}
