package feed

import (
	"github.com/shopspring/decimal"
)

type Amount = decimal.Decimal

// AgentState lists the avatars owned by an agent, by slot.
type AgentState struct {
	Address Address
	Avatars map[int]Address
}

// AvatarAddresses returns the agent's avatars ordered by slot.
func (a AgentState) AvatarAddresses() []Address {
	maxSlot := -1
	for slot := range a.Avatars {
		if slot > maxSlot {
			maxSlot = slot
		}
	}
	result := make([]Address, 0, len(a.Avatars))
	for slot := 0; slot <= maxSlot; slot++ {
		if addr, ok := a.Avatars[slot]; ok {
			result = append(result, addr)
		}
	}
	return result
}

// AvatarState is the decoded avatar state blob.
type AvatarState struct {
	Address                  Address
	Agent                    Address
	ActionPoint              int64
	Experience               int64
	Level                    int64
	DailyRewardReceivedIndex int64
	Inventory                InventorySummary
}

type InventorySummary struct {
	Equipments  int    `json:"equipments"`
	Consumables int    `json:"consumables"`
	Materials   int    `json:"materials"`
	Costumes    int    `json:"costumes"`
	Gold        Amount `json:"gold"`
}

// ProjectedAvatarState is streamed on ActionPointKind. It is derived
// per event per subscriber and never stored.
type ProjectedAvatarState struct {
	BlockIndex    int64            `json:"blockIndex"`
	ActionPoint   int64            `json:"actionPoint"`
	Experience    int64            `json:"experience"`
	Level         int64            `json:"level"`
	AvatarAddress Address          `json:"avatarAddress"`
	Inventory     InventorySummary `json:"inventory"`
}

// DailyRewardStatus is streamed on DailyRewardKind.
type DailyRewardStatus struct {
	LastRewardIndex int64   `json:"lastRewardIndex"`
	ActionPoint     int64   `json:"actionPoint"`
	AvatarAddress   Address `json:"avatarAddress"`
}

func (s AvatarState) Project(blockIndex int64) ProjectedAvatarState {
	return ProjectedAvatarState{
		BlockIndex:    blockIndex,
		ActionPoint:   s.ActionPoint,
		Experience:    s.Experience,
		Level:         s.Level,
		AvatarAddress: s.Address,
		Inventory:     s.Inventory,
	}
}

func (s AvatarState) DailyReward() DailyRewardStatus {
	return DailyRewardStatus{
		LastRewardIndex: s.DailyRewardReceivedIndex,
		ActionPoint:     s.ActionPoint,
		AvatarAddress:   s.Address,
	}
}
