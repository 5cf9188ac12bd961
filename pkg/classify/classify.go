package classify

import (
	"strings"

	feed "github.com/planetarium/ncfeed/pkg"
)

// ActionKind describes one action type that can change an avatar's
// action points or reward status.
type ActionKind struct {
	TypeID string
	// payload value that carries the affected avatar address
	AvatarField string
	// the action claims the daily reward
	RewardEligible bool
}

// Kinds is the allowlist of action types that affect derived avatar
// state. Type ids are matched with any trailing version digits removed,
// so "hack_and_slash22" matches "hack_and_slash".
var Kinds = []ActionKind{
	{TypeID: "hack_and_slash", AvatarField: "avatarAddress"},
	{TypeID: "hack_and_slash_sweep", AvatarField: "avatarAddress"},
	{TypeID: "grinding", AvatarField: "avatarAddress"},
	{TypeID: "charge_action_point", AvatarField: "avatarAddress"},
	{TypeID: "daily_reward", AvatarField: "avatarAddress", RewardEligible: true},
}

var byTypeID = func() map[string]ActionKind {
	m := make(map[string]ActionKind, len(Kinds))
	for _, k := range Kinds {
		m[k.TypeID] = k
	}
	return m
}()

// Classified is an action evaluation that the dispatcher must fan out.
type Classified struct {
	Signer feed.Address
	// zero when the action does not name a (valid) avatar
	Avatar         feed.Address
	Kind           string
	RewardEligible bool
	Block          feed.BlockRef
}

// Classify returns nil for failed actions and for action types outside
// the allowlist. It reads nothing but its argument.
func Classify(eval feed.ActionEvaluation) *Classified {
	if eval.Failed() {
		return nil
	}
	kind, ok := Lookup(eval.Action.TypeID)
	if !ok {
		return nil
	}
	c := &Classified{
		Signer:         eval.Signer,
		Kind:           kind.TypeID,
		RewardEligible: kind.RewardEligible,
		Block:          eval.Block(),
	}
	if raw := eval.Action.Value(kind.AvatarField); raw != "" {
		if avatar, err := feed.ParseAddress(raw); err == nil {
			c.Avatar = avatar
		}
	}
	return c
}

// Lookup finds the allowlisted kind for a (possibly versioned) type id.
func Lookup(typeID string) (ActionKind, bool) {
	k, ok := byTypeID[strings.TrimRight(typeID, "0123456789")]
	return k, ok
}
