package feed

// Feed event kinds.
//
// Each kind is named after the subscription field that streams it, so a
// kind can be looked up directly from a client request.

type EventKind string

const (
	// Global (node lifecycle) kinds, broadcast to every subscriber.
	TipChangedKind              EventKind = "tipChanged"
	PreloadProgressKind         EventKind = "preloadProgress"
	NodeExceptionKind           EventKind = "nodeException"
	ProtocolVersionMismatchKind EventKind = "differentAppProtocolVersionEncounter"
	NotificationKind            EventKind = "notification"

	// Agent-scoped kinds, keyed by the signer (agent) address.
	ActionPointKind EventKind = "avatarActionPointStatusByAgent"
	DailyRewardKind EventKind = "dailyRewardStatusByAgent"
)

// slice of all global kinds for config funcs lookup
var GLOBAL_KINDS = []EventKind{
	TipChangedKind,
	PreloadProgressKind,
	NodeExceptionKind,
	ProtocolVersionMismatchKind,
	NotificationKind,
}

// slice of all agent-scoped kinds
var AGENT_KINDS = []EventKind{
	ActionPointKind,
	DailyRewardKind,
}

// Scoped reports whether the kind is delivered per agent address.
func (k EventKind) Scoped() bool {
	for _, a := range AGENT_KINDS {
		if a == k {
			return true
		}
	}
	return false
}

// Valid reports whether k is a known kind.
func (k EventKind) Valid() bool {
	for _, g := range GLOBAL_KINDS {
		if g == k {
			return true
		}
	}
	return k.Scoped()
}

// ParseEventKind looks up a kind by its field name; "ALL" is not a kind.
func ParseEventKind(s string) (EventKind, error) {
	k := EventKind(s)
	if !k.Valid() {
		return "", NewErr(BadRequest, "unknown event kind: %q", s)
	}
	return k, nil
}

// SubscriptionKey selects a subscriber entry: either an agent address,
// or the zero value which stands for the process-wide Global key.
type SubscriptionKey struct {
	Agent Address
}

// GlobalKey is the singleton key for node lifecycle channels.
var GlobalKey = SubscriptionKey{}

func AgentKey(agent Address) SubscriptionKey {
	return SubscriptionKey{Agent: agent}
}

func (k SubscriptionKey) IsGlobal() bool {
	return k.Agent == ""
}

func (k SubscriptionKey) String() string {
	if k.IsGlobal() {
		return "global"
	}
	return string(k.Agent)
}
