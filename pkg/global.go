package feed

// Global event payloads. Field names follow the subscription wire format.

type TipChanged struct {
	Index int64  `json:"index"`
	Hash  string `json:"hash"`
}

type PreloadExtra struct {
	Type         string `json:"type"`
	CurrentCount int64  `json:"currentCount"`
	TotalCount   int64  `json:"totalCount"`
}

type PreloadProgress struct {
	CurrentPhase int          `json:"currentPhase"`
	TotalPhase   int          `json:"totalPhase"`
	Extra        PreloadExtra `json:"extra"`
}

type NodeException struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type ProtocolVersionMismatch struct {
	Peer         string `json:"peer"`
	PeerVersion  string `json:"peerVersion"`
	LocalVersion string `json:"localVersion"`
}

type NotificationType string

const (
	NotifyRefill   NotificationType = "REFILL"
	NotifyHAS      NotificationType = "HAS"
	NotifyCombine  NotificationType = "COMBINATION_EQUIPMENT"
	NotifyShop     NotificationType = "SHOP"
	NotifyOperator NotificationType = "OPERATOR"
)

// Notification.Receiver is metadata for the client; it does not route
// the notification, every notification subscriber receives it.
type Notification struct {
	Type     NotificationType `json:"type"`
	Receiver Address          `json:"receiver,omitempty"`
	Message  string           `json:"message"`
}
