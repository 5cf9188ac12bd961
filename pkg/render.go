package feed

// RenderEventType tags the RenderEvent union.
type RenderEventType int

const (
	BlockCommitted RenderEventType = iota
	ActionEvaluated
)

func (t RenderEventType) String() string {
	switch t {
	case BlockCommitted:
		return "BlockCommitted"
	case ActionEvaluated:
		return "ActionEvaluated"
	}
	return "Unknown"
}

// RenderEvent is produced by the chain once per render callback and is
// consumed exactly once by the dispatcher. It is never mutated.
type RenderEvent struct {
	Type RenderEventType

	// BlockCommitted
	OldTip BlockRef
	NewTip BlockRef

	// ActionEvaluated
	Evaluation ActionEvaluation
}

func NewBlockCommitted(oldTip, newTip BlockRef) RenderEvent {
	return RenderEvent{Type: BlockCommitted, OldTip: oldTip, NewTip: newTip}
}

func NewActionEvaluated(eval ActionEvaluation) RenderEvent {
	return RenderEvent{Type: ActionEvaluated, Evaluation: eval}
}

// Action is a decoded game action: its type identifier plus the plain
// values carried by its payload (addresses as hex strings).
type Action struct {
	TypeID string            `json:"type_id"`
	Values map[string]string `json:"values,omitempty"`
}

// Value returns a payload value, or "" when absent.
func (a Action) Value(name string) string {
	if a.Values == nil {
		return ""
	}
	return a.Values[name]
}

// ActionException describes why an action failed to execute.
type ActionException struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// ActionEvaluation is the result of executing one action in a block.
type ActionEvaluation struct {
	Signer     Address          `json:"signer"`
	Action     Action           `json:"action"`
	BlockIndex int64            `json:"block_index"`
	BlockHash  string           `json:"block_hash,omitempty"`
	Exception  *ActionException `json:"exception,omitempty"`
}

// Failed reports whether the action raised an exception.
func (e ActionEvaluation) Failed() bool {
	return e.Exception != nil
}

// Block returns the ref of the block the action was evaluated in.
func (e ActionEvaluation) Block() BlockRef {
	return BlockRef{Index: e.BlockIndex, Hash: e.BlockHash}
}
