package feed

// BlockRef identifies a block on the canonical chain.
type BlockRef struct {
	Index int64  `json:"index"`
	Hash  string `json:"hash"`
}

// IsZero reports whether the ref points at no block (nothing rendered yet).
func (b BlockRef) IsZero() bool {
	return b.Index == 0 && b.Hash == ""
}

// BlockRenderer is called once per committed block, in commit order.
type BlockRenderer func(oldTip, newTip BlockRef)

// ActionRenderer is called once per evaluated action, in evaluation order.
type ActionRenderer func(eval ActionEvaluation)

// Renderer is the callback registration side of the chain engine.
//
// Callbacks are invoked on a single goroutine owned by the chain; they
// must return quickly and never block on state reads.
type Renderer interface {
	RegisterBlockRenderer(cb BlockRenderer)
	RegisterActionRenderer(cb ActionRenderer)
}

// StateReader is the state-store side of the chain engine.
//
// GetStateAt returns the raw state blob stored for address as of the
// given block (the latest write at or below ref.Index). An absent state
// is reported as a nil blob with a nil error; errors are reserved for
// store failures. GetStateAt may block on I/O and must be safe for
// concurrent use.
type StateReader interface {
	GetStateAt(address Address, ref BlockRef) ([]byte, error)
}

// Chain is everything the feed consumes from the blockchain engine.
type Chain interface {
	Renderer
	StateReader
	CurrentTip() (BlockRef, error)
}
