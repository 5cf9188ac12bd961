package feed

// StateWrite is one state blob written at a block.
type StateWrite struct {
	Address Address
	Blob    []byte
}

type Store interface {
	StateReader
	// CurrentTip returns the highest stored block; the zero BlockRef when
	// no block has been stored yet.
	CurrentTip() (BlockRef, error)
	// PutState stores the blob for address as of block index.
	PutState(address Address, index int64, blob []byte) error
	// CommitBlock stores the states written by a block and the block
	// itself in one transaction, so GetStateAt never sees a block whose
	// states are missing.
	CommitBlock(ref BlockRef, states []StateWrite) error
	Close()
}
