package chain

import (
	"context"
	"log"
	"sync"

	feed "github.com/planetarium/ncfeed/pkg"
)

// StateStore is the storage side of a Node.
type StateStore interface {
	feed.StateReader
	CurrentTip() (feed.BlockRef, error)
}

/*
Node is the Chain the feed runs against in production. Blocks and
actions discovered by the node receiver (or the TipChaser) are queued
with RenderBlock / RenderAction and delivered to the registered
renderers by a single goroutine, in the order they were queued.

A renderer that panics is logged and skipped; the loop moves on to the
next callback and the next event.
*/
type Node struct {
	store  StateStore
	events chan nodeEvent
	quit   chan struct{}

	mu      sync.RWMutex
	blocks  []feed.BlockRenderer
	actions []feed.ActionRenderer

	// only touched by the render loop
	lastTip feed.BlockRef
}

type nodeEvent struct {
	ev   feed.RenderEvent
	sync chan struct{}
}

var _ feed.Chain = (*Node)(nil)

func NewNode(store StateStore, queueSize int) *Node {
	return &Node{
		store:  store,
		events: make(chan nodeEvent, queueSize),
		quit:   make(chan struct{}),
	}
}

func (n *Node) RegisterBlockRenderer(cb feed.BlockRenderer) {
	n.mu.Lock()
	n.blocks = append(n.blocks, cb)
	n.mu.Unlock()
}

func (n *Node) RegisterActionRenderer(cb feed.ActionRenderer) {
	n.mu.Lock()
	n.actions = append(n.actions, cb)
	n.mu.Unlock()
}

func (n *Node) GetStateAt(address feed.Address, ref feed.BlockRef) ([]byte, error) {
	return n.store.GetStateAt(address, ref)
}

func (n *Node) CurrentTip() (feed.BlockRef, error) {
	return n.store.CurrentTip()
}

// SetTip sets the tip that the first rendered block is reported against.
// Call it before Run.
func (n *Node) SetTip(tip feed.BlockRef) {
	n.lastTip = tip
}

// RenderBlock queues a BlockCommitted event for tip. The old tip is
// filled in by the render loop; tips that do not advance are ignored.
func (n *Node) RenderBlock(tip feed.BlockRef) {
	n.queue(nodeEvent{ev: feed.NewBlockCommitted(feed.BlockRef{}, tip)})
}

// RenderAction queues an ActionEvaluated event.
func (n *Node) RenderAction(eval feed.ActionEvaluation) {
	n.queue(nodeEvent{ev: feed.NewActionEvaluated(eval)})
}

// Sync returns once every event queued before it has been delivered.
func (n *Node) Sync() {
	done := make(chan struct{})
	n.queue(nodeEvent{sync: done})
	select {
	case <-done:
	case <-n.quit:
	}
}

func (n *Node) queue(e nodeEvent) {
	select {
	case n.events <- e:
	case <-n.quit:
	}
}

// Implements conductor Service
func (n *Node) Run(started, stopped chan bool, stop chan context.Context) error {
	go func() {
		started <- true
		for {
			select {
			case <-stop:
				close(n.quit)
				stopped <- true
				return
			case e := <-n.events:
				if e.sync != nil {
					close(e.sync)
					continue
				}
				n.deliver(e.ev)
			}
		}
	}()
	return nil
}

func (n *Node) deliver(ev feed.RenderEvent) {
	n.mu.RLock()
	blocks, actions := n.blocks, n.actions
	n.mu.RUnlock()
	switch ev.Type {
	case feed.BlockCommitted:
		if !n.lastTip.IsZero() && ev.NewTip.Index <= n.lastTip.Index {
			return
		}
		ev.OldTip = n.lastTip
		n.lastTip = ev.NewTip
		log.Println("Node: rendering block", ev.NewTip.Index, ev.NewTip.Hash)
		for _, cb := range blocks {
			safely(ev, func() { cb(ev.OldTip, ev.NewTip) })
		}
	case feed.ActionEvaluated:
		for _, cb := range actions {
			safely(ev, func() { cb(ev.Evaluation) })
		}
	}
}

func safely(ev feed.RenderEvent, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Println("Node: renderer panicked on", ev.Type, ":", r)
		}
	}()
	fn()
}
