package chain

import (
	"context"
	"log"
	"time"

	feed "github.com/planetarium/ncfeed/pkg"
)

// TipSource reports the highest block known to the state store.
type TipSource interface {
	CurrentTip() (feed.BlockRef, error)
}

// BlockSink accepts newly discovered tips.
type BlockSink interface {
	RenderBlock(tip feed.BlockRef)
}

/*
 * TipChaser watches the blocks rendered by a Node. If no block has been
 * rendered for a while, it polls the store's current tip instead and
 * renders it when it has moved: the store is also written by the node's
 * indexer, so it may be ahead of a silent ZMQ feed.
 */
type TipChaser struct {
	source   TipSource
	sink     BlockSink
	interval time.Duration
	seen     chan feed.BlockRef
}

func NewTipChaser(conf feed.Config, source TipSource, sink BlockSink) *TipChaser {
	interval := conf.Node.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &TipChaser{
		source:   source,
		sink:     sink,
		interval: interval,
		seen:     make(chan feed.BlockRef, 1000),
	}
}

// Attach subscribes the chaser to rendered blocks.
func (c *TipChaser) Attach(r feed.Renderer) {
	r.RegisterBlockRenderer(func(oldTip, newTip feed.BlockRef) {
		// non-blocking send, this runs on the render loop
		select {
		case c.seen <- newTip:
		default:
		}
	})
}

func (c *TipChaser) Run(started, stopped chan bool, stop chan context.Context) error {
	go func() {
		started <- true
		var last feed.BlockRef
		for {
			select {
			case <-stop:
				stopped <- true
				return
			case tip := <-c.seen:
				last = tip
			case <-time.After(c.interval):
				log.Println("TipChaser: no block for", c.interval, "falling back to the store tip")
				tip, err := c.source.CurrentTip()
				if err != nil {
					log.Println("TipChaser: CurrentTip failed:", err)
					continue
				}
				if tip.Index > last.Index {
					log.Println("TipChaser: discovered new tip:", tip.Index, tip.Hash)
					last = tip
					c.sink.RenderBlock(tip)
				}
			}
		}
	}()
	return nil
}
