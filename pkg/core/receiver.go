package core

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"syscall"
	"time"

	"github.com/pebbe/zmq4"

	feed "github.com/planetarium/ncfeed/pkg"
	"github.com/planetarium/ncfeed/pkg/broadcast"
)

// RenderSink receives blocks and actions in the order the node sent them.
type RenderSink interface {
	RenderBlock(tip feed.BlockRef)
	RenderAction(eval feed.ActionEvaluation)
}

var topics = []string{"state", "block", "action", "preload", "exception", "apv", "notify"}

// NodeReceiver receives the node's render feed over ZMQ.
// Each message is two frames: a topic and a JSON payload.
// CAUTION: the protocol is not authenticated!
//
// The node sends a block's state writes before its block frame, and the
// block frame before the actions evaluated in that block, so by the time
// an action is rendered the states it produced are in the store.
type NodeReceiver struct {
	sink        RenderSink
	store       feed.Store
	global      *broadcast.Channels
	nodeAddress string
}

func NewNodeReceiver(config feed.Config, sink RenderSink, store feed.Store, global *broadcast.Channels) *NodeReceiver {
	return &NodeReceiver{
		sink:        sink,
		store:       store,
		global:      global,
		nodeAddress: config.Node.ZMQAddress,
	}
}

func (z *NodeReceiver) Run(started, stopped chan bool, stop chan context.Context) error {
	sock, err := zmq4.NewSocket(zmq4.SUB)
	if err != nil {
		return err
	}
	sock.SetRcvtimeo(2 * time.Second)
	log.Println("ZMQ: connecting to:", z.nodeAddress)
	err = sock.Connect(z.nodeAddress)
	if err != nil {
		sock.Close()
		return err
	}
	err = subscribeAll(sock, topics...)
	if err != nil {
		sock.Close()
		return err
	}
	go func() {
		started <- true

		for {
			// Handle shutdown
			select {
			case <-stop:
				sock.Close()
				stopped <- true
				return
			default:
				// fall through to zmq recv
			}

			msg, err := sock.RecvMessageBytes(0)
			if err != nil {
				switch err := err.(type) {
				case zmq4.Errno:
					if err == zmq4.Errno(syscall.ETIMEDOUT) || err == zmq4.Errno(syscall.EAGAIN) {
						// handle timeouts by looping again
						continue
					}
					log.Println("ZMQ: recv error:", err)
					continue
				default:
					log.Println("ZMQ: recv failed:", err)
					continue
				}
			}
			if len(msg) < 2 {
				log.Println("ZMQ: dropping message with", len(msg), "frames")
				continue
			}
			if err := z.Handle(string(msg[0]), msg[1]); err != nil {
				log.Println("ZMQ:", err)
			}
		}
	}()
	return nil
}

type stateFrame struct {
	Address    string `json:"address"`
	BlockIndex int64  `json:"block_index"`
	Blob       string `json:"blob"` // hex
}

type blockFrame struct {
	Index  int64        `json:"index"`
	Hash   string       `json:"hash"`
	States []stateFrame `json:"states,omitempty"`
}

// Handle decodes and applies one message.
func (z *NodeReceiver) Handle(topic string, payload []byte) error {
	switch topic {
	case "state":
		var f stateFrame
		if err := decode(topic, payload, &f); err != nil {
			return err
		}
		addr, blob, err := f.decode()
		if err != nil {
			return err
		}
		return z.store.PutState(addr, f.BlockIndex, blob)
	case "block":
		var f blockFrame
		if err := decode(topic, payload, &f); err != nil {
			return err
		}
		ref := feed.BlockRef{Index: f.Index, Hash: f.Hash}
		writes := make([]feed.StateWrite, 0, len(f.States))
		for _, s := range f.States {
			addr, blob, err := s.decode()
			if err != nil {
				return err
			}
			writes = append(writes, feed.StateWrite{Address: addr, Blob: blob})
		}
		if err := z.store.CommitBlock(ref, writes); err != nil {
			return err
		}
		z.sink.RenderBlock(ref)
	case "action":
		var eval feed.ActionEvaluation
		if err := decode(topic, payload, &eval); err != nil {
			return err
		}
		signer, err := feed.ParseAddress(string(eval.Signer))
		if err != nil {
			return fmt.Errorf("action: bad signer: %w", err)
		}
		eval.Signer = signer
		z.sink.RenderAction(eval)
	case "preload":
		var v feed.PreloadProgress
		if err := decode(topic, payload, &v); err != nil {
			return err
		}
		z.global.PublishPreloadProgress(v)
	case "exception":
		var v feed.NodeException
		if err := decode(topic, payload, &v); err != nil {
			return err
		}
		z.global.PublishNodeException(v)
	case "apv":
		var v feed.ProtocolVersionMismatch
		if err := decode(topic, payload, &v); err != nil {
			return err
		}
		z.global.PublishProtocolVersionMismatch(v)
	case "notify":
		var v feed.Notification
		if err := decode(topic, payload, &v); err != nil {
			return err
		}
		z.global.PublishNotification(v)
	default:
		return feed.NewErr(feed.BadRequest, "unknown topic %q", topic)
	}
	return nil
}

func (f stateFrame) decode() (feed.Address, []byte, error) {
	addr, err := feed.ParseAddress(f.Address)
	if err != nil {
		return "", nil, fmt.Errorf("state: %w", err)
	}
	blob, err := hex.DecodeString(f.Blob)
	if err != nil {
		return "", nil, feed.NewErr(feed.Malformed, "state %s: bad blob hex: %v", addr, err)
	}
	return addr, blob, nil
}

func decode(topic string, payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return feed.NewErr(feed.Malformed, "%s: bad payload: %v", topic, err)
	}
	return nil
}

func subscribeAll(sock *zmq4.Socket, topics ...string) error {
	for _, topic := range topics {
		err := sock.SetSubscribe(topic)
		if err != nil {
			return err
		}
	}
	return nil
}
