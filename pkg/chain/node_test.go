package chain

import (
	"context"
	"sync"
	"testing"
	"time"

	feed "github.com/planetarium/ncfeed/pkg"
)

type service interface {
	Run(started, stopped chan bool, stop chan context.Context) error
}

func start(t *testing.T, svc service) func() {
	t.Helper()
	started, stopped := make(chan bool, 1), make(chan bool, 1)
	stop := make(chan context.Context, 1)
	if err := svc.Run(started, stopped, stop); err != nil {
		t.Fatalf("Run: %v", err)
	}
	<-started
	return func() {
		stop <- context.Background()
		<-stopped
	}
}

type recorder struct {
	mu     sync.Mutex
	events []string
	tips   [][2]feed.BlockRef
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.events = append(r.events, s)
	r.mu.Unlock()
}

func TestNodeRendersInOrder(t *testing.T) {
	node := NewNode(NewMockChain(), 16)
	rec := &recorder{}
	node.RegisterBlockRenderer(func(oldTip, newTip feed.BlockRef) {
		rec.add("block:" + newTip.Hash)
		rec.tips = append(rec.tips, [2]feed.BlockRef{oldTip, newTip})
	})
	node.RegisterActionRenderer(func(eval feed.ActionEvaluation) {
		rec.add("action:" + eval.Action.TypeID)
	})
	node.SetTip(feed.BlockRef{Index: 9, Hash: "b9"})
	stop := start(t, node)
	defer stop()

	node.RenderAction(feed.ActionEvaluation{Action: feed.Action{TypeID: "a1"}, BlockIndex: 10})
	node.RenderAction(feed.ActionEvaluation{Action: feed.Action{TypeID: "a2"}, BlockIndex: 10})
	node.RenderBlock(feed.BlockRef{Index: 10, Hash: "b10"})
	node.RenderBlock(feed.BlockRef{Index: 10, Hash: "b10"}) // duplicate tip
	node.RenderBlock(feed.BlockRef{Index: 11, Hash: "b11"})
	node.Sync()

	want := []string{"action:a1", "action:a2", "block:b10", "block:b11"}
	if len(rec.events) != len(want) {
		t.Fatalf("expected %v, got %v", want, rec.events)
	}
	for i := range want {
		if rec.events[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, rec.events)
		}
	}
	if rec.tips[0][0].Hash != "b9" || rec.tips[1][0].Hash != "b10" {
		t.Fatalf("old tips not filled in: %+v", rec.tips)
	}
}

func TestNodeSurvivesPanickingRenderer(t *testing.T) {
	node := NewNode(NewMockChain(), 16)
	rec := &recorder{}
	node.RegisterActionRenderer(func(eval feed.ActionEvaluation) {
		if eval.Action.TypeID == "bad" {
			panic("renderer failure")
		}
	})
	node.RegisterActionRenderer(func(eval feed.ActionEvaluation) {
		rec.add(eval.Action.TypeID)
	})
	stop := start(t, node)
	defer stop()

	node.RenderAction(feed.ActionEvaluation{Action: feed.Action{TypeID: "bad"}})
	node.RenderAction(feed.ActionEvaluation{Action: feed.Action{TypeID: "good"}})
	node.Sync()

	if len(rec.events) != 2 || rec.events[0] != "bad" || rec.events[1] != "good" {
		t.Fatalf("expected both events delivered to the healthy renderer, got %v", rec.events)
	}
}

func TestNodeDelegatesState(t *testing.T) {
	mock := NewMockChain()
	mock.PutState("0x00000000000000000000000000000000000000aa", 5, []byte{1})
	mock.PutState("0x00000000000000000000000000000000000000aa", 8, []byte{2})
	node := NewNode(mock, 1)
	cases := []struct {
		index int64
		want  []byte
	}{{4, nil}, {5, []byte{1}}, {7, []byte{1}}, {8, []byte{2}}, {100, []byte{2}}}
	for _, c := range cases {
		blob, err := node.GetStateAt("0x00000000000000000000000000000000000000aa", feed.BlockRef{Index: c.index})
		if err != nil {
			t.Fatalf("GetStateAt: %v", err)
		}
		if string(blob) != string(c.want) {
			t.Errorf("GetStateAt@%d: want %v got %v", c.index, c.want, blob)
		}
	}
}

type sinkFunc func(feed.BlockRef)

func (f sinkFunc) RenderBlock(tip feed.BlockRef) { f(tip) }

func TestTipChaserPollsWhenSilent(t *testing.T) {
	mock := NewMockChain()
	mock.CommitBlock(feed.BlockRef{Index: 12, Hash: "b12"})
	conf := feed.TestConfig()
	conf.Node.PollInterval = 10 * time.Millisecond

	got := make(chan feed.BlockRef, 4)
	chaser := NewTipChaser(conf, mock, sinkFunc(func(tip feed.BlockRef) { got <- tip }))
	stop := start(t, chaser)
	defer stop()

	select {
	case tip := <-got:
		if tip.Index != 12 || tip.Hash != "b12" {
			t.Fatalf("TipChaser: rendered wrong tip %+v", tip)
		}
	case <-time.After(time.Second):
		t.Fatalf("TipChaser: did not poll the store")
	}
	// the same tip is not rendered twice
	select {
	case tip := <-got:
		t.Fatalf("TipChaser: rendered %+v again", tip)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTipChaserTracksRenderedBlocks(t *testing.T) {
	mock := NewMockChain()
	conf := feed.TestConfig()
	conf.Node.PollInterval = 20 * time.Millisecond

	got := make(chan feed.BlockRef, 4)
	chaser := NewTipChaser(conf, mock, sinkFunc(func(tip feed.BlockRef) { got <- tip }))
	chaser.Attach(mock)
	stop := start(t, chaser)
	defer stop()

	// a block that was already rendered is not re-rendered by polling
	mock.CommitBlock(feed.BlockRef{Index: 3, Hash: "b3"})
	select {
	case tip := <-got:
		t.Fatalf("TipChaser: re-rendered %+v", tip)
	case <-time.After(100 * time.Millisecond):
	}
}
