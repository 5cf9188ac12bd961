package core

import (
	"bytes"
	"testing"

	feed "github.com/planetarium/ncfeed/pkg"
	"github.com/planetarium/ncfeed/pkg/broadcast"
	"github.com/planetarium/ncfeed/pkg/store"
)

type sink struct {
	blocks  []feed.BlockRef
	actions []feed.ActionEvaluation
}

func (s *sink) RenderBlock(tip feed.BlockRef)           { s.blocks = append(s.blocks, tip) }
func (s *sink) RenderAction(eval feed.ActionEvaluation) { s.actions = append(s.actions, eval) }

func newReceiver(t *testing.T) (*NodeReceiver, *sink, store.SQLite, *broadcast.Channels) {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(st.Close)
	s := &sink{}
	global := broadcast.New(1, 8)
	return NewNodeReceiver(feed.TestConfig(), s, st, global), s, st, global
}

func TestStateThenBlockThenAction(t *testing.T) {
	z, s, st, _ := newReceiver(t)
	steps := []struct{ topic, payload string }{
		{"state", `{"address":"0x00000000000000000000000000000000000A0001","block_index":7,"blob":"0201ff"}`},
		{"block", `{"index":7,"hash":"b7"}`},
		{"action", `{"signer":"0x00000000000000000000000000000000000000AA","action":{"type_id":"grinding","values":{"avatarAddress":"0x00000000000000000000000000000000000a0001"}},"block_index":7,"block_hash":"b7"}`},
	}
	for _, step := range steps {
		if err := z.Handle(step.topic, []byte(step.payload)); err != nil {
			t.Fatalf("Handle(%s): %v", step.topic, err)
		}
	}
	blob, err := st.GetStateAt("0x00000000000000000000000000000000000a0001", feed.BlockRef{Index: 7})
	if err != nil || !bytes.Equal(blob, []byte{2, 1, 0xff}) {
		t.Fatalf("state not stored: %v %v", blob, err)
	}
	if tip, _ := st.CurrentTip(); tip.Index != 7 || tip.Hash != "b7" {
		t.Fatalf("block not stored: %+v", tip)
	}
	if len(s.blocks) != 1 || s.blocks[0].Index != 7 {
		t.Fatalf("block not rendered: %+v", s.blocks)
	}
	if len(s.actions) != 1 {
		t.Fatalf("action not rendered: %+v", s.actions)
	}
	a := s.actions[0]
	if a.Signer != "0x00000000000000000000000000000000000000aa" || a.Action.TypeID != "grinding" || a.BlockIndex != 7 {
		t.Fatalf("action decoded wrongly: %+v", a)
	}
}

func TestBlockWithInlineStates(t *testing.T) {
	z, _, st, _ := newReceiver(t)
	payload := `{"index":8,"hash":"b8","states":[{"address":"0x00000000000000000000000000000000000000aa","blob":"01"}]}`
	if err := z.Handle("block", []byte(payload)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	blob, _ := st.GetStateAt("0x00000000000000000000000000000000000000aa", feed.BlockRef{Index: 8})
	if !bytes.Equal(blob, []byte{1}) {
		t.Fatalf("inline state not stored at the block index: %v", blob)
	}
}

func TestGlobalTopics(t *testing.T) {
	z, _, _, global := newReceiver(t)
	tap, _ := global.Tap()
	payloads := map[string]string{
		"preload":   `{"currentPhase":1,"totalPhase":5,"extra":{"type":"BlockHashDownloadState","currentCount":10,"totalCount":100}}`,
		"exception": `{"code":2,"message":"no peers"}`,
		"apv":       `{"peer":"p1","peerVersion":"200","localVersion":"201"}`,
		"notify":    `{"type":"REFILL","message":"ap refilled"}`,
	}
	order := []string{"preload", "exception", "apv", "notify"}
	for _, topic := range order {
		if err := z.Handle(topic, []byte(payloads[topic])); err != nil {
			t.Fatalf("Handle(%s): %v", topic, err)
		}
	}
	want := []feed.EventKind{feed.PreloadProgressKind, feed.NodeExceptionKind, feed.ProtocolVersionMismatchKind, feed.NotificationKind}
	for _, kind := range want {
		ev := <-tap.C
		if ev.Kind != kind {
			t.Fatalf("expected %s, got %s", kind, ev.Kind)
		}
	}
}

func TestBadFrames(t *testing.T) {
	z, s, _, _ := newReceiver(t)
	cases := []struct {
		topic, payload string
		code           feed.ErrorCode
	}{
		{"block", `{`, feed.Malformed},
		{"state", `{"address":"0x00000000000000000000000000000000000000aa","block_index":1,"blob":"zz"}`, feed.Malformed},
		{"state", `{"address":"nope","block_index":1,"blob":"00"}`, feed.BadRequest},
		{"action", `{"signer":"nope"}`, feed.BadRequest},
		{"mempool", `{}`, feed.BadRequest},
	}
	for _, c := range cases {
		err := z.Handle(c.topic, []byte(c.payload))
		if !feed.IsError(err, c.code) {
			t.Errorf("Handle(%s, %s): expected %s, got %v", c.topic, c.payload, c.code, err)
		}
	}
	if len(s.blocks) != 0 || len(s.actions) != 0 {
		t.Fatalf("bad frames were rendered: %+v %+v", s.blocks, s.actions)
	}
}
