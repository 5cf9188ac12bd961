package store

import (
	"bytes"
	"sync"
	"testing"

	feed "github.com/planetarium/ncfeed/pkg"
)

const avatarA1 = feed.Address("0x00000000000000000000000000000000000a0001")

func newTestStore(t *testing.T) SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestGetStateAtReturnsLatestAtOrBelow(t *testing.T) {
	s := newTestStore(t)
	if err := s.PutState(avatarA1, 5, []byte{5}); err != nil {
		t.Fatalf("PutState: %v", err)
	}
	if err := s.PutState(avatarA1, 9, []byte{9}); err != nil {
		t.Fatalf("PutState: %v", err)
	}
	cases := []struct {
		index int64
		want  []byte
	}{{4, nil}, {5, []byte{5}}, {8, []byte{5}}, {9, []byte{9}}, {1000, []byte{9}}}
	for _, c := range cases {
		blob, err := s.GetStateAt(avatarA1, feed.BlockRef{Index: c.index})
		if err != nil {
			t.Fatalf("GetStateAt: %v", err)
		}
		if (blob == nil) != (c.want == nil) || !bytes.Equal(blob, c.want) {
			t.Errorf("GetStateAt@%d: want %v got %v", c.index, c.want, blob)
		}
	}
}

func TestPutStateOverwrites(t *testing.T) {
	s := newTestStore(t)
	s.PutState(avatarA1, 5, []byte{1})
	s.PutState(avatarA1, 5, []byte{2})
	blob, _ := s.GetStateAt(avatarA1, feed.BlockRef{Index: 5})
	if !bytes.Equal(blob, []byte{2}) {
		t.Fatalf("expected the second write, got %v", blob)
	}
}

func TestCurrentTip(t *testing.T) {
	s := newTestStore(t)
	tip, err := s.CurrentTip()
	if err != nil || !tip.IsZero() {
		t.Fatalf("empty store: expected zero tip, got %+v %v", tip, err)
	}
	s.CommitBlock(feed.BlockRef{Index: 10, Hash: "b10"}, nil)
	s.CommitBlock(feed.BlockRef{Index: 9, Hash: "b9"}, nil)
	tip, err = s.CurrentTip()
	if err != nil || tip.Index != 10 || tip.Hash != "b10" {
		t.Fatalf("expected block 10, got %+v %v", tip, err)
	}
}

func TestCommitBlock(t *testing.T) {
	s := newTestStore(t)
	err := s.CommitBlock(feed.BlockRef{Index: 3, Hash: "b3"}, []feed.StateWrite{
		{Address: avatarA1, Blob: []byte{3}},
		{Address: "0x00000000000000000000000000000000000000aa", Blob: []byte{4}},
	})
	if err != nil {
		t.Fatalf("CommitBlock: %v", err)
	}
	tip, _ := s.CurrentTip()
	if tip.Index != 3 {
		t.Fatalf("expected tip 3, got %+v", tip)
	}
	blob, _ := s.GetStateAt(avatarA1, tip)
	if !bytes.Equal(blob, []byte{3}) {
		t.Fatalf("expected committed state, got %v", blob)
	}
}

func TestConcurrentReads(t *testing.T) {
	s := newTestStore(t)
	s.PutState(avatarA1, 1, []byte{1})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				blob, err := s.GetStateAt(avatarA1, feed.BlockRef{Index: 2})
				if err != nil || !bytes.Equal(blob, []byte{1}) {
					t.Errorf("GetStateAt: %v %v", blob, err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	conf := feed.TestConfig()
	conf.Store.Driver = "mysql"
	if _, err := Open(conf); !feed.IsError(err, feed.BadRequest) {
		t.Fatalf("expected bad request, got %v", err)
	}
}

func TestBindNumbersPlaceholders(t *testing.T) {
	s := sqlStore{numbered: true}
	if got := s.bind("a = ? AND b <= ?"); got != "a = $1 AND b <= $2" {
		t.Fatalf("bind: got %q", got)
	}
}
