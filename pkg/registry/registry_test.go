package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	feed "github.com/planetarium/ncfeed/pkg"
)

const agentAA = feed.Address("0x00000000000000000000000000000000000000aa")

func agent(i int) feed.Address {
	return feed.Address(fmt.Sprintf("0x%040x", i))
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	r := New(1, 8)
	const n = 64
	entries := make([]*Entry, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := r.GetOrCreate(feed.AgentKey(agentAA))
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			entries[i] = e
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		if entries[i] != entries[0] {
			t.Fatalf("GetOrCreate: call %d returned a different entry", i)
		}
	}
	if r.Len() != 1 {
		t.Fatalf("expected exactly one entry, got %d", r.Len())
	}
	if info := r.Describe(); len(info) != 1 || info[0].Refs != n {
		t.Fatalf("expected %d refs, got %+v", n, info)
	}
}

func TestGlobalKeyIsRejected(t *testing.T) {
	r := New(1, 8)
	if _, err := r.GetOrCreate(feed.GlobalKey); !feed.IsError(err, feed.BadRequest) {
		t.Fatalf("expected bad request for the global key, got %v", err)
	}
}

func TestLastReleaseRemovesEntry(t *testing.T) {
	r := New(1, 8)
	key := feed.AgentKey(agentAA)
	first, _ := r.GetOrCreate(key)
	r.GetOrCreate(key)

	if r.Release(key) {
		t.Fatalf("Release: removed while a reference remains")
	}
	if _, ok := r.Lookup(key); !ok {
		t.Fatalf("Lookup: entry missing while a reference remains")
	}
	first.ActionPoint.Publish(feed.ProjectedAvatarState{BlockIndex: 9})

	if !r.Release(key) {
		t.Fatalf("Release: last release did not remove the entry")
	}
	if _, ok := r.Lookup(key); ok {
		t.Fatalf("Lookup: entry still present after last release")
	}
	if r.Len() != 0 {
		t.Fatalf("expected an empty registry, got %d", r.Len())
	}

	// a fresh entry must not carry the old backlog
	second, _ := r.GetOrCreate(key)
	if second == first {
		t.Fatalf("GetOrCreate: returned the removed entry")
	}
	sub, err := second.ActionPoint.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	select {
	case v := <-sub.C:
		t.Fatalf("new entry leaked an old value: %+v", v)
	default:
	}
	// publishing to the removed entry is a no-op
	first.ActionPoint.Publish(feed.ProjectedAvatarState{BlockIndex: 10})
}

func TestReleaseUnknownKey(t *testing.T) {
	r := New(1, 8)
	if r.Release(feed.AgentKey(agentAA)) {
		t.Fatalf("Release of an unknown key reported removal")
	}
}

func TestSnapshotDuringChurn(t *testing.T) {
	r := New(1, 8)
	for i := 0; i < 100; i++ {
		r.GetOrCreate(feed.AgentKey(agent(i)))
	}
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 100; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			key := feed.AgentKey(agent(i))
			r.GetOrCreate(key)
			r.Release(key)
		}
	}()
	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		snap := r.Snapshot()
		if len(snap) < 100 {
			t.Fatalf("Snapshot: lost stable entries, got %d", len(snap))
		}
	}
	close(stop)
	wg.Wait()
	if r.Len() != 100 {
		t.Fatalf("expected 100 entries after churn, got %d", r.Len())
	}
}

func TestRaceBetweenReleaseAndGetOrCreate(t *testing.T) {
	r := New(1, 8)
	key := feed.AgentKey(agentAA)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				e, _ := r.GetOrCreate(key)
				// a held entry must stay the live entry
				if live, ok := r.Lookup(key); !ok || live != e {
					t.Errorf("held entry is not the live entry")
				}
				r.Release(key)
			}
		}()
	}
	wg.Wait()
	if r.Len() != 0 {
		t.Fatalf("expected no entries after all releases, got %d", r.Len())
	}
}
