package receivers

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	feed "github.com/planetarium/ncfeed/pkg"
	"github.com/planetarium/ncfeed/pkg/broadcast"
	"github.com/planetarium/ncfeed/pkg/conductor"
)

type runner struct {
	stop    chan context.Context
	stopped chan bool
}

func start(t *testing.T, s conductor.Service) *runner {
	t.Helper()
	r := &runner{stop: make(chan context.Context, 1), stopped: make(chan bool, 1)}
	started := make(chan bool, 1)
	if err := s.Run(started, r.stopped, r.stop); err != nil {
		t.Fatalf("Run: %v", err)
	}
	<-started
	return r
}

func (r *runner) halt(t *testing.T) {
	t.Helper()
	r.stop <- context.Background()
	select {
	case <-r.stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("service did not stop")
	}
}

func TestParseKinds(t *testing.T) {
	if f, err := parseKinds([]string{"ALL"}); err != nil || f != nil {
		t.Fatalf("ALL: expected match-all filter, got %v %v", f, err)
	}
	if f, err := parseKinds(nil); err != nil || f != nil {
		t.Fatalf("empty: expected match-all filter, got %v %v", f, err)
	}
	f, err := parseKinds([]string{"tipChanged", "notification"})
	if err != nil || len(f) != 2 {
		t.Fatalf("expected two kinds, got %v %v", f, err)
	}
	if f.match(broadcast.Event{Kind: feed.NodeExceptionKind}) {
		t.Fatalf("filter matched an unselected kind")
	}
	if _, err := parseKinds([]string{"mempool"}); err == nil {
		t.Fatalf("expected an unknown kind to be rejected")
	}
	if _, err := parseKinds([]string{"dailyRewardStatusByAgent"}); err == nil {
		t.Fatalf("expected an agent kind to be rejected")
	}
}

func TestEventJournal(t *testing.T) {
	global := broadcast.New(1, 8)
	path := filepath.Join(t.TempDir(), "events.log")
	j := NewEventJournal("test", path, kindFilter{feed.TipChangedKind: true}, global)
	r := start(t, j)

	global.PublishNotification(feed.Notification{Type: feed.NotifyOperator, Message: "skipped"})
	global.PublishTipChanged(feed.TipChanged{Index: 3, Hash: "b3"})
	global.PublishTipChanged(feed.TipChanged{Index: 4, Hash: "b4"})

	deadline := time.Now().Add(2 * time.Second)
	var lines []string
	for time.Now().Before(deadline) {
		lines = readLines(t, path)
		if len(lines) == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	r.halt(t)
	if len(lines) != 2 {
		t.Fatalf("expected 2 journal lines, got %v", lines)
	}
	var ev struct {
		Kind    feed.EventKind  `json:"kind"`
		Payload feed.TipChanged `json:"payload"`
	}
	if err := json.Unmarshal([]byte(lines[1]), &ev); err != nil {
		t.Fatalf("bad journal line %q: %v", lines[1], err)
	}
	if ev.Kind != feed.TipChangedKind || ev.Payload.Index != 4 {
		t.Fatalf("wrong journal entry %+v", ev)
	}
}

// slowWriter blocks the first write until released.
type slowWriter struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
	mu      sync.Mutex
	data    strings.Builder
}

func (w *slowWriter) Write(p []byte) (int, error) {
	w.once.Do(func() {
		close(w.entered)
		<-w.release
	})
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.data.Write(p)
}

func (w *slowWriter) Close() error { return nil }

func (w *slowWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.data.String()
}

func TestJournalKeepsWritingAfterFallingBehind(t *testing.T) {
	global := broadcast.New(1, 8)
	j := NewEventJournal("slow", filepath.Join(t.TempDir(), "unused.log"), nil, global)
	w := &slowWriter{entered: make(chan struct{}), release: make(chan struct{})}
	j.out = w
	r := start(t, j)

	global.PublishPreloadProgress(feed.PreloadProgress{CurrentPhase: 1, TotalPhase: 5})
	<-w.entered
	// far more than the tap holds while the journal is stuck
	for i := 0; i < 3000; i++ {
		global.PublishPreloadProgress(feed.PreloadProgress{CurrentPhase: 2, TotalPhase: 5})
	}
	close(w.release)

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(w.String(), `"tipChanged"`) {
		if time.Now().After(deadline) {
			t.Fatalf("journal stopped recording after falling behind")
		}
		global.PublishTipChanged(feed.TipChanged{Index: 9, Hash: "b9"})
		time.Sleep(5 * time.Millisecond)
	}
	r.halt(t)
}

func readLines(t *testing.T, path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var lines []string
	scan := bufio.NewScanner(f)
	for scan.Scan() {
		lines = append(lines, scan.Text())
	}
	return lines
}

func TestCallbackRetriesAndSigns(t *testing.T) {
	var calls atomic.Int32
	got := make(chan *http.Request, 1)
	bodies := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		got <- r
		bodies <- body
	}))
	defer srv.Close()

	global := broadcast.New(1, 8)
	s := NewCallbackSender(srv.URL, "s3cret", nil, global)
	s.delay = 10 * time.Millisecond
	r := start(t, s)
	global.PublishNodeException(feed.NodeException{Code: 2, Message: "no peers"})

	var req *http.Request
	select {
	case req = <-got:
	case <-time.After(2 * time.Second):
		t.Fatalf("callback was not retried")
	}
	body := <-bodies
	r.halt(t)

	timestamp := req.Header.Get("X-Feed-Timestamp")
	want := "sha256=" + generateSha256HMAC(timestamp, body, "s3cret")
	if req.Header.Get("X-Feed-Signature") != want {
		t.Fatalf("bad signature %q, expected %q", req.Header.Get("X-Feed-Signature"), want)
	}
	if !strings.Contains(string(body), `"nodeException"`) {
		t.Fatalf("unexpected body %s", body)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestStopCancelsPendingRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	global := broadcast.New(1, 8)
	s := NewCallbackSender(srv.URL, "", nil, global)
	r := start(t, s)
	global.PublishNotification(feed.Notification{Type: feed.NotifyOperator})
	time.Sleep(50 * time.Millisecond)
	// the first retry waits a full second; stop must not
	began := time.Now()
	r.halt(t)
	if time.Since(began) > 500*time.Millisecond {
		t.Fatalf("stop waited for the retry delay")
	}
}

func TestSetUpReceivers(t *testing.T) {
	conf := feed.TestConfig()
	conf.Journals = map[string]feed.JournalConfig{
		"ok":  {Path: filepath.Join(t.TempDir(), "a.log"), Kinds: []string{"ALL"}},
		"bad": {Path: filepath.Join(t.TempDir(), "b.log"), Kinds: []string{"mempool"}},
	}
	conf.Callbacks = map[string]feed.CallbackConfig{
		"worse": {Path: "http://localhost", Kinds: []string{"avatarActionPointStatusByAgent"}},
	}
	err := SetUpReceivers(conductor.NewConductor(), broadcast.New(1, 8), conf)
	if err == nil {
		t.Fatalf("expected invalid kinds to be reported")
	}
	if !strings.Contains(err.Error(), "journal bad") || !strings.Contains(err.Error(), "callback worse") {
		t.Fatalf("expected both errors, got %v", err)
	}

	delete(conf.Journals, "bad")
	delete(conf.Callbacks, "worse")
	if err := SetUpReceivers(conductor.NewConductor(), broadcast.New(1, 8), conf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
