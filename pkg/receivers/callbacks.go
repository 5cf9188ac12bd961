package receivers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/planetarium/ncfeed/pkg/broadcast"
	"github.com/planetarium/ncfeed/pkg/conductor"
)

const (
	maxRetries   = 6
	initialDelay = 1 * time.Second
	maxDelay     = 32 * time.Second
)

// CallbackSender POSTs global events to a configured URL.
type CallbackSender struct {
	Path       string
	HMACSecret string

	global *broadcast.Channels
	kinds  kindFilter
	client *http.Client
	delay  time.Duration
	wg     sync.WaitGroup
}

// Implements conductor.Service
var _ conductor.Service = (*CallbackSender)(nil)

func NewCallbackSender(path, secret string, kinds kindFilter, global *broadcast.Channels) *CallbackSender {
	return &CallbackSender{
		Path:       path,
		HMACSecret: secret,
		global:     global,
		kinds:      kinds,
		client:     &http.Client{Timeout: 30 * time.Second},
		delay:      initialDelay,
	}
}

// Implements conductor.Service
func (s *CallbackSender) Run(started, stopped chan bool, stop chan context.Context) error {
	tap, err := s.global.Tap()
	if err != nil {
		return err
	}
	go func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer close(stopped)
		started <- true
		for {
			select {
			case <-stop:
				tap.Close()
				cancel()
				s.wg.Wait()
				return
			case ev, ok := <-tap.C:
				if !ok {
					if tap = retap("CallbackSender "+s.Path, s.global, tap); tap == nil {
						<-stop
						cancel()
						s.wg.Wait()
						return
					}
					continue
				}
				if !s.kinds.match(ev) {
					continue
				}
				body, err := json.Marshal(ev)
				if err != nil {
					log.Printf("CallbackSender: failed to serialize %s: %v\n", ev.Kind, err)
					continue
				}
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					if err := s.postWithRetry(ctx, body); err != nil {
						log.Printf("CallbackSender: %v\n", err)
					}
				}()
			}
		}
	}()
	return nil
}

func generateSha256HMAC(timestamp string, payload []byte, secret string) string {
	if secret == "" {
		return ""
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(timestamp))
	h.Write([]byte("."))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (s *CallbackSender) postWithRetry(ctx context.Context, body []byte) error {
	delay := s.delay
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := s.post(ctx, body)
		if err == nil {
			return nil
		}
		log.Printf("CallbackSender: request failed (attempt %d/%d). Retrying in %v. Error: %v\n", attempt+1, maxRetries+1, delay, err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("cancelled posting to %s: %w", s.Path, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return fmt.Errorf("request failed after maximum retries, aborting: %s", s.Path)
}

func (s *CallbackSender) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, "POST", s.Path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.HMACSecret != "" {
		timestamp := fmt.Sprintf("%d", time.Now().Unix())
		req.Header.Set("X-Feed-Signature", "sha256="+generateSha256HMAC(timestamp, body, s.HMACSecret))
		req.Header.Set("X-Feed-Timestamp", timestamp)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
