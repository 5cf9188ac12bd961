package webapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	feed "github.com/planetarium/ncfeed/pkg"
	"github.com/planetarium/ncfeed/pkg/session"
)

const (
	writeTimeout = 10 * time.Second
	// a client that answers no ping for this long is dropped
	defaultKeepAlive = 60 * time.Second
)

/*
Subscription protocol on /graphql/ws, one JSON object per text message:

	client: {"id":"1","type":"subscribe","payload":{"field":"tipChanged"}}
	client: {"id":"2","type":"subscribe","payload":{"field":"avatarActionPointStatusByAgent","agentAddress":"0x..."}}
	client: {"id":"1","type":"complete"}
	server: {"id":"1","type":"next","payload":{...}}
	server: {"id":"1","type":"error","payload":{"code":"...","message":"..."}}
	server: {"id":"1","type":"complete"}

A connection carries any number of subscriptions; closing it closes
them all.
*/
type clientMessage struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload subscribeFields `json:"payload"`
}

type subscribeFields struct {
	Field        string `json:"field"`
	AgentAddress string `json:"agentAddress,omitempty"`
}

type serverMessage struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type wsConn struct {
	conn      *websocket.Conn
	sessions  *session.Manager
	keepAlive time.Duration

	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]*wsSub
	wg   sync.WaitGroup
}

type wsSub struct {
	handle *session.Handle
	cancel context.CancelFunc
}

func (t WebAPI) subscribe(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("WebAPI: websocket upgrade failed:", err)
		return
	}
	keepAlive := t.keepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	c := &wsConn{conn: conn, sessions: t.sessions, keepAlive: keepAlive, subs: make(map[string]*wsSub)}
	c.serve()
}

func (c *wsConn) serve() {
	defer c.conn.Close()
	defer c.closeAll()

	c.conn.SetReadDeadline(time.Now().Add(c.keepAlive))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.keepAlive))
	})
	done := make(chan struct{})
	defer close(done)
	go c.ping(done)

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.keepAlive))
		var msg clientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.write(serverMessage{Type: "error", Payload: errorPayload{Code: feed.BadRequest, Message: "malformed message"}})
			continue
		}
		switch msg.Type {
		case "connection_init":
			c.write(serverMessage{Type: "connection_ack"})
		case "ping":
			c.write(serverMessage{Type: "pong"})
		case "subscribe":
			c.start(msg)
		case "complete":
			if c.stop(msg.ID) {
				c.write(serverMessage{ID: msg.ID, Type: "complete"})
			}
		default:
			c.write(serverMessage{ID: msg.ID, Type: "error", Payload: errorPayload{Code: feed.BadRequest, Message: "unknown message type: " + msg.Type}})
		}
	}
}

func (c *wsConn) start(msg clientMessage) {
	fail := func(err error) {
		c.write(serverMessage{ID: msg.ID, Type: "error", Payload: toErrorPayload(err)})
	}
	if msg.ID == "" {
		fail(feed.NewErr(feed.BadRequest, "subscribe: missing id"))
		return
	}
	kind, err := feed.ParseEventKind(msg.Payload.Field)
	if err != nil {
		fail(err)
		return
	}
	key := feed.GlobalKey
	if kind.Scoped() {
		agent, err := feed.ParseAddress(msg.Payload.AgentAddress)
		if err != nil {
			fail(err)
			return
		}
		key = feed.AgentKey(agent)
	}

	c.mu.Lock()
	if _, dup := c.subs[msg.ID]; dup {
		c.mu.Unlock()
		fail(feed.NewErr(feed.BadRequest, "subscribe: id %q already in use", msg.ID))
		return
	}
	handle, err := c.sessions.Open(key, kind)
	if err != nil {
		c.mu.Unlock()
		fail(err)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.subs[msg.ID] = &wsSub{handle: handle, cancel: cancel}
	c.wg.Add(1)
	c.mu.Unlock()

	go c.pump(ctx, msg.ID, handle)
}

// pump forwards session values until the session ends or is stopped.
func (c *wsConn) pump(ctx context.Context, id string, handle *session.Handle) {
	defer c.wg.Done()
	for {
		v, err := handle.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// cut off or shut down: report it and forget the subscription
			c.stop(id)
			c.write(serverMessage{ID: id, Type: "error", Payload: toErrorPayload(err)})
			return
		}
		if err := c.write(serverMessage{ID: id, Type: "next", Payload: v}); err != nil {
			return
		}
	}
}

// stop closes one subscription; reports whether it was open.
func (c *wsConn) stop(id string) bool {
	c.mu.Lock()
	sub, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if !ok {
		return false
	}
	sub.cancel()
	sub.handle.Close()
	return true
}

func (c *wsConn) closeAll() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*wsSub)
	c.mu.Unlock()
	for _, sub := range subs {
		sub.cancel()
		sub.handle.Close()
	}
	c.wg.Wait()
}

// ping keeps the read deadline moving while the client answers.
func (c *wsConn) ping(done chan struct{}) {
	ticker := time.NewTicker(c.keepAlive * 9 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) write(msg serverMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(msg)
}
