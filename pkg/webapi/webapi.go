package webapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	feed "github.com/planetarium/ncfeed/pkg"
	"github.com/planetarium/ncfeed/pkg/broadcast"
	"github.com/planetarium/ncfeed/pkg/conductor"
	"github.com/planetarium/ncfeed/pkg/registry"
	"github.com/planetarium/ncfeed/pkg/session"
)

// TipSource reports the last block seen by the dispatcher.
type TipSource interface {
	Tip() feed.BlockRef
}

// WebAPI implements conductor.Service
type WebAPI struct {
	config   feed.Config
	sessions *session.Manager
	registry *registry.Registry
	global   *broadcast.Channels
	tip      TipSource
	upgrader websocket.Upgrader

	// websocket keep-alive, defaultKeepAlive when zero
	keepAlive time.Duration
}

// interface guard ensures WebAPI implements conductor.Service
var _ conductor.Service = WebAPI{}

func NewWebAPI(config feed.Config, sessions *session.Manager, reg *registry.Registry, global *broadcast.Channels, tip TipSource) (WebAPI, error) {
	return WebAPI{
		config:   config,
		sessions: sessions,
		registry: reg,
		global:   global,
		tip:      tip,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{"graphql-transport-ws"},
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}, nil
}

func (t WebAPI) Run(started, stopped chan bool, stop chan context.Context) error {
	go func() {
		adminMux, pubMux := t.createRouters()

		// Start the admin server
		adminServer := &http.Server{Addr: t.config.WebAPI.AdminBind + ":" + t.config.WebAPI.AdminPort, Handler: adminMux}
		log.Printf("Admin API listening on %s:%s\n", t.config.WebAPI.AdminBind, t.config.WebAPI.AdminPort)
		go func() {
			if err := adminServer.ListenAndServe(); err != http.ErrServerClosed {
				log.Fatalf("HTTP server admin ListenAndServe: %v", err)
			}
		}()

		// Start the public server
		pubServer := &http.Server{Addr: t.config.WebAPI.Bind + ":" + t.config.WebAPI.Port, Handler: pubMux}
		log.Printf("Public API listening on %s:%s\n", t.config.WebAPI.Bind, t.config.WebAPI.Port)
		go func() {
			if err := pubServer.ListenAndServe(); err != http.ErrServerClosed {
				log.Fatalf("HTTP server public ListenAndServe: %v", err)
			}
		}()

		started <- true
		ctx := <-stop
		adminServer.Shutdown(ctx)
		pubServer.Shutdown(ctx)
		stopped <- true
	}()
	return nil
}

func (t WebAPI) createRouters() (adminMux *httprouter.Router, pubMux *httprouter.Router) {
	adminMux = httprouter.New() // Admin APIs
	pubMux = httprouter.New()   // Public APIs

	// Admin APIs

	// GET /admin/registry -> { entries, global } subscriber registry snapshot
	adminMux.GET("/admin/registry", t.getRegistry)

	// POST { notification } /admin/notify -> { status } broadcast a notification
	adminMux.POST("/admin/notify", t.postNotify)

	// GET /admin/tip -> { index, hash } last block rendered
	adminMux.GET("/admin/tip", t.getTip)

	// GET /metrics -> prometheus metrics
	adminMux.Handler("GET", "/metrics", promhttp.Handler())

	// Public APIs

	// GET /graphql/ws -> websocket subscription stream
	pubMux.GET("/graphql/ws", t.subscribe)

	// GET /tip -> { index, hash }
	pubMux.GET("/tip", t.getTip)

	return
}

type RegistryResponse struct {
	Entries []registry.EntryInfo   `json:"entries"`
	Global  map[feed.EventKind]int `json:"global"`
}

func (t WebAPI) getRegistry(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	entries := t.registry.Describe()
	if entries == nil {
		entries = []registry.EntryInfo{}
	}
	sendResponse(w, RegistryResponse{Entries: entries, Global: t.global.Subscribers()})
}

func (t WebAPI) postNotify(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	var n feed.Notification
	err := json.NewDecoder(r.Body).Decode(&n)
	if err != nil {
		sendBadRequest(w, fmt.Sprintf("bad request body (expecting JSON): %v", err))
		return
	}
	if n.Type == "" {
		sendBadRequest(w, "missing 'type' in JSON body")
		return
	}
	if n.Receiver != "" {
		receiver, err := feed.ParseAddress(string(n.Receiver))
		if err != nil {
			sendError(w, "receiver", err)
			return
		}
		n.Receiver = receiver
	}
	t.global.PublishNotification(n)
	sendResponse(w, StatusResponse{Status: "sent"})
}

type StatusResponse struct {
	Status string `json:"status"`
}

func (t WebAPI) getTip(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	tip := t.tip.Tip()
	sendResponse(w, feed.TipChanged{Index: tip.Index, Hash: tip.Hash})
}
