package main

import (
	"github.com/planetarium/ncfeed/pkg/broadcast"
	"github.com/planetarium/ncfeed/pkg/chain"
	"github.com/planetarium/ncfeed/pkg/conductor"
	"github.com/planetarium/ncfeed/pkg/core"
	"github.com/planetarium/ncfeed/pkg/dispatch"
	"github.com/planetarium/ncfeed/pkg/receivers"
	"github.com/planetarium/ncfeed/pkg/registry"
	"github.com/planetarium/ncfeed/pkg/session"
	"github.com/planetarium/ncfeed/pkg/state"
	"github.com/planetarium/ncfeed/pkg/store"
	"github.com/planetarium/ncfeed/pkg/webapi"

	feed "github.com/planetarium/ncfeed/pkg"
)

func Server(conf feed.Config) error {

	c := conductor.NewConductor(
		conductor.HookSignals(),
		conductor.Noisy(),
	)

	// Setup a Store
	st, err := store.Open(conf)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := registry.New(conf.Channels.ReplayDepth, conf.Channels.SubscriberBuffer)
	global := broadcast.New(conf.Channels.ReplayDepth, conf.Channels.SubscriberBuffer)
	defer global.Close()

	// The Node serializes render callbacks and serves state reads
	node := chain.NewNode(st, conf.Dispatch.QueueSize)
	projector := state.NewProjector(node, conf.Dispatch.AgentCacheSize)
	dispatcher := dispatch.New(reg, global, projector, dispatch.OptionsFromConfig(conf))
	dispatcher.Attach(node)
	tip, err := node.CurrentTip()
	if err != nil {
		return err
	}
	node.SetTip(tip)
	dispatcher.SetTip(tip)

	chaser := chain.NewTipChaser(conf, st, node)
	chaser.Attach(node)

	c.Service("Dispatcher", dispatcher)
	c.Service("Node", node)
	c.Service("TipChaser", chaser)

	// Set up all configured journals and callbacks
	if err := receivers.SetUpReceivers(c, global, conf); err != nil {
		return err
	}

	// Start the node listener service (ZMQ)
	c.Service("ZMQ Listener", core.NewNodeReceiver(conf, node, st, global))

	// Start the subscription API
	api, err := webapi.NewWebAPI(conf, session.NewManager(reg, global), reg, global, dispatcher)
	if err != nil {
		return err
	}
	c.Service("Subscription API", api)

	<-c.Start()
	return c.Err()
}
