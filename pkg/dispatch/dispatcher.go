package dispatch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	feed "github.com/planetarium/ncfeed/pkg"
	"github.com/planetarium/ncfeed/pkg/broadcast"
	"github.com/planetarium/ncfeed/pkg/classify"
	"github.com/planetarium/ncfeed/pkg/registry"
	"github.com/planetarium/ncfeed/pkg/state"
)

// Projector is what the dispatcher needs from the state layer.
type Projector interface {
	Project(avatar feed.Address, ref feed.BlockRef) (feed.AvatarState, error)
	Avatars(agent feed.Address, ref feed.BlockRef) ([]feed.Address, error)
}

var _ Projector = (*state.Projector)(nil)

type Options struct {
	Workers           int
	QueueSize         int
	RefreshAllAvatars bool
}

func OptionsFromConfig(conf feed.Config) Options {
	return Options{
		Workers:           conf.Dispatch.Workers,
		QueueSize:         conf.Dispatch.QueueSize,
		RefreshAllAvatars: conf.Dispatch.RefreshAllAvatars,
	}
}

/*
Dispatcher turns serialized render callbacks into per-agent updates.

The render callbacks only classify the action and look the signer up in
the registry; all state reads happen on lane goroutines. Each agent has
at most one lane running, and a lane processes its jobs one at a time,
in the order they were rendered, so updates for one agent are published
in render order. Projections from every lane share one semaphore of
Options.Workers slots.
*/
type Dispatcher struct {
	registry  *registry.Registry
	global    *broadcast.Channels
	projector Projector
	sem       *semaphore.Weighted
	opts      Options

	tip atomic.Pointer[feed.BlockRef]

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	idle    *sync.Cond
	lanes   map[feed.Address]*lane
	stopped bool
}

type lane struct {
	jobs []*classify.Classified
}

func New(reg *registry.Registry, global *broadcast.Channels, projector Projector, opts Options) *Dispatcher {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		registry:  reg,
		global:    global,
		projector: projector,
		sem:       semaphore.NewWeighted(int64(opts.Workers)),
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		lanes:     make(map[feed.Address]*lane),
	}
	d.idle = sync.NewCond(&d.mu)
	return d
}

// Attach registers the dispatcher's callbacks with the chain renderer.
func (d *Dispatcher) Attach(r feed.Renderer) {
	r.RegisterBlockRenderer(d.OnBlockRendered)
	r.RegisterActionRenderer(d.OnActionRendered)
}

// Tip returns the last committed block seen by the dispatcher.
func (d *Dispatcher) Tip() feed.BlockRef {
	if tip := d.tip.Load(); tip != nil {
		return *tip
	}
	return feed.BlockRef{}
}

// SetTip seeds the tip before the first block is rendered.
func (d *Dispatcher) SetTip(tip feed.BlockRef) {
	d.tip.Store(&tip)
}

// OnBlockRendered records the new tip and broadcasts tipChanged.
func (d *Dispatcher) OnBlockRendered(oldTip, newTip feed.BlockRef) {
	defer d.isolate("block", newTip.Index)
	renderEvents.WithLabelValues(feed.BlockCommitted.String()).Inc()
	d.tip.Store(&newTip)
	d.global.PublishTipChanged(feed.TipChanged{Index: newTip.Index, Hash: newTip.Hash})
}

// OnActionRendered queues a fan-out job when the action affects derived
// avatar state and its signer has subscribers. It never reads state.
func (d *Dispatcher) OnActionRendered(eval feed.ActionEvaluation) {
	defer d.isolate("action", eval.BlockIndex)
	renderEvents.WithLabelValues(feed.ActionEvaluated.String()).Inc()
	c := classify.Classify(eval)
	if c == nil {
		skippedActions.WithLabelValues("unclassified").Inc()
		return
	}
	if _, ok := d.registry.Lookup(feed.AgentKey(c.Signer)); !ok {
		skippedActions.WithLabelValues("no-subscriber").Inc()
		return
	}
	// no block reference at all: evaluated against the current tip
	if c.Block.IsZero() {
		c.Block = d.Tip()
	}
	d.enqueue(c)
}

// isolate keeps one failed event from stopping the render loop.
func (d *Dispatcher) isolate(what string, index int64) {
	if r := recover(); r != nil {
		renderPanics.Inc()
		log.Printf("Dispatcher: %s render at block %d panicked: %v\n", what, index, r)
	}
}

func (d *Dispatcher) enqueue(c *classify.Classified) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	l, running := d.lanes[c.Signer]
	if !running {
		l = &lane{}
		d.lanes[c.Signer] = l
		activeLanes.Inc()
	}
	if len(l.jobs) >= d.opts.QueueSize {
		dropped := l.jobs[0]
		l.jobs = l.jobs[1:]
		droppedJobs.Inc()
		log.Println("Dispatcher: lane full for", c.Signer, "dropping event at block", dropped.Block.Index)
	}
	l.jobs = append(l.jobs, c)
	if !running {
		go d.drain(c.Signer, l)
	}
}

func (d *Dispatcher) drain(signer feed.Address, l *lane) {
	for {
		d.mu.Lock()
		if len(l.jobs) == 0 || d.ctx.Err() != nil {
			delete(d.lanes, signer)
			activeLanes.Dec()
			if len(d.lanes) == 0 {
				d.idle.Broadcast()
			}
			d.mu.Unlock()
			return
		}
		job := l.jobs[0]
		l.jobs[0] = nil
		l.jobs = l.jobs[1:]
		d.mu.Unlock()
		d.process(job)
	}
}

// process projects and publishes one job. Failures are per avatar: a
// failed projection is logged and dropped, the others are delivered.
func (d *Dispatcher) process(c *classify.Classified) {
	defer func() {
		if r := recover(); r != nil {
			renderPanics.Inc()
			log.Println("Dispatcher: fan-out for", c.Signer, "panicked:", r)
		}
	}()
	if _, ok := d.registry.Lookup(feed.AgentKey(c.Signer)); !ok {
		skippedActions.WithLabelValues("no-subscriber").Inc()
		return
	}
	avatars, err := d.avatarsFor(c)
	if err != nil {
		d.countFailure(err, "avatars of "+string(c.Signer))
		return
	}
	results := make([]*feed.AvatarState, len(avatars))
	g, ctx := errgroup.WithContext(d.ctx)
	for i, avatar := range avatars {
		i, avatar := i, avatar
		g.Go(func() error {
			if err := d.sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer d.sem.Release(1)
			av, err := d.project(avatar, c.Block)
			if err != nil {
				d.countFailure(err, "avatar "+string(avatar))
				return nil
			}
			if av.Agent != c.Signer {
				projections.WithLabelValues("foreign").Inc()
				return nil
			}
			projections.WithLabelValues("ok").Inc()
			results[i] = &av
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// only cancellation gets here
		return
	}
	// the agent may have resubscribed while projecting; publish to the
	// entry that is registered now
	entry, ok := d.registry.Lookup(feed.AgentKey(c.Signer))
	if !ok {
		skippedActions.WithLabelValues("no-subscriber").Inc()
		return
	}
	for _, av := range results {
		if av == nil {
			continue
		}
		entry.ActionPoint.Publish(av.Project(c.Block.Index))
		if c.RewardEligible {
			entry.DailyReward.Publish(av.DailyReward())
		}
	}
}

func (d *Dispatcher) avatarsFor(c *classify.Classified) ([]feed.Address, error) {
	if c.Avatar != "" && !d.opts.RefreshAllAvatars {
		return []feed.Address{c.Avatar}, nil
	}
	if err := d.sem.Acquire(d.ctx, 1); err != nil {
		return nil, err
	}
	defer d.sem.Release(1)
	return d.projector.Avatars(c.Signer, c.Block)
}

func (d *Dispatcher) project(avatar feed.Address, ref feed.BlockRef) (av feed.AvatarState, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("projection panicked: %v", r)
		}
	}()
	return d.projector.Project(avatar, ref)
}

func (d *Dispatcher) countFailure(err error, what string) {
	switch {
	case feed.IsNotFoundError(err), feed.IsMalformedError(err):
		projections.WithLabelValues("miss").Inc()
	case d.ctx.Err() != nil:
	default:
		projections.WithLabelValues("error").Inc()
		log.Println("Dispatcher: projection failed for", what, ":", err)
	}
}

// Wait blocks until no lane has pending work.
func (d *Dispatcher) Wait() {
	d.mu.Lock()
	for len(d.lanes) > 0 {
		d.idle.Wait()
	}
	d.mu.Unlock()
}

// Stop refuses new jobs, drops the queued ones and waits for the
// in-flight projections to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.cancel()
	d.Wait()
}

// Implements conductor Service
func (d *Dispatcher) Run(started, stopped chan bool, stop chan context.Context) error {
	go func() {
		started <- true
		<-stop
		d.Stop()
		stopped <- true
	}()
	return nil
}
