package conductor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	startupTimeout  time.Duration = 5 * time.Second
	shutdownTimeout time.Duration = 5 * time.Second
)

/*
Service is a long-running component. Run must return promptly: it
signals started once running, then waits on stop and signals (or
closes) stopped once it has finished. The context received on stop
carries the shutdown deadline.
*/
type Service interface {
	Run(started, stopped chan bool, stop chan context.Context) error
}

type serviceState struct {
	name     string
	service  Service
	ready    chan bool
	stopped  chan bool
	shutdown chan context.Context
}

type Conductor struct {
	mu           sync.Mutex
	started      bool          // Have we been started yet?
	noisy        bool          // Should we log?
	startTimeout time.Duration // How long should we wait for each service to start before we die?
	stopTimeout  time.Duration // How long should we wait for each service to stop before we move on?
	shutdown     chan bool     // closed once everything has stopped, returned from Start()
	services     []*serviceState
	running      []*serviceState
	err          error
	stopOnce     sync.Once
}

/* Create a new conductor instance, accepts Option funcs for changing
default behaviours */
func NewConductor(opts ...func(*Conductor)) *Conductor {
	c := Conductor{
		startTimeout: startupTimeout,
		stopTimeout:  shutdownTimeout,
		shutdown:     make(chan bool),
	}
	for _, optFn := range opts {
		optFn(&c)
	}
	return &c
}

/* Add a Service with a name to be started in order when Start is called */
func (c *Conductor) Service(name string, service Service) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		panic("Cannot call Conductor.Service after Conductor.Start")
	}
	c.services = append(c.services,
		&serviceState{name, service, make(chan bool, 1), make(chan bool, 1), make(chan context.Context, 1)})
}

/* Start each service in turn. The returned channel is closed once every
started service has stopped. */
func (c *Conductor) Start() chan bool {
	c.mu.Lock()
	c.started = true
	services := c.services
	c.mu.Unlock()

	// one at a time, this gives us service dependency order
	for _, srv := range services {
		c.logf("Starting '%s'", srv.name)
		if err := srv.service.Run(srv.ready, srv.stopped, srv.shutdown); err != nil {
			c.fail(fmt.Errorf("%s exited with: %w", srv.name, err))
			break
		}
		select {
		case <-time.After(c.startTimeout):
			// the service may still come up, so it is asked to stop too
			c.addRunning(srv)
			c.fail(fmt.Errorf("%s timed out during startup", srv.name))
		case <-srv.ready:
			c.addRunning(srv)
			c.logf(".. '%s' ok", srv.name)
			continue
		}
		break
	}
	return c.shutdown
}

// Err reports why startup failed, if it did.
func (c *Conductor) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conductor) addRunning(srv *serviceState) {
	c.mu.Lock()
	c.running = append(c.running, srv)
	c.mu.Unlock()
}

func (c *Conductor) fail(err error) {
	log.Println("Conductor:", err)
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	go c.Stop()
}

/* Stop the running services in reverse start order, giving each
stopTimeout to finish. Safe to call more than once. */
func (c *Conductor) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		running := append([]*serviceState(nil), c.running...)
		c.mu.Unlock()

		for i := len(running) - 1; i >= 0; i-- {
			srv := running[i]
			c.logf("Requesting shutdown: %s", srv.name)
			ctx, cancel := context.WithTimeout(context.Background(), c.stopTimeout)
			srv.shutdown <- ctx
			select {
			case <-srv.stopped:
				c.logf("Shutdown complete: %s", srv.name)
			case <-ctx.Done():
				log.Printf("Conductor: timeout exceeded waiting for %s to stop\n", srv.name)
			}
			cancel()
		}
		c.logf("All services stopped, goodbye!")
		close(c.shutdown)
	})
}

func (c *Conductor) logf(s string, v ...interface{}) {
	if c.noisy {
		log.Printf("Conductor: "+s+"\n", v...)
	}
}
