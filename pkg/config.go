package feed

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jinzhu/configor"
)

type Config struct {
	// connection to the node's render feed
	Node struct {
		ZMQAddress   string        `default:"tcp://localhost:28332"`
		PollInterval time.Duration `default:"30s"` // TipChaser fallback when no block arrives
	}

	// state store backing GetStateAt / CurrentTip
	Store struct {
		Driver string `default:"sqlite"` // sqlite | postgres
		DSN    string `default:"ncfeed.db"`
	}

	Dispatch struct {
		Workers           int  `default:"8"`    // max concurrent state projections
		QueueSize         int  `default:"1024"` // per-agent pending events before the oldest lane work is dropped
		RefreshAllAvatars bool `default:"false"`
		AgentCacheSize    int  `default:"4096"`
	}

	Channels struct {
		ReplayDepth      int `default:"1"`  // replayed values for tipChanged and agent channels
		SubscriberBuffer int `default:"64"` // pending values per subscriber before it is cut off
	}

	WebAPI struct {
		Bind      string `default:"localhost"`
		Port      string `default:"8420"`
		AdminBind string `default:"localhost"`
		AdminPort string `default:"8421"`
	}

	Log struct {
		Path      string // empty: stderr
		MaxSizeMB int    `default:"100"`
	}

	// event journals, keyed by name
	Journals map[string]JournalConfig

	// HTTP callbacks, keyed by name
	Callbacks map[string]CallbackConfig
}

type JournalConfig struct {
	Path  string
	Kinds []string // event kinds to journal, or "ALL"
}

type CallbackConfig struct {
	Path       string
	HMACSecret string
	Kinds      []string
}

func LoadConfig(confPath ...string) (Config, error) {
	c := Config{}
	loader := configor.New(&configor.Config{ENVPrefix: "NCFEED"})
	if err := loader.Load(&c, confPath...); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return c, c.Validate()
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs error
	if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		errs = multierror.Append(errs, fmt.Errorf("store.driver: unsupported driver %q", c.Store.Driver))
	}
	if c.Dispatch.Workers < 1 {
		errs = multierror.Append(errs, fmt.Errorf("dispatch.workers: must be at least 1, got %d", c.Dispatch.Workers))
	}
	if c.Dispatch.QueueSize < 1 {
		errs = multierror.Append(errs, fmt.Errorf("dispatch.queuesize: must be at least 1, got %d", c.Dispatch.QueueSize))
	}
	if c.Channels.ReplayDepth < 0 {
		errs = multierror.Append(errs, fmt.Errorf("channels.replaydepth: must not be negative"))
	}
	if c.Channels.SubscriberBuffer < 1 {
		errs = multierror.Append(errs, fmt.Errorf("channels.subscriberbuffer: must be at least 1"))
	}
	for name, j := range c.Journals {
		if j.Path == "" {
			errs = multierror.Append(errs, fmt.Errorf("journals.%s: missing path", name))
		}
	}
	for name, cb := range c.Callbacks {
		if cb.Path == "" {
			errs = multierror.Append(errs, fmt.Errorf("callbacks.%s: missing path", name))
		}
	}
	return errs
}

// TestConfig returns a config suitable for tests: in-memory store and
// small buffers.
func TestConfig() Config {
	c := Config{}
	c.Node.ZMQAddress = "tcp://localhost:28332"
	c.Node.PollInterval = time.Second
	c.Store.Driver = "sqlite"
	c.Store.DSN = ":memory:"
	c.Dispatch.Workers = 8
	c.Dispatch.QueueSize = 256
	c.Dispatch.AgentCacheSize = 128
	c.Channels.ReplayDepth = 1
	c.Channels.SubscriberBuffer = 64
	c.WebAPI.Bind = "localhost"
	c.WebAPI.Port = "0"
	c.WebAPI.AdminBind = "localhost"
	c.WebAPI.AdminPort = "0"
	return c
}
