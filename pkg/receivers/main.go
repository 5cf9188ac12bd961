package receivers

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	feed "github.com/planetarium/ncfeed/pkg"
	"github.com/planetarium/ncfeed/pkg/broadcast"
	"github.com/planetarium/ncfeed/pkg/conductor"
)

// SetUpReceivers registers a service for every configured journal and
// callback. Every invalid entry is reported; none are registered then.
func SetUpReceivers(cond *conductor.Conductor, global *broadcast.Channels, conf feed.Config) error {
	var errs error
	var services []conductor.Service
	var names []string

	for name, c := range conf.Journals {
		kinds, err := parseKinds(c.Kinds)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("journal %s: %w", name, err))
			continue
		}
		services = append(services, NewEventJournal(name, c.Path, kinds, global))
		names = append(names, fmt.Sprintf("Journal %s", c.Path))
	}

	for name, c := range conf.Callbacks {
		kinds, err := parseKinds(c.Kinds)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("callback %s: %w", name, err))
			continue
		}
		services = append(services, NewCallbackSender(c.Path, c.HMACSecret, kinds, global))
		names = append(names, fmt.Sprintf("Callback sender for: %s", c.Path))
	}

	if errs != nil {
		return errs
	}
	for i, s := range services {
		cond.Service(names[i], s)
	}
	return nil
}
