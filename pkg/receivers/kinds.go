package receivers

import (
	"fmt"

	feed "github.com/planetarium/ncfeed/pkg"
	"github.com/planetarium/ncfeed/pkg/broadcast"
)

// kindFilter selects the global events a sink wants; nil selects all.
type kindFilter map[feed.EventKind]bool

func (f kindFilter) match(ev broadcast.Event) bool {
	return f == nil || f[ev.Kind]
}

// parseKinds reads a configured kind list. "ALL" or an empty list
// selects every global kind. Agent-scoped kinds never reach sinks.
func parseKinds(kinds []string) (kindFilter, error) {
	f := kindFilter{}
	for _, k := range kinds {
		if k == "ALL" {
			return nil, nil
		}
		kind, err := feed.ParseEventKind(k)
		if err != nil {
			return nil, err
		}
		if kind.Scoped() {
			return nil, fmt.Errorf("%s is delivered per agent and cannot be sent to a sink", kind)
		}
		f[kind] = true
	}
	if len(f) == 0 {
		return nil, nil
	}
	return f, nil
}
