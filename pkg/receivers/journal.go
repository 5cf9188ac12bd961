package receivers

import (
	"context"
	"encoding/json"
	"io"
	"log"

	"github.com/planetarium/ncfeed/pkg/broadcast"
	"github.com/planetarium/ncfeed/pkg/conductor"
	"gopkg.in/natefinch/lumberjack.v2"
)

// EventJournal writes global events as JSON lines to a rotating file.
type EventJournal struct {
	Name   string
	global *broadcast.Channels
	kinds  kindFilter
	out    io.WriteCloser
}

// Implements conductor.Service
var _ conductor.Service = (*EventJournal)(nil)

func NewEventJournal(name, path string, kinds kindFilter, global *broadcast.Channels) *EventJournal {
	return &EventJournal{
		Name:   name,
		global: global,
		kinds:  kinds,
		out: &lumberjack.Logger{
			Filename: path,
			Compress: true,
		},
	}
}

// Implements conductor.Service
func (j *EventJournal) Run(started, stopped chan bool, stop chan context.Context) error {
	tap, err := j.global.Tap()
	if err != nil {
		return err
	}
	go func() {
		defer close(stopped)
		defer j.out.Close()
		started <- true
		enc := json.NewEncoder(j.out)
		for {
			select {
			case <-stop:
				tap.Close()
				return
			case ev, ok := <-tap.C:
				if !ok {
					if tap = retap("EventJournal "+j.Name, j.global, tap); tap == nil {
						<-stop
						return
					}
					continue
				}
				if !j.kinds.match(ev) {
					continue
				}
				if err := enc.Encode(ev); err != nil {
					log.Printf("EventJournal %s: write failed: %v\n", j.Name, err)
				}
			}
		}
	}()
	return nil
}
