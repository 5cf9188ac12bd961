package receivers

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/planetarium/ncfeed/pkg/broadcast"
	"github.com/planetarium/ncfeed/pkg/channel"
)

var sinkGaps = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ncfeed_sink_gaps_total",
	Help: "Times a global event sink fell behind and resubscribed, losing the events in between.",
}, []string{"sink"})

// retap replaces a tap that has ended. A sink cut off for falling
// behind gets a fresh tap; nil means the global channels are closed.
func retap(sink string, global *broadcast.Channels, old *channel.Sub[broadcast.Event]) *channel.Sub[broadcast.Event] {
	tap, err := global.Tap()
	if err != nil {
		return nil
	}
	sinkGaps.WithLabelValues(sink).Inc()
	log.Printf("%s: resubscribed after falling behind: %v\n", sink, old.Err())
	return tap
}
