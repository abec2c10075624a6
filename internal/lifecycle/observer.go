package lifecycle

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"assistd/internal/bus"
	"assistd/internal/engine"
)

// observer translates engine notifications into bus publishes. Each
// notification becomes exactly one publish, synchronously, before the
// engine's callback returns. No filtering, no buffering.
type observer struct {
	bus *bus.Bus
	log zerolog.Logger
}

var _ engine.Observer = (*observer)(nil)

func newObserver(b *bus.Bus, log zerolog.Logger) *observer {
	return &observer{bus: b, log: log}
}

// OnIntentRecognized flattens the entity list into a slots map merged
// into the payload, then publishes the JSON encoding to IntentEvents.
func (o *observer) OnIntentRecognized(in engine.Intent) {
	slots := make(map[string]string, len(in.Entities))
	for _, e := range in.Entities {
		slots[e.Entity] = e.Value
	}
	in.Slots = slots

	payload, err := json.Marshal(in)
	if err != nil {
		o.log.Error().Err(err).Str("intent", in.Name).Msg("encode intent event")
		return
	}
	o.log.Debug().RawJSON("intent", payload).Msg("intent recognized")
	o.bus.Publish(bus.IntentEvents, string(payload))
}

// OnLog publishes the raw line to LogEvents.
func (o *observer) OnLog(line string) {
	o.bus.Publish(bus.LogEvents, line)
}
