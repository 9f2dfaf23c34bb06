package eventbus

import (
	"context"

	"github.com/tilerealm/server/internal/logging"
)

// StartLoggingListener subscribes to every event on bus and writes each one
// to the debug log. Non-blocking: the subscription handler runs on the bus's
// own dispatch goroutines.
func StartLoggingListener(bus EventBus) error {
	_, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		logging.Debug("eventbus: %s %s src=%s prio=%d size=%dB", ev.ID, ev.EventType, ev.Source, ev.Priority, len(ev.Payload))
	})
	if err != nil {
		return err
	}
	logging.Info("eventbus: logging listener subscribed to all events")
	return nil
}
