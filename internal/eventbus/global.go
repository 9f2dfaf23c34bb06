package eventbus

import "context"

var globalBus EventBus

// Init installs the process-wide bus used by Publish.
func Init(bus EventBus) { globalBus = bus }

// Publish sends ev on the global bus, or is a no-op if Init was never called.
func Publish(ctx context.Context, ev *Envelope) error {
	if globalBus == nil {
		return nil
	}
	return globalBus.Publish(ctx, ev)
}
