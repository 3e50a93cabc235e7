package realtime

import (
	"context"

	"distill/api/internal/event"
)

// LocalBus delivers events synchronously within one process.
type LocalBus struct {
	emitter event.Emitter[ChangeEvent]
}

func NewLocalBus() *LocalBus {
	return &LocalBus{}
}

func (b *LocalBus) Publish(_ context.Context, evt ChangeEvent) error {
	b.emitter.Emit(evt)
	return nil
}

func (b *LocalBus) Subscribe(_ context.Context, collection string, fn Handler) (Subscription, error) {
	off := b.emitter.On(func(evt ChangeEvent) {
		if matches(collection, evt) {
			fn(evt)
		}
	})
	return subscriptionFunc(func() error {
		off()
		return nil
	}), nil
}

func (b *LocalBus) Close() error { return nil }
