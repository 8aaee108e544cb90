// Package events carries launcher lifecycle events over an in-memory
// watermill pub/sub so observers (logging, tests) can follow a run without
// touching the console contract.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	gochannel "github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
)

type Bus struct {
	Router     *message.Router
	Publisher  message.Publisher
	Subscriber message.Subscriber

	runOnce sync.Once
}

// lifecycleBuffer absorbs a whole run's event burst so Publish never blocks
// the launch sequence on a slow observer.
const lifecycleBuffer = 256

func NewInMemoryBus() (*Bus, error) {
	logger := watermill.NopLogger{}
	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: lifecycleBuffer}, logger)

	r, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "new watermill router")
	}
	return &Bus{
		Router:     r,
		Publisher:  pubsub,
		Subscriber: pubsub,
	}, nil
}

func (b *Bus) AddHandler(name, topic string, handler func(*message.Message) error) {
	b.Router.AddConsumerHandler(name, topic, b.Subscriber, handler)
}

func (b *Bus) Run(ctx context.Context) error {
	var runErr error
	b.runOnce.Do(func() {
		go func() {
			<-ctx.Done()
			_ = b.Router.Close()
		}()
		runErr = b.Router.Run(ctx)
	})
	return runErr
}

// WaitRunning blocks until the router's handlers are subscribed. The
// gochannel pub/sub is non-persistent, so anything published before this
// returns would be dropped on the floor.
func (b *Bus) WaitRunning(timeout time.Duration) error {
	select {
	case <-b.Router.Running():
		return nil
	case <-time.After(timeout):
		return errors.New("event bus did not start")
	}
}
