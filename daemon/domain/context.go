package domain

import (
	"github.com/cskr/pubsub"

	"github.com/vhostmd/vhostmd-go/daemon/config"
)

// Context holds the application runtime context shared across the
// publication loop, the virtio reactor, and the admin HTTP handlers: the
// parsed configuration and the event hubs ticks and lifecycle events are
// announced on.
//
// Hub is an untyped cskr/pubsub hub; no component of the daemon currently
// publishes or subscribes on it. Bus carries the publication loop's
// TickCompleted events on TickTopic: Publish[T] checks the published type
// at compile time, while subscribers (the admin server and the metrics
// observer) type-assert each received message at runtime.
type Context struct {
	Hub *pubsub.PubSub
	Bus *EventBus
	*config.Config
}

// NewContext builds a Context around an already-loaded configuration, with
// fresh event hubs subscribed topics can be created against.
func NewContext(cfg *config.Config) *Context {
	return &Context{
		Hub:    pubsub.New(1),
		Bus:    NewEventBus(4),
		Config: cfg,
	}
}
