package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/gestium/flowmail/pkg/channels/gochannel"
	"github.com/gestium/flowmail/pkg/channels/kafka"
	"github.com/gestium/flowmail/pkg/eventbus"
)

// NewEventBus creates the event bus for the given provider: kafka for
// multi-process deployments, gochannel for single-process and
// development setups.
func NewEventBus(provider string, logger *slog.Logger) (eventbus.EventBus, error) {
	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), "flowmail")
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	case "gochannel", "":
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create GoChannel pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}
}
