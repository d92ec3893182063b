// Package forward mirrors domain events to external brokers.
package forward

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"smsrelay/config"
)

// Sink publishes an encoded event to one external channel.
type Sink interface {
	Name() string
	// Publish sends body under topic. key identifies the message the event is about.
	Publish(ctx context.Context, topic, key string, body []byte) error
	Close() error
}

// NewSinks builds the sinks named in cfg.Sinks. A sink that cannot connect is logged and
// skipped so the service can still run without it.
func NewSinks(cfg config.EventsConfig) []Sink {
	var sinks []Sink
	for _, name := range cfg.Sinks {
		sink, err := newSink(name, cfg)
		if err != nil {
			log.Error().Err(err).Str("sink", name).Msg("Could not initialise event sink, forwarding to it disabled")
			continue
		}
		if sink == nil {
			continue
		}
		sinks = append(sinks, sink)
		log.Info().Str("sink", name).Msg("Event sink enabled")
	}
	if len(sinks) == 0 {
		log.Info().Msg("No event sinks configured. Event forwarding disabled.")
	}
	return sinks
}

func newSink(name string, cfg config.EventsConfig) (Sink, error) {
	switch name {
	case "rabbitmq":
		return NewRabbitMQ(cfg.RabbitMQURL, cfg.RabbitMQQueue, cfg.RabbitMQTopicQueues)
	case "kafka":
		return NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
	case "redis":
		return NewRedis(cfg.RedisURL, cfg.RedisStream, cfg.RedisMaxLen)
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported event sink %q", name)
	}
}
