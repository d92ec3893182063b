package forward

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// RabbitMQ publishes events to durable queues on the default exchange.
type RabbitMQ struct {
	mu          sync.Mutex
	conn        *amqp091.Connection
	channel     *amqp091.Channel
	queue       string
	topicQueues map[string]bool
	declared    map[string]bool
}

// NewRabbitMQ dials url. Topics listed in topicQueues get a queue of their own named
// "<queue>_<topic>"; everything else goes to queue.
func NewRabbitMQ(url, queue string, topicQueues []string) (*RabbitMQ, error) {
	if url == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is not set")
	}
	if queue == "" {
		queue = "smsrelay_events"
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("could not open RabbitMQ channel: %w", err)
	}

	r := &RabbitMQ{
		conn:        conn,
		channel:     ch,
		queue:       queue,
		topicQueues: make(map[string]bool),
		declared:    make(map[string]bool),
	}
	for _, t := range topicQueues {
		r.topicQueues[t] = true
	}

	log.Info().
		Str("queue", queue).
		Strs("topicQueues", topicQueues).
		Msg("RabbitMQ connection established.")
	return r, nil
}

func (r *RabbitMQ) Name() string { return "rabbitmq" }

// QueueFor returns the queue an event of the given topic is routed to.
func (r *RabbitMQ) QueueFor(topic string) string {
	return queueName(r.queue, r.topicQueues, topic)
}

func queueName(base string, topicQueues map[string]bool, topic string) string {
	if topicQueues[topic] {
		return base + "_" + strings.ToLower(topic)
	}
	return base
}

func (r *RabbitMQ) Publish(ctx context.Context, topic, key string, body []byte) error {
	queue := r.QueueFor(topic)

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.declared[queue] {
		_, err := r.channel.QueueDeclare(
			queue,
			true,  // durable
			false, // auto-delete
			false, // exclusive
			false, // no-wait
			nil,
		)
		if err != nil {
			return fmt.Errorf("could not declare RabbitMQ queue %s: %w", queue, err)
		}
		r.declared[queue] = true
	}

	err := r.channel.PublishWithContext(ctx,
		"",    // default exchange
		queue, // routing key = queue
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    key,
			Type:         topic,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("could not publish to RabbitMQ queue %s: %w", queue, err)
	}
	log.Debug().Str("queue", queue).Str("topic", topic).Msg("Published event to RabbitMQ")
	return nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.channel != nil {
		_ = r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
