package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"backend-bikeride/internal/logging"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	RideExchange   = "ride_topic" // topic
	publishTimeout = 3 * time.Second
)

var ErrClosed = errors.New("amqp channel closed")

type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// Publisher sends ride lifecycle messages to the ride_topic exchange.
type Publisher struct {
	mu   sync.Mutex
	conn io.Closer
	ch   channel
	log  logging.Logger
}

var dialFn = func(url string) (io.Closer, channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

func Connect(url string, log logging.Logger) (*Publisher, error) {
	conn, ch, err := dialFn(url)
	if err != nil {
		return nil, fmt.Errorf("rabbit connect: %w", err)
	}
	p, err := newPublisher(conn, ch, log)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return p, nil
}

func newPublisher(conn io.Closer, ch channel, log logging.Logger) (*Publisher, error) {
	if err := ch.ExchangeDeclare(RideExchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, log: logging.OrNoop(log)}, nil
}

// PublishJSON encodes msg and publishes it as a persistent message.
func (p *Publisher) PublishJSON(ctx context.Context, routingKey string, msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil || p.ch.IsClosed() {
		return ErrClosed
	}

	pubctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	err = p.ch.PublishWithContext(pubctx, RideExchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	p.log.Debug(ctx, "published ride message", logging.String("routing_key", routingKey))
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil && !p.ch.IsClosed() {
		if err := p.ch.Close(); err != nil {
			return fmt.Errorf("close channel: %w", err)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			return fmt.Errorf("close connection: %w", err)
		}
	}
	p.ch = nil
	p.conn = nil
	return nil
}
