// Package rabbitmq publishes ledger events to a durable topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/finance-ledger/internal/events"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// DefaultExchange receives every ledger event.
const DefaultExchange = "ledger_events"

// Producer holds one connection and channel. Publish is serialized because
// an amqp channel is not safe for concurrent publishing.
type Producer struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	log      zerolog.Logger
}

// SanitizeURL trims quotes and stray prefixes from an AMQP URL and checks
// its scheme.
func SanitizeURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewProducer dials the broker and declares the exchange.
func NewProducer(amqpURL, exchange string, log zerolog.Logger) (*Producer, error) {
	cleanURL, err := SanitizeURL(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("NewProducer: %w", err)
	}
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("NewProducer: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("NewProducer: channel: %w", err)
	}
	if err := declare(ch, exchange); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("NewProducer: declare exchange: %w", err)
	}

	return &Producer{conn: conn, channel: ch, exchange: exchange, log: log}, nil
}

func declare(ch *amqp091.Channel, exchange string) error {
	return ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	)
}

// Publish implements events.Publisher. The routing key is the event type.
func (p *Producer) Publish(ctx context.Context, event events.LedgerEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("Publish: marshal: %w", err)
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    event.OccurredAt,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx, p.exchange, event.Type, false, false, msg)
	if err == nil {
		return nil
	}

	p.log.Warn().Err(err).Str("routing_key", event.Type).Msg("publish failed; reopening channel")
	ch, chErr := p.conn.Channel()
	if chErr != nil {
		return fmt.Errorf("Publish: reopen channel: %w", chErr)
	}
	p.channel = ch
	if err := declare(ch, p.exchange); err != nil {
		return fmt.Errorf("Publish: redeclare exchange: %w", err)
	}
	if err := p.channel.PublishWithContext(ctx, p.exchange, event.Type, false, false, msg); err != nil {
		return fmt.Errorf("Publish: retry: %w", err)
	}
	return nil
}

// Close closes the channel and connection.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Connect returns a Producer for amqpURL, or a no-op publisher when the URL
// is empty or the broker cannot be reached at startup.
func Connect(amqpURL, exchange string, log zerolog.Logger) events.Publisher {
	if strings.TrimSpace(amqpURL) == "" {
		log.Info().Msg("AMQP_URL not set; ledger events disabled")
		return events.Noop{}
	}
	p, err := NewProducer(amqpURL, exchange, log)
	if err != nil {
		log.Warn().Err(err).Msg("event broker unavailable; falling back to no-op publisher")
		return events.Noop{}
	}
	return p
}

var _ events.Publisher = (*Producer)(nil)
