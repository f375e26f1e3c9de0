// Package events publishes download process status changes to interested consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gcottom/go-zaplog"
	"github.com/gcottom/track-dl/internal/model"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, event model.ProcessEvent) error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, model.ProcessEvent) error { return nil }

// RabbitMQPublisher sends events to a topic exchange, routed by "process.<status>".
type RabbitMQPublisher struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
}

func NewRabbitMQPublisher(ctx context.Context, url, exchange string) (*RabbitMQPublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		zaplog.ErrorC(ctx, "failed to connect to rabbitmq", zap.Error(err))
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		zaplog.ErrorC(ctx, "failed to create channel", zap.Error(err))
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // auto-delete
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		zaplog.ErrorC(ctx, "failed to declare exchange", zap.String("exchange", exchange), zap.Error(err))
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	zaplog.InfoC(ctx, "rabbitmq publisher initialized", zap.String("exchange", exchange))
	return &RabbitMQPublisher{conn: conn, channel: channel, exchange: exchange}, nil
}

func RoutingKey(status model.Status) string {
	return "process." + string(status)
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, event model.ProcessEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := amqp091.Publishing{
		DeliveryMode: amqp091.Persistent,
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    time.Now(),
	}
	if err = p.channel.PublishWithContext(ctx, p.exchange, RoutingKey(event.Status), false, false, msg); err != nil {
		zaplog.ErrorC(ctx, "failed to publish event", zap.Int64("process_id", event.ProcessID), zap.Error(err))
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
