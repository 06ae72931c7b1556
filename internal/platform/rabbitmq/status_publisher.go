package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"docsearch/internal/domain/rag"
)

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// StatusPublisher publishes document status events as persistent JSON
// messages on a durable queue. It implements rag.StatusSink.
type StatusPublisher struct {
	open      func() (channel, error)
	queueName string

	mu       sync.Mutex
	declared bool
}

var _ rag.StatusSink = (*StatusPublisher)(nil)

func NewStatusPublisher(conn *amqp.Connection, queueName string) *StatusPublisher {
	return newStatusPublisher(func() (channel, error) { return conn.Channel() }, queueName)
}

func newStatusPublisher(open func() (channel, error), queueName string) *StatusPublisher {
	return &StatusPublisher{open: open, queueName: queueName}
}

func (p *StatusPublisher) RecordStatus(ctx context.Context, ev rag.StatusEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal status event failed: %w", err)
	}

	ch, err := p.open()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	if err := p.declare(ch); err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, "", p.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.DocumentID + ":" + string(ev.Status),
		Timestamp:    ev.At,
		Type:         "document.status",
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("publish status event failed: %w", err)
	}
	return nil
}

// declare makes sure the queue exists. It runs once per publisher.
func (p *StatusPublisher) declare(ch channel) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.declared {
		return nil
	}
	if _, err := ch.QueueDeclare(p.queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue failed: %w", err)
	}
	p.declared = true
	return nil
}
