package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsearch/internal/domain/rag"
)

type fakeChannel struct {
	declared   []string
	published  []amqp.Publishing
	keys       []string
	publishErr error
	closed     int
}

func (c *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	if !durable {
		return amqp.Queue{}, errors.New("queue must be durable")
	}
	c.declared = append(c.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if c.publishErr != nil {
		return c.publishErr
	}
	c.keys = append(c.keys, key)
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed++
	return nil
}

func TestStatusPublisherPublishesJSON(t *testing.T) {
	ch := &fakeChannel{}
	p := newStatusPublisher(func() (channel, error) { return ch, nil }, "docsearch.document_status")
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	ev := rag.StatusEvent{DocumentID: "d1", Status: rag.StatusExtracted, MediaKind: rag.KindText, ByteLength: 120, ChunkCount: 3, At: at}
	require.NoError(t, p.RecordStatus(context.Background(), ev))
	require.NoError(t, p.RecordStatus(context.Background(), rag.StatusEvent{DocumentID: "d1", Status: rag.StatusDeleted, At: at}))

	assert.Equal(t, []string{"docsearch.document_status"}, ch.declared, "the queue is declared once")
	assert.Equal(t, []string{"docsearch.document_status", "docsearch.document_status"}, ch.keys)
	assert.Equal(t, 2, ch.closed)

	msg := ch.published[0]
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "d1:extracted", msg.MessageId)

	var got rag.StatusEvent
	require.NoError(t, json.Unmarshal(msg.Body, &got))
	assert.Equal(t, ev, got)
}

func TestStatusPublisherErrors(t *testing.T) {
	ev := rag.StatusEvent{DocumentID: "d1", Status: rag.StatusFailed}

	p := newStatusPublisher(func() (channel, error) { return nil, errors.New("connection closed") }, "q")
	assert.ErrorContains(t, p.RecordStatus(context.Background(), ev), "open rabbitmq channel failed")

	ch := &fakeChannel{publishErr: errors.New("broker gone")}
	p = newStatusPublisher(func() (channel, error) { return ch, nil }, "q")
	assert.ErrorContains(t, p.RecordStatus(context.Background(), ev), "publish status event failed")
	assert.Equal(t, 1, ch.closed)
}
