// Package queue_publisher publishes mint outcomes to RabbitMQ.  Errors are
// logged and returned; the pipeline never undoes a commit because an
// outcome could not be published.
package queue_publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/ticket-mint-reconciler/internal/pipeline"
	q "github.com/iliyamo/ticket-mint-reconciler/internal/queue"
)

// Publisher keeps one broker channel open and re-dials after a failure.
// It implements pipeline.Notifier.
type Publisher struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher returns a Publisher for the broker at url.  The connection
// is opened on first use.
func NewPublisher(url string) *Publisher {
	return &Publisher{url: url}
}

// Notify implements pipeline.Notifier.
func (p *Publisher) Notify(ctx context.Context, o pipeline.Outcome) error {
	queue, err := outcomeQueue(o.Kind)
	if err != nil {
		return err
	}
	return p.publish(ctx, queue, OutcomeEvent(o))
}

// OutcomeEvent converts o into its wire form.
func OutcomeEvent(o pipeline.Outcome) q.MintOutcomeEvent {
	return q.MintOutcomeEvent{
		TicketID:        o.TicketID,
		AuthorizationID: o.AuthorizationID,
		Owner:           o.Owner,
		BlockHash:       o.Provenance.BlockHash,
		TxHash:          o.Provenance.TxHash,
		LogIndex:        o.Provenance.LogIndex,
		OccurredAt:      o.At.UTC().Format(time.RFC3339),
	}
}

func outcomeQueue(kind string) (string, error) {
	switch kind {
	case pipeline.OutcomeMinted:
		return q.MintedQueue, nil
	case pipeline.OutcomeReverted:
		return q.MintRevertedQueue, nil
	}
	return "", fmt.Errorf("rabbitmq: unknown outcome %q", kind)
}

func (p *Publisher) publish(ctx context.Context, queue string, event q.MintOutcomeEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		log.Printf("rabbitmq: marshal event failed: %v", err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel(queue)
	if err != nil {
		log.Printf("rabbitmq: channel open failed: %v", err)
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // store on disk
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx,
		"",    // default exchange
		queue, // routing key = queue name
		false, // mandatory
		false, // immediate
		pub,
	); err != nil {
		log.Printf("rabbitmq: publish to %s failed: %v", queue, err)
		p.reset()
		return err
	}
	return nil
}

// channel returns the open channel, dialing if needed, and makes sure queue
// exists.  Callers hold p.mu.
func (p *Publisher) channel(queue string) (*amqp.Channel, error) {
	if p.ch == nil || p.ch.IsClosed() {
		p.reset()
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return nil, err
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		p.conn, p.ch = conn, ch
	}
	// Idempotent; durable so messages survive broker restarts.
	if _, err := p.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		p.reset()
		return nil, err
	}
	return p.ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}
