package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/ticket-mint-reconciler/internal/model"
	"github.com/iliyamo/ticket-mint-reconciler/internal/pipeline"
)

// Handler processes decoded ledger messages.  *pipeline.Driver implements it.
type Handler interface {
	HandleConfirmation(ctx context.Context, ev model.LedgerEvent) error
	HandleReorg(ctx context.Context, p model.Provenance) error
}

// Consumer reads the ledger queues and hands every message to a Handler.
// Up to Workers deliveries are processed concurrently; the handler is
// expected to serialize per ticket.
type Consumer struct {
	url        string
	handler    Handler
	workers    int
	retryDelay time.Duration
}

// NewConsumer returns a Consumer for the broker at url.
func NewConsumer(url string, h Handler, workers int) *Consumer {
	if workers < 1 {
		workers = 1
	}
	return &Consumer{url: url, handler: h, workers: workers, retryDelay: time.Second}
}

// Run connects to the broker and consumes until ctx is cancelled.  Lost
// connections are re-established with exponential backoff.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := amqp.Dial(c.url)
		if err != nil {
			log.Printf("ledger-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("ledger-consumer: consume loop ended: %v; reconnecting", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.workers*2, 0, false); err != nil {
		log.Printf("ledger-consumer: set QoS failed: %v", err)
	}

	minted, err := declareAndConsume(ch, TicketMintedQueue)
	if err != nil {
		return err
	}
	reorgs, err := declareAndConsume(ch, ReorgQueue)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	sem := make(chan struct{}, c.workers)
	for {
		var (
			d     amqp.Delivery
			ok    bool
			queue string
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok = <-minted:
			queue = TicketMintedQueue
		case d, ok = <-reorgs:
			queue = ReorgQueue
		}
		if !ok {
			return errors.New("deliveries channel closed")
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			_ = d.Nack(false, true)
			return ctx.Err()
		}
		wg.Add(1)
		go func(queue string, d amqp.Delivery) {
			defer wg.Done()
			defer func() { <-sem }()
			c.settle(d, c.dispatch(ctx, queue, d.Body))
		}(queue, d)
	}
}

// declarer is the part of *amqp.Channel used to declare the topology.
type declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// declareQueue declares queue with its dead letter queue.  Rejected
// messages are routed through DeadLetterExchange to DeadLetterQueue(queue)
// where they stay for inspection.
func declareQueue(ch declarer, queue string) error {
	if err := ch.ExchangeDeclare(DeadLetterExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange declare %s: %w", DeadLetterExchange, err)
	}
	dead := DeadLetterQueue(queue)
	if _, err := ch.QueueDeclare(dead, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare %s: %w", dead, err)
	}
	if err := ch.QueueBind(dead, queue, DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("queue bind %s: %w", dead, err)
	}
	args := amqp.Table{
		"x-dead-letter-exchange":    DeadLetterExchange,
		"x-dead-letter-routing-key": queue,
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("queue declare %s: %w", queue, err)
	}
	return nil
}

func declareAndConsume(ch *amqp.Channel, queue string) (<-chan amqp.Delivery, error) {
	if err := declareQueue(ch, queue); err != nil {
		return nil, err
	}
	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("queue consume %s: %w", queue, err)
	}
	return msgs, nil
}

// errMalformed marks a message that cannot be decoded.
var errMalformed = errors.New("malformed message")

// dispatch decodes body according to the queue it came from and calls the
// matching handler method.
func (c *Consumer) dispatch(ctx context.Context, queue string, body []byte) error {
	switch queue {
	case TicketMintedQueue:
		var ev TicketMintedMessage
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("%w: %v", errMalformed, err)
		}
		return c.handler.HandleConfirmation(ctx, ev)
	case ReorgQueue:
		var n ReorgNotice
		if err := json.Unmarshal(body, &n); err != nil {
			return fmt.Errorf("%w: %v", errMalformed, err)
		}
		return c.handler.HandleReorg(ctx, n.Provenance)
	}
	return fmt.Errorf("%w: unknown queue %s", errMalformed, queue)
}

// Acknowledger is the part of amqp.Delivery used to settle a message.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// settle acks handled messages and requeues retryable failures.  The rest
// is rejected to the dead letter queue so a poisoned message cannot loop
// forever.
func (c *Consumer) settle(d Acknowledger, err error) {
	switch {
	case err == nil:
		_ = d.Ack(false)
	case !errors.Is(err, errMalformed) && pipeline.Retryable(err):
		log.Printf("ledger-consumer: handle message failed, requeueing in %s: %v", c.retryDelay, err)
		time.Sleep(c.retryDelay)
		_ = d.Nack(false, true)
	default:
		log.Printf("ledger-consumer: handle message failed, dead-lettering: %v", err)
		_ = d.Nack(false, false)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
