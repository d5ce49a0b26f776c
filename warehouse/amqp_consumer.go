package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"marketplace/events"
)

// HandleFunc processes one decoded order event.
type HandleFunc func(ctx context.Context, e events.OrderPlaced) error

// AMQPConsumer runs a pool of workers, each on its own channel, reading the
// orders queue with manual acknowledgement.
type AMQPConsumer struct {
	conn     *amqp.Connection
	queue    string
	workers  int
	prefetch int
	log      *slog.Logger
}

// NewAMQPConsumer creates a consumer with the given number of workers on
// conn. Each worker prefetches up to 10 deliveries.
func NewAMQPConsumer(conn *amqp.Connection, queue string, workers int, log *slog.Logger) *AMQPConsumer {
	return &AMQPConsumer{conn: conn, queue: queue, workers: workers, prefetch: 10, log: log}
}

// Run blocks until ctx is cancelled and every worker has returned.
func (c *AMQPConsumer) Run(ctx context.Context, handle HandleFunc) error {
	type worker struct {
		ch   *amqp.Channel
		msgs <-chan amqp.Delivery
	}
	workers := make([]worker, 0, c.workers)
	closeAll := func() {
		for _, w := range workers {
			w.ch.Close()
		}
	}

	for i := 0; i < c.workers; i++ {
		ch, err := c.conn.Channel()
		if err != nil {
			closeAll()
			return fmt.Errorf("worker %d: open channel: %w", i, err)
		}
		workers = append(workers, worker{ch: ch})
		if err := events.DeclareOrdersQueue(ch, c.queue); err != nil {
			closeAll()
			return err
		}
		if err := ch.Qos(c.prefetch, 0, false); err != nil {
			closeAll()
			return fmt.Errorf("worker %d: set qos: %w", i, err)
		}
		msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
		if err != nil {
			closeAll()
			return fmt.Errorf("worker %d: consume: %w", i, err)
		}
		workers[i].msgs = msgs
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(workers))
	for i, w := range workers {
		wg.Add(1)
		go func(id int, w worker) {
			defer wg.Done()
			defer w.ch.Close()
			c.log.Info("worker started", "worker", id)
			if err := consume(ctx, w.msgs, handle, c.log.With("worker", id)); err != nil {
				errs <- err
			}
		}(i, w)
	}

	wg.Wait()
	close(errs)
	return <-errs
}

// consume drains msgs until ctx is done or the channel closes. Malformed
// bodies are acked and dropped; handler failures are requeued.
func consume(ctx context.Context, msgs <-chan amqp.Delivery, handle HandleFunc, log *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("delivery channel closed")
			}

			e, err := events.Decode(d.Body)
			if err != nil {
				log.Warn("dropping malformed order event", "error", err)
				_ = d.Ack(false)
				continue
			}
			if err := handle(ctx, e); err != nil {
				log.Error("order event failed", "order_id", e.OrderID, "error", err)
				_ = d.Nack(false, true)
				continue
			}
			_ = d.Ack(false)
		}
	}
}
