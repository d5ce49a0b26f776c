package warehouse

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"marketplace/events"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func event(id string, items ...events.OrderItem) events.OrderPlaced {
	return events.OrderPlaced{OrderID: id, UserID: "u1", Items: items}
}

func body(t *testing.T, e events.OrderPlaced) []byte {
	t.Helper()
	b, err := json.Marshal(e)
	require.NoError(t, err)
	return b
}

func TestTally_CountsOncePerOrder(t *testing.T) {
	tally := NewTally()

	assert.True(t, tally.Record(event("o1", events.OrderItem{ProductID: "p1", Quantity: 2})))
	assert.True(t, tally.Record(event("o2", events.OrderItem{ProductID: "p1", Quantity: 1}, events.OrderItem{ProductID: "p2", Quantity: 5})))
	assert.False(t, tally.Record(event("o1", events.OrderItem{ProductID: "p1", Quantity: 2})))

	snap := tally.Snapshot()
	assert.Equal(t, int64(2), snap.Orders)
	assert.Equal(t, map[string]int64{"p1": 3, "p2": 5}, snap.ByProduct)

	snap.ByProduct["p1"] = 100
	assert.Equal(t, int64(3), tally.Snapshot().ByProduct["p1"])
}

func TestTally_Concurrent(t *testing.T) {
	tally := NewTally()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tally.Record(event(string(rune('A'+i)), events.OrderItem{ProductID: "p", Quantity: 1}))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int64(50), tally.Snapshot().ByProduct["p"])
}

type ackRecorder struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	requeue bool
}

func (a *ackRecorder) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *ackRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	a.requeue = requeue
	return nil
}

func (a *ackRecorder) Reject(uint64, bool) error { return nil }

func TestConsume_AcksAndRequeues(t *testing.T) {
	acks := &ackRecorder{}
	msgs := make(chan amqp.Delivery, 4)
	msgs <- amqp.Delivery{Acknowledger: acks, Body: body(t, event("o1", events.OrderItem{ProductID: "p1", Quantity: 1}))}
	msgs <- amqp.Delivery{Acknowledger: acks, Body: []byte("garbage")}
	msgs <- amqp.Delivery{Acknowledger: acks, Body: body(t, event("fail"))}
	close(msgs)

	tally := NewTally()
	handle := func(_ context.Context, e events.OrderPlaced) error {
		if e.OrderID == "fail" {
			return errors.New("downstream unavailable")
		}
		tally.Record(e)
		return nil
	}

	err := consume(context.Background(), msgs, handle, quietLogger())
	assert.Error(t, err, "closed delivery channel is reported")

	assert.Equal(t, 2, acks.acks)
	assert.Equal(t, 1, acks.nacks)
	assert.True(t, acks.requeue)
	assert.Equal(t, int64(1), tally.Snapshot().Orders)
}

func TestConsume_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	msgs := make(chan amqp.Delivery)

	done := make(chan error, 1)
	go func() { done <- consume(ctx, msgs, func(context.Context, events.OrderPlaced) error { return nil }, quietLogger()) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consume did not stop")
	}
}

type fakeSQS struct {
	mu       sync.Mutex
	batches  [][]types.Message
	deleted  []string
	received int
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	if f.received < len(f.batches) {
		b := f.batches[f.received]
		f.received++
		f.mu.Unlock()
		return &sqs.ReceiveMessageOutput{Messages: b}, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSConsumer(t *testing.T) {
	client := &fakeSQS{batches: [][]types.Message{{
		{Body: aws.String(string(body(t, event("o1", events.OrderItem{ProductID: "p1", Quantity: 3})))), ReceiptHandle: aws.String("r1")},
		{Body: aws.String("garbage"), ReceiptHandle: aws.String("r2")},
		{Body: aws.String(string(body(t, event("fail")))), ReceiptHandle: aws.String("r3")},
	}}}

	tally := NewTally()
	ctx, cancel := context.WithCancel(context.Background())
	handled := make(chan struct{}, 4)
	handle := func(_ context.Context, e events.OrderPlaced) error {
		defer func() { handled <- struct{}{} }()
		if e.OrderID == "fail" {
			return errors.New("downstream unavailable")
		}
		tally.Record(e)
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- NewSQSConsumer(client, "queue-url", quietLogger()).Run(ctx, handle) }()

	<-handled
	<-handled
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"r1", "r2"}, client.deleted)
	assert.Equal(t, map[string]int64{"p1": 3}, tally.Snapshot().ByProduct)
}
