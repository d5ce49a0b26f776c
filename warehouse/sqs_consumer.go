package warehouse

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"marketplace/events"
)

// SQSReceiver is the part of the SQS client the consumer needs.
type SQSReceiver interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSConsumer long-polls a queue and deletes each message once handled.
// Messages that fail are left to reappear after the visibility timeout.
type SQSConsumer struct {
	client   SQSReceiver
	queueURL string
	wait     int32
	backoff  time.Duration
	log      *slog.Logger
}

// NewSQSConsumer creates a consumer reading queueURL through client.
func NewSQSConsumer(client SQSReceiver, queueURL string, log *slog.Logger) *SQSConsumer {
	return &SQSConsumer{client: client, queueURL: queueURL, wait: 20, backoff: 5 * time.Second, log: log}
}

// Run polls until ctx is cancelled.
func (c *SQSConsumer) Run(ctx context.Context, handle HandleFunc) error {
	for ctx.Err() == nil {
		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     c.wait,
			VisibilityTimeout:   30,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("receive failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		for _, msg := range out.Messages {
			e, err := events.Decode([]byte(aws.ToString(msg.Body)))
			if err != nil {
				c.log.Warn("dropping malformed order event", "error", err)
				c.delete(ctx, msg.ReceiptHandle)
				continue
			}
			if err := handle(ctx, e); err != nil {
				c.log.Error("order event failed", "order_id", e.OrderID, "error", err)
				continue
			}
			c.delete(ctx, msg.ReceiptHandle)
		}
	}
	return nil
}

func (c *SQSConsumer) delete(ctx context.Context, receipt *string) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: receipt,
	})
	if err != nil {
		c.log.Error("failed to delete message", "error", err)
	}
}
